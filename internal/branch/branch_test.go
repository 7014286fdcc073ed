package branch

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lucasnoah/nbuild/internal/config"
	"github.com/lucasnoah/nbuild/internal/failure"
)

func strp(s string) *string       { return &s }
func listp(s ...string) *[]string { return &s }
func boolp(b bool) *bool          { return &b }

var profiles = map[string]config.DeployProfile{
	"dev":  {Clusters: []string{"dev-gcp"}},
	"prod": {Clusters: []string{"prod-gcp"}},
}

func testRules() config.BranchRules {
	return config.BranchRules{
		{Pattern: ".*", Output: strp("build")},
		{Pattern: "^feature/(.+)$", Output: strp("deploy"), Deploy: listp("dev", "prod"), NamePrefix: strp("{{1}}-")},
		{Pattern: "^feature/(?P<topic>hotfix-.+)$", Deploy: listp("prod"), Parallel: boolp(true), NamePrefix: strp("{{topic}}-")},
	}
}

func TestResolve_CatchAll(t *testing.T) {
	d, err := Resolve(testRules(), "some/random-branch", profiles)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if d.Output != config.OutputBuild {
		t.Errorf("output = %q, want build", d.Output)
	}
	if len(d.Deploy) != 0 {
		t.Errorf("deploy = %v, want none", d.Deploy)
	}
}

func TestResolve_LastMatchWinsPerField(t *testing.T) {
	d, err := Resolve(testRules(), "feature/hotfix-login", profiles)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	// Output comes from the second rule; the third does not set it.
	if d.Output != config.OutputDeploy {
		t.Errorf("output = %q, want deploy", d.Output)
	}
	// Lists are replaced wholesale, never concatenated.
	if diff := cmp.Diff([]string{"prod"}, d.Deploy); diff != "" {
		t.Errorf("deploy mismatch (-want +got):\n%s", diff)
	}
	if !d.Parallel {
		t.Error("parallel should come from the last rule")
	}
	if d.NamePrefix != "hotfix-login-" {
		t.Errorf("name prefix = %q, want hotfix-login-", d.NamePrefix)
	}
	want := []string{".*", "^feature/(.+)$", "^feature/(?P<topic>hotfix-.+)$"}
	if diff := cmp.Diff(want, d.Matched); diff != "" {
		t.Errorf("matched mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_NumberedCaptures(t *testing.T) {
	d, err := Resolve(testRules(), "feature/search", profiles)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if d.NamePrefix != "search-" {
		t.Errorf("name prefix = %q, want search-", d.NamePrefix)
	}
	if diff := cmp.Diff([]string{"dev", "prod"}, d.Deploy); diff != "" {
		t.Errorf("deploy mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_CapturesFromLastMatchOnly(t *testing.T) {
	rules := config.BranchRules{
		{Pattern: "^(?P<team>[a-z]+)/", NamePrefix: strp("x-")},
		{Pattern: "^[a-z]+/(.+)$", NamePrefix: strp("{{team}}-")},
	}
	_, err := Resolve(rules, "abc/def", profiles)
	if err == nil {
		t.Fatal("expected error: team is captured by an earlier rule only")
	}
	if failure.KindOf(err) != failure.Template {
		t.Errorf("KindOf() = %v, want template", failure.KindOf(err))
	}
}

func TestResolve_Deterministic(t *testing.T) {
	first, err := Resolve(testRules(), "feature/hotfix-x", profiles)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := Resolve(testRules(), "feature/hotfix-x", profiles)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("decision changed between runs (-first +again):\n%s", diff)
		}
	}
}

func TestResolve_NoMatch(t *testing.T) {
	rules := config.BranchRules{{Pattern: "^main$", Output: strp("deploy")}}
	_, err := Resolve(rules, "dev", profiles)
	if err == nil {
		t.Fatal("expected error when no rule matches")
	}
	if failure.KindOf(err) != failure.Config {
		t.Errorf("KindOf() = %v, want config", failure.KindOf(err))
	}
}

func TestResolve_UndefinedProfile(t *testing.T) {
	rules := config.BranchRules{{Pattern: ".*", Output: strp("deploy"), Deploy: listp("staging")}}
	_, err := Resolve(rules, "main", profiles)
	if err == nil {
		t.Fatal("expected error for undefined profile")
	}
	if failure.KindOf(err) != failure.Config {
		t.Errorf("KindOf() = %v, want config", failure.KindOf(err))
	}
}

func TestResolve_EmptyListClearsDeploy(t *testing.T) {
	rules := config.BranchRules{
		{Pattern: ".*", Output: strp("deploy"), Deploy: listp("dev")},
		{Pattern: "^wip/", Deploy: listp()},
	}
	d, err := Resolve(rules, "wip/thing", profiles)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if len(d.Deploy) != 0 {
		t.Errorf("deploy = %v, want an empty list from the last rule", d.Deploy)
	}
}

func TestDecisionReaches(t *testing.T) {
	d := &Decision{Output: config.OutputRelease}
	if !d.Reaches(config.OutputBuild) || !d.Reaches(config.OutputRelease) {
		t.Error("release should reach build and release")
	}
	if d.Reaches(config.OutputDeploy) {
		t.Error("release should not reach deploy")
	}
}
