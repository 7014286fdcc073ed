package tag

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lucasnoah/nbuild/internal/failure"
)

func TestRender_DateTimeSHA(t *testing.T) {
	vars := Vars{Date: "2024-06-01", Time: "120000", SHA: "abc1234"}

	got, err := Render("{{date}}.{{time}}.{{sha}}", vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "2024-06-01.120000.abc1234" {
		t.Errorf("expected %q, got %q", "2024-06-01.120000.abc1234", got)
	}
}

func TestRender_UndefinedPlaceholder(t *testing.T) {
	_, err := Render("{{date}}-{{build_number}}", Vars{Date: "2024-06-01"})
	if err == nil {
		t.Fatal("expected error for undefined placeholder")
	}

	var te *TemplateError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TemplateError, got %T", err)
	}
	if diff := cmp.Diff([]string{"build_number"}, te.Missing); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}
	if failure.KindOf(err) != failure.Template {
		t.Errorf("KindOf() = %v, want template", failure.KindOf(err))
	}
}

func TestRender_EmptyValueIsDefined(t *testing.T) {
	got, err := Render("{{team}}x", Vars{Team: ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "x" {
		t.Errorf("got %q, want x", got)
	}
}

func TestRender_Captures(t *testing.T) {
	vars := Vars{"1": "feature", "topic": "login"}

	got, err := Render("{{1}}-{{ topic }}", vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "feature-login" {
		t.Errorf("got %q, want feature-login", got)
	}
}

func TestRender_NoRecursiveExpansion(t *testing.T) {
	vars := Vars{"a": "{{b}}", "b": "nope"}

	got, err := Render("{{a}}", vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "{{b}}" {
		t.Errorf("got %q, value must be inserted verbatim", got)
	}
}

func TestRender_Conditional(t *testing.T) {
	tmpl := "{{#if topic}}{{topic}}-{{/if}}{{app}}"

	got, err := Render(tmpl, Vars{App: "api", "topic": "login"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "login-api" {
		t.Errorf("got %q, want login-api", got)
	}

	got, err = Render(tmpl, Vars{App: "api"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "api" {
		t.Errorf("got %q, want api", got)
	}
}

func TestRender_UnclosedConditional(t *testing.T) {
	_, err := Render("{{#if x}}abc", Vars{"x": "1"})
	if err == nil {
		t.Fatal("expected error for unclosed conditional")
	}
	if !strings.Contains(err.Error(), "unclosed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRender_Deterministic(t *testing.T) {
	vars := Vars{Date: "2024-06-01", Counter: "17", App: "api"}
	first, err := Render("{{app}}:{{date}}-{{counter}}", vars)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, _ := Render("{{app}}:{{date}}-{{counter}}", vars)
		if again != first {
			t.Fatalf("render %d differs: %q vs %q", i, again, first)
		}
	}
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("{{date}}-{{sha}}-{{date}}-{{1}}")
	if diff := cmp.Diff([]string{"date", "sha", "1"}, got); diff != "" {
		t.Errorf("placeholders mismatch (-want +got):\n%s", diff)
	}
}

func TestVarsWith(t *testing.T) {
	base := Vars{App: "api"}
	got := base.With(map[string]string{"topic": "x", App: "web"})
	if got[App] != "web" || got["topic"] != "x" {
		t.Errorf("With() = %v", got)
	}
	if base[App] != "api" {
		t.Error("With() must not modify the receiver")
	}
}
