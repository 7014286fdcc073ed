package pipeline

import (
	"time"

	"github.com/lucasnoah/nbuild/internal/deploy"
	"github.com/lucasnoah/nbuild/internal/failure"
	"github.com/lucasnoah/nbuild/internal/graph"
)

// Status is a target's position in its lifecycle.
type Status string

const (
	Pending   Status = "pending"
	Running   Status = "running"
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
	Skipped   Status = "skipped"
)

// Done reports whether s is final.
func (s Status) Done() bool {
	return s == Succeeded || s == Failed || s == Skipped
}

// RunState is the run-wide lifecycle.
type RunState string

const (
	Preparing RunState = "preparing"
	Executing RunState = "executing"
	Completed RunState = "completed"
	Aborted   RunState = "aborted"
)

// Verdict is the process-level outcome of a run.
type Verdict string

const (
	Success Verdict = "success"
	Failure Verdict = "failure"
)

// TargetResult is the outcome of one target.
type TargetResult struct {
	Name     string       `json:"name"`
	Stage    graph.Stage  `json:"stage"`
	Layer    int          `json:"layer"`
	Status   Status       `json:"status"`
	Kind     failure.Kind `json:"kind,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	Attempts int          `json:"attempts,omitempty"`
	Started  time.Time    `json:"started,omitzero"`
	Finished time.Time    `json:"finished,omitzero"`
	Duration string       `json:"duration,omitempty"`

	Image       string                 `json:"image,omitempty"`
	Images      []string               `json:"images,omitempty"`
	URL         string                 `json:"url,omitempty"`
	Deploys     []deploy.ProfileReport `json:"deploys,omitempty"`
	Attestation string                 `json:"attestation,omitempty"`

	Err error `json:"-"`
}

// Report is a point-in-time copy of a run's result.
type Report struct {
	Branch   string         `json:"branch"`
	SHA      string         `json:"sha"`
	Output   string         `json:"output"`
	State    RunState       `json:"state"`
	Verdict  Verdict        `json:"verdict"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished,omitzero"`
	Duration string         `json:"duration,omitempty"`
	Targets  []TargetResult `json:"targets"`
}
