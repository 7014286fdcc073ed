package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for retry decisions, target status and exit codes.
type Kind int

const (
	Unknown Kind = iota
	Config
	Graph
	SdkDetection
	Template
	Build
	Publish
	Deploy
	Transient
	Timeout
	Cancelled
)

var kindNames = map[Kind]string{
	Unknown:      "unknown",
	Config:       "config",
	Graph:        "graph",
	SdkDetection: "sdk_detection",
	Template:     "template",
	Build:        "build",
	Publish:      "publish",
	Deploy:       "deploy",
	Transient:    "transient",
	Timeout:      "timeout",
	Cancelled:    "cancelled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText lets Kind appear by name in JSON results.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name written by MarshalText.
func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown failure kind %q", text)
}

// Prepare reports whether errors of this kind are detected before any side effect.
func (k Kind) Prepare() bool {
	switch k {
	case Config, Graph, SdkDetection, Template:
		return true
	}
	return false
}

// ExitCode maps an error to the process exit status: 2 for problems found
// before anything ran, 3 to 5 for the failing stage, 6 for an aborted run.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case Config, Graph, SdkDetection, Template:
		return 2
	case Build:
		return 3
	case Publish:
		return 4
	case Deploy:
		return 5
	case Timeout, Cancelled:
		return 6
	}
	return 1
}

// Error attaches a Kind, and optionally the owning target, to an underlying error.
type Error struct {
	Kind   Kind
	Target string
	Err    error
}

func (e *Error) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Target, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FailureKind implements Classified.
func (e *Error) FailureKind() Kind { return e.Kind }

// Classified is implemented by typed errors that know their own kind.
type Classified interface {
	FailureKind() Kind
}

// New wraps err with kind k.
func New(k Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Err: err}
}

// Newf formats a message and wraps it with kind k.
func Newf(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Err: fmt.Errorf(format, args...)}
}

// ForTarget wraps err with kind k and the owning target name.
func ForTarget(k Kind, target string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Target: target, Err: err}
}

// AsTransient marks a collaborator error as retryable.
func AsTransient(err error) error {
	return New(Transient, err)
}

// KindOf returns the first classification found in err's chain. Context
// errors map to Timeout and Cancelled; a Transient wrapper around a context
// error still reports the context kind so timeouts stay distinguishable.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	var c Classified
	if errors.As(err, &c) {
		return c.FailureKind()
	}
	return Unknown
}

// IsTransient reports whether any layer of err was marked retryable.
func IsTransient(err error) bool {
	for err != nil {
		if c, ok := err.(Classified); ok && c.FailureKind() == Transient {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Reclassify replaces a Transient marker with the target's owning kind once
// retries are exhausted, keeping the underlying cause.
func Reclassify(err error, k Kind) error {
	if err == nil {
		return nil
	}
	switch KindOf(err) {
	case Timeout, Cancelled:
		return err
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Kind == Transient {
		return &Error{Kind: k, Err: fe.Err}
	}
	if KindOf(err) == Unknown {
		return &Error{Kind: k, Err: err}
	}
	return err
}
