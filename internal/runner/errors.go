package runner

import (
	"context"
	"errors"
	"fmt"

	"bumpbot/internal/browser"
)

// Kind classifies why a run attempt failed.
type Kind string

const (
	KindNone           Kind = ""
	KindAuthTimeout    Kind = "auth_timeout"
	KindConnectionLost Kind = "connection_lost"
	KindSessionDropped Kind = "session_dropped"
	KindLaunch         Kind = "launch"
	KindNavigation     Kind = "navigation"
	KindCommand        Kind = "command"
	KindCooldown       Kind = "cooldown"
	KindCanceled       Kind = "canceled"
)

var (
	ErrAuthTimeout     = errors.New("authentication not detected before timeout")
	ErrConnectionLost  = errors.New("browser connection lost")
	ErrSessionDropped  = errors.New("session no longer authenticated")
	ErrCommandCooldown = errors.New("command rejected: cooldown notice shown")
)

// NoRetry marks an error as permanent for the current run.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// stageError tags an error with the stage that produced it.
type stageError struct {
	kind Kind
	err  error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.kind, e.err) }
func (e *stageError) Unwrap() error { return e.err }

func stage(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{kind: kind, err: err}
}

// Classify maps an attempt error to its Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrConnectionLost), errors.Is(err, browser.ErrDisconnected):
		return KindConnectionLost
	case errors.Is(err, ErrAuthTimeout):
		return KindAuthTimeout
	case errors.Is(err, ErrSessionDropped):
		return KindSessionDropped
	case errors.Is(err, ErrCommandCooldown):
		return KindCooldown
	}
	var se *stageError
	if errors.As(err, &se) {
		return se.kind
	}
	return KindCommand
}

// RequiresReset reports whether kind means the browser session (and its
// profile) cannot be trusted any more.
func RequiresReset(kind Kind) bool {
	return kind == KindConnectionLost
}

// evicts reports whether kind means the pooled session must be replaced
// before the next attempt.
func evicts(kind Kind) bool {
	switch kind {
	case KindConnectionLost, KindAuthTimeout, KindLaunch:
		return true
	}
	return false
}
