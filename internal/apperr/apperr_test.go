package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindAndCodeSurviveWrapping(t *testing.T) {
	t.Parallel()

	base := Conflict(CodeAlreadyDecided, "job already has an accepted bid", "job-1")
	wrapped := fmt.Errorf("accept: %w", base)

	if KindOf(wrapped) != KindConflict {
		t.Fatalf("kind = %q", KindOf(wrapped))
	}
	if !HasCode(wrapped, CodeAlreadyDecided) {
		t.Fatalf("code = %q", CodeOf(wrapped))
	}
	e, ok := As(wrapped)
	if !ok || e.Current != "job-1" {
		t.Fatalf("current not carried: %+v", e)
	}
}

func TestUnknownErrorsAreStorage(t *testing.T) {
	t.Parallel()

	err := errors.New("connection reset")
	if KindOf(err) != KindStorage || CodeOf(err) != CodeStorage {
		t.Fatalf("got %q/%q", KindOf(err), CodeOf(err))
	}
	if KindOf(nil) != "" {
		t.Fatal("nil error should have no kind")
	}
}

func TestExternalUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("card declined")
	err := External("transfer", cause, false, false)
	if !errors.Is(err, cause) {
		t.Fatal("cause lost")
	}
	if err.Retryable || err.LocalMutation {
		t.Fatalf("flags = %+v", err)
	}
}

func TestRestoreMapsCodesToKinds(t *testing.T) {
	t.Parallel()

	tests := map[string]Kind{
		CodeValidation:        KindValidation,
		CodeAlreadyDecided:    KindConflict,
		CodeInvalidTransition: KindInvalidTransition,
		CodeExternal:          KindExternal,
		"something_else":      KindStorage,
	}
	for code, want := range tests {
		if got := Restore(code, "msg").Kind; got != want {
			t.Fatalf("Restore(%q).Kind = %q, want %q", code, got, want)
		}
	}
}
