package simerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorIsMatchesKind(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same kind", New(KindSolve, "run").Detail("tolerance").Build(), ErrSolve, true},
		{"different kind", New(KindLoad, "load").Build(), ErrSolve, false},
		{"wrapped", fmt.Errorf("outer: %w", New(KindExport, "export").Build()), ErrExport, true},
		{"unknown entity helper", UnknownEntity("values", "y9"), ErrUnknownEntity, true},
		{"invalid state helper", InvalidState("run", "state %s", "Loaded"), ErrInvalidState, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(KindSolve, "run").Entity("y1").Detail("Simulation execution time limit exceeded").Build()
	expected := "[solve] run (y1): Simulation execution time limit exceeded"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestErrorCause(t *testing.T) {
	err := New(KindSolve, "run").Detail("cancelled").Cause(context.Canceled).Build()

	if !errors.Is(err, context.Canceled) {
		t.Error("expected cause to be reachable through errors.Is")
	}
	if !strings.Contains(err.Error(), "caused by: context canceled") {
		t.Errorf("cause missing from message: %s", err.Error())
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(fmt.Errorf("x: %w", ErrFinalize)); got != KindFinalize {
		t.Errorf("expected %s, got %s", KindFinalize, got)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("expected empty kind, got %s", got)
	}
}

func TestDetailTextIsVerbatim(t *testing.T) {
	msg := "100% of entities failed"
	err := New(KindEngine, "fill").DetailText(msg).Build()
	if err.Detail != msg {
		t.Errorf("expected %q, got %q", msg, err.Detail)
	}
}

func TestDetailFormats(t *testing.T) {
	err := New(KindEngine, "fill").Detail("%d of %d entities failed", 3, 4).Build()
	if err.Detail != "3 of 4 entities failed" {
		t.Errorf("expected formatted detail, got %q", err.Detail)
	}
}
