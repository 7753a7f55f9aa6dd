package native

import (
	"fmt"

	"github.com/san-kum/odectl/internal/simerr"
)

// Status is the success flag and message pair returned by every engine call.
type Status struct {
	OK      bool
	Message string
}

func Success() Status {
	return Status{OK: true}
}

func Failure(format string, args ...any) Status {
	return Status{Message: fmt.Sprintf(format, args...)}
}

// Fail returns a failed status carrying msg unformatted.
func Fail(msg string) Status {
	return Status{Message: msg}
}

// Err converts a failed status into a *simerr.Error of the given kind carrying
// the engine message verbatim. It returns nil when the call succeeded.
func (s Status) Err(kind simerr.Kind, op string) error {
	if s.OK {
		return nil
	}
	msg := s.Message
	if msg == "" {
		msg = "engine reported failure without message"
	}
	return simerr.New(kind, op).DetailText(msg).Build()
}
