package extract

import "fmt"

// Error is a per-item extraction failure. The engine recovers it (including
// panics raised while reading a detached or malformed node), skips the item
// and counts it in Result.Skipped; it never escapes Visit.
type Error struct {
	Source string
	Op     string
	Cause  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract: %s on %s: %v", e.Op, e.Source, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }
