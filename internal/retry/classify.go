package retry

import (
	"context"
	"errors"
	"fmt"
)

// Classified wraps an error together with its retry class so the
// classification survives wrapping through the call stack.
type Classified struct {
	Err   error
	Class Class
}

func (c *Classified) Error() string {
	return fmt.Sprintf("%s: %v", c.Class, c.Err)
}

func (c *Classified) Unwrap() error { return c.Err }

// MarkTransient tags an error as transient.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &Classified{Err: err, Class: Transient}
}

// MarkPermanent tags an error as permanent.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &Classified{Err: err, Class: Permanent}
}

// Classify returns the class of an error. Unclassified errors default to
// Transient except context cancellation, which is never worth retrying.
func Classify(err error) Class {
	var c *Classified
	if errors.As(err, &c) {
		return c.Class
	}
	if errors.Is(err, context.Canceled) {
		return Permanent
	}
	// Deadline exhaustion on a dispatch is a timeout, and timeouts are
	// transient per the dispatch contract.
	return Transient
}
