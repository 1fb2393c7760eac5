package reconcile

import "context"

// Result is the handle of a background reconciliation
type Result struct {
	UserID string
	CallID string

	done chan struct{}
	err  error
}

// Done is closed when the reconciliation finishes
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Err returns the outcome. It is nil until Done is closed.
func (r *Result) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the reconciliation finishes or ctx is done
func (r *Result) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
