package notify

import (
	"context"
	"errors"
)

// MultiSink fans each event out to every sink in order. Failures are joined
// so one broken sink does not mask another.
type MultiSink []Sink

func (m MultiSink) Deliver(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Deliver(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
