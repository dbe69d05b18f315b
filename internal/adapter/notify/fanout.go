package notify

import (
	"context"
	"errors"

	"github.com/rl1809/retail-floor/internal/core/domain"
	"github.com/rl1809/retail-floor/internal/port"
)

var _ port.Notifier = Fanout(nil)

// Fanout publishes to every notifier. A failure in one does not stop the
// others; the errors are joined.
type Fanout []port.Notifier

func (f Fanout) Publish(ctx context.Context, events ...domain.Event) error {
	var errs []error
	for _, n := range f {
		if err := n.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, n := range f {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
