package port

import (
	"context"

	"github.com/rl1809/retail-floor/internal/core/domain"
)

// Notifier rebroadcasts committed change events to observers. Delivery is
// best effort; a failure must never affect stored state.
type Notifier interface {
	Publish(ctx context.Context, events ...domain.Event) error
	Close() error
}
