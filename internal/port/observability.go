package port

import (
	"time"

	"github.com/rl1809/retail-floor/internal/core/domain"
)

type Clock interface {
	Now() time.Time
}

type Metrics interface {
	ObserveOperation(op string, err error, d time.Duration)
	ObservePublish(eventType domain.EventType, err error)
}
