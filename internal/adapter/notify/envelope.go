// Package notify delivers committed-state events to observers. Every
// notifier writes the same JSON envelope.
package notify

import (
	"encoding/json"
	"fmt"

	"github.com/rl1809/retail-floor/internal/core/domain"
)

// Encode renders the wire envelope {id, type, occurred_at, payload}.
func Encode(e domain.Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	return b, nil
}
