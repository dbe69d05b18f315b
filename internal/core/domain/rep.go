package domain

import (
	"sort"
	"time"
)

type RepStatus string

const (
	RepAvailable RepStatus = "available"
	RepBusy      RepStatus = "busy"
)

type SalesRep struct {
	ID             int64      `json:"id"`
	IdentityRef    string     `json:"identity_ref"`
	Name           string     `json:"name"`
	AvatarURL      string     `json:"avatar_url,omitempty"`
	Status         RepStatus  `json:"status"`
	TotalCustomers int        `json:"total_customers"`
	FinishedAt     *time.Time `json:"finished_at"`
}

// SortForRotation orders reps the way the floor rotation board shows them:
// busy reps first, then available reps who have been idle the longest.
// A rep that has never finished a customer sorts ahead of one that has.
func SortForRotation(reps []SalesRep) {
	sort.SliceStable(reps, func(i, j int) bool {
		a, b := reps[i], reps[j]
		if (a.Status == RepBusy) != (b.Status == RepBusy) {
			return a.Status == RepBusy
		}
		if a.Status == RepBusy {
			return a.ID < b.ID
		}
		switch {
		case a.FinishedAt == nil && b.FinishedAt != nil:
			return true
		case a.FinishedAt != nil && b.FinishedAt == nil:
			return false
		case a.FinishedAt != nil && b.FinishedAt != nil && !a.FinishedAt.Equal(*b.FinishedAt):
			return a.FinishedAt.Before(*b.FinishedAt)
		}
		return a.ID < b.ID
	})
}
