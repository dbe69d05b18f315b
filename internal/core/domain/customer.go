package domain

import (
	"sort"
	"time"
)

type CustomerStatus string

const (
	CustomerWaiting     CustomerStatus = "waiting"
	CustomerBeingHelped CustomerStatus = "being helped"
	CustomerHelped      CustomerStatus = "helped"
)

type Customer struct {
	ID        int64          `json:"id"`
	Name      string         `json:"customer_name"`
	Status    CustomerStatus `json:"status"`
	RepID     *int64         `json:"rep_id"`
	CreatedAt time.Time      `json:"created_at"`
}

func (c CustomerStatus) rank() int {
	switch c {
	case CustomerWaiting:
		return 1
	case CustomerBeingHelped:
		return 2
	case CustomerHelped:
		return 3
	}
	return 4
}

// SortForQueue orders customers waiting first, then in progress, then helped,
// each group by arrival.
func SortForQueue(customers []Customer) {
	sort.SliceStable(customers, func(i, j int) bool {
		a, b := customers[i], customers[j]
		if ra, rb := a.Status.rank(), b.Status.rank(); ra != rb {
			return ra < rb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
