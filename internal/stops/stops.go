package stops

import (
	"time"

	"courier-simulator/internal/geo"
)

// Kind classifies a stop on a courier route. Depot endpoints are never
// completion targets.
type Kind string

const (
	KindDepotStart Kind = "depot_start"
	KindDelivery   Kind = "delivery"
	KindPickup     Kind = "pickup"
	KindDepotEnd   Kind = "depot_end"
)

// Status of a stop. A stop moves pending -> completed exactly once and
// never reverts.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Stop is a scripted target along a courier route.
type Stop struct {
	ID        string
	Position  geo.Coordinate
	Kind      Kind
	Status    Status
	Recipient string
	Notes     string
}

// Proof is the completion payload submitted to the dispatch service
// after the service dwell.
type Proof struct {
	StopID      string         `json:"stopId"`
	Recipient   string         `json:"recipient"`
	Notes       string         `json:"notes,omitempty"`
	Position    geo.Coordinate `json:"position"`
	CompletedAt time.Time      `json:"completedAt"`
}
