package domain

import (
	"context"
	"time"
)

// OrderTransition is one accepted step of an order's timeline.
type OrderTransition struct {
	ID       string
	Status   OrderStatus
	Previous OrderState // empty for the seeding step
	Source   string     // "submit", "event" or "query"
	At       time.Time
}

// OrderStore persists order timelines.
type OrderStore interface {
	RecordTransition(ctx context.Context, t OrderTransition) error
	Timeline(ctx context.Context, id OrderID) ([]OrderTransition, error)
	ListOpen(ctx context.Context, account string) ([]OrderStatus, error)
}
