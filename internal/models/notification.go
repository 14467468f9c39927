package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	NotificationStatusPending   = "pending"
	NotificationStatusProcessed = "processed"
)

// Notification is an inbound payment notification (a relayed SMS receipt).
// Rows are created by an external relay; the matcher only reads them and
// flips their status, exactly once.
type Notification struct {
	ID         uuid.UUID
	Body       string
	Source     string
	Status     string
	ReceivedAt time.Time
}
