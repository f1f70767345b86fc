package domain

import (
	"fmt"
	"time"
)

type AppointmentStatus string

const (
	StatusCreated   AppointmentStatus = "created"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// ActiveStatuses are the statuses that make a slot count as taken.
var ActiveStatuses = []string{string(StatusConfirmed), string(StatusCreated)}

type Appointment struct {
	ID             int64
	StrongID       string
	CustomerName   string
	Email          string
	Phone          string
	ScheduledAt    time.Time
	Status         AppointmentStatus
	ServiceID      int64
	StaffID        int64
	IdempotencyKey string
	OriginalAt     *time.Time
	RescheduledAt  *time.Time
	CreatedAt      time.Time
}

// StrongID derives the human-facing identifier from the assigned row id.
// It can only be computed after the insert, since it embeds the id.
func StrongID(id int64, createdAt time.Time) string {
	return fmt.Sprintf("APT-%d-%06d", createdAt.Year(), id)
}
