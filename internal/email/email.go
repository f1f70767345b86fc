package email

import (
	"context"
	"log"

	"github.com/vzale/apptbooking/internal/kafka"
)

// Sender delivers booking confirmations. Delivery is driven by the worker's
// kafka consumer, never by the booking request path.
type Sender struct{}

func NewSender() *Sender {
	return &Sender{}
}

func (s *Sender) Send(ctx context.Context, event kafka.AppointmentEvent) error {
	log.Printf("send %s email to %s for appointment %s at %s", event.Type, event.Email, event.StrongID, event.ScheduledAt.Format("2006-01-02 15:04"))
	return nil
}
