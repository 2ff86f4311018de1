package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Shivanand-hulikatti/class-booking/internal/model"
	"github.com/google/uuid"
)

// EventBookingCreated is the event-type header value for new bookings.
const EventBookingCreated = "booking.created"

const source = "class-booking"

// BookingCreated is the payload published after a booking commits.
type BookingCreated struct {
	BookingID   string    `json:"booking_id"`
	SessionID   int64     `json:"session_id"`
	ClientName  string    `json:"client_name"`
	ClientEmail string    `json:"client_email"`
	CreatedAt   time.Time `json:"created_at"`
}

// BookingPublisher turns committed bookings into Kafka messages.
type BookingPublisher struct {
	producer *Producer
}

// NewBookingPublisher wraps a Producer.
func NewBookingPublisher(p *Producer) *BookingPublisher {
	return &BookingPublisher{producer: p}
}

// PublishBookingCreated sends a booking.created event keyed by session id.
func (p *BookingPublisher) PublishBookingCreated(ctx context.Context, b *model.Booking) error {
	msg, err := bookingCreatedMessage(b, time.Now().UTC())
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, msg)
}

// Close closes the underlying producer.
func (p *BookingPublisher) Close() error {
	return p.producer.Close()
}

func bookingCreatedMessage(b *model.Booking, now time.Time) (Message, error) {
	value, err := json.Marshal(BookingCreated{
		BookingID:   b.ID,
		SessionID:   b.SessionID,
		ClientName:  b.ClientName,
		ClientEmail: b.ClientEmail,
		CreatedAt:   b.CreatedAt,
	})
	if err != nil {
		return Message{}, fmt.Errorf("encode booking event: %w", err)
	}
	return Message{
		Key:   strconv.FormatInt(b.SessionID, 10),
		Value: value,
		Headers: map[string]string{
			HeaderEventID:   uuid.New().String(),
			HeaderEventType: EventBookingCreated,
			HeaderSource:    source,
			HeaderTimestamp: now.Format(time.RFC3339),
		},
		Timestamp: now,
	}, nil
}

// Noop discards every event. Used when no brokers are configured.
type Noop struct{}

// PublishBookingCreated does nothing.
func (Noop) PublishBookingCreated(context.Context, *model.Booking) error { return nil }
