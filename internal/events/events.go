// Package events handles the attendance.marked messages published by scan
// sessions.
package events

import (
	"context"
	"log"

	"rollcall/internal/metrics"
	"rollcall/internal/queue"
)

// Tallier keeps per-day counts of marks by subject.
type Tallier interface {
	IncrTally(ctx context.Context, date, subject string) error
}

// Handler processes one queue message at a time.
type Handler struct {
	// Tally is optional.
	Tally Tallier
}

// Handle logs and counts msg. Unknown message types are skipped.
func (h Handler) Handle(ctx context.Context, msg queue.Message) error {
	metrics.EventsConsumed.WithLabelValues(msg.Type).Inc()
	if msg.Type != queue.TypeAttendanceMarked {
		log.Printf("skipping message of type %q", msg.Type)
		return nil
	}
	evt, err := queue.DecodeMarked(msg)
	if err != nil {
		return err
	}
	log.Printf("attendance %s: %s present for %s on %s (session %s, confidence %.2f%%)",
		evt.RecordID, evt.RollNumber, evt.Subject, evt.Date, evt.SessionID, evt.Confidence)
	if h.Tally == nil {
		return nil
	}
	return h.Tally.IncrTally(ctx, evt.Date, evt.Subject)
}

// Run consumes q until ctx ends. Handler errors are logged, not fatal.
func Run(ctx context.Context, q queue.Queue, h Handler) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		if err := h.Handle(ctx, msg); err != nil {
			log.Printf("handle %s: %v", msg.Type, err)
		}
	}
	return nil
}
