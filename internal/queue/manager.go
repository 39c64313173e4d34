// -----------------------------------------------------------------------
// Last Modified: Wednesday, 5th November 2025 6:08:59 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"maragu.dev/goqite"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// Message is a wake-up signal posted to the queue processor. It does not
// itself carry ordering information; the payload is advisory (which scan
// triggered the wake) and the processor always re-reads the authoritative
// ScanJobStore state after waking.
type Message struct {
	Reason string `json:"reason"` // "enqueue", "age_priorities", or "complete"
	ScanID string `json:"scan_id,omitempty"`
}

// Manager is a thin wrapper around goqite, repurposed from a job-delivery
// queue into a wake channel for the fair-share queue processor: it carries
// no job payloads, only a signal that the processor should re-evaluate
// queued/processing state before its next ticker interval.
type Manager struct {
	q *goqite.Queue
}

// NewManager creates a new queue manager.
func NewManager(db *sql.DB, queueName string) (*Manager, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := goqite.Setup(ctx, db); err != nil {
		// Ignore "already exists" errors - this is expected on subsequent startups
		if !strings.Contains(err.Error(), "already exists") {
			return nil, err
		}
	}

	q := goqite.New(goqite.NewOpts{
		DB:   db,
		Name: queueName,
	})

	return &Manager{q: q}, nil
}

// Enqueue posts a wake-up signal.
func (m *Manager) Enqueue(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return m.q.Send(ctx, goqite.Message{
		Body: data,
	})
}

// Receive pulls the next wake-up signal. Returns the message and a delete
// function to call once the processor has acted on it.
func (m *Manager) Receive(ctx context.Context) (*Message, func() error, error) {
	gMsg, err := m.q.Receive(ctx)
	if err != nil {
		return nil, nil, err
	}

	if gMsg == nil {
		return nil, nil, ErrNoMessage
	}

	var msg Message
	if err := json.Unmarshal(gMsg.Body, &msg); err != nil {
		return nil, nil, err
	}

	deleteFn := func() error {
		deleteCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.q.Delete(deleteCtx, gMsg.ID)
	}

	return &msg, deleteFn, nil
}

// Extend extends the visibility timeout of an in-flight wake signal.
func (m *Manager) Extend(ctx context.Context, messageID string, duration time.Duration) error {
	return m.q.Extend(ctx, goqite.ID(messageID), duration)
}

// Close closes the queue manager.
func (m *Manager) Close() error {
	// goqite doesn't require explicit close, but we provide it for consistency
	return nil
}
