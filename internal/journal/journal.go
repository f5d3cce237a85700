package journal

import (
	"database/sql"
	"fmt"
	"time"
)

// Event is one verified webhook delivery. The journal is diagnostic only:
// it records what the provider sent and when, it does not deduplicate and
// nothing replays from it.
type Event struct {
	ID             int64     `json:"id"`
	EventID        string    `json:"eventId"`
	Type           string    `json:"type"`
	SubscriptionID string    `json:"subscriptionId,omitempty"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

// Journal is an append-only log of webhook events backed by SQLite.
type Journal struct {
	db *sql.DB
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Record appends one event. subscriptionID may be empty for events that do
// not reference a subscription.
func (j *Journal) Record(eventID, eventType, subscriptionID string) error {
	_, err := j.db.Exec(
		`INSERT INTO webhook_events (event_id, event_type, subscription_id) VALUES (?, ?, ?)`,
		eventID, eventType, subscriptionID,
	)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(limit int) ([]Event, error) {
	rows, err := j.db.Query(
		`SELECT id, event_id, event_type, subscription_id, received_at
		 FROM webhook_events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query webhook events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.EventID, &e.Type, &e.SubscriptionID, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook events: %w", err)
	}
	return events, nil
}
