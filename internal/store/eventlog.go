package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rendis/formflow/pkg/schema"
)

// EventLog provides the append-only lifecycle log on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide event log operations.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event and sets its ID. Ids increase monotonically
// across the whole log.
func (el *EventLog) AppendEvent(ctx context.Context, event *schema.Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	res, err := el.store.DB().ExecContext(ctx,
		`INSERT INTO events (form_id, response_id, event_type, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		event.FormID, nullStr(event.ResponseID), event.Type, nullRaw(event.Payload), event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read event id: %w", err)
	}
	event.ID = id
	return nil
}

// GetEvents returns events matching the filter, ordered by id.
func (el *EventLog) GetEvents(ctx context.Context, filter EventFilter) ([]*schema.Event, error) {
	where := []string{"id > ?"}
	args := []any{filter.AfterID}

	if filter.FormID != "" {
		where = append(where, "form_id = ?")
		args = append(args, filter.FormID)
	}
	if filter.ResponseID != "" {
		where = append(where, "response_id = ?")
		args = append(args, filter.ResponseID)
	}
	if filter.Type != "" {
		where = append(where, "event_type = ?")
		args = append(args, filter.Type)
	}

	query := `SELECT id, form_id, response_id, event_type, payload, created_at FROM events WHERE ` +
		strings.Join(where, " AND ") + " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := el.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*schema.Event
	for rows.Next() {
		e := &schema.Event{}
		var responseID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.FormID, &responseID, &e.Type, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ResponseID = responseID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}
