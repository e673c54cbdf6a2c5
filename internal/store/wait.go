package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WaitStatus is the lifecycle of a durable callback.
type WaitStatus string

const (
	WaitWaiting   WaitStatus = "WAITING"
	WaitResuming  WaitStatus = "RESUMING"
	WaitDone      WaitStatus = "DONE"
	WaitFailed    WaitStatus = "FAILED"
	WaitCancelled WaitStatus = "CANCELLED"
)

// WaitInstance is a persisted callback: ResumeAction runs with Payload once
// every correlation id has a notify response.
type WaitInstance struct {
	ID              string
	PlanExecutionID string
	Topic           string
	ResumeAction    string
	Payload         json.RawMessage
	CorrelationIDs  []string
	Status          WaitStatus
	Error           string
}

// NotifyResponse is the payload delivered for one correlation id.
type NotifyResponse struct {
	CorrelationID string
	Response      json.RawMessage
	IsError       bool
}

// DelayEvent schedules a notification on ResumeID at FireAt.
type DelayEvent struct {
	ResumeID        string
	PlanExecutionID string
	FireAt          time.Time
	Fired           bool
}

// InsertWait persists a callback and its correlation ids in one transaction.
func (s *Store) InsertWait(ctx context.Context, w WaitInstance) error {
	if len(w.CorrelationIDs) == 0 {
		return fmt.Errorf("insert wait %s: no correlation ids", w.ID)
	}
	payload := string(w.Payload)
	if payload == "" {
		payload = "{}"
	}
	status := w.Status
	if status == "" {
		status = WaitWaiting
	}

	err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() // No-op if committed

		_, err = tx.ExecContext(ctx, `
			INSERT INTO wait_instances
			(id, plan_execution_id, topic, resume_action, payload, status)
			VALUES (?, ?, ?, ?, ?, ?)
		`, w.ID, w.PlanExecutionID, w.Topic, w.ResumeAction, payload, string(status))
		if err != nil {
			return err
		}
		for _, cid := range w.CorrelationIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO wait_correlations (wait_id, correlation_id)
				VALUES (?, ?)
				ON CONFLICT DO NOTHING
			`, w.ID, cid)
			if err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("insert wait %s: %w", w.ID, err)
	}
	return nil
}

// GetWait retrieves a callback with its correlation ids.
func (s *Store) GetWait(ctx context.Context, id string) (WaitInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, plan_execution_id, topic, resume_action, payload, status, error
		FROM wait_instances
		WHERE id = ?
	`, id)
	w, err := scanWait(row)
	if err != nil {
		return WaitInstance{}, wrapNotFound(err, "get wait %s", id)
	}
	if w.CorrelationIDs, err = s.correlationIDs(ctx, id); err != nil {
		return WaitInstance{}, err
	}
	return w, nil
}

// ListWaits returns the callbacks registered for a plan execution in
// registration order.
func (s *Store) ListWaits(ctx context.Context, planExecutionID string) ([]WaitInstance, error) {
	return s.queryWaits(ctx, `
		SELECT id, plan_execution_id, topic, resume_action, payload, status, error
		FROM wait_instances
		WHERE plan_execution_id = ?
		ORDER BY seq ASC
	`, planExecutionID)
}

// ReadyWaits returns WAITING callbacks on topic whose correlation ids have
// all been notified, oldest first. An empty topic matches every topic and a
// non-positive limit means no limit.
func (s *Store) ReadyWaits(ctx context.Context, topic string, limit int) ([]WaitInstance, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryWaits(ctx, `
		SELECT w.id, w.plan_execution_id, w.topic, w.resume_action, w.payload, w.status, w.error
		FROM wait_instances w
		WHERE w.status = ?
		  AND (? = '' OR w.topic = ?)
		  AND NOT EXISTS (
			SELECT 1 FROM wait_correlations c
			WHERE c.wait_id = w.id
			  AND NOT EXISTS (
				SELECT 1 FROM notify_responses r WHERE r.correlation_id = c.correlation_id
			  )
		  )
		ORDER BY w.seq ASC
		LIMIT ?
	`, string(WaitWaiting), topic, topic, limit)
}

func (s *Store) queryWaits(ctx context.Context, query string, args ...any) ([]WaitInstance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query waits: %w", err)
	}

	waits := []WaitInstance{}
	for rows.Next() {
		w, err := scanWait(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan wait: %w", err)
		}
		waits = append(waits, w)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate waits: %w", err)
	}
	// Release the single connection before the correlation lookups.
	rows.Close()

	for i := range waits {
		if waits[i].CorrelationIDs, err = s.correlationIDs(ctx, waits[i].ID); err != nil {
			return nil, err
		}
	}
	return waits, nil
}

func (s *Store) correlationIDs(ctx context.Context, waitID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT correlation_id FROM wait_correlations
		WHERE wait_id = ?
		ORDER BY correlation_id COLLATE BINARY ASC
	`, waitID)
	if err != nil {
		return nil, fmt.Errorf("query correlations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan correlation: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate correlations: %w", err)
	}
	return ids, nil
}

func scanWait(row rowScanner) (WaitInstance, error) {
	var (
		w       WaitInstance
		payload string
		status  string
	)
	if err := row.Scan(&w.ID, &w.PlanExecutionID, &w.Topic, &w.ResumeAction, &payload, &status, &w.Error); err != nil {
		return WaitInstance{}, err
	}
	w.Payload = json.RawMessage(payload)
	w.Status = WaitStatus(status)
	return w, nil
}

// TransitionWait moves a callback from one status to another. Returns false
// if the callback was not in status from; this is how a resumer claims a
// wait exclusively.
func (s *Store) TransitionWait(ctx context.Context, id string, from, to WaitStatus, errMsg string) (changed bool, err error) {
	err = withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE wait_instances SET status = ?, error = ?
			WHERE id = ? AND status = ?
		`, string(to), errMsg, id, string(from))
		if err != nil {
			return err
		}
		changed, err = rowsChanged(res)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("transition wait %s: %w", id, err)
	}
	return changed, nil
}

// CancelWaitsForPlan cancels every WAITING callback of a plan execution.
func (s *Store) CancelWaitsForPlan(ctx context.Context, planExecutionID string) (int64, error) {
	return s.cancelWaits(ctx, "plan_execution_id = ?", planExecutionID)
}

// CancelWaitsForCorrelation cancels every WAITING callback that listens on
// correlationID.
func (s *Store) CancelWaitsForCorrelation(ctx context.Context, correlationID string) (int64, error) {
	return s.cancelWaits(ctx,
		"id IN (SELECT wait_id FROM wait_correlations WHERE correlation_id = ?)", correlationID)
}

func (s *Store) cancelWaits(ctx context.Context, cond string, arg string) (int64, error) {
	var n int64
	err := withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE wait_instances SET status = ?
			WHERE status = ? AND `+cond,
			string(WaitCancelled), string(WaitWaiting), arg)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cancel waits: %w", err)
	}
	return n, nil
}

// ResetResumingWaits returns callbacks left RESUMING by a crashed process to
// WAITING so the poller picks them up again.
func (s *Store) ResetResumingWaits(ctx context.Context) (int64, error) {
	var n int64
	err := withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE wait_instances SET status = ? WHERE status = ?
		`, string(WaitWaiting), string(WaitResuming))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reset resuming waits: %w", err)
	}
	return n, nil
}

// InsertNotifyResponse records the response for a correlation id.
// The first response wins; later ones are ignored and inserted is false.
func (s *Store) InsertNotifyResponse(ctx context.Context, r NotifyResponse) (inserted bool, err error) {
	response := string(r.Response)
	if response == "" {
		response = "{}"
	}
	err = withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO notify_responses (correlation_id, response, is_error)
			VALUES (?, ?, ?)
			ON CONFLICT(correlation_id) DO NOTHING
		`, r.CorrelationID, response, boolToInt(r.IsError))
		if err != nil {
			return err
		}
		inserted, err = rowsChanged(res)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("insert notify response: %w", err)
	}
	return inserted, nil
}

// NotifyResponses returns the responses recorded for the given correlation
// ids, keyed by id. Missing ids are absent from the map.
func (s *Store) NotifyResponses(ctx context.Context, correlationIDs []string) (map[string]NotifyResponse, error) {
	out := make(map[string]NotifyResponse, len(correlationIDs))
	if len(correlationIDs) == 0 {
		return out, nil
	}
	marks := make([]string, len(correlationIDs))
	args := make([]any, len(correlationIDs))
	for i, id := range correlationIDs {
		marks[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT correlation_id, response, is_error
		FROM notify_responses
		WHERE correlation_id IN (`+strings.Join(marks, ", ")+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query notify responses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r        NotifyResponse
			response string
			isError  int
		)
		if err := rows.Scan(&r.CorrelationID, &response, &isError); err != nil {
			return nil, fmt.Errorf("scan notify response: %w", err)
		}
		r.Response = json.RawMessage(response)
		r.IsError = isError != 0
		out[r.CorrelationID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notify responses: %w", err)
	}
	return out, nil
}

// InsertDelay schedules a delay event. Duplicate resume ids are ignored.
func (s *Store) InsertDelay(ctx context.Context, d DelayEvent) error {
	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO delay_events (resume_id, plan_execution_id, fire_at, fired)
			VALUES (?, ?, ?, 0)
			ON CONFLICT(resume_id) DO NOTHING
		`, d.ResumeID, d.PlanExecutionID, d.FireAt.UTC().UnixNano())
		return err
	})
	if err != nil {
		return fmt.Errorf("insert delay %s: %w", d.ResumeID, err)
	}
	return nil
}

// GetDelay retrieves a delay event by resume id.
func (s *Store) GetDelay(ctx context.Context, resumeID string) (DelayEvent, error) {
	var (
		d      DelayEvent
		fireAt int64
		fired  int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT resume_id, plan_execution_id, fire_at, fired
		FROM delay_events WHERE resume_id = ?
	`, resumeID).Scan(&d.ResumeID, &d.PlanExecutionID, &fireAt, &fired)
	if err != nil {
		return DelayEvent{}, wrapNotFound(err, "get delay %s", resumeID)
	}
	d.FireAt = time.Unix(0, fireAt).UTC()
	d.Fired = fired != 0
	return d, nil
}

// FireDueDelays notifies the resume id of every unfired delay whose fire time
// is at or before now, in one transaction. Returns the fired resume ids in
// fire order.
func (s *Store) FireDueDelays(ctx context.Context, now time.Time) ([]string, error) {
	var fired []string
	err := withRetry(ctx, func() error {
		var err error
		fired, err = s.fireDueTx(ctx, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fire due delays: %w", err)
	}
	return fired, nil
}

func (s *Store) fireDueTx(ctx context.Context, now time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	rows, err := tx.QueryContext(ctx, `
		SELECT resume_id FROM delay_events
		WHERE fired = 0 AND fire_at <= ?
		ORDER BY fire_at ASC, resume_id COLLATE BINARY ASC
	`, now.UTC().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query due delays: %w", err)
	}
	var due []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan due delay: %w", err)
		}
		due = append(due, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate due delays: %w", err)
	}
	rows.Close()

	for _, id := range due {
		if _, err := tx.ExecContext(ctx, `
			UPDATE delay_events SET fired = 1 WHERE resume_id = ?
		`, id); err != nil {
			return nil, fmt.Errorf("mark delay fired: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO notify_responses (correlation_id, response, is_error)
			VALUES (?, '{}', 0)
			ON CONFLICT(correlation_id) DO NOTHING
		`, id); err != nil {
			return nil, fmt.Errorf("notify delay: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return due, nil
}
