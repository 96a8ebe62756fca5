package db

import (
	"database/sql"
	"fmt"
	"time"
)

// FlowEvent represents a row in the flow_events table.
type FlowEvent struct {
	ID        int64
	FlowID    string
	Event     string
	Stage     string
	Detail    string
	CreatedAt time.Time
}

// StageCall represents a row in the stage_calls table.
type StageCall struct {
	ID         int64
	FlowID     string
	Stage      string
	Success    bool
	DurationMs int64
	Error      string
	CreatedAt  time.Time
}

// StageStats aggregates stage_calls rows for one stage.
type StageStats struct {
	Stage         string
	Calls         int64
	Failures      int64
	AvgDurationMs float64
}

// LogFlowEvent inserts a pipeline lifecycle event.
func (d *DB) LogFlowEvent(flowID, event, stage, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO flow_events (flow_id, event, stage, detail) VALUES ($1, $2, $3, $4)`,
		flowID, event, nullIfEmpty(stage), nullIfEmpty(detail),
	)
	if err != nil {
		return fmt.Errorf("log flow event: %w", err)
	}
	return nil
}

// GetFlowHistory returns all events for a flow, newest first.
func (d *DB) GetFlowHistory(flowID string) ([]FlowEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, flow_id, event, stage, detail, created_at
		 FROM flow_events WHERE flow_id = $1 ORDER BY created_at DESC, id DESC`,
		flowID,
	)
	if err != nil {
		return nil, fmt.Errorf("get flow history: %w", err)
	}
	defer rows.Close()

	var events []FlowEvent
	for rows.Next() {
		var e FlowEvent
		var stage, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.FlowID, &e.Event, &stage, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan flow event: %w", err)
		}
		e.Stage = stage.String
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// LogStageCall inserts one stage call outcome.
func (d *DB) LogStageCall(flowID, stage string, success bool, durationMs int64, callErr string) error {
	_, err := d.conn.Exec(
		`INSERT INTO stage_calls (flow_id, stage, success, duration_ms, error) VALUES ($1, $2, $3, $4, $5)`,
		nullIfEmpty(flowID), stage, success, durationMs, nullIfEmpty(callErr),
	)
	if err != nil {
		return fmt.Errorf("log stage call: %w", err)
	}
	return nil
}

// GetStageStats aggregates call counts and latency per stage.
func (d *DB) GetStageStats() ([]StageStats, error) {
	rows, err := d.conn.Query(`
		SELECT stage,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE NOT success),
		       COALESCE(AVG(duration_ms), 0)
		FROM stage_calls
		GROUP BY stage
		ORDER BY stage`)
	if err != nil {
		return nil, fmt.Errorf("get stage stats: %w", err)
	}
	defer rows.Close()

	var stats []StageStats
	for rows.Next() {
		var s StageStats
		if err := rows.Scan(&s.Stage, &s.Calls, &s.Failures, &s.AvgDurationMs); err != nil {
			return nil, fmt.Errorf("scan stage stats: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// GetRecentStageCalls returns the most recent calls for a stage.
func (d *DB) GetRecentStageCalls(stage string, limit int) ([]StageCall, error) {
	rows, err := d.conn.Query(
		`SELECT id, flow_id, stage, success, duration_ms, error, created_at
		 FROM stage_calls WHERE stage = $1 ORDER BY id DESC LIMIT $2`,
		stage, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get recent stage calls: %w", err)
	}
	defer rows.Close()

	var calls []StageCall
	for rows.Next() {
		var c StageCall
		var flowID, callErr sql.NullString
		if err := rows.Scan(&c.ID, &flowID, &c.Stage, &c.Success, &c.DurationMs, &callErr, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stage call: %w", err)
		}
		c.FlowID = flowID.String
		c.Error = callErr.String
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
