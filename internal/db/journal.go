package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/turn"
)

// Journal persists turn transitions. It satisfies turn.Journal.
type Journal struct {
	db *sql.DB
}

// NewJournal wraps an initialized database.
func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// TurnStarted inserts a new turn row.
func (j *Journal) TurnStarted(ctx context.Context, t turn.Turn) error {
	chain, err := json.Marshal(t.ExtensionChain)
	if err != nil {
		return fmt.Errorf("marshal extension chain: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO turns (turn_id, session_id, user_input, extension_chain_json, status, error, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?, NULL)
	`, t.ID, t.SessionID, t.UserInput, string(chain), string(t.Status), t.StartedAt.UnixMilli())
	if err != nil {
		return errors.NewStorage("insert turn", err)
	}
	return nil
}

// TurnEvent appends an event to a turn.
func (j *Journal) TurnEvent(ctx context.Context, t turn.Turn, ev turn.EventRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO turn_events (turn_id, name, at) VALUES (?, ?, ?)
	`, t.ID, string(ev.Name), ev.At.UnixMilli())
	if err != nil {
		return errors.NewStorage("insert turn event", err)
	}
	return nil
}

// TurnEnded records the terminal status of a turn.
func (j *Journal) TurnEnded(ctx context.Context, t turn.Turn) error {
	var ended sql.NullInt64
	if t.EndedAt != nil {
		ended = sql.NullInt64{Int64: t.EndedAt.UnixMilli(), Valid: true}
	}
	var msg sql.NullString
	if t.Error != "" {
		msg = sql.NullString{String: t.Error, Valid: true}
	}

	res, err := j.db.ExecContext(ctx, `
		UPDATE turns SET status = ?, error = ?, ended_at = ? WHERE turn_id = ?
	`, string(t.Status), msg, ended, t.ID)
	if err != nil {
		return errors.NewStorage("update turn", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewStorage("update turn", err)
	}
	if n == 0 {
		return errors.NewNotFound(t.ID)
	}
	return nil
}

// ListTurns returns the most recent turns of a session, newest first.
// Events are not loaded; use GetTurn for the full record.
func (j *Journal) ListTurns(ctx context.Context, sessionID string, limit int) ([]turn.Turn, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT turn_id, session_id, user_input, extension_chain_json, status, error, started_at, ended_at
		FROM turns
		WHERE session_id = ?
		ORDER BY started_at DESC, turn_id DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, errors.NewStorage("list turns", err)
	}
	defer rows.Close()

	var out []turn.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("list turns", err)
	}
	return out, nil
}

// GetTurn returns one turn with its events in recorded order.
func (j *Journal) GetTurn(ctx context.Context, turnID string) (*turn.Turn, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT turn_id, session_id, user_input, extension_chain_json, status, error, started_at, ended_at
		FROM turns WHERE turn_id = ?
	`, turnID)
	t, err := scanTurn(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(turnID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT name, at FROM turn_events WHERE turn_id = ? ORDER BY id
	`, turnID)
	if err != nil {
		return nil, errors.NewStorage("list turn events", err)
	}
	defer rows.Close()

	t.Events = []turn.EventRecord{}
	for rows.Next() {
		var name string
		var at int64
		if err := rows.Scan(&name, &at); err != nil {
			return nil, errors.NewStorage("scan turn event", err)
		}
		t.Events = append(t.Events, turn.EventRecord{Name: turn.Event(name), At: time.UnixMilli(at).UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage("list turn events", err)
	}
	return &t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTurn(s scanner) (turn.Turn, error) {
	var (
		t       turn.Turn
		chain   sql.NullString
		status  string
		msg     sql.NullString
		started int64
		ended   sql.NullInt64
	)
	err := s.Scan(&t.ID, &t.SessionID, &t.UserInput, &chain, &status, &msg, &started, &ended)
	if err == sql.ErrNoRows {
		return t, err
	}
	if err != nil {
		return t, errors.NewStorage("scan turn", err)
	}

	t.ExtensionChain = []string{}
	if chain.Valid && chain.String != "" {
		if err := json.Unmarshal([]byte(chain.String), &t.ExtensionChain); err != nil {
			return t, errors.NewStorage("decode extension chain", err)
		}
		if t.ExtensionChain == nil {
			t.ExtensionChain = []string{}
		}
	}
	t.Status = turn.Status(status)
	t.Error = msg.String
	t.StartedAt = time.UnixMilli(started).UTC()
	if ended.Valid {
		e := time.UnixMilli(ended.Int64).UTC()
		t.EndedAt = &e
	}
	return t, nil
}
