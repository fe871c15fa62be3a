// Package audit persists emitted tool events to a SQLite database.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/m4xw311/agentcli/errors"
	"github.com/m4xw311/agentcli/event"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tool_events (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	message_id  TEXT NOT NULL,
	call_id     TEXT NOT NULL,
	tool        TEXT NOT NULL,
	status      TEXT NOT NULL,
	title       TEXT NOT NULL,
	input       TEXT NOT NULL,
	output      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	ended_at    INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_events_session ON tool_events(session_id, started_at);
`

// Record is one stored tool event.
type Record struct {
	ID         string
	SessionID  string
	MessageID  string
	CallID     string
	Tool       string
	Status     string
	Title      string
	Input      map[string]any
	Output     string
	StartedAt  time.Time
	EndedAt    time.Time
	RecordedAt time.Time
}

// Store writes tool events through a single connection.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file and schema when missing.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create audit directory")
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open audit database %s", path)
	}
	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to initialize audit schema")
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores ev. It satisfies event.Sink.
func (s *Store) Record(ctx context.Context, ev event.ToolEvent) error {
	input, err := json.Marshal(ev.Part.State.Input)
	if err != nil {
		return errors.Wrapf(err, "failed to encode input for %s", ev.Part.CallID)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tool_events (id, session_id, message_id, call_id, tool, status, title, input, output, started_at, ended_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		ev.SessionID,
		ev.Part.MessageID,
		ev.Part.CallID,
		ev.Part.Tool,
		ev.Part.State.Status,
		ev.Part.State.Title,
		string(input),
		ev.Part.State.Output,
		ev.Part.State.Time.Start,
		ev.Part.State.Time.End,
		s.now().UnixMilli(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record event %s", ev.Part.CallID)
	}
	return nil
}

// List returns the records of one session in start order.
func (s *Store) List(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, message_id, call_id, tool, status, title, input, output, started_at, ended_at, recorded_at
		FROM tool_events
		WHERE session_id = ?
		ORDER BY started_at, rowid`, sessionID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query audit records")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                          Record
			input                      string
			started, ended, recordedAt int64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.MessageID, &r.CallID, &r.Tool, &r.Status, &r.Title, &input, &r.Output, &started, &ended, &recordedAt); err != nil {
			return nil, errors.Wrapf(err, "failed to scan audit record")
		}
		if err := json.Unmarshal([]byte(input), &r.Input); err != nil {
			return nil, errors.Wrapf(err, "failed to decode input of %s", r.CallID)
		}
		r.StartedAt = time.UnixMilli(started)
		r.EndedAt = time.UnixMilli(ended)
		r.RecordedAt = time.UnixMilli(recordedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
