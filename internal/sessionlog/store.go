// Package sessionlog persists the terminal record of every voice session.
package sessionlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/voicecmd/internal/session"
)

// ErrNotFound is returned by Get for an unknown session id.
var ErrNotFound = errors.New("session not found")

// Entry is one row of the session log.
type Entry struct {
	SessionID  string        `json:"session_id"`
	Command    string        `json:"command"`
	Locale     string        `json:"locale,omitempty"`
	Fallback   bool          `json:"fallback"`
	State      session.State `json:"state"`
	Outcome    string        `json:"outcome,omitempty"`
	ErrorCode  session.Code  `json:"error_code,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Heartbeats int           `json:"heartbeats"`
	Progress   int           `json:"progress"`
	Messages   int           `json:"messages"`
	LaunchArg  *string       `json:"launch_argument,omitempty"`
	Abandoned  bool          `json:"abandoned,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    time.Time     `json:"ended_at"`
}

// timeLayout is fixed width so that ended_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store reads and writes the session_log table.
type Store struct {
	db *sql.DB
}

// New wraps an already bootstrapped database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record implements session.Recorder.
func (s *Store) Record(ctx context.Context, r *session.Result) error {
	if r == nil || r.SessionID == "" {
		return fmt.Errorf("result has no session id")
	}
	var launch sql.NullString
	if r.LaunchArg != nil {
		launch = sql.NullString{String: *r.LaunchArg, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO session_log(
  id, command, locale, fallback, state, outcome, error_code, reason,
  heartbeats, progress, messages, launch_arg, abandoned, started_at, ended_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  state = excluded.state,
  outcome = excluded.outcome,
  error_code = excluded.error_code,
  reason = excluded.reason,
  heartbeats = excluded.heartbeats,
  progress = excluded.progress,
  messages = excluded.messages,
  launch_arg = excluded.launch_arg,
  abandoned = excluded.abandoned,
  ended_at = excluded.ended_at;
`,
		r.SessionID, r.Command, r.Locale, r.Fallback, string(r.State), r.Outcome, string(r.ErrorCode), r.Reason,
		r.Heartbeats, r.Progress, r.Messages, launch, r.Abandoned,
		r.StartedAt.UTC().Format(timeLayout), r.EndedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert session_log: %w", err)
	}
	return nil
}

const selectColumns = `
SELECT id, command, locale, fallback, state, outcome, error_code, reason,
       heartbeats, progress, messages, launch_arg, abandoned, started_at, ended_at
FROM session_log`

// Get returns one session by id.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?;`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return e, nil
}

// Filter narrows Recent.
type Filter struct {
	Command string
	State   session.State
	Limit   int
}

// Recent returns the newest sessions first.
func (s *Store) Recent(ctx context.Context, f Filter) ([]*Entry, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	query := selectColumns + ` WHERE (? = '' OR command = ?) AND (? = '' OR state = ?) ORDER BY ended_at DESC LIMIT ?;`
	rows, err := s.db.QueryContext(ctx, query, f.Command, f.Command, string(f.State), string(f.State), f.Limit)
	if err != nil {
		return nil, fmt.Errorf("query session_log: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session_log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts returns the number of logged sessions per terminal state.
func (s *Store) Counts(ctx context.Context) (map[session.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, count(*) FROM session_log GROUP BY state;`)
	if err != nil {
		return nil, fmt.Errorf("count session_log: %w", err)
	}
	defer rows.Close()

	out := map[session.State]int{}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[session.State(st)] = n
	}
	return out, rows.Err()
}

// Prune deletes sessions that ended before now minus retention.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_log WHERE ended_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune session_log: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var (
		e                          Entry
		locale, outcome, code, why sql.NullString
		launch                     sql.NullString
		state, startedS, endedS    string
	)
	if err := sc.Scan(&e.SessionID, &e.Command, &locale, &e.Fallback, &state, &outcome, &code, &why,
		&e.Heartbeats, &e.Progress, &e.Messages, &launch, &e.Abandoned, &startedS, &endedS); err != nil {
		return nil, err
	}
	e.Locale = locale.String
	e.State = session.State(state)
	e.Outcome = outcome.String
	e.ErrorCode = session.Code(code.String)
	e.Reason = why.String
	if launch.Valid {
		v := launch.String
		e.LaunchArg = &v
	}
	if t, err := time.Parse(timeLayout, startedS); err == nil {
		e.StartedAt = t
	}
	if t, err := time.Parse(timeLayout, endedS); err == nil {
		e.EndedAt = t
	}
	return &e, nil
}
