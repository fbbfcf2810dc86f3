// Package journal provides an optional durable SQLite record of
// dispatched background-job results and matched events, for post-hoc
// inspection after a process restart. The connection engine itself
// keeps no persisted state; the journal is an external collaborator
// that taps the engine's subscriber and job-result channels the same
// way any other caller would.
package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/go-eventsocket/internal/esl"
)

// Journal records job results and matched events to a SQLite database.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) the SQLite database at path and
// runs its migration.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	j := &Journal{db: db, logger: logger}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at DATETIME NOT NULL,
	event_name TEXT,
	unique_id TEXT,
	packet_type TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_event_name ON events(event_name);
CREATE INDEX IF NOT EXISTS idx_events_recorded_at ON events(recorded_at);

CREATE TABLE IF NOT EXISTS job_results (
	job_id TEXT PRIMARY KEY,
	recorded_at DATETIME NOT NULL,
	success INTEGER NOT NULL,
	reply_text TEXT
);
`
	_, err := j.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordEvent inserts one matched event row.
func (j *Journal) RecordEvent(p *esl.Packet) error {
	_, err := j.db.Exec(
		`INSERT INTO events (recorded_at, event_name, unique_id, packet_type) VALUES (?, ?, ?, ?)`,
		time.Now().UTC(), p.Field("Event-Name"), p.Field("Unique-ID"), p.Type,
	)
	if err != nil {
		j.logger.Error("journal: record event failed", "error", err)
	}
	return err
}

// RecordJobResult upserts one background-job result row.
func (j *Journal) RecordJobResult(result *esl.JobResult) error {
	_, err := j.db.Exec(
		`INSERT INTO job_results (job_id, recorded_at, success, reply_text) VALUES (?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET recorded_at=excluded.recorded_at, success=excluded.success, reply_text=excluded.reply_text`,
		result.JobID, time.Now().UTC(), boolToInt(result.Packet.Success), result.Packet.Header("reply-text"),
	)
	if err != nil {
		j.logger.Error("journal: record job result failed", "error", err)
	}
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// WatchEvents runs until sub's events channel closes or done fires,
// recording every event delivered to sub. It is meant to be run in its
// own goroutine as a long-lived tap alongside the engine. Job results
// are not included here since each Bgapi call owns its own private
// result channel; a caller that wants a job's outcome journaled calls
// RecordJobResult itself once it receives that result.
func (j *Journal) WatchEvents(sub *esl.Subscription, done <-chan struct{}) {
	for {
		select {
		case p, ok := <-sub.Events():
			if !ok {
				return
			}
			j.RecordEvent(p)
		case <-done:
			return
		}
	}
}
