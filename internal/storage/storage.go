// Package storage provides SQLite-backed persistence for completed
// encounters and the entity identity cache, plus the read-side query
// surface the history UI consumes.
//
// A single worker goroutine owns the database connection. Every
// operation — write or read — is posted to its queue as a closure and
// executed serially; callers needing a result block on a reply channel.
// Fire-and-forget writes (the encounter commit path) log failures and
// never propagate them into the live pipeline.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// busyTimeoutMs is how long SQLite waits on a locked database before
// giving up.
const busyTimeoutMs = 30_000

// DB wraps the metrics store. Obtain with Open; Close drains pending
// writes before shutting the connection down.
type DB struct {
	conn *sql.DB
	log  *slog.Logger

	jobs chan func(conn *sql.DB)
	done chan struct{}
}

// Open opens (or creates) the SQLite database at path, applies pragmas
// and embedded schema migrations, and starts the writer worker.
func Open(path string, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One physical connection: the worker owns it, and :memory:
	// databases stay coherent under the database/sql pool.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMs),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	db := &DB{
		conn: conn,
		log:  log,
		jobs: make(chan func(conn *sql.DB), 1024),
		done: make(chan struct{}),
	}
	go db.worker()
	return db, nil
}

// worker executes queued jobs serially until the queue closes.
func (db *DB) worker() {
	defer close(db.done)
	for job := range db.jobs {
		job(db.conn)
	}
}

// post enqueues a fire-and-forget job.
func (db *DB) post(job func(conn *sql.DB)) {
	db.jobs <- job
}

// run enqueues a job and blocks until the worker has executed it,
// returning its error — the synchronous-reply path for queries.
func (db *DB) run(job func(conn *sql.DB) error) error {
	errCh := make(chan error, 1)
	db.jobs <- func(conn *sql.DB) { errCh <- job(conn) }
	return <-errCh
}

// Flush blocks until every previously posted job has executed. Useful as
// a barrier in tests and before shutdown checks.
func (db *DB) Flush() {
	_ = db.run(func(*sql.DB) error { return nil })
}

// Close drains the queue and closes the connection.
func (db *DB) Close() error {
	close(db.jobs)
	<-db.done
	return db.conn.Close()
}

// boolInt converts a bool to an int (0 or 1) for SQLite storage.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
