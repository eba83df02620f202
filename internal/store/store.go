// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store is the Postgres repository for tracked cases, court
// records, parse audits, and notification recipients.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/lemon/casesync/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// DB owns the connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Migrate applies pending schema migrations.
func (db *DB) Migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(db.pool)
	defer sqlDB.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		slog.Info("migration applied",
			"version", r.Source.Version,
			"path", r.Source.Path,
			"duration", r.Duration,
		)
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	slog.Info("database schema up to date", "version", version, "applied", len(results))
	return nil
}

// Session holds one pooled connection for the duration of a run.
type Session struct {
	conn *pgxpool.Conn
}

// Session acquires a connection. The caller must Close it.
func (db *DB) Session(ctx context.Context) (*Session, error) {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &Session{conn: conn}, nil
}

// Close returns the connection to the pool.
func (s *Session) Close() {
	s.conn.Release()
}

const caseColumns = `
	ec.id,
	COALESCE(ec.title, ''),
	COALESCE(ec.case_number, ''),
	COALESCE(ec.jurisdiction, ''),
	COALESCE(ec.status, ''),
	COALESCE(ec.author_id, 0),
	ec.firm_id,
	COALESCE((
		SELECT c.name
		FROM erp_case_clients cc
		INNER JOIN erp_clients c ON cc.client_id = c.id
		WHERE cc.case_id = ec.id
		ORDER BY
			CASE
				WHEN cc.litigant_role = '피고인' THEN 1
				WHEN cc.litigant_role = '피의자' THEN 2
				ELSE 3
			END,
			cc.id
		LIMIT 1
	), '')`

// ListEligibleCases returns one page of open cases that have a case number
// and a court, ordered by id.
func (s *Session) ListEligibleCases(ctx context.Context, offset, limit int) ([]models.TrackedCase, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+caseColumns+`
		FROM erp_cases ec
		WHERE ec.case_number IS NOT NULL
		  AND ec.jurisdiction IS NOT NULL
		  AND ec.status IS DISTINCT FROM $1
		ORDER BY ec.id
		LIMIT $2 OFFSET $3
	`, models.StatusClosed, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()
	return collectCases(rows)
}

// GetCase returns a case by id regardless of eligibility, or nil if it does
// not exist.
func (s *Session) GetCase(ctx context.Context, id int64) (*models.TrackedCase, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+caseColumns+` FROM erp_cases ec WHERE ec.id = $1`, id)
	c, err := scanCase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get case %d: %w", id, err)
	}
	return &c, nil
}

// AppendAudit records one parse attempt.
func (s *Session) AppendAudit(ctx context.Context, e models.AuditEntry) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO erp_supremecourt_parse_history (case_id, method, result)
		VALUES ($1, $2, $3)
	`, e.CaseID, e.Method, e.Result)
	if err != nil {
		return fmt.Errorf("append audit for case %d: %w", e.CaseID, err)
	}
	return nil
}

// RelatedUsers returns users with a phone number who authored the case or
// belong to its firm, with their notification settings.
func (s *Session) RelatedUsers(ctx context.Context, authorID int64, firmID *int64) ([]models.Recipient, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT u.id, COALESCE(u.username, ''), u.phone, us.new_history, us.new_trial
		FROM users u
		LEFT JOIN erp_user_notification_setting us ON u.id = us.user_id
		WHERE u.phone IS NOT NULL
		  AND (u.id = $1 OR ($2::bigint IS NOT NULL AND u.firm_id = $2))
		ORDER BY u.id
	`, authorID, firmID)
	if err != nil {
		return nil, fmt.Errorf("list related users: %w", err)
	}
	defer rows.Close()

	var out []models.Recipient
	for rows.Next() {
		var r models.Recipient
		if err := rows.Scan(&r.UserID, &r.Name, &r.Phone, &r.NewHistory, &r.NewTrial); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RelatedClients returns the case's client contacts that have both a name
// and a phone number. Clients have no user account and no settings.
func (s *Session) RelatedClients(ctx context.Context, caseID int64) ([]models.Recipient, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT COALESCE(c.name, ''), COALESCE(c.contact_number_1, '')
		FROM erp_clients c
		INNER JOIN erp_case_clients cc ON c.id = cc.client_id AND cc.case_id = $1
		ORDER BY cc.id
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list case clients: %w", err)
	}
	defer rows.Close()

	var out []models.Recipient
	for rows.Next() {
		var name, phone string
		if err := rows.Scan(&name, &phone); err != nil {
			return nil, err
		}
		if name == "" || phone == "" {
			continue
		}
		out = append(out, models.Recipient{UserID: models.ClientUserID, Name: name, Phone: phone})
	}
	return out, rows.Err()
}

// CaseTx is the write side of one case update. All of its operations run
// in a single transaction holding the case row lock. The insert methods
// return the positions in rows of the rows actually stored.
type CaseTx interface {
	LastHistory(ctx context.Context) (*models.HistoryMarker, error)
	LastTrial(ctx context.Context) (*models.TrialMarker, error)
	InsertHistory(ctx context.Context, rows []models.NewHistory) ([]int, error)
	InsertTrials(ctx context.Context, rows []models.NewTrial) ([]int, error)
}

// UpdateCase locks the case row and runs fn in a transaction. The
// transaction commits only if fn returns nil.
func (s *Session) UpdateCase(ctx context.Context, caseID int64, fn func(context.Context, CaseTx) error) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	var locked int64
	if err := tx.QueryRow(ctx, `SELECT id FROM erp_cases WHERE id = $1 FOR UPDATE`, caseID).Scan(&locked); err != nil {
		return fmt.Errorf("lock case %d: %w", caseID, err)
	}

	if err := fn(ctx, &caseTx{tx: tx, caseID: caseID}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit case %d: %w", caseID, err)
	}
	return nil
}

type caseTx struct {
	tx     pgx.Tx
	caseID int64
}

func (c *caseTx) LastHistory(ctx context.Context) (*models.HistoryMarker, error) {
	var m models.HistoryMarker
	var details *string
	err := c.tx.QueryRow(ctx, `
		SELECT created_at, details
		FROM erp_case_histories
		WHERE case_id = $1 AND event_type = $2
		ORDER BY id DESC
		LIMIT 1
	`, c.caseID, models.SourceCourt).Scan(&m.Date, &details)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last court history: %w", err)
	}
	if details != nil {
		m.Content = *details
	}
	return &m, nil
}

func (c *caseTx) LastTrial(ctx context.Context) (*models.TrialMarker, error) {
	var m models.TrialMarker
	var trialType *string
	err := c.tx.QueryRow(ctx, `
		SELECT trial_date, trial_type
		FROM erp_case_trial_info
		WHERE case_id = $1 AND source = $2
		ORDER BY trial_date DESC, id DESC
		LIMIT 1
	`, c.caseID, models.SourceCourt).Scan(&m.Date, &trialType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last court trial: %w", err)
	}
	if trialType != nil {
		m.Type = *trialType
	}
	return &m, nil
}

// InsertHistory writes rows in order. Court history may legitimately
// repeat a date and content, so every row is stored.
func (c *caseTx) InsertHistory(ctx context.Context, rows []models.NewHistory) ([]int, error) {
	batch := &pgx.Batch{}
	for _, h := range rows {
		batch.Queue(`
			INSERT INTO erp_case_histories
				(case_id, event_type, event_type2, prev_value, curr_value, details, created_at, result)
			VALUES ($1, $2, $3, NULL, NULL, $4, $5, $6)
		`, c.caseID, models.SourceCourt, models.HistorySubtypeEtc, h.Content, wallClock(h.Date), h.Result)
	}
	return c.execBatch(ctx, batch, "history")
}

// InsertTrials writes rows in order. A trial already stored for the same
// date, time and type is skipped.
func (c *caseTx) InsertTrials(ctx context.Context, rows []models.NewTrial) ([]int, error) {
	batch := &pgx.Batch{}
	for _, t := range rows {
		batch.Queue(`
			INSERT INTO erp_case_trial_info
				(case_id, trial_date, trial_agency, trial_agency_address_detail, trial_result, trial_type, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT DO NOTHING
		`, c.caseID, wallClock(t.Date), t.Agency, t.LocationDetail, t.Result, t.Type, models.SourceCourt)
	}
	return c.execBatch(ctx, batch, "trial")
}

func (c *caseTx) execBatch(ctx context.Context, batch *pgx.Batch, kind string) ([]int, error) {
	if batch.Len() == 0 {
		return nil, nil
	}

	br := c.tx.SendBatch(ctx, batch)
	stored := make([]int, 0, batch.Len())
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return nil, fmt.Errorf("insert %s row %d: %w", kind, i, err)
		}
		if tag.RowsAffected() > 0 {
			stored = append(stored, i)
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("insert %s rows: %w", kind, err)
	}

	if skipped := batch.Len() - len(stored); skipped > 0 {
		slog.Warn("court records already stored",
			"case_id", c.caseID,
			"kind", kind,
			"skipped", skipped,
		)
	}
	return stored, nil
}

// wallClock drops the zone so the value lands in a TIMESTAMP column as the
// same wall-clock reading it was parsed from.
func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func scanCase(row pgx.Row) (models.TrackedCase, error) {
	var c models.TrackedCase
	err := row.Scan(&c.ID, &c.Title, &c.CaseNumber, &c.Jurisdiction, &c.Status, &c.AuthorID, &c.FirmID, &c.ClientName)
	return c, err
}

func collectCases(rows pgx.Rows) ([]models.TrackedCase, error) {
	var cases []models.TrackedCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}
