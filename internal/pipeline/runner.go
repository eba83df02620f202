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

// Package pipeline walks every tracked case, fetches its court page,
// stores the records that are new since the last sync, and tells the
// people following the case.
//
// Cases are processed one at a time. A failure on one case is audited and
// logged and never stops the run; only failing to list cases does.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lemon/casesync/internal/diff"
	"github.com/lemon/casesync/internal/events"
	"github.com/lemon/casesync/internal/extract"
	"github.com/lemon/casesync/internal/models"
	"github.com/lemon/casesync/internal/notify"
	"github.com/lemon/casesync/internal/runlock"
	"github.com/lemon/casesync/internal/scourt"
	"github.com/lemon/casesync/internal/store"
)

const (
	// DefaultPageSize is how many cases are listed per query.
	DefaultPageSize = 10

	// MethodScheduler and MethodManual tag audit rows with what started the run.
	MethodScheduler = "scheduler"
	MethodManual    = "manual"
)

var (
	// ErrAlreadyRunning is returned when Run is called during another run.
	ErrAlreadyRunning = errors.New("case sync already running")

	// ErrLocked is returned when another process holds the run lock.
	ErrLocked = errors.New("case sync running in another process")

	// ErrCaseNotFound is returned by RunCase for an unknown case id.
	ErrCaseNotFound = errors.New("case not found")
)

// Repository is the case store used for one run. Close releases it.
type Repository interface {
	ListEligibleCases(ctx context.Context, offset, limit int) ([]models.TrackedCase, error)
	GetCase(ctx context.Context, id int64) (*models.TrackedCase, error)
	UpdateCase(ctx context.Context, caseID int64, fn func(context.Context, store.CaseTx) error) error
	AppendAudit(ctx context.Context, e models.AuditEntry) error
	RelatedUsers(ctx context.Context, authorID int64, firmID *int64) ([]models.Recipient, error)
	RelatedClients(ctx context.Context, caseID int64) ([]models.Recipient, error)
	Close()
}

// Fetcher retrieves the rendered court page for a case.
type Fetcher interface {
	FetchCase(ctx context.Context, q scourt.Query) (string, error)
}

// Extractor reads court records out of a case page.
type Extractor interface {
	HistoryRows(markup string) ([]models.HistoryRow, error)
	TrialRows(markup string) ([]models.TrialRow, error)
	AgencyName(markup string) string
}

// Notifier sends case updates to recipients.
type Notifier interface {
	Accepts(c models.TrackedCase) bool
	Notify(ctx context.Context, recipients []models.Recipient, c models.TrackedCase, history []models.HistoryRow, trials []models.TrialRow) notify.Report
}

// EventPublisher announces updated cases to other services.
type EventPublisher interface {
	PublishCaseUpdated(ctx context.Context, ev events.CaseUpdated) error
}

// Locker guards against concurrent runs across processes.
type Locker interface {
	TryLock(ctx context.Context) (func(), error)
}

// Config holds the dependencies and settings for a Runner.
type Config struct {
	Open           func(ctx context.Context) (Repository, error)
	Fetcher        Fetcher
	Extractor      Extractor      // defaults to extract.Extractor
	Notifier       Notifier       // optional
	Events         EventPublisher // optional
	Lock           Locker         // optional
	PageSize       int            // defaults to DefaultPageSize
	CaseDelay      time.Duration  // pause between cases
	IncludeClients bool           // notify the case's client contacts too
	Method         string         // audit tag, defaults to MethodScheduler
}

// Outcome is the result of processing one case.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeUpdated   Outcome = "updated"
)

// CaseResult reports what happened to one case.
type CaseResult struct {
	CaseID     int64               `json:"case_id"`
	Outcome    Outcome             `json:"outcome"`
	Reason     string              `json:"reason,omitempty"` // why the case was skipped or failed
	NewHistory []models.HistoryRow `json:"new_history,omitempty"`
	NewTrials  []models.TrialRow   `json:"new_trials,omitempty"`
}

// RunSummary summarises a completed run.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	Seen       int           `json:"seen"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Updated    int           `json:"updated"`
	NewHistory int           `json:"new_history"`
	NewTrials  int           `json:"new_trials"`
	Cancelled  bool          `json:"cancelled"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

func (s *RunSummary) add(r CaseResult) {
	s.Seen++
	switch r.Outcome {
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
		s.NewHistory += len(r.NewHistory)
	case OutcomeUpdated:
		s.Updated++
		s.NewHistory += len(r.NewHistory)
		s.NewTrials += len(r.NewTrials)
	}
}

// Runner executes case sync runs.
type Runner struct {
	open           func(ctx context.Context) (Repository, error)
	fetcher        Fetcher
	extractor      Extractor
	notifier       Notifier
	events         EventPublisher
	lock           Locker
	pageSize       int
	caseDelay      time.Duration
	includeClients bool
	method         string

	mu      sync.Mutex
	running bool
}

// NewRunner creates a case sync runner.
func NewRunner(cfg Config) *Runner {
	if cfg.Extractor == nil {
		cfg.Extractor = extract.Extractor{}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Method == "" {
		cfg.Method = MethodScheduler
	}
	return &Runner{
		open:           cfg.Open,
		fetcher:        cfg.Fetcher,
		extractor:      cfg.Extractor,
		notifier:       cfg.Notifier,
		events:         cfg.Events,
		lock:           cfg.Lock,
		pageSize:       cfg.PageSize,
		caseDelay:      cfg.CaseDelay,
		includeClients: cfg.IncludeClients,
		method:         cfg.Method,
	}
}

// Run syncs every eligible case. Cancelling ctx stops the run before the
// next case; the case in progress always finishes.
func (r *Runner) Run(ctx context.Context) (*RunSummary, error) {
	if !r.begin() {
		return nil, ErrAlreadyRunning
	}
	defer r.end()

	start := time.Now()
	summary := &RunSummary{RunID: uuid.NewString()}
	log := slog.With("run_id", summary.RunID)

	if r.lock != nil {
		release, err := r.lock.TryLock(ctx)
		switch {
		case errors.Is(err, runlock.ErrHeld):
			return nil, ErrLocked
		case err != nil:
			log.Warn("run lock unavailable, continuing without it", "error", err)
		default:
			defer release()
		}
	}

	repo, err := r.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	defer repo.Close()

	log.Info("case sync started", "page_size", r.pageSize, "method", r.method)

	processed := 0
pages:
	for offset := 0; ; offset += r.pageSize {
		cases, err := repo.ListEligibleCases(ctx, offset, r.pageSize)
		if err != nil {
			summary.Elapsed = time.Since(start)
			return summary, fmt.Errorf("list cases at offset %d: %w", offset, err)
		}
		if len(cases) == 0 {
			break
		}

		for _, c := range cases {
			if processed > 0 && !r.pause(ctx) {
				summary.Cancelled = true
				break pages
			}
			if ctx.Err() != nil {
				summary.Cancelled = true
				break pages
			}

			res := r.processCase(ctx, repo, c, summary.RunID)
			summary.add(res)
			processed++
		}
	}

	summary.Elapsed = time.Since(start)
	log.Info("case sync finished",
		"seen", summary.Seen,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"updated", summary.Updated,
		"new_history", summary.NewHistory,
		"new_trials", summary.NewTrials,
		"cancelled", summary.Cancelled,
		"elapsed", summary.Elapsed,
	)
	return summary, nil
}

// RunCase syncs a single case by id, whether or not it would be listed.
func (r *Runner) RunCase(ctx context.Context, caseID int64) (*CaseResult, error) {
	repo, err := r.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	defer repo.Close()

	c, err := repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %d", ErrCaseNotFound, caseID)
	}

	res := r.processCase(ctx, repo, *c, uuid.NewString())
	return &res, nil
}

func (r *Runner) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *Runner) end() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// pause waits out the configured delay between cases. It reports false if
// ctx was cancelled meanwhile.
func (r *Runner) pause(ctx context.Context) bool {
	if r.caseDelay <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(r.caseDelay):
		return true
	}
}

// processCase runs one case end to end. The work after eligibility runs on
// a context detached from ctx so a stop request never interrupts it halfway.
func (r *Runner) processCase(ctx context.Context, repo Repository, c models.TrackedCase, runID string) CaseResult {
	res := CaseResult{CaseID: c.ID}
	log := slog.With("run_id", runID, "case_id", c.ID, "case_number", c.CaseNumber)

	number, reason := eligibility(c)
	if reason != "" {
		log.Info("case skipped", "reason", reason)
		res.Outcome = OutcomeSkipped
		res.Reason = reason
		return res
	}

	ctx = context.WithoutCancel(ctx)

	page, err := r.fetcher.FetchCase(ctx, scourt.NewQuery(c, number))
	if err != nil {
		log.Error("case lookup failed", "error", err)
		r.audit(ctx, repo, c.ID, err.Error())
		res.Outcome = OutcomeFailed
		res.Reason = err.Error()
		return res
	}

	history, trials, err := r.apply(ctx, repo, c, page)
	if err != nil {
		log.Error("case update failed", "error", err, "stored_history", len(history))
		r.audit(ctx, repo, c.ID, err.Error())
		res.Outcome = OutcomeFailed
		res.Reason = err.Error()
		res.NewHistory = history
		if len(history) > 0 {
			r.notify(ctx, repo, c, history, nil)
			r.publish(ctx, runID, c, history, nil)
		}
		return res
	}
	r.audit(ctx, repo, c.ID, models.AuditSuccess)

	if len(history) == 0 && len(trials) == 0 {
		log.Debug("no new court records")
		res.Outcome = OutcomeUnchanged
		return res
	}

	res.Outcome = OutcomeUpdated
	res.NewHistory = history
	res.NewTrials = trials
	log.Info("court records added", "history", len(history), "trials", len(trials))

	r.notify(ctx, repo, c, history, trials)
	r.publish(ctx, runID, c, history, trials)
	return res
}

// eligibility parses the case number or explains why the case cannot be
// looked up.
func eligibility(c models.TrackedCase) (models.CaseNumber, string) {
	switch {
	case c.Status == models.StatusClosed:
		return models.CaseNumber{}, "case is closed"
	case c.ClientName == "":
		return models.CaseNumber{}, "case has no client name"
	case c.Jurisdiction == "":
		return models.CaseNumber{}, "case has no court"
	}
	n, err := models.ParseCaseNumber(c.CaseNumber)
	if err != nil {
		return models.CaseNumber{}, err.Error()
	}
	return n, ""
}

// apply extracts the page and stores the records newer than the last
// stored ones. History and trials commit in separate transactions, so a
// trial failure keeps the history already committed. The stored history
// is returned even when the trial step fails.
func (r *Runner) apply(ctx context.Context, repo Repository, c models.TrackedCase, page string) ([]models.HistoryRow, []models.TrialRow, error) {
	historyRows, err := r.extractor.HistoryRows(page)
	if err != nil {
		return nil, nil, fmt.Errorf("extract history: %w", err)
	}
	trialRows, err := r.extractor.TrialRows(page)
	if err != nil {
		return nil, nil, fmt.Errorf("extract trials: %w", err)
	}

	agency := c.Jurisdiction
	if agency == "" {
		agency = r.extractor.AgencyName(page)
	}

	newHistory, err := storeHistory(ctx, repo, c.ID, historyRows)
	if err != nil {
		return nil, nil, fmt.Errorf("store history: %w", err)
	}
	newTrials, err := storeTrials(ctx, repo, c.ID, agency, trialRows)
	if err != nil {
		return newHistory, nil, fmt.Errorf("store trials: %w", err)
	}
	return newHistory, newTrials, nil
}

func storeHistory(ctx context.Context, repo Repository, caseID int64, rows []models.HistoryRow) ([]models.HistoryRow, error) {
	var stored []models.HistoryRow
	err := repo.UpdateCase(ctx, caseID, func(ctx context.Context, tx store.CaseTx) error {
		last, err := tx.LastHistory(ctx)
		if err != nil {
			return err
		}
		fresh := diff.NewHistory(rows, last)
		recs, err := historyRecords(caseID, fresh)
		if err != nil {
			return err
		}
		positions, err := tx.InsertHistory(ctx, recs)
		if err != nil {
			return err
		}
		stored = pick(fresh, positions)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func storeTrials(ctx context.Context, repo Repository, caseID int64, agency string, rows []models.TrialRow) ([]models.TrialRow, error) {
	var stored []models.TrialRow
	err := repo.UpdateCase(ctx, caseID, func(ctx context.Context, tx store.CaseTx) error {
		last, err := tx.LastTrial(ctx)
		if err != nil {
			return err
		}
		recs, kept := trialRecords(caseID, agency, diff.NewTrials(rows, last))
		positions, err := tx.InsertTrials(ctx, recs)
		if err != nil {
			return err
		}
		stored = pick(kept, positions)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// historyRecords dates each row at its day plus i seconds, where i is its
// position, so same-day entries keep their page order.
func historyRecords(caseID int64, rows []models.HistoryRow) ([]models.NewHistory, error) {
	out := make([]models.NewHistory, 0, len(rows))
	for i, h := range rows {
		day, err := time.Parse(models.DateLayout, h.Date)
		if err != nil {
			return nil, fmt.Errorf("history date %q: %w", h.Date, err)
		}
		out = append(out, models.NewHistory{
			CaseID:  caseID,
			Date:    day.Add(time.Duration(i) * time.Second),
			Content: h.Content,
			Result:  h.Result,
		})
	}
	return out, nil
}

// trialRecords converts rows to records. A row whose date and time do not
// parse is logged and left out; kept holds the rows that were converted,
// in the same order as the records.
func trialRecords(caseID int64, agency string, rows []models.TrialRow) (recs []models.NewTrial, kept []models.TrialRow) {
	for _, t := range rows {
		at, err := time.Parse(models.DateLayout+" "+models.TimeLayout, t.Date+" "+t.Time)
		if err != nil {
			slog.Warn("trial row skipped",
				"case_id", caseID,
				"date", t.Date,
				"time", t.Time,
				"type", t.Type,
				"error", err,
			)
			continue
		}
		recs = append(recs, models.NewTrial{
			CaseID:         caseID,
			Date:           at,
			Type:           t.Type,
			Agency:         agency,
			LocationDetail: t.Location,
			Result:         t.Result,
		})
		kept = append(kept, t)
	}
	return recs, kept
}

// pick returns rows at the given positions.
func pick[T any](rows []T, positions []int) []T {
	if len(positions) == 0 {
		return nil
	}
	out := make([]T, 0, len(positions))
	for _, i := range positions {
		out = append(out, rows[i])
	}
	return out
}

func (r *Runner) audit(ctx context.Context, repo Repository, caseID int64, result string) {
	err := repo.AppendAudit(ctx, models.AuditEntry{CaseID: caseID, Method: r.method, Result: result})
	if err != nil {
		slog.Error("failed to record parse attempt", "case_id", caseID, "error", err)
	}
}

func (r *Runner) notify(ctx context.Context, repo Repository, c models.TrackedCase, history []models.HistoryRow, trials []models.TrialRow) {
	if r.notifier == nil {
		return
	}
	if !r.notifier.Accepts(c) {
		slog.Debug("notifications not enabled for firm", "case_id", c.ID)
		return
	}

	recipients, err := repo.RelatedUsers(ctx, c.AuthorID, c.FirmID)
	if err != nil {
		slog.Error("failed to load recipients", "case_id", c.ID, "error", err)
		return
	}
	if r.includeClients {
		clients, err := repo.RelatedClients(ctx, c.ID)
		if err != nil {
			slog.Warn("failed to load client recipients", "case_id", c.ID, "error", err)
		}
		recipients = append(recipients, clients...)
	}

	r.notifier.Notify(ctx, recipients, c, history, trials)
}

func (r *Runner) publish(ctx context.Context, runID string, c models.TrackedCase, history []models.HistoryRow, trials []models.TrialRow) {
	if r.events == nil {
		return
	}
	err := r.events.PublishCaseUpdated(ctx, events.CaseUpdated{
		RunID:      runID,
		CaseID:     c.ID,
		CaseNumber: c.CaseNumber,
		Title:      c.Title,
		History:    history,
		Trials:     trials,
	})
	if err != nil {
		slog.Warn("failed to publish case update", "case_id", c.ID, "error", err)
	}
}
