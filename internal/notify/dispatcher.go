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

// Package notify turns newly persisted court records into AlimTalk
// messages for the people following a case.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/lemon/casesync/internal/alimtalk"
	"github.com/lemon/casesync/internal/models"
)

// digestLimit is the character budget for the history digest. The provider
// caps a message at 1000 characters and the template text takes about 230.
const digestLimit = 700

// Sender delivers one template message to one phone number.
type Sender interface {
	Send(ctx context.Context, phone string, msg alimtalk.Message) (*alimtalk.Result, error)
}

// HistoryMessage announces new history entries on a case.
type HistoryMessage struct {
	Title      string
	CaseNumber string
	Count      int
	Digest     string // omitted from the parameters when empty
}

func (m HistoryMessage) TemplateCode() string { return alimtalk.TemplateCaseNewHistory }

func (m HistoryMessage) Params() map[string]string {
	p := map[string]string{
		"사건명":  m.Title,
		"사건번호": m.CaseNumber,
		"등록건수": strconv.Itoa(m.Count),
	}
	if m.Digest != "" {
		p["진행내용"] = m.Digest
	}
	return p
}

// TrialMessage announces a newly scheduled hearing.
type TrialMessage struct {
	Title      string
	CaseNumber string
	Date       string
	Location   string
	Type       string
}

func (m TrialMessage) TemplateCode() string { return alimtalk.TemplateCaseNewTrial }

func (m TrialMessage) Params() map[string]string {
	return map[string]string{
		"사건명":  m.Title,
		"사건번호": m.CaseNumber,
		"날짜":   m.Date,
		"장소":   m.Location,
		"기일구분": m.Type,
	}
}

// Config holds the parameters for creating a Dispatcher.
type Config struct {
	Sender        Sender  // nil logs messages instead of sending them
	HistoryDigest bool    // include the enumerated digest in history messages
	FirmAllowlist []int64 // when non-empty, only these firms' cases are notified
}

// Report counts the outcome of one Notify call.
type Report struct {
	Sent    int
	Failed  int
	Skipped int // recipients who opted out
}

// Dispatcher fans case updates out to recipients.
type Dispatcher struct {
	sender        Sender
	historyDigest bool
	firmAllowlist []int64
}

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	return &Dispatcher{
		sender:        cfg.Sender,
		historyDigest: cfg.HistoryDigest,
		firmAllowlist: cfg.FirmAllowlist,
	}
}

// Accepts reports whether updates on c are notified at all.
func (d *Dispatcher) Accepts(c models.TrackedCase) bool {
	if len(d.firmAllowlist) == 0 {
		return true
	}
	return c.FirmID != nil && slices.Contains(d.firmAllowlist, *c.FirmID)
}

// Notify sends one history message and one trial message to every
// recipient that has not opted out of them. Delivery failures are logged
// and never stop the remaining recipients.
func (d *Dispatcher) Notify(ctx context.Context, recipients []models.Recipient, c models.TrackedCase, history []models.HistoryRow, trials []models.TrialRow) Report {
	var report Report
	if len(history) == 0 && len(trials) == 0 {
		return report
	}

	if len(history) > 0 {
		msg := HistoryMessage{
			Title:      c.Title,
			CaseNumber: c.CaseNumber,
			Count:      len(history),
		}
		if d.historyDigest {
			msg.Digest = Digest(history)
		}
		for _, r := range recipients {
			if !r.WantsHistory() {
				report.Skipped++
				continue
			}
			d.deliver(ctx, r, c, msg, &report)
		}
	}

	if len(trials) > 0 {
		last := trials[len(trials)-1]
		msg := TrialMessage{
			Title:      c.Title,
			CaseNumber: c.CaseNumber,
			Date:       strings.TrimSpace(last.Date + " " + last.Time),
			Location:   last.Location,
			Type:       last.Type,
		}
		for _, r := range recipients {
			if !r.WantsTrial() {
				report.Skipped++
				continue
			}
			d.deliver(ctx, r, c, msg, &report)
		}
	}

	slog.Info("case notifications dispatched",
		"case_id", c.ID,
		"sent", report.Sent,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)
	return report
}

func (d *Dispatcher) deliver(ctx context.Context, r models.Recipient, c models.TrackedCase, msg alimtalk.Message, report *Report) {
	if d.sender == nil {
		slog.Info("notification not sent (sending disabled)",
			"case_id", c.ID,
			"template", msg.TemplateCode(),
			"recipient", r.Name,
		)
		report.Skipped++
		return
	}

	if _, err := d.sender.Send(ctx, r.Phone, msg); err != nil {
		slog.Error("failed to notify recipient",
			"case_id", c.ID,
			"template", msg.TemplateCode(),
			"recipient", r.Name,
			"phone", r.Phone,
			"error", err,
		)
		report.Failed++
		return
	}
	report.Sent++
}

// Digest enumerates history rows as "n. date - content" lines under a
// leading blank line, cut to the message budget.
func Digest(rows []models.HistoryRow) string {
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, "\n")
	for i, h := range rows {
		lines = append(lines, fmt.Sprintf("%d. %s - %s", i+1, h.Date, h.Content))
	}
	return truncate(strings.Join(lines, "\n"), digestLimit)
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
