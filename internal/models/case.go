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

// Package models defines the canonical case, court record, and recipient types
// shared by the extractor, the diff engine, the repository, and the notifier.
package models

import "time"

// Court-sourced marker values as stored by the ERP.
const (
	// SourceCourt marks history and trial rows written by the court sync.
	SourceCourt = "법원사건정보"

	// HistorySubtypeEtc is the secondary event type used for court history rows.
	HistorySubtypeEtc = "기타"

	// StatusClosed is the terminal case status; closed cases are never synced.
	StatusClosed = "종결"
)

// Date layouts used by the court portal. Extracted rows keep these raw
// strings; stored timestamps are formatted with the same layouts for diffing.
const (
	DateLayout = "2006.01.02"
	TimeLayout = "15:04"
)

// ClientUserID is the sentinel user id for client contacts that have no
// system account.
const ClientUserID int64 = -1

// TrackedCase is a case eligible for remote lookup.
type TrackedCase struct {
	ID           int64
	Title        string
	CaseNumber   string
	Jurisdiction string
	Status       string
	AuthorID     int64
	FirmID       *int64
	ClientName   string // primary counterparty, empty when the case has no client
}

// HistoryRow is one court history entry as rendered by the portal.
type HistoryRow struct {
	Date    string `json:"date"`
	Content string `json:"content"`
	Result  string `json:"result,omitempty"`
}

// TrialRow is one hearing/trial entry as rendered by the portal.
type TrialRow struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Type     string `json:"type"`
	Location string `json:"location"`
	Result   string `json:"result,omitempty"`
}

// HistoryMarker identifies the most recently persisted court history row.
type HistoryMarker struct {
	Date    time.Time
	Content string
}

// TrialMarker identifies the most recently persisted court trial row.
type TrialMarker struct {
	Date time.Time // date and time of day
	Type string
}

// NewHistory is a history row ready to be written.
type NewHistory struct {
	CaseID  int64
	Date    time.Time
	Content string
	Result  string
}

// NewTrial is a trial row ready to be written.
type NewTrial struct {
	CaseID         int64
	Date           time.Time
	Type           string
	Agency         string
	LocationDetail string
	Result         string
}

// Recipient is a person eligible to receive case notifications.
// A nil flag means opted in; only an explicit false opts out.
type Recipient struct {
	UserID     int64
	Name       string
	Phone      string
	NewHistory *bool
	NewTrial   *bool
}

// WantsHistory reports whether the recipient has not opted out of history updates.
func (r Recipient) WantsHistory() bool {
	return r.NewHistory == nil || *r.NewHistory
}

// WantsTrial reports whether the recipient has not opted out of trial updates.
func (r Recipient) WantsTrial() bool {
	return r.NewTrial == nil || *r.NewTrial
}

// AuditEntry is one parse-attempt audit row.
type AuditEntry struct {
	CaseID int64
	Method string
	Result string
}

// AuditSuccess is the result value recorded for a successful case sync.
const AuditSuccess = "success"
