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

// Package diff decides which freshly extracted court records are new
// relative to the last record already stored for a case.
//
// The portal lists records in chronological order and only ever appends, so
// everything after the last stored record is new. When the last stored
// record cannot be found in the page the whole page is treated as new;
// the repository's unique indexes absorb the resulting duplicates.
package diff

import (
	"github.com/lemon/casesync/internal/models"
)

// NewHistory returns the history rows that follow last. A nil marker, or
// one with empty content, means nothing is stored yet.
func NewHistory(rows []models.HistoryRow, last *models.HistoryMarker) []models.HistoryRow {
	if last == nil || last.Content == "" {
		return clone(rows)
	}
	date := last.Date.Format(models.DateLayout)
	return suffixAfter(rows, func(r models.HistoryRow) bool {
		return r.Date == date && r.Content == last.Content
	})
}

// NewTrials returns the trial rows that follow last. Trials are keyed by
// date, time of day, and type.
func NewTrials(rows []models.TrialRow, last *models.TrialMarker) []models.TrialRow {
	if last == nil || last.Type == "" {
		return clone(rows)
	}
	date := last.Date.Format(models.DateLayout)
	clock := last.Date.Format(models.TimeLayout)
	return suffixAfter(rows, func(r models.TrialRow) bool {
		return r.Date == date && r.Time == clock && r.Type == last.Type
	})
}

// suffixAfter returns the elements strictly after the first one matching
// isLast, or all of them when none matches.
func suffixAfter[T any](rows []T, isLast func(T) bool) []T {
	for i, r := range rows {
		if isLast(r) {
			return clone(rows[i+1:])
		}
	}
	return clone(rows)
}

func clone[T any](rows []T) []T {
	out := make([]T, len(rows))
	copy(out, rows)
	return out
}
