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

// Package extract locates court record tables inside the case-status page
// returned by the scraping service and flattens them into rows.
//
// The portal renders many unrelated tables and does not give the record
// tables a stable id or class, so a table is identified by the labels in its
// header. If the portal changes its header wording this package is the only
// place that needs to change.
package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/lemon/casesync/internal/models"
)

// ErrTableNotFound is returned when a required record table is missing.
var ErrTableNotFound = errors.New("record table not found")

// Kind selects which record table to extract.
type Kind int

const (
	// History is the case progress table (일자, 내용, 결과). Required.
	History Kind = iota
	// Trial is the hearing schedule table. Optional: many cases have none yet.
	Trial
)

func (k Kind) String() string {
	switch k {
	case History:
		return "history"
	case Trial:
		return "trial"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// tableSpec describes how a record table is recognised and read.
type tableSpec struct {
	keywords   []string
	minMatches int  // header labels that must be present
	minCells   int  // body cells a row needs to count as a record
	required   bool // missing table is an error rather than an empty result
}

var specs = map[Kind]tableSpec{
	History: {
		keywords:   []string{"일자", "내용", "결과"},
		minMatches: 3,
		minCells:   3,
		required:   true,
	},
	Trial: {
		keywords:   []string{"일자", "시각", "기일구분", "기일장소", "결과"},
		minMatches: 5,
		minCells:   5,
	},
}

// agencyPattern matches the "기본 내용 (<court name>)" section heading.
var agencyPattern = regexp.MustCompile(`기본 내용 \((.*?)\)`)

// Records returns the body rows of the first table in markup whose header
// qualifies for kind, in document order. Each row holds the trimmed text of
// its cells by position.
func Records(markup string, kind Kind) ([][]string, error) {
	spec, ok := specs[kind]
	if !ok {
		return nil, fmt.Errorf("unknown record kind %s", kind)
	}

	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse %s markup: %w", kind, err)
	}

	table := findTable(doc, spec)
	if table == nil {
		if spec.required {
			return nil, fmt.Errorf("%s table: %w", kind, ErrTableNotFound)
		}
		slog.Debug("optional record table not present", "kind", kind.String())
		return [][]string{}, nil
	}

	rows := bodyRows(table, spec.minCells)
	slog.Debug("record table extracted", "kind", kind.String(), "rows", len(rows))
	return rows, nil
}

// HistoryRows extracts the case progress table.
func HistoryRows(markup string) ([]models.HistoryRow, error) {
	rows, err := Records(markup, History)
	if err != nil {
		return nil, err
	}
	out := make([]models.HistoryRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.HistoryRow{Date: r[0], Content: r[1], Result: r[2]})
	}
	return out, nil
}

// TrialRows extracts the hearing schedule table. A page without one yields
// an empty slice.
func TrialRows(markup string) ([]models.TrialRow, error) {
	rows, err := Records(markup, Trial)
	if err != nil {
		return nil, err
	}
	out := make([]models.TrialRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.TrialRow{
			Date:     r[0],
			Time:     r[1],
			Type:     r[2],
			Location: r[3],
			Result:   r[4],
		})
	}
	return out, nil
}

// AgencyName returns the court name from the page's basic-information
// heading, or "" when the heading is absent.
func AgencyName(markup string) string {
	m := agencyPattern.FindStringSubmatch(markup)
	if m == nil {
		return ""
	}
	return m[1]
}

// Extractor exposes the package functions as a value so callers can depend
// on an interface.
type Extractor struct{}

func (Extractor) HistoryRows(markup string) ([]models.HistoryRow, error) {
	return HistoryRows(markup)
}

func (Extractor) TrialRows(markup string) ([]models.TrialRow, error) {
	return TrialRows(markup)
}

func (Extractor) AgencyName(markup string) string {
	return AgencyName(markup)
}

// findTable returns the first table, in document order, whose thead labels
// contain at least spec.minMatches of spec.keywords.
func findTable(doc *html.Node, spec tableSpec) *html.Node {
	var found *html.Node
	walk(doc, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if !isElement(n, atom.Table) {
			return true
		}
		thead := first(n, atom.Thead)
		if thead != nil && countMatches(headerLabels(thead), spec.keywords) >= spec.minMatches {
			found = n
			return false
		}
		return true
	})
	return found
}

// headerLabels collects the trimmed text of every label span and header
// cell inside thead.
func headerLabels(thead *html.Node) map[string]bool {
	labels := make(map[string]bool)
	walk(thead, func(n *html.Node) bool {
		if isElement(n, atom.Span) || isElement(n, atom.Th) || isElement(n, atom.Td) {
			labels[text(n)] = true
		}
		return true
	})
	return labels
}

func countMatches(labels map[string]bool, keywords []string) int {
	count := 0
	for _, k := range keywords {
		if labels[k] {
			count++
		}
	}
	return count
}

// bodyRows reads tbody > tr > td text, skipping rows with fewer than
// minCells cells.
func bodyRows(table *html.Node, minCells int) [][]string {
	tbody := first(table, atom.Tbody)
	if tbody == nil {
		return [][]string{}
	}

	rows := [][]string{}
	for _, tr := range all(tbody, atom.Tr) {
		tds := all(tr, atom.Td)
		if len(tds) < minCells {
			continue
		}
		cells := make([]string, len(tds))
		for i, td := range tds {
			cells[i] = text(td)
		}
		rows = append(rows, cells)
	}
	return rows
}

// walk visits n's descendants in document order. Returning false from fn
// skips the children of the visited node.
func walk(n *html.Node, fn func(*html.Node) bool) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if fn(c) {
			walk(c, fn)
		}
	}
}

func isElement(n *html.Node, a atom.Atom) bool {
	return n.Type == html.ElementNode && n.DataAtom == a
}

// first returns the first descendant element of type a.
func first(n *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) bool {
		if found != nil {
			return false
		}
		if isElement(c, a) {
			found = c
			return false
		}
		return true
	})
	return found
}

// all returns every descendant element of type a in document order.
func all(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	walk(n, func(c *html.Node) bool {
		if isElement(c, a) {
			out = append(out, c)
		}
		return true
	})
	return out
}

// text concatenates the trimmed text nodes under n.
func text(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(strings.TrimSpace(c.Data))
		}
		return true
	})
	return b.String()
}
