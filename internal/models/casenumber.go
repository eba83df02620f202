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

package models

import (
	"fmt"
	"regexp"
)

// caseNumberPattern matches year (2-4 digits), category (1-4 Hangul
// syllables), and serial (1-7 digits). Anything after the serial that does
// not start with a digit, e.g. "(본소)", is an annotation and is ignored.
var caseNumberPattern = regexp.MustCompile(`^(\d{2,4})([가-힣]{1,4})(\d{1,7})(?:\D.*)?$`)

// CaseNumber is a parsed court case number such as 2024가단12345.
type CaseNumber struct {
	Year     string
	Category string
	Serial   string
}

// String renders the case number without any annotation.
func (n CaseNumber) String() string {
	return n.Year + n.Category + n.Serial
}

// ParseCaseNumber splits a case number into its year, category, and serial
// parts. It returns an error when the input does not match the grammar.
func ParseCaseNumber(s string) (CaseNumber, error) {
	m := caseNumberPattern.FindStringSubmatch(s)
	if m == nil {
		return CaseNumber{}, fmt.Errorf("case number %q does not match the court grammar", s)
	}
	return CaseNumber{Year: m[1], Category: m[2], Serial: m[3]}, nil
}
