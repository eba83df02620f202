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

import "testing"

// TestParseCaseNumber verifies the year/category/serial split.
func TestParseCaseNumber(t *testing.T) {
	tests := []struct {
		input    string
		want     CaseNumber
		wantFail bool
	}{
		{input: "2024가단12345", want: CaseNumber{Year: "2024", Category: "가단", Serial: "12345"}},
		{input: "24가단123456(본소)", want: CaseNumber{Year: "24", Category: "가단", Serial: "123456"}},
		{input: "2025가합1234567", want: CaseNumber{Year: "2025", Category: "가합", Serial: "1234567"}},
		{input: "2023고정1 외 1건", want: CaseNumber{Year: "2023", Category: "고정", Serial: "1"}},
		{input: "2024재가단가소1", wantFail: true},
		{input: "2024가단12345678", wantFail: true},
		{input: "2가단1", wantFail: true},
		{input: "2024ab123", wantFail: true},
		{input: "", wantFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCaseNumber(tt.input)
			if tt.wantFail {
				if err == nil {
					t.Errorf("expected error for %q, got %+v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseCaseNumber(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

// TestCaseNumber_String verifies the annotation is dropped when rendering.
func TestCaseNumber_String(t *testing.T) {
	n, err := ParseCaseNumber("24가단123456(본소)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.String() != "24가단123456" {
		t.Errorf("String() = %q, want 24가단123456", n.String())
	}
}

// TestRecipient_OptOut verifies that only an explicit false opts out.
func TestRecipient_OptOut(t *testing.T) {
	yes, no := true, false

	if !(Recipient{}).WantsHistory() {
		t.Error("unset history flag should mean opted in")
	}
	if !(Recipient{NewHistory: &yes}).WantsHistory() {
		t.Error("true history flag should mean opted in")
	}
	if (Recipient{NewHistory: &no}).WantsHistory() {
		t.Error("false history flag should mean opted out")
	}
	if !(Recipient{NewHistory: &no}).WantsTrial() {
		t.Error("trial flag is independent of the history flag")
	}
	if (Recipient{NewTrial: &no}).WantsTrial() {
		t.Error("false trial flag should mean opted out")
	}
}
