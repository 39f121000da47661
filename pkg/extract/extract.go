// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Engram Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package extract scans free-form text for memory-worthy sentences.
//
// The extractor is a pure function: it splits input on sentence
// terminators, drops short fragments, and classifies each survivor
// against an ordered set of regex patterns. First match wins.
package extract

import (
	"regexp"
	"strings"

	"github.com/engram-ai/engram/pkg/memory"
)

// minFragmentLen filters out fragments too short to be a useful memory.
const minFragmentLen = 10

// Candidate is one extracted memory proposal.
type Candidate struct {
	Type       memory.Type `json:"type"`
	Content    string      `json:"content"`
	Importance int         `json:"importance"`
	Project    string      `json:"project,omitempty"`
}

type typePatterns struct {
	typ      memory.Type
	patterns []*regexp.Regexp
}

// Classification order matters: the first matching type claims the
// sentence.
var classifiers = []typePatterns{
	{memory.TypePreference, compileAll(
		`(?i)(?:i |user )(?:prefer|like|want|always|never|hate)`,
		`(?i)(?:my |the )(?:style|preference|approach)`,
		`(?i)(?:don't|do not) (?:use|want|like)`,
	)},
	{memory.TypeDecision, compileAll(
		`(?i)(?:decided|choosing|going with|picked|selected)`,
		`(?i)(?:the plan is|we will|let's go with)`,
		`(?i)(?:agreed|confirmed|approved)`,
	)},
	{memory.TypeFact, compileAll(
		`(?i)(?:the |this )(?:project|codebase|repo|app)`,
		`(?i)(?:uses|requires|depends on|built with)`,
		`(?i)(?:architecture|structure|pattern)`,
	)},
	{memory.TypeErrorFix, compileAll(
		`(?i)(?:fixed|solved|resolved) (?:by|with|using)`,
		`(?i)(?:the (?:bug|error|issue) was)`,
		`(?i)(?:solution|workaround|fix):?`,
	)},
	{memory.TypePattern, compileAll(
		`(?i)(?:always|never|must) (?:use|call|import)`,
		`(?i)(?:naming convention|code style)`,
		`(?i)(?:this function|this class|this module)`,
	)},
}

// typeFloors raise extracted importance to a per-type minimum.
var typeFloors = map[memory.Type]int{
	memory.TypePreference: 8,
	memory.TypeDecision:   7,
	memory.TypeErrorFix:   7,
	memory.TypeFact:       6,
	memory.TypePattern:    6,
	memory.TypeSummary:    5,
}

var highIndicators = []string{"always", "never", "must", "critical", "important", "key"}

var sentenceSplit = regexp.MustCompile(`[.!?\n]`)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// Extract returns candidate memories found in text. Fragments shorter
// than 10 characters are discarded; each surviving fragment yields at
// most one candidate.
func Extract(text, project string) []Candidate {
	var out []Candidate
	for _, fragment := range sentenceSplit.Split(text, -1) {
		fragment = strings.TrimSpace(fragment)
		if len(fragment) < minFragmentLen {
			continue
		}
		for _, c := range classifiers {
			if matchAny(c.patterns, fragment) {
				out = append(out, Candidate{
					Type:       c.typ,
					Content:    fragment,
					Importance: scoreImportance(fragment, c.typ),
					Project:    project,
				})
				break
			}
		}
	}
	return out
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// scoreImportance starts at 5, adds 2 for a high-urgency indicator,
// raises to the type floor, and caps at 10.
func scoreImportance(text string, typ memory.Type) int {
	importance := 5
	lower := strings.ToLower(text)
	for _, indicator := range highIndicators {
		if strings.Contains(lower, indicator) {
			importance += 2
			break
		}
	}
	if floor, ok := typeFloors[typ]; ok && importance < floor {
		importance = floor
	}
	if importance > 10 {
		importance = 10
	}
	return importance
}
