// Copyright 2025 Tom Barlow
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

// Package notes maintains markdown notes in a vault directory: the daily
// diary section and other generated files.
package notes

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// headingLines returns the indexes of lines holding ATX headings of level
// maxLevel or less, keyed to their level. Lines inside code blocks and front
// matter never qualify.
func headingLines(src []byte, maxLevel int) map[int]int {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))
	out := make(map[int]int)

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		if h.Level <= maxLevel && h.Lines().Len() > 0 {
			line := bytes.Count(src[:h.Lines().At(0).Start], []byte("\n"))
			out[line] = h.Level
		}
		return ast.WalkSkipChildren, nil
	})
	return out
}

// ReplaceSection replaces the level-2 section titled heading with section,
// keeping everything before and after it. The section runs until the next
// heading of level 2 or less; a blank line is kept before that heading. When
// the document has no such section, section is appended.
func ReplaceSection(existing, heading, section string) string {
	section = strings.TrimSpace(section)
	if strings.TrimSpace(existing) == "" {
		return section
	}

	lines := strings.Split(existing, "\n")
	headings := headingLines([]byte(existing), 2)
	isHeading := func(i int) bool {
		_, ok := headings[i]
		return ok && strings.HasPrefix(strings.TrimSpace(lines[i]), "#")
	}
	target := "## " + heading

	out := make([]string, 0, len(lines))
	found, inSection := false, false
	for i, line := range lines {
		switch {
		case !found && isHeading(i) && strings.TrimSpace(line) == target:
			found, inSection = true, true
			out = append(out, strings.Split(section, "\n")...)
		case inSection && isHeading(i):
			inSection = false
			out = append(out, "", line)
		case !inSection:
			out = append(out, line)
		}
	}
	if !found {
		out = append(out, "", section)
	}
	return strings.Join(out, "\n")
}

// HasSection reports whether existing contains a level-2 section titled
// heading outside code blocks.
func HasSection(existing, heading string) bool {
	lines := strings.Split(existing, "\n")
	target := "## " + heading
	for i, level := range headingLines([]byte(existing), 2) {
		if level == 2 && strings.TrimSpace(lines[i]) == target {
			return true
		}
	}
	return false
}
