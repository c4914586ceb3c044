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

package todoist

import (
	"bytes"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// NotesDelimiter separates the generated part of a task note from the
// user's own notes. Everything after it survives re-export.
const NotesDelimiter = "<!-- flint:notes -->"

// NoteOptions controls how task notes are rendered.
type NoteOptions struct {
	TagPrefix       string
	PriorityAsTags  bool
	LabelsAsTags    bool
	IncludeComments bool
	// Location is used for comment timestamps. Defaults to UTC.
	Location *time.Location
}

// NoteInput is everything a task note is rendered from. Project and Section
// may be nil.
type NoteInput struct {
	Task     Task
	Project  *Project
	Section  *Section
	Comments []Comment
}

// QuoteYAML renders s as a YAML scalar. Double quotes are preferred; a value
// containing only double quotes is single-quoted instead.
func QuoteYAML(s string) string {
	s = strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", " "), "\n", " ")
	hasDouble := strings.Contains(s, `"`)
	hasSingle := strings.Contains(s, "'")
	if hasDouble && !hasSingle {
		return "'" + s + "'"
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// Slug lower-cases s and joins its words with dashes: "Work Project"
// becomes "work-project".
func Slug(s string) string {
	s = cases.Lower(language.Und).String(s)
	var b strings.Builder
	dash := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
			continue
		}
		dash = true
	}
	return b.String()
}

// SanitizeFilename replaces characters that are unsafe in file names with
// underscores. An empty result becomes "untitled".
func SanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" {
		return "untitled"
	}
	return name
}

// NoteName returns the file name for a task note.
func NoteName(taskID string) string {
	return SanitizeFilename(taskID) + ".md"
}

// Tags returns the hashtags for a task.
func Tags(task Task, project *Project, opts NoteOptions) []string {
	prefix := "#" + opts.TagPrefix
	tags := []string{prefix}
	if project != nil {
		if slug := Slug(project.Name); slug != "" {
			tags = append(tags, prefix+"/"+slug)
		}
	}
	if opts.PriorityAsTags {
		tags = append(tags, prefix+"/priority/"+task.PriorityName())
	}
	if opts.LabelsAsTags {
		for _, label := range task.Labels {
			if slug := Slug(label); slug != "" {
				tags = append(tags, prefix+"/label/"+slug)
			}
		}
	}
	status := "active"
	if task.IsCompleted {
		status = "completed"
	}
	return append(tags, prefix+"/status/"+status)
}

// FrontMatter renders the YAML front matter block, delimiters included.
func FrontMatter(in NoteInput) string {
	t := in.Task
	var b strings.Builder
	b.WriteString("---\n")
	field := func(key, value string) {
		b.WriteString(key + ": " + value + "\n")
	}
	field("title", QuoteYAML(t.Content))
	field("todoist_id", QuoteYAML(t.ID))
	if in.Project != nil {
		field("project", QuoteYAML(in.Project.Name))
	}
	if in.Section != nil {
		field("section", QuoteYAML(in.Section.Name))
	}
	if t.ParentID != "" {
		field("parent_id", QuoteYAML(t.ParentID))
	}
	if due := t.DueDate(); due != "" {
		field("due_date", QuoteYAML(due))
	}
	field("priority", priorityValue(t.Priority))
	if len(t.Labels) > 0 {
		quoted := make([]string, len(t.Labels))
		for i, l := range t.Labels {
			quoted[i] = QuoteYAML(l)
		}
		field("labels", "["+strings.Join(quoted, ", ")+"]")
	}
	if t.IsCompleted {
		field("completed", "true")
	} else {
		field("completed", "false")
	}
	if !t.CompletedAt.IsZero() {
		field("completed_at", QuoteYAML(t.CompletedAt.UTC().Format(time.RFC3339)))
	}
	if t.CreatedAt != "" {
		field("created_at", QuoteYAML(t.CreatedAt))
	}
	if t.URL != "" {
		field("url", QuoteYAML(t.URL))
	}
	b.WriteString("---\n")
	return b.String()
}

func priorityValue(p int) string {
	if p < PriorityNone || p > PriorityHigh {
		p = PriorityNone
	}
	return strconv.Itoa(p)
}

// RenderNote renders the generated part of a task note, ending with the
// notes delimiter.
func RenderNote(in NoteInput, opts NoteOptions) string {
	t := in.Task
	var b strings.Builder
	b.WriteString(FrontMatter(in))
	b.WriteString("\n# ")
	if t.IsCompleted {
		b.WriteString("✅ ")
	}
	b.WriteString(strings.TrimSpace(t.Content))
	b.WriteString("\n\n")
	b.WriteString(strings.Join(Tags(t, in.Project, opts), " "))
	b.WriteString("\n\n**Priority:** ")
	b.WriteString(t.PriorityText())
	b.WriteString("\n")
	if t.Due != nil {
		due := t.Due.String
		if due == "" {
			due = t.Due.Date
		}
		b.WriteString("**Due:** " + due + "\n")
	}

	if desc := strings.TrimSpace(t.Description); desc != "" {
		b.WriteString("\n## Description\n\n")
		b.WriteString(desc)
		b.WriteString("\n")
	}

	if opts.IncludeComments && len(in.Comments) > 0 {
		loc := opts.Location
		if loc == nil {
			loc = time.UTC
		}
		b.WriteString("\n## Comments\n\n")
		for _, c := range in.Comments {
			b.WriteString(FormatComment(c, loc))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(NotesDelimiter)
	b.WriteString("\n")
	return b.String()
}

// FormatComment renders a comment as "* 14 Mar 10:30 - text".
// Continuation lines are indented under the bullet.
func FormatComment(c Comment, loc *time.Location) string {
	stamp := c.PostedAt
	if ts, err := time.Parse(time.RFC3339Nano, c.PostedAt); err == nil {
		stamp = ts.In(loc).Format("02 Jan 15:04")
	}
	lines := strings.Split(strings.TrimSpace(c.Content), "\n")
	var b strings.Builder
	b.WriteString("* " + stamp + " - " + strings.TrimSpace(lines[0]))
	for _, line := range lines[1:] {
		b.WriteString("\n  " + strings.TrimRight(line, " \t\r"))
	}
	if c.Attachment != nil && c.Attachment.FileURL != "" {
		name := c.Attachment.FileName
		if name == "" {
			name = "attachment"
		}
		b.WriteString(" [" + name + "](" + c.Attachment.FileURL + ")")
	}
	return b.String()
}

// MergeNote combines a freshly rendered note with the existing file,
// keeping whatever follows the existing notes delimiter.
func MergeNote(generated string, existing []byte) []byte {
	head, _, _ := strings.Cut(generated, NotesDelimiter)
	idx := bytes.Index(existing, []byte(NotesDelimiter))
	if idx < 0 {
		return []byte(generated)
	}
	tail := existing[idx+len(NotesDelimiter):]
	out := make([]byte, 0, len(head)+len(NotesDelimiter)+len(tail))
	out = append(out, head...)
	out = append(out, NotesDelimiter...)
	return append(out, tail...)
}

// NoteMeta is the front matter of an exported task note.
type NoteMeta struct {
	Title     string `yaml:"title"`
	TodoistID string `yaml:"todoist_id"`
	Project   string `yaml:"project"`
	Section   string `yaml:"section"`
	DueDate   string `yaml:"due_date"`
	Priority  int    `yaml:"priority"`
	Completed bool   `yaml:"completed"`
	URL       string `yaml:"url"`
}

// ParseNote reads the front matter of a task note. It reports false when
// the content has no front matter or lacks a title or todoist_id. A note
// without a project is filed under "Other".
func ParseNote(content []byte) (NoteMeta, bool) {
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	if !strings.HasPrefix(text, "---\n") {
		return NoteMeta{}, false
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		if !strings.HasPrefix(rest, "---") {
			return NoteMeta{}, false
		}
		end = 0
	}

	var meta NoteMeta
	if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		return NoteMeta{}, false
	}
	if meta.Title == "" || meta.TodoistID == "" {
		return NoteMeta{}, false
	}
	if meta.Project == "" {
		meta.Project = "Other"
	}
	return meta, true
}
