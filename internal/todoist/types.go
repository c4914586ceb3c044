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
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Project is a Todoist project.
type Project struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	IsShared bool   `json:"is_shared"`
	URL      string `json:"url"`
}

// Section groups tasks inside a project.
type Section struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Order     int    `json:"order"`
}

// Due is a task's due date. Datetime is set only for timed tasks.
type Due struct {
	Date        string `json:"date"`
	String      string `json:"string"`
	Datetime    string `json:"datetime,omitempty"`
	IsRecurring bool   `json:"is_recurring"`
	Timezone    string `json:"timezone,omitempty"`
}

// Task is a Todoist task. Priority runs from 1 (none) to 4 (high).
type Task struct {
	ID          string   `json:"id"`
	Content     string   `json:"content"`
	Description string   `json:"description"`
	ProjectID   string   `json:"project_id"`
	SectionID   string   `json:"section_id,omitempty"`
	ParentID    string   `json:"parent_id,omitempty"`
	Order       int      `json:"order"`
	Priority    int      `json:"priority"`
	Labels      []string `json:"labels"`
	Due         *Due     `json:"due,omitempty"`
	URL         string   `json:"url"`
	IsCompleted bool     `json:"is_completed"`
	CreatedAt   string   `json:"created_at"`
	CreatorID   string   `json:"creator_id,omitempty"`

	// CompletedAt is only known for tasks fetched from the completed list.
	CompletedAt time.Time `json:"-"`
}

// Priority levels as the REST API encodes them.
const (
	PriorityNone   = 1
	PriorityLow    = 2
	PriorityMedium = 3
	PriorityHigh   = 4
)

var priorityNames = map[int]string{
	PriorityHigh:   "high",
	PriorityMedium: "medium",
	PriorityLow:    "low",
	PriorityNone:   "none",
}

// PriorityName returns the lower-case priority name ("high" … "none").
// Out-of-range values are "none".
func (t Task) PriorityName() string {
	if name, ok := priorityNames[t.Priority]; ok {
		return name
	}
	return "none"
}

// PriorityText returns the display name, e.g. "Medium".
func (t Task) PriorityText() string {
	return cases.Title(language.English).String(t.PriorityName())
}

// DueDate returns the due date (YYYY-MM-DD) or "".
func (t Task) DueDate() string {
	if t.Due == nil {
		return ""
	}
	return t.Due.Date
}

// Attachment is a file attached to a comment.
type Attachment struct {
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
	FileType string `json:"file_type,omitempty"`
}

// Comment is a note on a task.
type Comment struct {
	ID         string      `json:"id"`
	TaskID     string      `json:"task_id"`
	Content    string      `json:"content"`
	PostedAt   string      `json:"posted_at"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// completedItem is one entry of the Sync API completed list.
type completedItem struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	Content     string    `json:"content"`
	ProjectID   string    `json:"project_id"`
	SectionID   string    `json:"section_id"`
	CompletedAt time.Time `json:"completed_at"`
}

func (c completedItem) task() Task {
	return Task{
		ID:          c.TaskID,
		Content:     c.Content,
		ProjectID:   c.ProjectID,
		SectionID:   c.SectionID,
		Priority:    PriorityNone,
		IsCompleted: true,
		CompletedAt: c.CompletedAt,
	}
}
