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

package notes

import (
	"strings"
	"time"
)

// DiaryHeading is the title of the generated section in a daily note.
const DiaryHeading = "Diary"

// Fallbacks used when a source produced nothing.
const (
	NoEventsText = "No calendar events recorded for today"
	NoTasksText  = "No tasks completed today"
)

// DiarySection renders the diary section from the events and tasks lists.
func DiarySection(events, tasks string) string {
	events = strings.TrimSpace(events)
	if events == "" {
		events = NoEventsText
	}
	tasks = strings.TrimSpace(tasks)
	if tasks == "" {
		tasks = NoTasksText
	}

	var b strings.Builder
	b.WriteString("## " + DiaryHeading + "\n\n")
	b.WriteString("### Events\n")
	b.WriteString(events)
	b.WriteString("\n\n### Tasks\n")
	b.WriteString(tasks)
	b.WriteString("\n")
	return b.String()
}

// DailyNoteName is the file name of the daily note for day.
func DailyNoteName(day time.Time) string {
	return day.Format("2006-01-02") + ".md"
}
