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

package scheduler

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	bulletPrefix = regexp.MustCompile(`^\s*(?:[*\-•+]|\d+[.)])\s+`)
	clockPrefix  = regexp.MustCompile(`^(\d{1,2})[:.](\d{2})\b`)
	doneStamp    = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})(?:[ T](\d{1,2}):(\d{2}))?\s*$`)
)

// listItems splits a model reply into list items. Bullets and numbering are
// dropped, and so are blank lines.
func listItems(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(bulletPrefix.ReplaceAllString(line, ""))
		if line != "" {
			items = append(items, line)
		}
	}
	return items
}

type keyedItem struct {
	text  string
	key   string
	keyed bool
}

func sortKeyed(items []keyedItem) []string {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].keyed != items[j].keyed {
			return items[i].keyed
		}
		return items[i].keyed && items[i].key < items[j].key
	})
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.text
	}
	return out
}

// sortByClock orders items starting with a time of day chronologically,
// normalizing "9:05" to "09:05". Untimed items follow in their original
// order.
func sortByClock(items []string) []string {
	keyed := make([]keyedItem, 0, len(items))
	for _, item := range items {
		m := clockPrefix.FindStringSubmatch(item)
		if m == nil {
			keyed = append(keyed, keyedItem{text: item})
			continue
		}
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour > 23 || minute > 59 {
			keyed = append(keyed, keyedItem{text: item})
			continue
		}
		clock := fmt.Sprintf("%02d:%02d", hour, minute)
		keyed = append(keyed, keyedItem{
			text:  clock + item[len(m[0]):],
			key:   clock,
			keyed: true,
		})
	}
	return sortKeyed(keyed)
}

// sortByCompletion orders task items by a trailing "YYYY-MM-DD[ HH:MM]"
// completion stamp. Items without one follow in their original order.
func sortByCompletion(items []string) []string {
	keyed := make([]keyedItem, 0, len(items))
	for _, item := range items {
		m := doneStamp.FindStringSubmatch(item)
		if m == nil {
			keyed = append(keyed, keyedItem{text: item})
			continue
		}
		key := m[1]
		if m[2] != "" {
			hour, _ := strconv.Atoi(m[2])
			key += fmt.Sprintf(" %02d:%s", hour, m[3])
		} else {
			key += " 99:99"
		}
		keyed = append(keyed, keyedItem{text: item, key: key, keyed: true})
	}
	return sortKeyed(keyed)
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return "* " + strings.Join(items, "\n* ")
}

func numberedList(items []string) string {
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, item)
	}
	return b.String()
}
