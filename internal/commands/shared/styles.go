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


package shared

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/tombee/flint/internal/mcp"
	"github.com/tombee/flint/internal/scheduler"
)

// CLI styles. lipgloss drops the colors when output is not a terminal.
var (
	StatusOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	StatusWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	Muted       = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	Header      = lipgloss.NewStyle().Bold(true)
)

// Symbols for status indicators
const (
	SymbolOK    = "✓"
	SymbolWarn  = "⚠"
	SymbolError = "✗"
)

// RenderOK renders a success message with a green checkmark.
func RenderOK(msg string) string {
	return StatusOK.Render(SymbolOK) + " " + msg
}

// RenderWarn renders a warning message with an orange symbol.
func RenderWarn(msg string) string {
	return StatusWarn.Render(SymbolWarn) + " " + msg
}

// RenderError renders an error message with a red cross.
func RenderError(msg string) string {
	return StatusError.Render(SymbolError) + " " + msg
}

// RenderState pads a server state to width and colors it.
func RenderState(state mcp.State, width int) string {
	text := fmt.Sprintf("%-*s", width, state)
	switch state {
	case mcp.StateReady:
		return StatusOK.Render(text)
	case mcp.StateTerminated:
		return StatusError.Render(text)
	default:
		return StatusWarn.Render(text)
	}
}

// RenderRunStatus pads a job run status to width and colors it.
func RenderRunStatus(status scheduler.Status, width int) string {
	text := fmt.Sprintf("%-*s", width, status)
	switch status {
	case scheduler.StatusOK:
		return StatusOK.Render(text)
	case scheduler.StatusFailed:
		return StatusError.Render(text)
	case scheduler.StatusSkipped:
		return Muted.Render(text)
	default:
		return StatusWarn.Render(text)
	}
}
