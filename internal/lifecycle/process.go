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

// Package lifecycle signals and reaps OS processes: MCP server subprocesses
// and the flint daemon itself.
package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

var (
	// ErrProcessNotRunning is returned when the process does not exist.
	ErrProcessNotRunning = errors.New("process not running")

	// ErrShutdownTimeout is returned when the process doesn't exit within the timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// IsProcessRunning reports whether pid exists and has not exited. Zombies
// (exited but not yet reaped) count as not running.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix FindProcess always succeeds; signal 0 probes existence.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	return !isZombie(pid)
}

// SendSignal sends a signal to the given process.
func SendSignal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("failed to send signal %v to process %d: %w", sig, pid, err)
	}
	return nil
}

// WaitForExit polls until the process exits or timeout elapses.
func WaitForExit(pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if !IsProcessRunning(pid) {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrShutdownTimeout
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// StopProcess sends SIGTERM and escalates to SIGKILL when the process is
// still alive after grace. A process that is already gone is not an error.
func StopProcess(pid int, grace time.Duration) error {
	if !IsProcessRunning(pid) {
		return nil
	}

	if err := SendSignal(pid, syscall.SIGTERM); err != nil {
		if !IsProcessRunning(pid) {
			return nil
		}
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}
	if err := WaitForExit(pid, grace); err == nil {
		return nil
	}

	if err := SendSignal(pid, syscall.SIGKILL); err != nil && IsProcessRunning(pid) {
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}
	if err := WaitForExit(pid, 2*time.Second); err != nil {
		return fmt.Errorf("process %d did not die after SIGKILL: %w", pid, err)
	}
	return nil
}
