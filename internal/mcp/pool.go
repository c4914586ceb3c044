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

package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Defaults for PoolConfig.
const (
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultProbeInterval    = 30 * time.Second
	DefaultProbeTimeout     = 5 * time.Second
	DefaultGracePeriod      = 5 * time.Second
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Dialer opens sessions. Defaults to DialStdio.
	Dialer Dialer

	Logger *slog.Logger
	Events *EventEmitter

	// HandshakeTimeout bounds spawn plus initialize for one server.
	HandshakeTimeout time.Duration

	// ProbeInterval is the health probe period. Negative disables probing.
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration

	// GracePeriod is how long a process gets to exit before SIGKILL.
	GracePeriod time.Duration
}

// Pool owns every server connection. It is the only component that changes
// connection state; everything else reads through Get, ReadyNames and Status.
type Pool struct {
	cfg    PoolConfig
	logger *slog.Logger
	events *EventEmitter

	mu      sync.RWMutex
	descs   []ServerDescriptor
	conns   map[string]*Connection
	started bool
	stopped bool

	subsMu sync.Mutex
	subs   []func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates an empty pool. Call Start to bring servers up.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Dialer == nil {
		cfg.Dialer = DialStdio
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Events == nil {
		cfg.Events = NewEventEmitter(cfg.Logger)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:    cfg,
		logger: cfg.Logger,
		events: cfg.Events,
		conns:  make(map[string]*Connection),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start brings up every enabled descriptor concurrently and waits for each
// handshake to succeed or fail. A failing server ends up Terminated and is
// logged; it never prevents the others from starting.
func (p *Pool) Start(ctx context.Context, descs []ServerDescriptor) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return errPoolStopped
	}
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("server pool already started")
	}
	p.started = true
	p.descs = descs

	var toStart []*Connection
	for _, d := range descs {
		if !d.Enabled {
			p.logger.Debug("skipping disabled mcp server", "server", d.Name)
			continue
		}
		c := newConnection(d, p.logger)
		p.conns[d.Name] = c
		toStart = append(toStart, c)
	}
	p.mu.Unlock()

	p.bringUp(ctx, toStart)
	p.notify()

	if p.cfg.ProbeInterval > 0 {
		p.wg.Add(1)
		go p.monitor()
	}
	return nil
}

func (p *Pool) bringUp(ctx context.Context, conns []*Connection) {
	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			if err := c.open(ctx, p.ctx, p.cfg.Dialer, p.cfg.HandshakeTimeout, p.cfg.GracePeriod); err != nil {
				c.setState(StateTerminated, err)
				p.events.EmitFailed(c.desc.Name, err)
				return
			}
			st := c.Status()
			p.events.EmitStarted(c.desc.Name, st.PID, len(st.Tools))
		}(c)
	}
	wg.Wait()
}

// Get returns the Ready connection for name. Absent, disabled, degraded and
// terminated servers all report false; callers treat that as "feature
// unavailable".
func (p *Pool) Get(name string) (*Connection, bool) {
	p.mu.RLock()
	c, ok := p.conns[NormalizeName(name)]
	p.mu.RUnlock()
	if !ok || c.State() != StateReady {
		return nil, false
	}
	return c, true
}

// ReadyNames returns the sorted names of Ready servers.
func (p *Pool) ReadyNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.conns))
	for name, c := range p.conns {
		if c.State() == StateReady {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Descriptors returns the descriptor set from the last Start or Reload.
func (p *Pool) Descriptors() []ServerDescriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ServerDescriptor, len(p.descs))
	copy(out, p.descs)
	return out
}

// Status lists every configured server, disabled ones included, by name.
func (p *Pool) Status() []ServerStatus {
	p.mu.RLock()
	out := make([]ServerStatus, 0, len(p.descs))
	for _, d := range p.descs {
		if c, ok := p.conns[d.Name]; ok {
			out = append(out, c.Status())
			continue
		}
		out = append(out, ServerStatus{
			Name:        d.Name,
			Description: d.Description,
			Enabled:     d.Enabled,
			State:       StateTerminated,
		})
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Subscribe registers fn to be called whenever the Ready set may have
// changed. fn runs synchronously and must not block.
func (p *Pool) Subscribe(fn func()) {
	p.subsMu.Lock()
	p.subs = append(p.subs, fn)
	p.subsMu.Unlock()
}

func (p *Pool) notify() {
	p.subsMu.Lock()
	subs := make([]func(), len(p.subs))
	copy(subs, p.subs)
	p.subsMu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// ReportFault tells the pool a request observed the server process dying.
// The restart policy runs in the background.
func (p *Pool) ReportFault(name string, cause error) {
	p.mu.RLock()
	c, ok := p.conns[NormalizeName(name)]
	p.mu.RUnlock()
	if ok {
		p.reportFault(c, cause)
	}
}

// reportFault is ReportFault for a specific connection. Faults observed on a
// connection that a reload has since replaced are ignored.
func (p *Pool) reportFault(c *Connection, cause error) {
	p.mu.RLock()
	if p.stopped || p.conns[c.desc.Name] != c {
		p.mu.RUnlock()
		return
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	go func() {
		defer p.wg.Done()
		p.handleFault(c, cause)
	}()
}

// handleFault applies the restart policy: Degraded, then one immediate
// restart with the same descriptor, then Terminated if the episode fails
// again.
func (p *Pool) handleFault(c *Connection, cause error) {
	if !c.markDegraded(cause) {
		return
	}
	p.events.EmitDegraded(c.desc.Name, cause)
	p.notify()

	if !c.takeRestart() {
		p.terminate(c, ErrRestartExhausted(c.desc.Name, cause))
		return
	}

	p.events.EmitRestarting(c.desc.Name)
	c.cancelPending()
	if old := c.detach(); old != nil {
		if err := closeSession(old, p.cfg.GracePeriod); err != nil {
			p.logger.Debug("closing failed session", "server", c.desc.Name, "error", err)
		}
	}

	if p.isStopped() {
		c.setState(StateTerminated, errPoolStopped)
		return
	}

	err := c.open(p.ctx, p.ctx, p.cfg.Dialer, p.cfg.HandshakeTimeout, p.cfg.GracePeriod)
	recordRestart(c.desc.Name, err == nil)
	if err != nil {
		p.terminate(c, ErrRestartExhausted(c.desc.Name, err))
		return
	}

	st := c.Status()
	p.events.EmitStarted(c.desc.Name, st.PID, len(st.Tools))
	p.notify()
}

func (p *Pool) terminate(c *Connection, cause error) {
	if err := c.shutdown(p.cfg.GracePeriod); err != nil {
		p.logger.Debug("stopping terminated server", "server", c.desc.Name, "error", err)
	}
	c.setState(StateTerminated, cause)
	p.events.EmitTerminated(c.desc.Name, cause)
	p.notify()
}

func (p *Pool) isStopped() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stopped
}

func (p *Pool) monitor() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.ProbeAll(p.ctx)
		}
	}
}

// ProbeAll health-checks every Ready connection once and applies the
// restart policy to failures. It returns when all probes and any resulting
// restarts have finished.
func (p *Pool) ProbeAll(ctx context.Context) {
	p.mu.RLock()
	conns := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		if c.State() == StateReady {
			conns = append(conns, c)
		}
	}
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			if err := c.probe(ctx, p.cfg.ProbeTimeout); err != nil {
				if ctx.Err() != nil {
					return
				}
				p.handleFault(c, fmt.Errorf("health probe failed: %w", err))
				return
			}
			c.markHealthy()
		}(c)
	}
	wg.Wait()
}

// Reload applies a new descriptor set. The live set is swapped under the
// pool lock; stopping and starting servers happens after it is released, so
// lookups are blocked only for the diff itself.
func (p *Pool) Reload(ctx context.Context, descs []ServerDescriptor) (DescriptorDiff, error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return DescriptorDiff{}, errPoolStopped
	}

	diff := DiffDescriptors(p.descs, descs)
	byName := make(map[string]ServerDescriptor, len(descs))
	for _, d := range descs {
		byName[d.Name] = d
	}

	var toStop, toStart []*Connection
	for _, name := range diff.Removed {
		if c, ok := p.conns[name]; ok {
			toStop = append(toStop, c)
			delete(p.conns, name)
		}
	}
	for _, name := range append(append([]string{}, diff.Changed...), diff.Added...) {
		if c, ok := p.conns[name]; ok {
			toStop = append(toStop, c)
			delete(p.conns, name)
		}
		if d := byName[name]; d.Enabled {
			c := newConnection(d, p.logger)
			p.conns[name] = c
			toStart = append(toStart, c)
		}
	}
	p.descs = descs
	p.mu.Unlock()

	if diff.Empty() {
		return diff, nil
	}
	p.notify()

	p.shutdownAll(toStop)
	p.bringUp(ctx, toStart)
	p.notify()

	p.events.Emit(ServerEvent{
		Type:       EventReloaded,
		ServerName: "*",
		Message:    "Server configuration reloaded",
		Details: map[string]any{
			"added":   len(diff.Added),
			"removed": len(diff.Removed),
			"changed": len(diff.Changed),
		},
	})
	return diff, nil
}

func (p *Pool) shutdownAll(conns []*Connection) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			if err := c.shutdown(p.cfg.GracePeriod); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", c.desc.Name, err))
				mu.Unlock()
			}
			p.events.EmitStopped(c.desc.Name)
		}(c)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Stop terminates every connection, cancels pending requests and waits for
// background probes and restarts. Processes that ignore SIGTERM for the
// grace period are killed.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	conns := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	err := p.shutdownAll(conns)
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}

	p.notify()
	return err
}
