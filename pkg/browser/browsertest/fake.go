// Package browsertest provides a scripted in-memory implementation of
// browser.Capabilities for detector and monitor tests.
package browsertest

import (
	"context"
	"sync"
	"time"

	"github.com/ExamTrust/ProctorGate/pkg/browser"
)

// Fake implements browser.Capabilities. Zero value is usable; every
// capability is available until the corresponding Unsupported flag is set.
type Fake struct {
	PageUnsupported       bool
	FullscreenUnsupported bool
	ClipboardUnsupported  bool
	ProbesUnsupported     bool

	page       FakePage
	fullscreen FakeFullscreen
	clipboard  FakeClipboard
	probes     FakeProbes
	clock      FakeClock
}

func New() *Fake {
	f := &Fake{}
	f.clock.now = time.Now()
	return f
}

func (f *Fake) Page() (browser.Page, error) {
	if f.PageUnsupported {
		return nil, browser.ErrUnsupported
	}
	return &f.page, nil
}

func (f *Fake) Fullscreen() (browser.Fullscreen, error) {
	if f.FullscreenUnsupported {
		return nil, browser.ErrUnsupported
	}
	return &f.fullscreen, nil
}

func (f *Fake) Clipboard() (browser.Clipboard, error) {
	if f.ClipboardUnsupported {
		return nil, browser.ErrUnsupported
	}
	return &f.clipboard, nil
}

func (f *Fake) Probes() (browser.Probes, error) {
	if f.ProbesUnsupported {
		return nil, browser.ErrUnsupported
	}
	return &f.probes, nil
}

func (f *Fake) Clock() browser.Clock { return &f.clock }

// State accessors let tests fire events and script probe results directly.
func (f *Fake) PageState() *FakePage             { return &f.page }
func (f *Fake) FullscreenState() *FakeFullscreen { return &f.fullscreen }
func (f *Fake) ClipboardState() *FakeClipboard   { return &f.clipboard }
func (f *Fake) ProbeState() *FakeProbes          { return &f.probes }
func (f *Fake) ClockState() *FakeClock           { return &f.clock }

type listenerSet[T any] struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]T
}

func (s *listenerSet[T]) add(fn T) browser.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[int]T)
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *listenerSet[T]) snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

func (s *listenerSet[T]) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

type FakePage struct {
	visibility listenerSet[func(hidden bool)]
}

func (p *FakePage) OnVisibilityChange(fn func(hidden bool)) (browser.CancelFunc, error) {
	return p.visibility.add(fn), nil
}

// SetHidden fires a visibility transition to every registered listener.
func (p *FakePage) SetHidden(hidden bool) {
	for _, fn := range p.visibility.snapshot() {
		fn(hidden)
	}
}

// ListenerCount reports live visibility listeners; tests use it to assert
// disarm removed them.
func (p *FakePage) ListenerCount() int { return p.visibility.count() }

type FakeFullscreen struct {
	mu         sync.Mutex
	active     bool
	RequestErr error
	ExitErr    error
	Requests   int
	Exits      int
	change     listenerSet[func(active bool)]
}

func (f *FakeFullscreen) Request() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests++
	if f.RequestErr != nil {
		return f.RequestErr
	}
	f.active = true
	return nil
}

func (f *FakeFullscreen) Exit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Exits++
	if f.ExitErr != nil {
		return f.ExitErr
	}
	f.active = false
	return nil
}

func (f *FakeFullscreen) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *FakeFullscreen) OnChange(fn func(active bool)) (browser.CancelFunc, error) {
	return f.change.add(fn), nil
}

// SetActive flips the fullscreen state and notifies listeners, simulating a
// user-driven exit or a browser-granted request.
func (f *FakeFullscreen) SetActive(active bool) {
	f.mu.Lock()
	f.active = active
	f.mu.Unlock()
	for _, fn := range f.change.snapshot() {
		fn(active)
	}
}

func (f *FakeFullscreen) ListenerCount() int { return f.change.count() }

type FakeClipboard struct {
	copyL    listenerSet[func(meta map[string]string)]
	pasteL   listenerSet[func(meta map[string]string)]
	ctxMenuL listenerSet[func(meta map[string]string)]
}

func (c *FakeClipboard) OnCopy(fn func(meta map[string]string)) (browser.CancelFunc, error) {
	return c.copyL.add(fn), nil
}

func (c *FakeClipboard) OnPaste(fn func(meta map[string]string)) (browser.CancelFunc, error) {
	return c.pasteL.add(fn), nil
}

func (c *FakeClipboard) OnContextMenu(fn func(meta map[string]string)) (browser.CancelFunc, error) {
	return c.ctxMenuL.add(fn), nil
}

func (c *FakeClipboard) FireCopy(meta map[string]string) {
	for _, fn := range c.copyL.snapshot() {
		fn(meta)
	}
}

func (c *FakeClipboard) FirePaste(meta map[string]string) {
	for _, fn := range c.pasteL.snapshot() {
		fn(meta)
	}
}

func (c *FakeClipboard) FireContextMenu(meta map[string]string) {
	for _, fn := range c.ctxMenuL.snapshot() {
		fn(meta)
	}
}

func (c *FakeClipboard) ListenerCount() int {
	return c.copyL.count() + c.pasteL.count() + c.ctxMenuL.count()
}

type FakeProbes struct {
	mu sync.Mutex

	Automation    bool
	AutomationErr error

	WindowCount    int
	WindowCountErr error

	CaptureActive    bool
	CaptureActiveErr error

	QuotaBytes int64
	QuotaErr   error

	// Latencies are popped one per DebugProbeLatency call; when exhausted,
	// DefaultLatency is returned.
	Latencies      []time.Duration
	DefaultLatency time.Duration
	LatencyErr     error
}

func (p *FakeProbes) AutomationFlagged(_ context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Automation, p.AutomationErr
}

func (p *FakeProbes) OpenWindowCount(_ context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.WindowCount, p.WindowCountErr
}

func (p *FakeProbes) DisplayCaptureActive(_ context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CaptureActive, p.CaptureActiveErr
}

func (p *FakeProbes) StorageQuotaBytes(_ context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.QuotaBytes, p.QuotaErr
}

func (p *FakeProbes) DebugProbeLatency() (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.LatencyErr != nil {
		return 0, p.LatencyErr
	}
	if len(p.Latencies) > 0 {
		d := p.Latencies[0]
		p.Latencies = p.Latencies[1:]
		return d, nil
	}
	return p.DefaultLatency, nil
}

// SetLatencies replaces the scripted latency sequence.
func (p *FakeProbes) SetLatencies(ds ...time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Latencies = ds
}

// SetWindowCount changes the scripted window count; safe to call while a
// poll loop is reading.
func (p *FakeProbes) SetWindowCount(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.WindowCount = n
}

// SetCaptureActive changes the scripted display capture state.
func (p *FakeProbes) SetCaptureActive(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CaptureActive = active
}

type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*FakeTicker
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the fake time forward without firing timers; debounce logic
// only compares timestamps.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *FakeClock) NewTicker(d time.Duration) browser.Ticker {
	t := &FakeTicker{ch: make(chan time.Time, 8)}
	c.mu.Lock()
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()
	return t
}

// Tickers returns every ticker handed out so far.
func (c *FakeClock) Tickers() []*FakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*FakeTicker(nil), c.tickers...)
}

type FakeTicker struct {
	mu      sync.Mutex
	ch      chan time.Time
	stopped bool
}

func (t *FakeTicker) C() <-chan time.Time { return t.ch }

func (t *FakeTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *FakeTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Tick delivers one tick. It deliberately works even after Stop so tests can
// simulate a timer firing after disarm.
func (t *FakeTicker) Tick() {
	t.ch <- time.Now()
}
