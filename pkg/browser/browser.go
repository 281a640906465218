// Package browser abstracts the sandboxed execution context the monitor runs
// against. Hosts embed the monitor and supply an implementation bridging to
// their page runtime (webview bridge, wasm, CDP session); detectors only ever
// talk to these interfaces, which keeps them testable without a real DOM.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned when the execution context cannot provide a
// capability. Detectors treat it as a degrade-to-no-op, never a crash.
var ErrUnsupported = errors.New("browser capability unsupported")

// CancelFunc removes a listener or cancels a scheduled timer. Implementations
// must make it idempotent.
type CancelFunc func()

// Capabilities is the full observable surface of the page sandbox.
type Capabilities interface {
	Page() (Page, error)
	Fullscreen() (Fullscreen, error)
	Clipboard() (Clipboard, error)
	Probes() (Probes, error)
	Clock() Clock
}

// Page exposes document-level visibility.
type Page interface {
	// OnVisibilityChange registers a listener invoked with hidden=true when
	// the document loses foreground visibility and hidden=false when it
	// regains it.
	OnVisibilityChange(fn func(hidden bool)) (CancelFunc, error)
}

// Fullscreen controls and observes the fullscreen state of the document.
// Request only succeeds when sequenced after a user gesture; that sequencing
// is the caller's responsibility.
type Fullscreen interface {
	Request() error
	Exit() error
	Active() bool
	OnChange(fn func(active bool)) (CancelFunc, error)
}

// Clipboard intercepts copy, paste and context-menu interactions. The
// capability layer suppresses the default browser action before invoking the
// handler; suppression on an already-prevented event is a no-op, never an
// error surfaced to the handler.
type Clipboard interface {
	OnCopy(fn func(meta map[string]string)) (CancelFunc, error)
	OnPaste(fn func(meta map[string]string)) (CancelFunc, error)
	OnContextMenu(fn func(meta map[string]string)) (CancelFunc, error)
}

// Probes are best-effort environment heuristics. All of them are
// probabilistic; a positive result is evidence, not proof.
type Probes interface {
	// AutomationFlagged checks navigator-level automation markers
	// (webdriver flag, headless UA hints).
	AutomationFlagged(ctx context.Context) (bool, error)
	// OpenWindowCount estimates how many sibling windows share the session
	// origin.
	OpenWindowCount(ctx context.Context) (int, error)
	// DisplayCaptureActive reports whether a display-capture media track is
	// live.
	DisplayCaptureActive(ctx context.Context) (bool, error)
	// StorageQuotaBytes returns the origin storage quota; private browsing
	// contexts report an artificially low quota.
	StorageQuotaBytes(ctx context.Context) (int64, error)
	// DebugProbeLatency measures the wall time around a statement whose
	// execution is artificially slowed while developer tools are attached.
	DebugProbeLatency() (time.Duration, error)
}

// Clock schedules work on the page event loop. Detectors must only schedule
// timers through it so disarm can cancel every live timer.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers periodic ticks until stopped. Stop must be idempotent.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}
