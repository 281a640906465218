package signal

import (
	"time"
)

// Kind identifies the class of circumvention attempt a detector observed.
type Kind string

const (
	KindTabSwitch            Kind = "tab_switch"
	KindFullscreenExit       Kind = "fullscreen_exit"
	KindCopyAttempt          Kind = "copy_attempt"
	KindPasteAttempt         Kind = "paste_attempt"
	KindRightClick           Kind = "right_click"
	KindDevToolsOpen         Kind = "devtools_open"
	KindMultiWindow          Kind = "multi_window"
	KindSuspiciousTiming     Kind = "suspicious_timing"
	KindAutomationDetected   Kind = "automation_detected"
	KindScreenCaptureDetected Kind = "screen_capture_detected"
	KindIncognitoDetected    Kind = "incognito_detected"
)

// Signal is an immutable value emitted by exactly one detector the instant
// its underlying browser event fires. It is consumed once by the aggregator
// and never persisted directly; storage always wraps it into a
// secevent.SecurityEvent first.
type Signal struct {
	Kind       Kind              `json:"kind"`
	DetectedAt time.Time         `json:"detected_at"`
	Severity   float64           `json:"severity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// New builds a signal stamped with the current time.
func New(kind Kind, severity float64, metadata map[string]string) Signal {
	return Signal{
		Kind:       kind,
		DetectedAt: time.Now(),
		Severity:   severity,
		Metadata:   metadata,
	}
}

// Emitter is the single shared object between detectors and the aggregator.
// Implementations must be safe for concurrent use and must drop signals once
// the session stopped accepting them.
type Emitter interface {
	Emit(sig Signal)
}
