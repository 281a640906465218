// Package policy decides what a session's accumulated violations amount to.
// Evaluate is pure and total: same (policy, score, count) in, same action
// out, no failure mode. That determinism is what lets the aggregator rely on
// a plain re-entrancy guard instead of a lock around enforcement.
package policy

import (
	"errors"
	"fmt"
)

type Action string

const (
	ActionNone       Action = "none"
	ActionWarn       Action = "warn"
	ActionAutoSubmit Action = "auto_submit"
	ActionTerminate  Action = "terminate"
)

// Threshold maps a cumulative suspicion score to an action. Thresholds are
// evaluated in order; the highest crossed one wins.
type Threshold struct {
	Score  float64 `json:"score" mapstructure:"score"`
	Action Action  `json:"action" mapstructure:"action"`
}

// Config is the tolerance policy snapshot captured at session start. It is
// never mutated mid-session, which prevents races between a policy update
// and in-flight detectors.
type Config struct {
	MaxViolations         int         `json:"max_violations" mapstructure:"max_violations"`
	AutoSubmitOnViolation bool        `json:"auto_submit_on_violation" mapstructure:"auto_submit_on_violation"`
	ImmediateTermination  bool        `json:"immediate_termination" mapstructure:"immediate_termination"`
	ScoreThresholds       []Threshold `json:"score_thresholds" mapstructure:"score_thresholds"`
}

// ZeroTolerance is the contractual default for proctored quizzes: the first
// non-zero-severity signal terminates the session.
func ZeroTolerance() Config {
	return Config{
		MaxViolations:         1,
		AutoSubmitOnViolation: true,
		ImmediateTermination:  true,
	}
}

var (
	ErrMaxViolationsTooLow  = errors.New("max_violations must be at least 1")
	ErrThresholdsNotOrdered = errors.New("score_thresholds must be strictly increasing")
)

func (c Config) Validate() error {
	if c.MaxViolations < 1 {
		return ErrMaxViolationsTooLow
	}
	prev := -1.0
	for _, t := range c.ScoreThresholds {
		if t.Score <= prev {
			return ErrThresholdsNotOrdered
		}
		prev = t.Score
		switch t.Action {
		case ActionWarn, ActionAutoSubmit, ActionTerminate:
		default:
			return fmt.Errorf("invalid threshold action: %q", t.Action)
		}
	}
	return nil
}

// Evaluate maps the session's cumulative score and violation count to an
// action. Zero-severity signals never terminate: the count-based rules are
// gated on a non-zero score.
func Evaluate(c Config, score float64, count int) Action {
	if c.ImmediateTermination && count >= 1 && score > 0 {
		return ActionTerminate
	}
	if count >= c.MaxViolations && score > 0 {
		return ActionTerminate
	}

	action := ActionNone
	for _, t := range c.ScoreThresholds {
		if score >= t.Score {
			action = t.Action
		}
	}
	return action
}
