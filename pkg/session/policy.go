package session

import (
	"fmt"
	"time"
)

// Policy defaults.
const (
	DefaultMinDuration   = 360 * time.Second
	DefaultRedirectDelay = 2 * time.Second
)

// CompletedMessage is shown once the minimum duration is met.
const CompletedMessage = "Thank you for completing the conversation! Redirecting you to the survey..."

// Policy gates the survey redirect on a minimum connected duration.
type Policy struct {
	MinDuration   time.Duration
	RedirectDelay time.Duration
	SurveyURL     string
}

// DefaultPolicy returns a policy with the standard threshold and delay.
func DefaultPolicy(surveyURL string) Policy {
	return Policy{
		MinDuration:   DefaultMinDuration,
		RedirectDelay: DefaultRedirectDelay,
		SurveyURL:     surveyURL,
	}
}

// Outcome is the result of ending a session.
type Outcome struct {
	Completed      bool   `json:"completed"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	Message        string `json:"message"`
	RedirectURL    string `json:"redirect_url,omitempty"`

	// Violation is set when Completed is false.
	Violation *PolicyViolationError `json:"-"`
}

// Evaluate applies the policy to a whole number of connected seconds.
func (p Policy) Evaluate(elapsedSeconds int) Outcome {
	if elapsedSeconds < 0 {
		elapsedSeconds = 0
	}
	minSeconds := int(p.MinDuration / time.Second)

	if elapsedSeconds >= minSeconds {
		return Outcome{
			Completed:      true,
			ElapsedSeconds: elapsedSeconds,
			Message:        CompletedMessage,
			RedirectURL:    p.SurveyURL,
		}
	}

	msg := fmt.Sprintf("Conversation must be at least %s long. You talked for %dm %ds.",
		formatMinimum(p.MinDuration), elapsedSeconds/60, elapsedSeconds%60)
	return Outcome{
		ElapsedSeconds: elapsedSeconds,
		Message:        msg,
		Violation: &PolicyViolationError{
			ElapsedSeconds: elapsedSeconds,
			MinimumSeconds: minSeconds,
			Message:        msg,
		},
	}
}

func formatMinimum(d time.Duration) string {
	if d%time.Minute != 0 {
		return d.String()
	}
	minutes := int(d / time.Minute)
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
