// Package events is the error-reporting collaborator of the analysis core.
// Components hand human-facing diagnostics to a Reporter; the process-wide
// implementation logs them, tests record them.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/hcl/v2"

	"github.com/vk/buildgrid/internal/ctxlog"
)

// Severity grades an event.
type Severity int

const (
	// Warning events do not fail anything by themselves.
	Warning Severity = iota
	// Error events describe a failure the user must act on.
	Error
)

func (s Severity) String() string {
	if s == Warning {
		return "warning"
	}
	return "error"
}

// Event is one diagnostic: severity, message, and an optional source
// location.
type Event struct {
	Severity Severity
	Message  string
	// Subject is the source range the event is attributed to, if any.
	Subject *hcl.Range
}

// Errorf builds an error event attributed to the given range.
func Errorf(subject *hcl.Range, format string, args ...any) Event {
	return Event{Severity: Error, Message: fmt.Sprintf(format, args...), Subject: subject}
}

// Warningf builds a warning event attributed to the given range.
func Warningf(subject *hcl.Range, format string, args ...any) Event {
	return Event{Severity: Warning, Message: fmt.Sprintf(format, args...), Subject: subject}
}

// Reporter receives diagnostics produced during analysis.
type Reporter interface {
	Report(ctx context.Context, ev Event)
}

// LogReporter forwards events to the context logger.
type LogReporter struct{}

// Report implements Reporter.
func (LogReporter) Report(ctx context.Context, ev Event) {
	logger := ctxlog.FromContext(ctx)
	attrs := []any{}
	if ev.Subject != nil {
		attrs = append(attrs, "location", ev.Subject.String())
	}
	if ev.Severity == Error {
		logger.Error(ev.Message, attrs...)
		return
	}
	logger.Warn(ev.Message, attrs...)
}

// Recorder collects events for later inspection. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Report implements Reporter.
func (r *Recorder) Report(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything reported so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Errors returns the subset of recorded events with Error severity.
func (r *Recorder) Errors() []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Severity == Error {
			out = append(out, ev)
		}
	}
	return out
}
