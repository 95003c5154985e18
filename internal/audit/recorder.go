package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// Writer appends entries inside the caller's unit of work.
type Writer interface {
	InsertAuditEntry(ctx context.Context, entry Entry) error
}

// Observer is notified after an entry is stored.
type Observer interface {
	ObserveAudit(kind Kind, action Action)
}

// Recorder turns mutation events into audit entries. It never returns an
// error: the business operation that triggered it must not fail because of
// the trail.
type Recorder struct {
	logger   *slog.Logger
	now      func() time.Time
	observer Observer
}

// NewRecorder builds a Recorder.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow overrides the clock, used by tests.
func (r *Recorder) WithNow(fn func() time.Time) *Recorder {
	if fn != nil {
		r.now = fn
	}
	return r
}

// WithObserver attaches a metrics observer.
func (r *Recorder) WithObserver(o Observer) *Recorder {
	r.observer = o
	return r
}

// Record appends exactly one entry for ev, attributed to actor. Events from
// unauthenticated actors and unwatched kinds are skipped.
func (r *Recorder) Record(ctx context.Context, w Writer, actor shared.Actor, ev Event) {
	if r == nil || w == nil {
		return
	}
	if !actor.Authenticated() || !ev.Kind.Watched() {
		return
	}
	entry := Entry{
		UserID:    actor.UserID,
		CompanyID: actor.CompanyID,
		Action:    ev.Action,
		Kind:      ev.Kind,
		EntityID:  ev.EntityID,
		Summary:   r.summarize(ev),
		At:        r.now(),
	}
	if err := w.InsertAuditEntry(ctx, entry); err != nil {
		r.logger.Warn("audit: entry dropped",
			slog.String("kind", string(ev.Kind)),
			slog.String("action", string(ev.Action)),
			slog.Int64("entity_id", ev.EntityID),
			slog.Any("error", err))
		return
	}
	if r.observer != nil {
		r.observer.ObserveAudit(ev.Kind, ev.Action)
	}
}

func (r *Recorder) summarize(ev Event) string {
	text := r.safeSummary(ev)
	if text == "" {
		text = Fallback(ev.Action, ev.Kind)
	}
	if ev.Action == ActionUpdate && !strings.HasPrefix(text, UpdatePrefix) {
		text = UpdatePrefix + " " + text
	}
	return text
}

func (r *Recorder) safeSummary(ev Event) (text string) {
	if ev.Summary == nil {
		return ""
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("audit: summary generation failed",
				slog.String("kind", string(ev.Kind)),
				slog.Any("panic", rec))
			text = ""
		}
	}()
	return strings.TrimSpace(ev.Summary())
}

// Fallback is the generic summary used when no better text is available.
func Fallback(action Action, kind Kind) string {
	return fmt.Sprintf("%s on %s", action, kind)
}
