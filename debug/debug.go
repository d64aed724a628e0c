// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: debug.go - Cold-path diagnostics for the command pipeline
//
// Purpose:
//   - Logs infrequent events (capacity violations, fence stalls, shutdown)
//     through a swappable log/slog logger.
//   - Raises blocking alerts for serious desynchronization.
//
// Notes:
//   - The default logger discards everything and reports Enabled=false, so
//     callers skip message formatting entirely.
//   - Logger and alert handler are stored atomically; both may be replaced
//     while producer and consumer are running.
//
// ⚠️ Never invoke in hot loops - use only in failure diagnostics.
// ─────────────────────────────────────────────────────────────────────────────

package debug

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler drops every record and reports every level as disabled.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var (
	loggerPtr atomic.Pointer[slog.Logger]
	alertPtr  atomic.Pointer[func(string)]
)

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// SetLogger installs l as the diagnostics sink. nil restores the silent default.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}

// Logger returns the active diagnostics logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// SetAlertHandler installs fn as the receiver of blocking alerts. The call
// returns only when fn returns, so a UI can hold the producer on a dialog.
// nil restores the default (error-level log line).
func SetAlertHandler(fn func(msg string)) {
	if fn == nil {
		alertPtr.Store(nil)
		return
	}
	alertPtr.Store(&fn)
}

// DropError logs a failure under prefix. A nil err logs just the prefix.
//
//go:noinline
func DropError(prefix string, err error) {
	l := loggerPtr.Load()
	if !l.Enabled(context.Background(), slog.LevelWarn) {
		return
	}
	if err != nil {
		l.Warn(prefix, slog.String("err", err.Error()))
		return
	}
	l.Warn(prefix)
}

// DropMessage logs a cold-path diagnostic at debug level.
//
//go:noinline
func DropMessage(prefix, message string) {
	l := loggerPtr.Load()
	if !l.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	l.Debug(prefix, slog.String("msg", message))
}

// Alert reports a serious desynchronization. It blocks for as long as the
// installed alert handler does. Without a handler the alert goes to the
// installed logger, or to slog.Default while logging is silenced.
func Alert(msg string) {
	if fn := alertPtr.Load(); fn != nil {
		(*fn)(msg)
		return
	}
	l := loggerPtr.Load()
	if !l.Enabled(context.Background(), slog.LevelError) {
		l = slog.Default()
	}
	l.Error("ALERT", slog.String("msg", msg))
}
