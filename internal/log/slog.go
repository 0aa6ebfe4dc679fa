package log

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type slogLogger struct {
	h     slog.Handler
	attrs []slog.Attr
}

type hasStack interface {
	StackPCs() []uintptr
}

func newSlog(opts Options) (Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}

	var h slog.Handler
	if opts.JsonFormat {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: opts.Level, AddSource: true})
	} else {
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: opts.Level, AddSource: true})
	}

	// trace/span ids from the request context
	h = otelHandler{next: h}

	base := []slog.Attr{
		slog.String("app", opts.App),
	}
	if opts.Version != "" {
		base = append(base, slog.String("version", opts.Version))
	}

	return &slogLogger{h: h, attrs: base}, nil
}

func (s *slogLogger) With(kv ...any) Logger {
	add := make([]slog.Attr, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			add = append(add, slog.Any(k, kv[i+1]))
		}
	}
	// copy-on-write so loggers are safe to share concurrently
	next := make([]slog.Attr, 0, len(s.attrs)+len(add))
	next = append(next, s.attrs...)
	next = append(next, add...)
	return &slogLogger{h: s.h, attrs: next}
}

func (s *slogLogger) Debug(ctx context.Context, msg string, kv ...any) {
	s.log(ctx, slog.LevelDebug, msg, kv...)
}
func (s *slogLogger) Info(ctx context.Context, msg string, kv ...any) {
	s.log(ctx, slog.LevelInfo, msg, kv...)
}
func (s *slogLogger) Warn(ctx context.Context, msg string, kv ...any) {
	s.log(ctx, slog.LevelWarn, msg, kv...)
}

func (s *slogLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	if err != nil {
		kv = append(kv, "err", err)
		if chain := errorChain(err); len(chain) > 0 {
			kv = append(kv, "error_chain", chain)
		}
		var hs hasStack
		if errors.As(err, &hs) && hs != nil {
			if stack := renderPCs(hs.StackPCs()); stack != "" {
				kv = append(kv, "stack", stack)
			}
		}
	}
	s.log(ctx, slog.LevelError, msg, kv...)
}

func (s *slogLogger) Sync() error { return nil }

func (s *slogLogger) log(ctx context.Context, lvl slog.Level, msg string, kv ...any) {
	if !s.h.Enabled(ctx, lvl) {
		return
	}
	// skip runtime.Callers, callerPC, log, and the level method
	const skip = 4
	r := slog.NewRecord(time.Now(), lvl, msg, callerPC(skip))
	for _, a := range s.attrs {
		r.AddAttrs(a)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		r.AddAttrs(slog.Any(k, kv[i+1]))
	}
	_ = s.h.Handle(ctx, r)
}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	if n := runtime.Callers(skip, pcs[:]); n == 0 {
		return 0
	}
	return pcs[0]
}

// otelHandler adds trace_id/span_id when the record's context carries a
// valid span.
type otelHandler struct{ next slog.Handler }

func (h otelHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}

func (h otelHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, r)
}

func (h otelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return otelHandler{next: h.next.WithAttrs(attrs)}
}

func (h otelHandler) WithGroup(name string) slog.Handler {
	return otelHandler{next: h.next.WithGroup(name)}
}

// errorChain flattens the unwrap chain into messages, dropping duplicates.
func errorChain(err error) []string {
	out := make([]string, 0, 8)
	var prev string
	for e := err; e != nil; e = errors.Unwrap(e) {
		if msg := e.Error(); msg != prev {
			out = append(out, msg)
			prev = msg
		}
	}
	return out
}

// renderPCs formats captured PCs as func / file:line pairs, trimming
// runtime and logging frames off the top.
func renderPCs(pcs []uintptr) string {
	if len(pcs) == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs)
	var b strings.Builder
	include := false
	for {
		fr, more := frames.Next()
		inRuntime := strings.HasPrefix(fr.Function, "runtime.")
		inSlog := strings.HasPrefix(fr.Function, "log/slog.")
		inOurLog := strings.Contains(fr.Function, "/internal/log.")
		inXerr := strings.Contains(fr.Function, "/internal/xerrors.")
		if inRuntime {
			break
		}
		if !include && !inSlog && !inOurLog && !inXerr {
			include = true
		}
		if include {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimSpace(b.String())
}
