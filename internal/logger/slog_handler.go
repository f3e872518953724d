package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// slogBridge adapts a zerolog logger to slog.Handler. Attrs added via
// WithAttrs are stored with their group prefix already baked into the
// key; groups flatten to dotted keys since zerolog events are flat.
type slogBridge struct {
	zl     *zerolog.Logger
	attrs  []slog.Attr
	prefix string
}

// NewSlog wraps a zerolog logger in the standard slog facade so the
// rest of the codebase can log through *slog.Logger.
func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(&slogBridge{zl: zl})
}

func toZerolog(l slog.Level) zerolog.Level {
	switch {
	case l < slog.LevelInfo:
		return zerolog.DebugLevel
	case l < slog.LevelWarn:
		return zerolog.InfoLevel
	case l < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func (b *slogBridge) Enabled(_ context.Context, l slog.Level) bool {
	return toZerolog(l) >= b.zl.GetLevel()
}

func (b *slogBridge) Handle(ctx context.Context, r slog.Record) error {
	ev := FromContext(ctx, b.zl).WithLevel(toZerolog(r.Level))
	for _, a := range b.attrs {
		ev = appendAttr(ev, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		ev = appendAttr(ev, b.prefix, a)
		return true
	})
	ev.Msg(r.Message)
	return nil
}

func (b *slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := &slogBridge{zl: b.zl, prefix: b.prefix}
	cp.attrs = make([]slog.Attr, 0, len(b.attrs)+len(attrs))
	cp.attrs = append(cp.attrs, b.attrs...)
	for _, a := range attrs {
		a.Key = b.prefix + a.Key
		cp.attrs = append(cp.attrs, a)
	}
	return cp
}

func (b *slogBridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}
	return &slogBridge{zl: b.zl, attrs: b.attrs, prefix: b.prefix + name + "."}
}

func appendAttr(ev *zerolog.Event, prefix string, a slog.Attr) *zerolog.Event {
	a.Value = a.Value.Resolve()
	key := prefix + a.Key
	switch a.Value.Kind() {
	case slog.KindGroup:
		sub := prefix
		if a.Key != "" {
			sub = key + "."
		}
		for _, ga := range a.Value.Group() {
			ev = appendAttr(ev, sub, ga)
		}
		return ev
	case slog.KindString:
		return ev.Str(key, a.Value.String())
	case slog.KindInt64:
		return ev.Int64(key, a.Value.Int64())
	case slog.KindUint64:
		return ev.Uint64(key, a.Value.Uint64())
	case slog.KindFloat64:
		return ev.Float64(key, a.Value.Float64())
	case slog.KindBool:
		return ev.Bool(key, a.Value.Bool())
	case slog.KindDuration:
		return ev.Str(key, a.Value.Duration().String())
	case slog.KindTime:
		return ev.Time(key, a.Value.Time())
	default:
		return ev.Interface(key, a.Value.Any())
	}
}
