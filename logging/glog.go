package logging

import (
	"fmt"

	"github.com/goliatone/go-logger/glog"
)

// glogLogger adapts a go-logger glog.Logger to Logger. When the backend
// cannot carry fields itself, With keeps them and appends them to every
// entry.
type glogLogger struct {
	l       glog.Logger
	keyvals []any
}

func newGlog(cfg Config) Logger {
	opts := []glog.Option{
		glog.WithWriter(cfg.Output),
		glog.WithLevel(string(cfg.Level)),
	}
	if cfg.JSON {
		opts = append(opts, glog.WithLoggerTypeJSON())
	}
	var l Logger = &glogLogger{l: glog.NewLogger(opts...)}
	if cfg.Prefix != "" {
		l = l.With("logger", cfg.Prefix)
	}
	return l
}

func (g *glogLogger) args(keyvals []any) []any {
	if len(g.keyvals) == 0 {
		return keyvals
	}
	return append(append([]any{}, g.keyvals...), keyvals...)
}

func (g *glogLogger) Debug(msg string, keyvals ...any) { g.l.Debug(msg, g.args(keyvals)...) }
func (g *glogLogger) Info(msg string, keyvals ...any)  { g.l.Info(msg, g.args(keyvals)...) }
func (g *glogLogger) Warn(msg string, keyvals ...any)  { g.l.Warn(msg, g.args(keyvals)...) }
func (g *glogLogger) Error(msg string, keyvals ...any) { g.l.Error(msg, g.args(keyvals)...) }

func (g *glogLogger) With(keyvals ...any) Logger {
	if len(keyvals) == 0 {
		return g
	}
	if fl, ok := g.l.(glog.FieldsLogger); ok {
		return &glogLogger{l: fl.WithFields(fieldsOf(keyvals)), keyvals: g.keyvals}
	}
	return &glogLogger{l: g.l, keyvals: g.args(keyvals)}
}

// fieldsOf pairs keyvals into a map. A dangling key maps to nil.
func fieldsOf(keyvals []any) map[string]any {
	fields := make(map[string]any, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		var value any
		if i+1 < len(keyvals) {
			value = keyvals[i+1]
		}
		fields[key] = value
	}
	return fields
}
