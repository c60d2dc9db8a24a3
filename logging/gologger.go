package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/gologger/formatter"
	"github.com/projectdiscovery/gologger/levels"
)

// GologgerLogger writes CLI-style lines through gologger.
type GologgerLogger struct {
	l *gologger.Logger
	// min drops events below it; gologger's own max level cannot express
	// warn, since it ranks Info below Warning.
	min   slog.Level
	attrs []any
}

// NewGologgerLogger returns a gologger-backed logger writing uncolored lines
// to w.
func NewGologgerLogger(w io.Writer, level slog.Level) *GologgerLogger {
	l := &gologger.Logger{}
	l.SetMaxLevel(gologgerLevel(level))
	l.SetFormatter(formatter.NewCLI(true))
	l.SetWriter(&lineWriter{w: w})
	return &GologgerLogger{l: l, min: level}
}

// gologgerLevel is the outer bound passed to gologger. Its levels run
// Fatal, Silent, Error, Info, Warning, Debug, so anything up to warn needs
// LevelWarning and the finer filtering happens in enabled.
func gologgerLevel(level slog.Level) levels.Level {
	switch {
	case level <= slog.LevelDebug:
		return levels.LevelDebug
	case level <= slog.LevelWarn:
		return levels.LevelWarning
	default:
		return levels.LevelError
	}
}

func (g *GologgerLogger) enabled(level slog.Level) bool {
	return level >= g.min
}

func (g *GologgerLogger) Debug(_ context.Context, msg string, args ...any) {
	if g.enabled(slog.LevelDebug) {
		g.emit(g.l.Debug(), msg, args)
	}
}

func (g *GologgerLogger) Info(_ context.Context, msg string, args ...any) {
	if g.enabled(slog.LevelInfo) {
		g.emit(g.l.Info(), msg, args)
	}
}

func (g *GologgerLogger) Warn(_ context.Context, msg string, args ...any) {
	if g.enabled(slog.LevelWarn) {
		g.emit(g.l.Warning(), msg, args)
	}
}

func (g *GologgerLogger) Error(_ context.Context, msg string, args ...any) {
	if g.enabled(slog.LevelError) {
		g.emit(g.l.Error(), msg, args)
	}
}

func (g *GologgerLogger) With(args ...any) Logger {
	attrs := make([]any, 0, len(g.attrs)+len(args))
	attrs = append(attrs, g.attrs...)
	attrs = append(attrs, args...)
	return &GologgerLogger{l: g.l, min: g.min, attrs: attrs}
}

func (g *GologgerLogger) emit(e *gologger.Event, msg string, args []any) {
	for _, kv := range [][]any{g.attrs, args} {
		for i := 0; i < len(kv); i += 2 {
			if i+1 == len(kv) {
				e = e.Str("!BADKEY", fmt.Sprint(kv[i]))
				break
			}
			e = e.Str(fmt.Sprint(kv[i]), fmt.Sprint(kv[i+1]))
		}
	}
	e.Msg(msg)
}

// lineWriter adapts an io.Writer to gologger's writer interface.
type lineWriter struct {
	w io.Writer
}

func (lw *lineWriter) Write(data []byte, _ levels.Level) {
	_, _ = lw.w.Write(append(data, '\n'))
}
