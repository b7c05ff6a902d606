// Package console is a logger backend writing human-readable output to
// stderr via charmbracelet/log.
package console

import (
	"os"

	"github.com/charmbracelet/log"
)

type Console struct {
	l *log.Logger
}

type Params struct {
	// Debug lowers the level so Debug lines are emitted.
	Debug bool
	// Prefix tags every line, useful when server and worker share a tty.
	Prefix string
}

func New(params Params) *Console {
	level := log.InfoLevel
	if params.Debug {
		level = log.DebugLevel
	}
	return &Console{
		l: log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			Level:           level,
			Prefix:          params.Prefix,
		}),
	}
}

func (c *Console) Log(message string, keyvals ...any) {
	c.l.Print(message, keyvals...)
}

func (c *Console) Debug(message string, keyvals ...any) {
	c.l.Debug(message, keyvals...)
}

func (c *Console) Info(message string, keyvals ...any) {
	c.l.Info(message, keyvals...)
}

func (c *Console) Warn(message string, keyvals ...any) {
	c.l.Warn(message, keyvals...)
}

func (c *Console) Error(message string, keyvals ...any) {
	c.l.Error(message, keyvals...)
}

func (c *Console) Fatal(message string, keyvals ...any) {
	c.l.Fatal(message, keyvals...)
}
