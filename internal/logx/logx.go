// Package logx provides the silent default logger shared by all gv
// components. Logging is passed by dependency: constructors accept a
// *slog.Logger and fall back to the nop logger when given nil.
package logx

import (
	"context"
	"log/slog"
)

// nopHandler is a slog.Handler that silently discards all records.
// Enabled returns false so callers skip message formatting entirely,
// making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var nop = slog.New(nopHandler{})

// Nop returns a logger that discards all output.
func Nop() *slog.Logger { return nop }

// Or returns l if non-nil, the nop logger otherwise.
func Or(l *slog.Logger) *slog.Logger {
	if l == nil {
		return nop
	}
	return l
}
