// Package notifier delivers liveness/alert messages. Delivery is
// fire-and-forget: a failed send is logged and never escalated to fail
// the orchestrator's own run.
package notifier

import "context"

type Format int

const (
	FormatPlain Format = iota
	FormatMarkdown
)

type Notifier interface {
	Notify(ctx context.Context, msg string, format Format)
}

// Nop drops every message. Used when no channel is configured.
type Nop struct{}

func (Nop) Notify(context.Context, string, Format) {}
