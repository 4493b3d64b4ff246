// Package speech turns assistant replies into spoken audio.
//
// The Sink interface decouples session logic from the synthesis
// backend: production uses ElevenLabs, tests and keyless deployments
// use the logging no-op sink.
package speech

import (
	"context"
	"log/slog"
)

// Sink delivers spoken output to the user.
type Sink interface {
	// Speak synthesizes and delivers text.
	Speak(ctx context.Context, text string) error
	// Verify checks that the sink is usable. Session start calls this
	// before a session goes active.
	Verify(ctx context.Context) error
}

// Noop logs spoken text instead of synthesizing it. Used when no
// speech API key is configured.
type Noop struct {
	logger *slog.Logger
}

// NewNoop creates a logging sink.
func NewNoop(logger *slog.Logger) *Noop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Noop{logger: logger}
}

func (n *Noop) Speak(_ context.Context, text string) error {
	n.logger.Info("speak", "text", text)
	return nil
}

func (n *Noop) Verify(_ context.Context) error { return nil }
