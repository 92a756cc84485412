// Package mail sends task files to recipients. The only sender is a simulation
// that logs the message and waits a fixed delay.
package mail

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shipline/internal/domain"
	"shipline/internal/logging"
)

type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Message struct {
	To          string       `json:"to"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// DefaultDelay mirrors the latency of a real provider round trip.
const DefaultDelay = 500 * time.Millisecond

// LogSender logs each message and resolves after Delay unless ctx ends first.
type LogSender struct {
	Logger *zap.Logger
	Delay  time.Duration
}

func NewLogSender(logger *zap.Logger, delay time.Duration) LogSender {
	return LogSender{Logger: logging.OrNop(logger), Delay: delay}
}

// CheckAddress rejects anything that is not a bare address.
func CheckAddress(addr string) error {
	if err := domain.ValidateVar(addr, "required,email"); err != nil {
		return fmt.Errorf("email address %q: %w", addr, err)
	}
	return nil
}

func (s LogSender) Send(ctx context.Context, msg Message) error {
	if err := CheckAddress(msg.To); err != nil {
		return err
	}
	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("send to %s: %w", msg.To, ctx.Err())
		case <-t.C:
		}
	}
	names := make([]string, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		names = append(names, a.Name)
	}
	logging.OrNop(s.Logger).Info("email sent",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Strings("attachments", names))
	return nil
}
