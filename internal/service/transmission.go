// internal/service/transmission.go
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"freakble/internal/model"
)

// Sender is the outbound half of a link
type Sender interface {
	Send(ctx context.Context, frame model.Frame) error
}

// Clock suspends the transmission loop between sends
type Clock interface {
	// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// RealClock returns a Clock backed by timers
func RealClock() Clock {
	return realClock{}
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TransmissionLoop emits one fixed frame once or at a fixed cadence
type TransmissionLoop struct {
	sender Sender
	frame  model.Frame
	policy model.LoopPolicy
	clock  Clock
	logger *zap.Logger
	sent   int
}

// NewTransmissionLoop creates a new transmission loop
func NewTransmissionLoop(sender Sender, frame model.Frame, policy model.LoopPolicy, clock Clock, logger *zap.Logger) *TransmissionLoop {
	if clock == nil {
		clock = RealClock()
	}
	return &TransmissionLoop{
		sender: sender,
		frame:  frame,
		policy: policy,
		clock:  clock,
		logger: logger,
	}
}

// Step performs one send and, when repeating, the pause that follows it
func (tl *TransmissionLoop) Step(ctx context.Context) (model.Outcome, error) {
	if ctx.Err() != nil {
		return model.OutcomeStopRequested, nil
	}

	if err := tl.sender.Send(ctx, tl.frame); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return model.OutcomeStopRequested, nil
		}
		return model.OutcomeStopRequested, err
	}
	tl.sent++

	if !tl.policy.Repeat {
		return model.OutcomeStopAfterOneShot, nil
	}

	if err := tl.clock.Sleep(ctx, tl.policy.Interval); err != nil {
		return model.OutcomeStopRequested, nil
	}
	return model.OutcomeContinue, nil
}

// Run steps until the loop completes, is cancelled or a send fails
func (tl *TransmissionLoop) Run(ctx context.Context) (model.Outcome, error) {
	for {
		outcome, err := tl.Step(ctx)
		if err != nil || outcome != model.OutcomeContinue {
			tl.logger.Debug("Transmission loop finished",
				zap.Stringer("outcome", outcome),
				zap.Int("sent", tl.sent),
				zap.Error(err),
			)
			return outcome, err
		}
	}
}

// Sent returns the number of frames written so far
func (tl *TransmissionLoop) Sent() int {
	return tl.sent
}
