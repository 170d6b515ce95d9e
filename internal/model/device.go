// internal/model/device.go
package model

import (
	"bytes"
	"time"
	"unicode"
)

// DeviceHandle identifies a discovered or operator-supplied device
type DeviceHandle struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	RSSI    int    `json:"rssi"`
}

// Frame is one discrete UTF-8 text payload exchanged over the link
type Frame []byte

// String returns the frame as text
func (f Frame) String() string {
	return string(f)
}

// TrimFrame strips trailing whitespace and control characters from an inbound payload.
// The returned frame is a copy; data is never modified.
func TrimFrame(data []byte) Frame {
	trimmed := bytes.TrimRightFunc(data, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	})

	frame := make(Frame, len(trimmed))
	copy(frame, trimmed)
	return frame
}

// LoopPolicy drives how many times a transmission loop sends its frame
type LoopPolicy struct {
	Repeat   bool          `json:"repeat"`
	Interval time.Duration `json:"interval"`
}

// SingleShot returns a policy that sends exactly once
func SingleShot() LoopPolicy {
	return LoopPolicy{}
}

// RepeatEvery returns a policy that sends forever, sleeping interval between sends
func RepeatEvery(interval time.Duration) LoopPolicy {
	if interval < 0 {
		interval = 0
	}
	return LoopPolicy{Repeat: true, Interval: interval}
}

// Outcome is the result of one loop or session step
type Outcome int

const (
	// OutcomeContinue asks the caller to schedule another step
	OutcomeContinue Outcome = iota
	// OutcomeStopRequested reports an external stop (cancellation, end of input, interrupt)
	OutcomeStopRequested
	// OutcomeStopAfterOneShot reports that a single-shot policy has done its one send
	OutcomeStopAfterOneShot
)

// String returns a log-friendly name
func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeStopRequested:
		return "stop_requested"
	case OutcomeStopAfterOneShot:
		return "stop_after_one_shot"
	default:
		return "unknown"
	}
}
