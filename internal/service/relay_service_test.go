package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"freakble/internal/discovery"
	"freakble/internal/model"
	"freakble/internal/protocol"
	"freakble/internal/protocol/prototest"
)

const testDevice = "AA:BB:CC:DD:EE:FF"

// countingLink wraps a link and counts Disconnect calls
type countingLink struct {
	protocol.Link
	mu          sync.Mutex
	disconnects int
}

func (l *countingLink) Disconnect() error {
	l.mu.Lock()
	l.disconnects++
	l.mu.Unlock()
	return l.Link.Disconnect()
}

func (l *countingLink) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disconnects
}

type harness struct {
	radio *prototest.Radio
	links []*countingLink
	svc   *RelayService
}

func newHarness(radio *prototest.Radio, clock Clock) *harness {
	h := &harness{radio: radio}
	factory := func(adapter, address string) protocol.Link {
		l := &countingLink{Link: protocol.NewLinkClient(radio, adapter, address, protocol.LinkOptions{}, zap.NewNop())}
		h.links = append(h.links, l)
		return l
	}
	h.svc = NewRelayService(factory, nil, clock, zap.NewNop())
	return h
}

func TestSendTextSingleShot(t *testing.T) {
	h := newHarness(prototest.NewRadio(), nil)

	result, err := h.svc.SendText(context.Background(), SendRequest{
		Adapter:        "hci0",
		Device:         testDevice,
		Text:           "hello",
		Policy:         model.SingleShot(),
		ConnectTimeout: time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, model.OutcomeStopAfterOneShot, result.Outcome)
	assert.Equal(t, []string{"hello"}, h.radio.Peripheral.Writes())
	require.Len(t, h.links, 1)
	assert.Equal(t, 1, h.links[0].count())
	assert.Equal(t, 1, h.radio.Peripheral.Closes())
}

func TestSendTextKeepsWhitespace(t *testing.T) {
	h := newHarness(prototest.NewRadio(), nil)

	_, err := h.svc.SendText(context.Background(), SendRequest{
		Device: testDevice, Text: "  spaced  ", Policy: model.SingleShot(), ConnectTimeout: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"  spaced  "}, h.radio.Peripheral.Writes())
}

func TestSendTextEmptyMessage(t *testing.T) {
	h := newHarness(prototest.NewRadio(), nil)

	result, err := h.svc.SendText(context.Background(), SendRequest{
		Device: testDevice, Text: "", Policy: model.SingleShot(), ConnectTimeout: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, []string{""}, h.radio.Peripheral.Writes())
}

func TestSendTextMissingNotifyCharacteristic(t *testing.T) {
	radio := &prototest.Radio{Peripheral: prototest.NewPeripheral(prototest.RXChar)}
	h := newHarness(radio, nil)

	_, err := h.svc.SendText(context.Background(), SendRequest{
		Device: testDevice, Text: "hello", Policy: model.SingleShot(), ConnectTimeout: time.Second,
	})
	assert.ErrorIs(t, err, model.ErrCharacteristicNotFound)
	assert.Empty(t, radio.Peripheral.Writes())
	assert.Equal(t, 1, h.links[0].count())
	assert.Equal(t, 1, radio.Peripheral.Closes())
}

func TestSendTextDeviceNotFound(t *testing.T) {
	radio := prototest.NewRadio()
	radio.BlockResolve = true
	h := newHarness(radio, nil)

	_, err := h.svc.SendText(context.Background(), SendRequest{
		Device: testDevice, Text: "hello", Policy: model.SingleShot(), ConnectTimeout: 10 * time.Millisecond,
	})
	assert.ErrorIs(t, err, model.ErrDeviceNotFound)
	assert.Equal(t, 1, h.links[0].count())
	assert.Equal(t, 0, radio.Peripheral.Closes())
}

func TestSendTextLoopCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := &timeline{}
	clock := &fakeClock{log: log, cancel: cancel, after: 3}
	h := newHarness(prototest.NewRadio(), clock)

	result, err := h.svc.SendText(ctx, SendRequest{
		Device: testDevice, Text: "beacon", Policy: model.RepeatEvery(time.Second), ConnectTimeout: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeStopRequested, result.Outcome)
	assert.Equal(t, 3, result.Sent)
	assert.Len(t, h.radio.Peripheral.Writes(), 3)
	assert.Equal(t, 1, h.links[0].count())
}

func TestSendTextWithReceiver(t *testing.T) {
	radio := prototest.NewRadio()
	h := newHarness(radio, nil)

	var got []string
	_, err := h.svc.SendText(context.Background(), SendRequest{
		Device: testDevice, Text: "!bat", Policy: model.SingleShot(), ConnectTimeout: time.Second,
		OnReceive: func(f model.Frame) { got = append(got, f.String()) },
	})
	require.NoError(t, err)

	_, _, subscribes, unsubscribes := radio.Peripheral.Counts()
	assert.Equal(t, 1, subscribes)
	assert.Equal(t, 1, unsubscribes)
	assert.Empty(t, got)
}

func TestSendTextWriteErrorStillDisconnects(t *testing.T) {
	radio := prototest.NewRadio()
	radio.Peripheral.WriteErr = errors.New("att error")
	h := newHarness(radio, nil)

	_, err := h.svc.SendText(context.Background(), SendRequest{
		Device: testDevice, Text: "x", Policy: model.SingleShot(), ConnectTimeout: time.Second,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "att error")
	assert.Equal(t, 1, h.links[0].count())
	assert.Equal(t, 1, radio.Peripheral.Closes())
}

// blockingClock parks the loop until released
type blockingClock struct{ release chan struct{} }

func (c blockingClock) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.release:
		return nil
	}
}

func TestSendTextLinkLost(t *testing.T) {
	radio := prototest.NewRadio()
	h := newHarness(radio, blockingClock{release: make(chan struct{})})

	go func() {
		for len(radio.Peripheral.Writes()) == 0 {
			time.Sleep(time.Millisecond)
		}
		radio.Peripheral.Drop()
	}()

	result, err := h.svc.SendText(context.Background(), SendRequest{
		Device: testDevice, Text: "ping", Policy: model.RepeatEvery(time.Hour), ConnectTimeout: time.Second,
	})
	assert.ErrorIs(t, err, model.ErrLinkLost)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, h.links[0].count())
	assert.Equal(t, 1, radio.Peripheral.Closes())
}

// lineConsole feeds fixed lines then reports end of input
type lineConsole struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineConsole) Readline() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lines) == 0 {
		return "", io.EOF
	}
	line := c.lines[0]
	c.lines = c.lines[1:]
	return line, nil
}

func (c *lineConsole) Stdout() io.Writer { return io.Discard }
func (c *lineConsole) Close() error      { return nil }

func TestRunSession(t *testing.T) {
	radio := prototest.NewRadio()
	h := newHarness(radio, nil)

	outcome, err := h.svc.RunSession(context.Background(), SessionRequest{
		Adapter:        "hci0",
		Device:         testDevice,
		ConnectTimeout: time.Second,
		Console:        &lineConsole{lines: []string{"!bw 125000", "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeStopRequested, outcome)
	assert.Equal(t, []string{"!bw 125000", "hello"}, radio.Peripheral.Writes())

	_, closes, subscribes, _ := radio.Peripheral.Counts()
	assert.Equal(t, 1, subscribes)
	assert.Equal(t, 1, closes)
	assert.Equal(t, 1, h.links[0].count())
}

func TestRunSessionConnectCancelled(t *testing.T) {
	radio := prototest.NewRadio()
	radio.BlockResolve = true
	h := newHarness(radio, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := h.svc.RunSession(ctx, SessionRequest{
		Device: testDevice, ConnectTimeout: time.Second, Console: &lineConsole{},
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeStopRequested, outcome)
	assert.Equal(t, 1, h.links[0].count())
}

func TestSendTextInterruptedDuringLookup(t *testing.T) {
	radio := prototest.NewRadio()
	radio.BlockResolve = true
	radio.NotFoundOnDone = true
	h := newHarness(radio, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(20*time.Millisecond, cancel)

	result, err := h.svc.SendText(ctx, SendRequest{
		Device: testDevice, Text: "hello", Policy: model.SingleShot(), ConnectTimeout: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeStopRequested, result.Outcome)
	assert.Equal(t, 0, result.Sent)
	assert.Equal(t, 1, h.links[0].count())
}

type staticAdvertiser struct{ reports []discovery.Advertisement }

func (a staticAdvertiser) GetScannerType() string { return "static" }

func (a staticAdvertiser) Advertise(ctx context.Context, adapter string, emit func(discovery.Advertisement)) error {
	for _, r := range a.reports {
		emit(r)
	}
	return nil
}

func TestScan(t *testing.T) {
	scanner := discovery.NewScanner(staticAdvertiser{reports: []discovery.Advertisement{
		{Address: "01", Name: "a", RSSI: -40},
		{Address: "02", Name: "b", RSSI: -50},
		{Address: "01", Name: "a", RSSI: -45},
	}}, zap.NewNop())
	svc := NewRelayService(nil, scanner, nil, zap.NewNop())

	devices, err := svc.Scan(context.Background(), ScanRequest{Adapter: "hci0", Timeout: time.Second})
	require.NoError(t, err)
	require.Len(t, devices, 2)
	for _, d := range devices {
		assert.NotEmpty(t, d.Address)
	}
	assert.Equal(t, -45, devices[0].RSSI)
}

func TestScanWithoutScanner(t *testing.T) {
	svc := NewRelayService(nil, nil, nil, zap.NewNop())

	_, err := svc.Scan(context.Background(), ScanRequest{Adapter: "hci0", Timeout: time.Second})
	assert.ErrorIs(t, err, model.ErrAdapter)
}
