// internal/service/relay_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"freakble/internal/discovery"
	"freakble/internal/model"
	"freakble/internal/protocol"
	"freakble/internal/repl"
	"freakble/internal/utils"
)

// LinkFactory creates an unconnected link to address on adapter
type LinkFactory func(adapter, address string) protocol.Link

// SendRequest describes one send invocation
type SendRequest struct {
	Adapter        string
	Device         string
	Text           string
	Policy         model.LoopPolicy
	ConnectTimeout time.Duration
	// OnReceive, when set, receives inbound frames for the duration of the send
	OnReceive protocol.ReceiveFunc
}

// SendResult reports how a send invocation ended
type SendResult struct {
	Sent    int           `json:"sent"`
	Outcome model.Outcome `json:"outcome"`
}

// SessionRequest describes one interactive session
type SessionRequest struct {
	Adapter        string
	Device         string
	ConnectTimeout time.Duration
	Console        repl.Console
	Commands       *repl.CommandModel
}

// ScanRequest describes one discovery pass
type ScanRequest struct {
	Adapter     string
	Timeout     time.Duration
	ServiceUUID string
}

// task is the body run against a connected link
type task func(ctx context.Context, link protocol.Link) (model.Outcome, error)

// RelayService orchestrates scans, sends and sessions over links it creates
type RelayService struct {
	newLink LinkFactory
	scanner *discovery.Scanner
	clock   Clock
	logger  *utils.ServiceLogger
}

// NewRelayService creates a new relay service instance
func NewRelayService(newLink LinkFactory, scanner *discovery.Scanner, clock Clock, logger *zap.Logger) *RelayService {
	if clock == nil {
		clock = RealClock()
	}
	return &RelayService{
		newLink: newLink,
		scanner: scanner,
		clock:   clock,
		logger:  utils.NewServiceLogger(logger, "relay-service"),
	}
}

// Scan returns the devices seen during one bounded discovery pass
func (rs *RelayService) Scan(ctx context.Context, req ScanRequest) ([]model.DeviceHandle, error) {
	if rs.scanner == nil {
		return nil, fmt.Errorf("%w: no scanner configured", model.ErrAdapter)
	}

	opLogger := utils.NewOperationLogger(rs.logger.Logger, "scan", uuid.New().String())
	opLogger.Start(zap.String("adapter", req.Adapter), zap.Duration("timeout", req.Timeout))

	devices, err := rs.scanner.Scan(ctx, req.Adapter, req.Timeout, req.ServiceUUID)
	if err != nil {
		opLogger.Error(err)
		return nil, err
	}

	opLogger.Success(zap.Int("devices_found", len(devices)))
	return devices, nil
}

// SendText connects to the device and transmits the text once or repeatedly
func (rs *RelayService) SendText(ctx context.Context, req SendRequest) (*SendResult, error) {
	result := &SendResult{}

	outcome, err := rs.withLink(ctx, "send", req.Adapter, req.Device, req.ConnectTimeout,
		func(ctx context.Context, link protocol.Link) (model.Outcome, error) {
			if req.OnReceive != nil {
				link.SetReceiveCallback(req.OnReceive)
				if err := link.StartNotifications(); err != nil {
					return model.OutcomeStopRequested, err
				}
			}

			loop := NewTransmissionLoop(link, model.Frame(req.Text), req.Policy, rs.clock, rs.logger.Logger)
			outcome, err := loop.Run(ctx)
			result.Sent = loop.Sent()
			return outcome, err
		})

	result.Outcome = outcome
	return result, err
}

// RunSession connects to the device and runs an interactive session on the console
func (rs *RelayService) RunSession(ctx context.Context, req SessionRequest) (model.Outcome, error) {
	return rs.withLink(ctx, "session", req.Adapter, req.Device, req.ConnectTimeout,
		func(ctx context.Context, link protocol.Link) (model.Outcome, error) {
			session := repl.NewSession(link, req.Console, req.Commands, rs.logger.Logger)
			if err := link.StartNotifications(); err != nil {
				return model.OutcomeStopRequested, err
			}
			return session.Run(ctx)
		})
}

// withLink runs body against a fresh link. Disconnect runs exactly once on every path
// and its error joins the body's.
func (rs *RelayService) withLink(ctx context.Context, op, adapter, address string, timeout time.Duration, body task) (outcome model.Outcome, err error) {
	link := rs.newLink(adapter, address)

	opLogger := utils.NewOperationLogger(rs.logger.Logger, op, uuid.New().String())
	opLogger.Start(zap.String("adapter", adapter), zap.String("device", address))

	outcome = model.OutcomeStopRequested
	defer func() {
		err = multierr.Append(err, link.Disconnect())
		if err != nil {
			opLogger.Error(err, zap.Stringer("outcome", outcome))
			return
		}
		opLogger.Success(zap.Stringer("outcome", outcome))
	}()

	if err = link.Connect(ctx, timeout); err != nil {
		if errors.Is(err, context.Canceled) {
			return outcome, nil
		}
		return outcome, err
	}

	return rs.runConcurrently(ctx, link, body)
}

// runConcurrently runs body alongside a watcher for unsolicited disconnects. Whichever
// finishes first cancels the other.
func (rs *RelayService) runConcurrently(ctx context.Context, link protocol.Link, body task) (model.Outcome, error) {
	g, gctx := errgroup.WithContext(ctx)
	taskCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	outcome := model.OutcomeStopRequested
	g.Go(func() error {
		defer cancel()
		out, err := body(taskCtx, link)
		outcome = out
		return err
	})
	g.Go(func() error {
		err := link.WaitUntilDisconnected(taskCtx)
		if err != nil && taskCtx.Err() != nil && errors.Is(err, taskCtx.Err()) {
			return nil
		}
		cancel()
		return err
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if errors.Is(err, model.ErrLinkLost) {
		rs.logger.Warn("Link lost during operation", zap.Error(err))
	}
	return outcome, err
}
