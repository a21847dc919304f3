package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/anicoll/bacnet-integration/internal/pkg/model"
	"go.uber.org/zap"
)

type scheduledRegistry interface {
	Enabled() []*model.Device
	Persist() error
}

// Scheduler runs the capability-learning poll over all enabled devices at a
// fixed interval, isolating each device behind its own wall-clock timeout.
type Scheduler struct {
	rw            *ReaderWriter
	registry      scheduledRegistry
	interval      time.Duration
	deviceTimeout time.Duration
	properties    []string
	logger        *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(rw *ReaderWriter, reg scheduledRegistry, interval, deviceTimeout time.Duration, properties []string) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if deviceTimeout <= 0 {
		deviceTimeout = time.Minute
	}
	if len(properties) == 0 {
		properties = []string{"present-value", "status-flags"}
	}
	return &Scheduler{
		rw:            rw,
		registry:      reg,
		interval:      interval,
		deviceTimeout: deviceTimeout,
		properties:    properties,
		logger:        zap.L(),
	}
}

// Start launches the polling loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.logger.Warn("poller already running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.run(ctx, done)
	s.logger.Info("poller started", zap.Duration("interval", s.interval))
}

// Stop cancels the loop and waits for its orderly exit. Safe to call when not
// running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("poller stopped")
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		s.cycle(ctx)
		if ctx.Err() != nil {
			return
		}

		if err := s.registry.Persist(); err != nil {
			s.logger.Error("failed to persist device registry", zap.Error(err))
		}

		timer := time.NewTimer(s.interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// cycle polls a snapshot of the enabled devices. A timeout or error on one
// device is logged and never starves the rest.
func (s *Scheduler) cycle(ctx context.Context) {
	devices := s.registry.Enabled()
	s.logger.Debug("polling enabled devices", zap.Int("devices", len(devices)))

	for _, device := range devices {
		if ctx.Err() != nil {
			return
		}
		deviceCtx, cancel := context.WithTimeout(ctx, s.deviceTimeout)
		err := s.rw.PollDeviceObjects(deviceCtx, device, s.properties)
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded):
			s.logger.Error("timeout polling device", zap.Uint32("device_id", device.ID))
		case errors.Is(err, context.Canceled):
			return
		default:
			s.logger.Error("error polling device", zap.Uint32("device_id", device.ID), zap.Error(err))
		}
	}
}
