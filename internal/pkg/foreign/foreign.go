// Package foreign keeps a foreign-device registration alive against a
// broadcast-management relay, renewing before the TTL expires and falling
// back across an ordered chain of registration strategies.
package foreign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anicoll/bacnet-integration/internal/pkg/bacnet"
	"go.uber.org/zap"
)

// State of the registration manager.
type State string

const (
	StateUnregistered  State = "unregistered"
	StateRegistering   State = "registering"
	StateRegistered    State = "registered"
	StateUnregistering State = "unregistering"
)

const minRenewalInterval = 5 * time.Second

// Strategy is one way of delivering a registration request to the relay.
// Strategies are tried in order; the first success wins.
type Strategy interface {
	Name() string
	Register(ctx context.Context, relay string, ttl uint16) error
}

// transportStrategy uses the transport's high-level registration primitive.
type transportStrategy struct {
	transport bacnet.Transport
}

func (s *transportStrategy) Name() string { return "transport-register" }

func (s *transportStrategy) Register(ctx context.Context, relay string, ttl uint16) error {
	return s.transport.RegisterForeignDevice(ctx, relay, ttl)
}

// sapStrategy constructs the registration message and hands it to the
// transport's service access point below the application layer.
type sapStrategy struct {
	transport bacnet.Transport
}

func (s *sapStrategy) Name() string { return "service-access-point" }

func (s *sapStrategy) Register(ctx context.Context, relay string, ttl uint16) error {
	return s.transport.Request(ctx, bacnet.Message{
		Destination: relay,
		Function:    bacnet.BVLCRegisterForeignDevice,
		TTL:         ttl,
	})
}

// rawStrategy encodes the registration datagram by hand and transmits it
// as-is. Last resort.
type rawStrategy struct {
	transport bacnet.Transport
}

func (s *rawStrategy) Name() string { return "raw-datagram" }

func (s *rawStrategy) Register(_ context.Context, relay string, ttl uint16) error {
	return s.transport.SendRaw(relay, bacnet.EncodeRegisterForeignDevice(ttl))
}

// Manager owns the registration session and its renewal task.
type Manager struct {
	strategies []Strategy
	relay      string
	ttl        uint16
	logger     *zap.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager builds a manager with the default strategy chain for the given
// transport.
func NewManager(t bacnet.Transport, relay string, ttl uint16) *Manager {
	return NewManagerWithStrategies(relay, ttl,
		&transportStrategy{transport: t},
		&sapStrategy{transport: t},
		&rawStrategy{transport: t},
	)
}

func NewManagerWithStrategies(relay string, ttl uint16, strategies ...Strategy) *Manager {
	return &Manager{
		strategies: strategies,
		relay:      relay,
		ttl:        ttl,
		logger:     zap.L(),
		state:      StateUnregistered,
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// RenewalInterval is half the requested TTL, floored at five seconds.
func (m *Manager) RenewalInterval() time.Duration {
	interval := time.Duration(m.ttl/2) * time.Second
	if interval < minRenewalInterval {
		interval = minRenewalInterval
	}
	return interval
}

// Start registers with the relay and launches the renewal loop. Calling
// Start on a running manager is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		m.logger.Warn("registration manager already running")
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	if err := m.register(ctx, m.ttl); err != nil {
		// Keep renewing anyway: the relay may come up later.
		m.logger.Error("initial foreign-device registration failed", zap.Error(err))
	}

	go m.renewLoop(loopCtx, done)
	m.logger.Info("foreign-device registration active",
		zap.String("relay", m.relay),
		zap.Uint16("ttl", m.ttl),
		zap.Duration("renewal_interval", m.RenewalInterval()))
	return nil
}

// Stop cancels the renewal loop, waits for its exit and attempts a
// best-effort deregistration with TTL zero. Deregistration failures are
// swallowed.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	m.setState(StateUnregistering)
	if err := m.attempt(ctx, 0); err != nil {
		m.logger.Debug("best-effort deregistration failed", zap.Error(err))
	}
	m.setState(StateUnregistered)
	m.logger.Info("foreign-device registration stopped")
}

// Trigger re-registers immediately, outside the renewal schedule.
func (m *Manager) Trigger(ctx context.Context) error {
	return m.register(ctx, m.ttl)
}

func (m *Manager) register(ctx context.Context, ttl uint16) error {
	m.setState(StateRegistering)
	if err := m.attempt(ctx, ttl); err != nil {
		m.setState(StateUnregistered)
		return err
	}
	m.setState(StateRegistered)
	return nil
}

// attempt walks the strategy chain in order until one delivers the request.
func (m *Manager) attempt(ctx context.Context, ttl uint16) error {
	var errs []error
	for _, strategy := range m.strategies {
		err := strategy.Register(ctx, m.relay, ttl)
		if err == nil {
			m.logger.Debug("registration request delivered",
				zap.String("strategy", strategy.Name()),
				zap.Uint16("ttl", ttl))
			return nil
		}
		if errors.Is(err, bacnet.ErrNotSupported) {
			m.logger.Debug("registration strategy not supported by transport",
				zap.String("strategy", strategy.Name()))
		} else {
			m.logger.Debug("registration strategy failed",
				zap.String("strategy", strategy.Name()),
				zap.Error(err))
		}
		errs = append(errs, fmt.Errorf("%s: %w", strategy.Name(), err))
	}
	return fmt.Errorf("all registration strategies failed: %w", errors.Join(errs...))
}

// renewLoop re-sends the registration at half the TTL for as long as the
// manager runs. Renewal failures do not deregister or stop the loop; the
// next scheduled renewal is simply tried again.
func (m *Manager) renewLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	interval := m.RenewalInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.register(ctx, m.ttl); err != nil {
				m.logger.Error("foreign-device renewal failed", zap.Error(err))
				continue
			}
			m.logger.Debug("foreign-device registration renewed", zap.Uint16("ttl", m.ttl))
		}
	}
}
