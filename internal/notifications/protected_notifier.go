package notifications

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type circuitState string

const (
	stateClosed   circuitState = "closed"
	stateOpen     circuitState = "open"
	stateHalfOpen circuitState = "half_open"
)

// Observer receives one outcome per send attempt.
type Observer interface {
	ObserveNotification(kind, result string)
}

type ProtectedNotifierConfig struct {
	Timeout          time.Duration // hard timeout per send
	FailureThreshold int           // consecutive failures to open circuit
	Cooldown         time.Duration // how long to stay open before half-open
	HalfOpenMaxCalls int           // allow N trial calls in half-open
	Observer         Observer
}

// ProtectedNotifier bounds every send with a timeout and stops calling a
// provider that keeps failing until the cooldown has passed.
type ProtectedNotifier struct {
	inner Notifier
	cfg   ProtectedNotifierConfig
	mu    sync.Mutex
	now   func() time.Time

	state circuitState

	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int
}

func NewProtectedNotifier(inner Notifier, cfg ProtectedNotifierConfig) *ProtectedNotifier {
	//defaults
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	return &ProtectedNotifier{
		inner: inner,
		cfg:   cfg,
		now:   time.Now,
		state: stateClosed,
	}
}

func (n *ProtectedNotifier) SendVerificationEmail(ctx context.Context, input VerificationEmailInput) error {
	return n.call(ctx, KindVerification, func(ctx context.Context) error {
		return n.inner.SendVerificationEmail(ctx, input)
	})
}

func (n *ProtectedNotifier) SendPasswordResetEmail(ctx context.Context, input PasswordResetEmailInput) error {
	return n.call(ctx, KindPasswordReset, func(ctx context.Context) error {
		return n.inner.SendPasswordResetEmail(ctx, input)
	})
}

func (n *ProtectedNotifier) call(ctx context.Context, kind string, send func(context.Context) error) error {
	// fail-fast gate
	if !n.allowRequest() {
		n.observe(kind, "circuit_open")
		return ErrCircuitOpen
	}

	// A caller that goes away must not count against the provider, so the
	// send keeps the caller's values but runs on the breaker's own timeout.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.cfg.Timeout)
	defer cancel()

	err := send(sendCtx)

	n.afterRequest(err)

	if err != nil {
		n.observe(kind, "error")
	} else {
		n.observe(kind, "ok")
	}

	return err
}

func (n *ProtectedNotifier) observe(kind, result string) {
	if n.cfg.Observer != nil {
		n.cfg.Observer.ObserveNotification(kind, result)
	}
}

// State reports the breaker position; exposed for the health endpoint.
func (n *ProtectedNotifier) State() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return string(n.state)
}

func (n *ProtectedNotifier) allowRequest() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case stateClosed:
		return true
	case stateOpen:
		// cooldown has passed? move to half open
		if n.now().Sub(n.openedAt) >= n.cfg.Cooldown {
			n.state = stateHalfOpen
			n.halfOpenInFlight = 1
			return true
		}
		return false
	case stateHalfOpen:
		if n.halfOpenInFlight >= n.cfg.HalfOpenMaxCalls {
			return false
		}
		n.halfOpenInFlight++
		return true

	default:
		return true
	}
}

func (n *ProtectedNotifier) afterRequest(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	// half-open call just finished
	if n.state == stateHalfOpen && n.halfOpenInFlight > 0 {
		n.halfOpenInFlight--
	}

	if err == nil {
		// success => close circuit and reset counters
		n.consecutiveFailures = 0
		n.state = stateClosed
		return
	}

	n.consecutiveFailures++

	// if half-open failed, reopen immediately
	if n.state == stateHalfOpen {
		n.state = stateOpen
		n.openedAt = n.now()
		return
	}

	if n.consecutiveFailures >= n.cfg.FailureThreshold {
		n.state = stateOpen
		n.openedAt = n.now()
	}
}
