package model

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/crew/internal/retry"
)

// FailoverConfig configures the failover router.
type FailoverConfig struct {
	// MaxRetries is the per-provider retry budget for transient failures.
	MaxRetries int

	// RetryBackoff is the initial backoff between retries.
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the backoff growth.
	MaxRetryBackoff time.Duration

	// CircuitThreshold is the consecutive failure count that opens a
	// provider's circuit.
	CircuitThreshold int

	// CircuitTimeout is how long an open circuit rejects before the
	// provider is probed again.
	CircuitTimeout time.Duration

	Logger *slog.Logger
}

// DefaultFailoverConfig returns production failover settings.
func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{
		MaxRetries:       3,
		RetryBackoff:     200 * time.Millisecond,
		MaxRetryBackoff:  5 * time.Second,
		CircuitThreshold: 3,
		CircuitTimeout:   30 * time.Second,
		Logger:           slog.Default(),
	}
}

// ErrNoProviders means every configured provider was tried or unavailable.
var ErrNoProviders = errors.New("no available model providers")

type providerState struct {
	failures      int
	circuitOpenAt time.Time
	circuitOpen   bool
}

func (s *providerState) available(timeout time.Duration, now time.Time) bool {
	if !s.circuitOpen {
		return true
	}
	return now.Sub(s.circuitOpenAt) > timeout
}

// Failover routes completions to an ordered provider list. Each provider
// gets a bounded retry budget for transient errors before the next one is
// tried; repeated failures open a per-provider circuit.
type Failover struct {
	cfg    FailoverConfig
	logger *slog.Logger

	mu        sync.RWMutex
	providers []Provider
	states    map[string]*providerState
}

// NewFailover creates a failover router over an ordered provider list. The
// first provider is primary.
func NewFailover(cfg FailoverConfig, providers ...Provider) *Failover {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.MaxRetryBackoff <= 0 {
		cfg.MaxRetryBackoff = 5 * time.Second
	}
	if cfg.CircuitThreshold <= 0 {
		cfg.CircuitThreshold = 3
	}
	if cfg.CircuitTimeout <= 0 {
		cfg.CircuitTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Failover{
		cfg:       cfg,
		logger:    cfg.Logger,
		providers: providers,
		states:    map[string]*providerState{},
	}
}

// AddProvider appends a fallback provider.
func (f *Failover) AddProvider(p Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers = append(f.providers, p)
}

func (f *Failover) Name() string { return "failover" }

// Complete tries each available provider in order.
func (f *Failover) Complete(ctx context.Context, req *Request) (*Response, error) {
	f.mu.RLock()
	providers := make([]Provider, len(f.providers))
	copy(providers, f.providers)
	f.mu.RUnlock()

	if len(providers) == 0 {
		return nil, ErrNoProviders
	}

	var lastErr error
	for i, provider := range providers {
		if !f.providerAvailable(provider.Name()) {
			continue
		}

		resp, err := f.tryProvider(ctx, provider, req)
		if err == nil {
			f.recordSuccess(provider.Name())
			return resp, nil
		}
		lastErr = err
		f.recordFailure(provider.Name())

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !Reason(err).FailoverEligible() {
			return nil, err
		}
		if i < len(providers)-1 {
			f.logger.Warn("model provider failed over",
				"from", provider.Name(), "to", providers[i+1].Name(),
				"reason", Reason(err), "error", err)
		}
	}

	if lastErr == nil {
		return nil, ErrNoProviders
	}
	return nil, lastErr
}

func (f *Failover) tryProvider(ctx context.Context, provider Provider, req *Request) (*Response, error) {
	var resp *Response
	result := retry.Do(ctx, retry.Config{
		MaxAttempts:  f.cfg.MaxRetries,
		InitialDelay: f.cfg.RetryBackoff,
		MaxDelay:     f.cfg.MaxRetryBackoff,
		Factor:       2,
		Jitter:       true,
	}, func() error {
		var err error
		resp, err = provider.Complete(ctx, req)
		if err != nil && !Reason(err).Retryable() {
			return retry.Permanent(err)
		}
		return err
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return resp, nil
}

func (f *Failover) providerAvailable(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	state, ok := f.states[name]
	if !ok {
		return true
	}
	return state.available(f.cfg.CircuitTimeout, time.Now())
}

func (f *Failover) recordSuccess(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state, ok := f.states[name]; ok {
		state.failures = 0
		state.circuitOpen = false
	}
}

func (f *Failover) recordFailure(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[name]
	if !ok {
		state = &providerState{}
		f.states[name] = state
	}
	state.failures++
	if state.failures >= f.cfg.CircuitThreshold && !state.circuitOpen {
		state.circuitOpen = true
		state.circuitOpenAt = time.Now()
		f.logger.Warn("model provider circuit opened",
			"provider", name, "failures", state.failures)
	}
}
