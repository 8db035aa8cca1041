package model

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeProvider struct {
	name  string
	calls int
	fn    func(calls int) (*Response, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	f.calls++
	return f.fn(f.calls)
}

func fastFailoverConfig() FailoverConfig {
	cfg := DefaultFailoverConfig()
	cfg.RetryBackoff = time.Millisecond
	cfg.MaxRetryBackoff = 2 * time.Millisecond
	return cfg
}

func serverErr(provider string) error {
	return &ProviderError{Provider: provider, Reason: ReasonServer, Message: "internal server error"}
}

func TestFailoverPrimarySucceeds(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: func(int) (*Response, error) {
		return &Response{Content: "ok", Provider: "primary"}, nil
	}}
	fallback := &fakeProvider{name: "fallback", fn: func(int) (*Response, error) {
		t.Error("fallback should not be called")
		return nil, nil
	}}

	f := NewFailover(fastFailoverConfig(), primary, fallback)
	resp, err := f.Complete(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Provider != "primary" {
		t.Errorf("provider = %q, want primary", resp.Provider)
	}
}

func TestFailoverRetriesTransientThenSucceeds(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: func(calls int) (*Response, error) {
		if calls < 3 {
			return nil, serverErr("primary")
		}
		return &Response{Content: "ok", Provider: "primary"}, nil
	}}

	f := NewFailover(fastFailoverConfig(), primary)
	resp, err := f.Complete(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if primary.calls != 3 {
		t.Errorf("calls = %d, want 3", primary.calls)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestFailoverMovesToFallbackAfterRetryBudget(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: func(int) (*Response, error) {
		return nil, serverErr("primary")
	}}
	fallback := &fakeProvider{name: "fallback", fn: func(int) (*Response, error) {
		return &Response{Content: "ok", Provider: "fallback"}, nil
	}}

	f := NewFailover(fastFailoverConfig(), primary, fallback)
	resp, err := f.Complete(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if primary.calls != 3 {
		t.Errorf("primary calls = %d, want the full retry budget of 3", primary.calls)
	}
	if resp.Provider != "fallback" {
		t.Errorf("provider = %q, want fallback", resp.Provider)
	}
}

func TestFailoverBadRequestStopsImmediately(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: func(int) (*Response, error) {
		return nil, &ProviderError{Provider: "primary", Reason: ReasonBadRequest, Message: "invalid request"}
	}}
	fallback := &fakeProvider{name: "fallback", fn: func(int) (*Response, error) {
		t.Error("bad request must not fail over")
		return nil, nil
	}}

	f := NewFailover(fastFailoverConfig(), primary, fallback)
	_, err := f.Complete(context.Background(), &Request{})
	if err == nil {
		t.Fatal("want error")
	}
	if primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1 for non-retryable error", primary.calls)
	}
	if Reason(err) != ReasonBadRequest {
		t.Errorf("reason = %q, want bad_request", Reason(err))
	}
}

func TestFailoverAuthErrorTriesFallback(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: func(int) (*Response, error) {
		return nil, &ProviderError{Provider: "primary", Reason: ReasonAuth, Message: "invalid api key"}
	}}
	fallback := &fakeProvider{name: "fallback", fn: func(int) (*Response, error) {
		return &Response{Provider: "fallback"}, nil
	}}

	f := NewFailover(fastFailoverConfig(), primary, fallback)
	resp, err := f.Complete(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1; auth errors are not retried in place", primary.calls)
	}
	if resp.Provider != "fallback" {
		t.Errorf("provider = %q, want fallback", resp.Provider)
	}
}

func TestFailoverCircuitOpensAndSkips(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: func(int) (*Response, error) {
		return nil, serverErr("primary")
	}}
	fallback := &fakeProvider{name: "fallback", fn: func(int) (*Response, error) {
		return &Response{Provider: "fallback"}, nil
	}}

	cfg := fastFailoverConfig()
	cfg.CircuitThreshold = 2
	cfg.CircuitTimeout = time.Hour
	f := NewFailover(cfg, primary, fallback)

	for i := 0; i < 2; i++ {
		if _, err := f.Complete(context.Background(), &Request{}); err != nil {
			t.Fatalf("Complete %d: %v", i, err)
		}
	}
	callsBefore := primary.calls

	// Circuit is open now; primary must be skipped entirely.
	resp, err := f.Complete(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if primary.calls != callsBefore {
		t.Errorf("primary called %d more times with open circuit", primary.calls-callsBefore)
	}
	if resp.Provider != "fallback" {
		t.Errorf("provider = %q, want fallback", resp.Provider)
	}
}

func TestFailoverAllProvidersDown(t *testing.T) {
	primary := &fakeProvider{name: "primary", fn: func(int) (*Response, error) {
		return nil, serverErr("primary")
	}}
	fallback := &fakeProvider{name: "fallback", fn: func(int) (*Response, error) {
		return nil, serverErr("fallback")
	}}

	f := NewFailover(fastFailoverConfig(), primary, fallback)
	_, err := f.Complete(context.Background(), &Request{})
	if err == nil {
		t.Fatal("want error when every provider fails")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error %v does not wrap ProviderError", err)
	}
	if pe.Provider != "fallback" {
		t.Errorf("last error from %q, want fallback", pe.Provider)
	}
}

func TestFailoverNoProviders(t *testing.T) {
	f := NewFailover(fastFailoverConfig())
	if _, err := f.Complete(context.Background(), &Request{}); !errors.Is(err, ErrNoProviders) {
		t.Errorf("err = %v, want ErrNoProviders", err)
	}
}

func TestReasonClassification(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorReason
	}{
		{errors.New("429 too many requests"), ReasonRateLimited},
		{errors.New("context deadline exceeded"), ReasonTimeout},
		{errors.New("401 unauthorized"), ReasonAuth},
		{errors.New("503 service unavailable"), ReasonServer},
		{errors.New("invalid request body"), ReasonBadRequest},
		{errors.New("something odd"), ReasonUnknown},
	}
	for _, tc := range cases {
		if got := Reason(tc.err); got != tc.want {
			t.Errorf("Reason(%q) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestProviderErrorWithStatus(t *testing.T) {
	err := NewProviderError("anthropic", "claude-sonnet-4-20250514",
		errors.New("request failed")).WithStatus(429)
	if err.Reason != ReasonRateLimited {
		t.Errorf("reason = %q, want rate_limited", err.Reason)
	}
	if !err.Reason.Retryable() {
		t.Error("rate limited must be retryable")
	}
	if err.WithStatus(400).Reason.Retryable() {
		t.Error("bad request must not be retryable")
	}
}
