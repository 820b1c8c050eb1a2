package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

// fakeStrategy authorizes the targets listed in allow; everything else is
// declined without side effects.
type fakeStrategy struct {
	name     string
	allow    map[string]bool
	attempts int
}

func (s *fakeStrategy) Name() string { return s.name }

func (s *fakeStrategy) Authorize(ctx context.Context, target Target) (*Credential, error) {
	s.attempts++
	if s.allow[target.ID] {
		return &Credential{Strategy: s.name, Subject: "principal@" + s.name}, nil
	}
	return nil, errors.New("not authorized")
}

func TestFallbackChainFirstStrategyWins(t *testing.T) {
	ambient := &fakeStrategy{name: "ambient", allow: map[string]bool{"sub-1": true}}
	sp := &fakeStrategy{name: "service-principal", allow: map[string]bool{"sub-1": true}}
	chain := NewFallbackChain([]CredentialStrategy{ambient, sp}, zerolog.Nop())

	cred, err := chain.Authenticate(context.Background(), Target{ID: "sub-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Strategy != "ambient" {
		t.Errorf("expected ambient strategy, got %s", cred.Strategy)
	}
	if sp.attempts != 0 {
		t.Errorf("later strategy must not be attempted after a success, got %d attempts", sp.attempts)
	}
}

func TestFallbackChainFallsThroughInOrder(t *testing.T) {
	ambient := &fakeStrategy{name: "ambient", allow: map[string]bool{}}
	sp := &fakeStrategy{name: "service-principal", allow: map[string]bool{"sub-1": true}}
	chain := NewFallbackChain([]CredentialStrategy{ambient, sp}, zerolog.Nop())

	cred, err := chain.Authenticate(context.Background(), Target{ID: "sub-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Strategy != "service-principal" {
		t.Errorf("expected service-principal fallback, got %s", cred.Strategy)
	}
	if ambient.attempts != 1 {
		t.Errorf("expected ambient to be tried first, got %d attempts", ambient.attempts)
	}
}

func TestFallbackChainExhausted(t *testing.T) {
	ambient := &fakeStrategy{name: "ambient", allow: map[string]bool{}}
	sp := &fakeStrategy{name: "service-principal", allow: map[string]bool{}}
	chain := NewFallbackChain([]CredentialStrategy{ambient, sp}, zerolog.Nop())

	_, err := chain.Authenticate(context.Background(), Target{ID: "sub-1"})
	if err == nil {
		t.Fatal("expected error when every strategy is exhausted")
	}

	var rerr *ReconcileError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *ReconcileError, got %T", err)
	}
	if rerr.Code != ErrCodeNoCredential {
		t.Errorf("expected code %s, got %s", ErrCodeNoCredential, rerr.Code)
	}
	if rerr.Class != ErrorClassPermanent {
		t.Errorf("expected permanent class, got %s", rerr.Class)
	}
}

func TestFallbackChainEmpty(t *testing.T) {
	chain := NewFallbackChain(nil, zerolog.Nop())

	_, err := chain.Authenticate(context.Background(), Target{ID: "sub-1"})
	if err == nil {
		t.Fatal("expected error for empty chain")
	}
}
