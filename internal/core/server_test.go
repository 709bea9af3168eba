package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"obrador/internal/billing"
	"obrador/internal/config"
)

func minimalConfig() *config.Config {
	return &config.Config{
		Environment: "local",
		Service:     "obrador-api",
		Security: config.SecurityConfig{
			CorsAllowedOrigins: []string{"*"},
		},
	}
}

func minimalGate() *Gate {
	catalog := billing.NewStaticCatalog()
	return NewGate(nil, nil, nil, billing.NewResolver(catalog, nil), catalog, testLogger())
}

func TestNewServer_RequiresConfig(t *testing.T) {
	_, err := NewServer(nil, minimalGate(), testLogger())
	if err == nil || !strings.Contains(err.Error(), "config") {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestNewServer_RequiresGate(t *testing.T) {
	_, err := NewServer(minimalConfig(), nil, testLogger())
	if err == nil || !strings.Contains(err.Error(), "gate") {
		t.Errorf("expected gate error, got %v", err)
	}
}

func TestNewServer_RequiresLogger(t *testing.T) {
	_, err := NewServer(minimalConfig(), minimalGate(), nil)
	if err == nil || !strings.Contains(err.Error(), "logger") {
		t.Errorf("expected logger error, got %v", err)
	}
}

func TestNewServer_PreparesRouterAndValidator(t *testing.T) {
	srv, err := NewServer(minimalConfig(), minimalGate(), testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if srv.Router() == nil {
		t.Error("router should be initialized")
	}
	if srv.Validator == nil {
		t.Error("validator should be initialized")
	}
}

func TestShutdown_InvokesCloser(t *testing.T) {
	srv, err := NewServer(minimalConfig(), minimalGate(), testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	closed := false
	srv.OnShutdown(func() error {
		closed = true
		return nil
	})

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !closed {
		t.Error("registered closer should run during shutdown")
	}
}

func TestShutdown_CloserErrorPropagates(t *testing.T) {
	srv, err := NewServer(minimalConfig(), minimalGate(), testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	closeErr := errors.New("pool close failed")
	srv.OnShutdown(func() error { return closeErr })

	if err := srv.Shutdown(context.Background()); !errors.Is(err, closeErr) {
		t.Errorf("expected closer error to propagate, got %v", err)
	}
}

func TestShutdown_NoCloserIsNoop(t *testing.T) {
	srv, err := NewServer(minimalConfig(), minimalGate(), testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown without a closer should succeed, got %v", err)
	}
}
