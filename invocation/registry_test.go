package invocation

import (
	"context"
	"testing"

	"github.com/plusxp/process-engine-core/core"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register("orders", "reserve", func(_ context.Context, _ core.Identity, params any) (any, error) {
		return map[string]any{"reserved": params}, nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	fn, err := registry.Lookup("orders", "reserve")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	result, err := fn(context.Background(), core.Identity{}, "o-42")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok || m["reserved"] != "o-42" {
		t.Errorf("result = %v, want reserved=o-42", result)
	}
}

func TestRegistryDuplicateRejected(t *testing.T) {
	registry := NewRegistry()
	noop := func(_ context.Context, _ core.Identity, _ any) (any, error) { return nil, nil }

	if err := registry.Register("orders", "reserve", noop); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register("orders", "reserve", noop); err == nil {
		t.Error("duplicate registration succeeded, want error")
	}
}

func TestRegistryLookupUnknown(t *testing.T) {
	registry := NewRegistry()

	if _, err := registry.Lookup("orders", "reserve"); !core.IsConfigurationError(err) {
		t.Errorf("got %v, want configuration error", err)
	}

	noop := func(_ context.Context, _ core.Identity, _ any) (any, error) { return nil, nil }
	if err := registry.Register("orders", "reserve", noop); err != nil {
		t.Fatal(err)
	}
	if _, err := registry.Lookup("orders", "cancel"); !core.IsConfigurationError(err) {
		t.Errorf("got %v, want configuration error", err)
	}
}
