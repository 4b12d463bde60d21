// Copyright 2025 Certen Protocol

package epoch

import "testing"

func TestRegistryRegisterFirstBecomesActive(t *testing.T) {
	r := NewRegistry()
	o1 := NewStaticOracle(1, nil)
	o2 := NewStaticOracle(2, nil)

	if err := r.Register("static", o1); err != nil {
		t.Fatalf("Register(static): %v", err)
	}
	if err := r.Register("l1-scanner", o2); err != nil {
		t.Fatalf("Register(l1-scanner): %v", err)
	}

	active, err := r.Active()
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active != o1 {
		t.Fatalf("expected first-registered oracle to be active by default")
	}
}

func TestRegistryRejectsDuplicateSource(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("static", NewStaticOracle(1, nil)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("static", NewStaticOracle(1, nil)); err == nil {
		t.Fatalf("expected error re-registering an existing source")
	}
}

func TestRegistrySetActiveSwitchesBackend(t *testing.T) {
	r := NewRegistry()
	o1 := NewStaticOracle(1, nil)
	o2 := NewStaticOracle(2, nil)
	r.Register("static", o1)
	r.Register("l1-scanner", o2)

	if err := r.SetActive("l1-scanner"); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	active, err := r.Active()
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active != o2 {
		t.Fatalf("expected l1-scanner oracle to be active after SetActive")
	}
}

func TestRegistrySetActiveRejectsUnregisteredSource(t *testing.T) {
	r := NewRegistry()
	if err := r.SetActive("missing"); err == nil {
		t.Fatalf("expected error activating an unregistered source")
	}
}

func TestRegistryGetUnknownSource(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("missing"); err == nil {
		t.Fatalf("expected error looking up an unregistered source")
	}
}

func TestRegistrySourcesListsAllRegistered(t *testing.T) {
	r := NewRegistry()
	r.Register("static", NewStaticOracle(1, nil))
	r.Register("l1-scanner", NewStaticOracle(2, nil))

	sources := r.Sources()
	if len(sources) != 2 {
		t.Fatalf("Sources() = %v, want 2 entries", sources)
	}
}
