package probe

import (
	"context"
	"testing"
)

func TestStatic(t *testing.T) {
	if err := Static(true, "").Check(context.Background()); err != nil {
		t.Fatalf("Static(true) = %v, want nil", err)
	}

	err := Static(false, "no limiter").Check(context.Background())
	if err == nil || err.Error() != "no limiter" {
		t.Fatalf("Static(false) = %v, want 'no limiter'", err)
	}

	if err := Static(false, "").Check(context.Background()); err == nil || err.Error() != "unhealthy" {
		t.Fatalf("Static(false, empty reason) = %v, want 'unhealthy'", err)
	}
}

func TestAll(t *testing.T) {
	ok := Static(true, "")
	bad := Static(false, "down")

	if err := All(ok, ok).Check(context.Background()); err != nil {
		t.Fatalf("All(ok, ok) = %v", err)
	}
	if err := All(ok, bad).Check(context.Background()); err == nil {
		t.Fatal("All(ok, bad) passed")
	}
	if err := All(nil, ok, nil).Check(context.Background()); err != nil {
		t.Fatalf("All with nil probes = %v", err)
	}
	if err := All().Check(context.Background()); err != nil {
		t.Fatalf("All() = %v, want nil", err)
	}
}

func TestAny(t *testing.T) {
	ok := Static(true, "")
	bad := Static(false, "down")

	if err := Any(bad, ok).Check(context.Background()); err != nil {
		t.Fatalf("Any(bad, ok) = %v", err)
	}
	if err := Any(bad, bad).Check(context.Background()); err == nil {
		t.Fatal("Any(bad, bad) passed")
	}
	if err := Any().Check(context.Background()); err == nil {
		t.Fatal("Any() with no probes should fail")
	}
}

func TestShutdownGate(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()

	if err := p.Check(context.Background()); err != nil {
		t.Fatalf("open gate = %v", err)
	}

	g.Set("draining for deploy")
	err := p.Check(context.Background())
	if err == nil || err.Error() != "draining for deploy" {
		t.Fatalf("closed gate = %v", err)
	}

	g.Set("")
	if err := p.Check(context.Background()); err == nil || err.Error() != "draining" {
		t.Fatalf("closed gate default reason = %v", err)
	}

	g.Clear()
	if err := p.Check(context.Background()); err != nil {
		t.Fatalf("cleared gate = %v", err)
	}
}
