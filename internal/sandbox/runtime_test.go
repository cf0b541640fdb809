package sandbox

import (
	"context"
	"testing"
	"time"
)

func TestRuntimeExecution(t *testing.T) {
	rt, err := NewRuntime(DefaultConfig())
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}
	defer rt.Close()

	tests := []struct {
		name    string
		script  string
		wantErr bool
	}{
		{"simple expression", "42", false},
		{"math", "Math.sqrt(16)", false},
		{"string ops", "'hello'.toUpperCase()", false},
		{"uncaught throw", "throw new Error('x')", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rt.Execute(context.Background(), tt.script, time.Second)
			if (err != nil) != tt.wantErr {
				t.Errorf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRuntimeSecurity(t *testing.T) {
	rt, err := NewRuntime(DefaultConfig())
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}
	defer rt.Close()

	// Escape hatches are undefined, so touching them throws.
	for _, script := range []string{
		"require('fs')",
		"process.exit(1)",
		"module.exports = {}",
	} {
		if _, err := rt.Execute(context.Background(), script, time.Second); err == nil {
			t.Errorf("script %q ran without error", script)
		}
	}

	// Timers exist but are inert.
	v, err := rt.Execute(context.Background(), "typeof setTimeout", time.Second)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if v.String() != "function" {
		t.Errorf("typeof setTimeout = %s", v.String())
	}
}

func TestRuntimeFieldNameMapping(t *testing.T) {
	rt, err := NewRuntime(DefaultConfig())
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}
	defer rt.Close()

	dom := NewDOM()
	if err := rt.Bind("document", dom); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	// Go methods surface with DOM casing: CreateElement → createElement.
	script := `
		const el = document.createElement('span');
		el.textContent = 'mapped';
		el.tagName
	`
	v, err := rt.Execute(context.Background(), script, time.Second)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if v.String() != "span" {
		t.Errorf("tagName = %q, want span", v.String())
	}
}

func TestRuntimeReset(t *testing.T) {
	rt, err := NewRuntime(DefaultConfig())
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}
	defer rt.Close()

	if _, err := rt.Execute(context.Background(), "var leak = 'state'", time.Second); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if err := rt.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	v, err := rt.Execute(context.Background(), "typeof leak", time.Second)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if v.String() != "undefined" {
		t.Errorf("state leaked across Reset: typeof leak = %s", v.String())
	}
}

func TestPoolAcquireRelease(t *testing.T) {
	pool, err := NewPool(DefaultConfig(), 2)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	rt, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if _, err := rt.Execute(ctx, "1 + 1", time.Second); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if err := pool.Release(rt); err != nil {
		t.Errorf("Release() error = %v", err)
	}

	stats := pool.Stats()
	if stats["available"] != 2 {
		t.Errorf("available = %v, want 2", stats["available"])
	}
}

func TestPoolClosedAcquire(t *testing.T) {
	pool, err := NewPool(DefaultConfig(), 1)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	pool.Close()

	if _, err := pool.Acquire(context.Background()); err != ErrPoolClosed {
		t.Errorf("Acquire() error = %v, want ErrPoolClosed", err)
	}
}
