package id

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	gen := NewGenerator()

	prev := gen.Generate()
	for i := 0; i < 100; i++ {
		next := gen.Generate()
		if next.Compare(prev) <= 0 {
			t.Fatalf("ids should increase: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestGenerateWithPrefix(t *testing.T) {
	gen := NewGenerator()

	for _, prefix := range []string{NavigationPrefix, RequestPrefix} {
		id := gen.GenerateWithPrefix(prefix)

		if !strings.HasPrefix(id, prefix+"_") {
			t.Errorf("ID should start with '%s_', got: %s", prefix, id)
		}

		parts := strings.Split(id, "_")
		if len(parts) != 2 {
			t.Fatalf("Prefixed ID should have format 'prefix_ulid', got: %s", id)
		}
		if _, err := Timestamp(id); err != nil {
			t.Errorf("ULID part should be valid: %s (%v)", parts[1], err)
		}
	}
}

func TestNavigationIDTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	nav := NewNavigationID()

	ts, err := Timestamp(nav.String())
	if err != nil {
		t.Fatalf("Timestamp() error = %v", err)
	}
	if ts.Before(before) {
		t.Errorf("timestamp %v should not be before %v", ts, before)
	}
}

func TestTokenShape(t *testing.T) {
	tok := Token()

	if len(tok) != 32 {
		t.Errorf("token should be 32 hex chars, got %d (%s)", len(tok), tok)
	}
	if strings.ContainsAny(tok, "-_ ") {
		t.Errorf("token should be a bare identifier, got %s", tok)
	}
}

func TestTokensDistinct(t *testing.T) {
	toks := Tokens(64)
	seen := make(map[string]bool)
	for _, tok := range toks {
		if seen[tok] {
			t.Fatalf("duplicate token %s", tok)
		}
		seen[tok] = true
	}
}

func TestConcurrentGeneration(t *testing.T) {
	const goroutines = 8
	const perRoutine = 100

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		ids = make(map[string]bool)
	)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perRoutine; j++ {
				nav := NewNavigationID().String()
				mu.Lock()
				ids[nav] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(ids) != goroutines*perRoutine {
		t.Errorf("expected %d unique ids, got %d", goroutines*perRoutine, len(ids))
	}
}
