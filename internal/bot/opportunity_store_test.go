package bot

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"
)

// fakeClock - управляемый источник времени
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(clock *fakeClock, ttl time.Duration, capacity int) *OpportunityStore {
	return NewOpportunityStore(StoreConfig{TTL: ttl, Capacity: capacity, Now: clock.Now})
}

func symbols(s *OpportunityStore) []string {
	snap := s.Snapshot()
	out := make([]string, len(snap))
	for i, o := range snap {
		out[i] = o.PairSymbol
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOpportunityStore_EvictsLowestScore(t *testing.T) {
	s := newTestStore(newFakeClock(), time.Minute, 2)

	s.Upsert("A", 1, 1)
	s.Upsert("B", 2, 1)
	evicted, ok := s.Upsert("C", 3, 1)

	if !ok || evicted != "A" {
		t.Errorf("Upsert(C) evicted = %q, %v; want A, true", evicted, ok)
	}
	if got := symbols(s); !equalStrings(got, []string{"C", "B"}) {
		t.Errorf("Snapshot() = %v, want [C B]", got)
	}
	if s.Size() != 2 {
		t.Errorf("Size() = %d, want 2", s.Size())
	}
}

func TestOpportunityStore_RejectsNonFiniteScore(t *testing.T) {
	s := newTestStore(newFakeClock(), time.Minute, 2)

	s.Upsert("A", 1, 1)
	if evicted, ok := s.Upsert("X", math.Inf(1), 0); ok || evicted != "" {
		t.Errorf("Upsert(Inf*0) = %q, %v; want nothing evicted", evicted, ok)
	}
	if _, ok := s.Upsert("Y", math.NaN(), 5); ok {
		t.Error("Upsert(NaN) evicted an entry")
	}
	s.Upsert("B", 2, 1)
	s.Upsert("C", 3, 1)

	// верхние два score сохраняются
	if got := symbols(s); !equalStrings(got, []string{"C", "B"}) {
		t.Errorf("Snapshot() = %v, want [C B]", got)
	}
	if _, ok := s.Get("X"); ok {
		t.Error("entry with non-finite score was stored")
	}
}

func TestOpportunityStore_ScoreIsSpreadTimesLiquidity(t *testing.T) {
	s := newTestStore(newFakeClock(), time.Minute, 10)
	s.Upsert("WETH/USDC", 25, 4000)

	opp, ok := s.Get("WETH/USDC")
	if !ok {
		t.Fatal("Get() returned false")
	}
	if opp.Score != 100000 {
		t.Errorf("Score = %v, want 100000", opp.Score)
	}
}

func TestOpportunityStore_TTLExpiry(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, time.Second, 10)

	s.Upsert("A", 10, 10)
	clock.Advance(999 * time.Millisecond)
	if s.Size() != 1 {
		t.Fatalf("Size() before expiry = %d, want 1", s.Size())
	}

	clock.Advance(2 * time.Millisecond)
	if s.Size() != 0 {
		t.Errorf("Size() after 1001ms = %d, want 0", s.Size())
	}
	if len(s.Snapshot()) != 0 {
		t.Error("Snapshot() should be empty after expiry")
	}
}

func TestOpportunityStore_ExpiryAtBoundary(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, time.Second, 10)
	s.Upsert("A", 1, 1)

	if removed := s.Prune(clock.Now().Add(time.Second)); removed != 1 {
		t.Errorf("Prune(expiresAt) removed %d, want 1", removed)
	}
}

func TestOpportunityStore_PruneRemovesExpiredBelowRoot(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, 10*time.Second, 10)

	s.Upsert("HIGH", 10, 1) // истекает в t+10s, не корень
	clock.Advance(5 * time.Second)
	s.Upsert("LOW", 1, 1) // корень, истекает в t+15s

	clock.Advance(5 * time.Second)
	if got := symbols(s); !equalStrings(got, []string{"LOW"}) {
		t.Errorf("Snapshot() = %v, want [LOW]", got)
	}
}

func TestOpportunityStore_TieBreakBySequence(t *testing.T) {
	s := newTestStore(newFakeClock(), time.Minute, 2)

	s.Upsert("A", 1, 1)
	s.Upsert("B", 1, 1)
	if got := symbols(s); !equalStrings(got, []string{"B", "A"}) {
		t.Errorf("Snapshot() = %v, want [B A] (older listed last)", got)
	}

	evicted, ok := s.Upsert("C", 1, 1)
	if !ok || evicted != "A" {
		t.Errorf("evicted = %q, want A (least recently updated)", evicted)
	}
}

func TestOpportunityStore_UpdateInPlace(t *testing.T) {
	s := newTestStore(newFakeClock(), time.Minute, 2)

	s.Upsert("A", 1, 1)
	s.Upsert("B", 2, 1)
	if _, ok := s.Upsert("A", 10, 1); ok {
		t.Error("updating existing symbol must not evict")
	}
	if s.Size() != 2 {
		t.Errorf("Size() = %d, want 2", s.Size())
	}

	evicted, _ := s.Upsert("C", 5, 1)
	if evicted != "B" {
		t.Errorf("evicted = %q, want B", evicted)
	}
	if got := symbols(s); !equalStrings(got, []string{"A", "C"}) {
		t.Errorf("Snapshot() = %v, want [A C]", got)
	}
}

func TestOpportunityStore_UpdateRefreshesTTL(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, time.Second, 10)

	s.Upsert("A", 1, 1)
	clock.Advance(800 * time.Millisecond)
	s.Upsert("A", 1, 1)
	clock.Advance(800 * time.Millisecond)

	if s.Size() != 1 {
		t.Errorf("Size() = %d, want 1 after refresh", s.Size())
	}
}

func TestOpportunityStore_OnEvict(t *testing.T) {
	var evicted []string
	s := NewOpportunityStore(StoreConfig{
		TTL:      time.Minute,
		Capacity: 1,
		Now:      newFakeClock().Now,
		OnEvict:  func(sym string) { evicted = append(evicted, sym) },
	})

	s.Upsert("A", 1, 1)
	s.Upsert("B", 2, 1)
	if !equalStrings(evicted, []string{"A"}) {
		t.Errorf("OnEvict calls = %v, want [A]", evicted)
	}
}

func TestOpportunityStore_Defaults(t *testing.T) {
	s := NewOpportunityStore(StoreConfig{})
	if s.TTL() != DefaultOpportunityTTL {
		t.Errorf("TTL() = %v, want %v", s.TTL(), DefaultOpportunityTTL)
	}
	if s.Capacity() != DefaultOpportunityCapacity {
		t.Errorf("Capacity() = %d, want %d", s.Capacity(), DefaultOpportunityCapacity)
	}
}

func TestOpportunityStore_Clear(t *testing.T) {
	s := newTestStore(newFakeClock(), time.Minute, 10)
	s.Upsert("A", 1, 1)
	s.Upsert("B", 1, 1)
	s.Clear()

	if s.Size() != 0 {
		t.Errorf("Size() after Clear = %d, want 0", s.Size())
	}
	if _, ok := s.Get("A"); ok {
		t.Error("Get(A) after Clear should be false")
	}
}

func TestOpportunityStore_HeapInvariantUnderChurn(t *testing.T) {
	s := newTestStore(newFakeClock(), time.Minute, 8)
	syms := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L"}

	for round := 0; round < 5; round++ {
		for i, sym := range syms {
			s.Upsert(sym, float64((i*7+round*3)%11), 1)
		}
	}

	snap := s.Snapshot()
	if len(snap) != 8 {
		t.Fatalf("len(Snapshot()) = %d, want 8", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i].Score > snap[i-1].Score {
			t.Fatalf("Snapshot not sorted by score: %v", snap)
		}
	}
	for i := range s.heap {
		if s.index[s.heap[i].opp.PairSymbol] != i {
			t.Fatalf("index out of sync at %d", i)
		}
	}
}

func TestOpportunityStore_StartStop(t *testing.T) {
	s := NewOpportunityStore(StoreConfig{TTL: 10 * time.Millisecond, Capacity: 10})
	s.Upsert("A", 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Start(ctx) // повторный вызов - no-op

	deadline := time.Now().Add(time.Second)
	for {
		s.mu.Lock()
		n := len(s.heap)
		s.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("background pruner did not remove expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Stop()
	s.Stop() // идемпотентен
}

func TestOpportunityStore_StopsOnContextCancel(t *testing.T) {
	s := NewOpportunityStore(StoreConfig{TTL: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() blocked after context cancel")
	}
}

func BenchmarkOpportunityStore_Upsert(b *testing.B) {
	s := NewOpportunityStore(StoreConfig{TTL: time.Minute, Capacity: 100})
	syms := make([]string, 200)
	for i := range syms {
		syms[i] = "PAIR" + string(rune('A'+i%26)) + string(rune('a'+i/26))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Upsert(syms[i%len(syms)], float64(i%97), 1)
	}
}
