package service

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebk/draw-bot/internal/domain"
	"github.com/glebk/draw-bot/internal/repository/sqlite"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubResolver struct {
	url string
	err error
}

func (r stubResolver) Resolve(_ context.Context, ref string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.url + ref, nil
}

// firstPicker always picks the first eligible participant
var firstPicker = PickerFunc(func(int) int { return 0 })

func newTestService(t *testing.T, opts ...Option) (*DrawService, *sqlite.Store, *fakeClock) {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "draws.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now), WithPicker(firstPicker)}, opts...)
	svc, err := NewDrawService(store, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store, clock
}

func mustCreate(t *testing.T, svc *DrawService, setup SessionSetup) string {
	t.Helper()

	id, err := svc.CreateSession(context.Background(), setup)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return id
}

func swordSetup() SessionSetup {
	return SessionSetup{
		Names: []string{"A", "B"},
		Items: []domain.Item{{Name: "Sword", CooldownHours: 1}},
	}
}

func TestPerformDrawExhaustsRoster(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newTestService(t)
	id := mustCreate(t, svc, swordSetup())

	first, err := svc.PerformDraw(ctx, id, 0)
	if err != nil {
		t.Fatalf("first draw: %v", err)
	}
	if first.Winner != "A" || first.Item != "Sword" {
		t.Fatalf("first draw = %+v, want A/Sword", first)
	}

	second, err := svc.PerformDraw(ctx, id, 0)
	if err != nil {
		t.Fatalf("second draw: %v", err)
	}
	if second.Winner != "B" {
		t.Fatalf("second winner = %q, want B", second.Winner)
	}

	_, err = svc.PerformDraw(ctx, id, 0)
	if !errors.Is(err, domain.ErrNoAvailableParticipants) {
		t.Fatalf("third draw err = %v, want NO_AVAILABLE_PARTICIPANTS", err)
	}
}

func TestPerformDrawRecordsExactCooldown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, clock := newTestService(t)
	id := mustCreate(t, svc, SessionSetup{
		Names: []string{"A", "B"},
		Items: []domain.Item{{Name: "Potion", CooldownHours: 1.5}},
	})
	start := clock.Now()

	if _, err := svc.PerformDraw(ctx, id, 0); err != nil {
		t.Fatalf("draw: %v", err)
	}

	session, err := svc.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	want := start.Add(90 * time.Minute)
	if got := session.Cooldowns["A"]; !got.Equal(want) {
		t.Fatalf("session cooldown = %v, want %v", got, want)
	}
	if len(session.History) != 1 || !session.History[0].Timestamp.Equal(start) || session.History[0].CooldownHours != 1.5 {
		t.Fatalf("unexpected history: %+v", session.History)
	}

	ledger, err := svc.GlobalCooldowns(ctx)
	if err != nil {
		t.Fatalf("global cooldowns: %v", err)
	}
	if len(ledger) != 1 || !ledger[0].CooldownEnd.Equal(want) {
		t.Fatalf("unexpected ledger: %+v", ledger)
	}

	// One millisecond before the end A is still blocked; at the end A is eligible.
	clock.Advance(90*time.Minute - time.Millisecond)
	statuses, err := svc.Eligibility(ctx, id, 0)
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if statuses[0].Eligible {
		t.Fatal("A should still be cooling down")
	}

	clock.Advance(time.Millisecond)
	statuses, err = svc.Eligibility(ctx, id, 0)
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if !statuses[0].Eligible || !statuses[1].Eligible {
		t.Fatalf("expected everyone eligible at cooldown end: %+v", statuses)
	}
}

func TestLongestCooldownStaysInFuture(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, clock := newTestService(t)
	id := mustCreate(t, svc, SessionSetup{
		Names: []string{"A", "B"},
		Items: []domain.Item{{Name: "Crown", CooldownHours: domain.MaxCooldownHours}},
	})

	for _, want := range []string{"A", "B"} {
		res, err := svc.PerformDraw(ctx, id, 0)
		if err != nil {
			t.Fatalf("draw: %v", err)
		}
		if res.Winner != want {
			t.Fatalf("winner = %q, want %q", res.Winner, want)
		}
	}
	if _, err := svc.PerformDraw(ctx, id, 0); !errors.Is(err, domain.ErrNoAvailableParticipants) {
		t.Fatalf("err = %v, want NO_AVAILABLE_PARTICIPANTS", err)
	}

	session, err := svc.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	want := clock.Now().Add(time.Duration(domain.MaxCooldownHours) * time.Hour)
	if got := session.Cooldowns["A"]; !got.Equal(want) {
		t.Fatalf("cooldown end = %v, want %v", got, want)
	}
}

func TestPerformDrawNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newTestService(t)
	id := mustCreate(t, svc, swordSetup())

	if _, err := svc.PerformDraw(ctx, "missing", 0); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("missing session err = %v", err)
	}
	for _, index := range []int{-1, 1, 10} {
		if _, err := svc.PerformDraw(ctx, id, index); !errors.Is(err, domain.ErrItemNotFound) {
			t.Fatalf("index %d err = %v, want ITEM_NOT_FOUND", index, err)
		}
	}
}

func TestFailedDrawWritesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newTestService(t)
	id := mustCreate(t, svc, swordSetup())

	for i := 0; i < 2; i++ {
		if _, err := svc.PerformDraw(ctx, id, 0); err != nil {
			t.Fatalf("draw %d: %v", i, err)
		}
	}
	if _, err := svc.PerformDraw(ctx, id, 0); err == nil {
		t.Fatal("expected exhausted roster")
	}

	session, err := svc.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(session.History) != 2 {
		t.Fatalf("session history = %d entries, want 2", len(session.History))
	}
	history, err := svc.GlobalHistory(ctx, 0)
	if err != nil {
		t.Fatalf("global history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("global history = %d entries, want 2", len(history))
	}
}

func TestPickerOutOfRangeRollsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newTestService(t, WithPicker(PickerFunc(func(n int) int { return n })))
	id := mustCreate(t, svc, swordSetup())

	if _, err := svc.PerformDraw(ctx, id, 0); err == nil {
		t.Fatal("expected picker range error")
	}
	session, err := svc.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(session.History) != 0 || len(session.Cooldowns) != 0 {
		t.Fatalf("failed draw left state behind: %+v", session)
	}
}

func TestGlobalCooldownSpansSessions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newTestService(t)
	first := mustCreate(t, svc, swordSetup())
	second := mustCreate(t, svc, swordSetup())

	if res, err := svc.PerformDraw(ctx, first, 0); err != nil || res.Winner != "A" {
		t.Fatalf("first session draw = %+v, %v", res, err)
	}

	res, err := svc.PerformDraw(ctx, second, 0)
	if err != nil {
		t.Fatalf("second session draw: %v", err)
	}
	if res.Winner != "B" {
		t.Fatalf("winner = %q, want B because A holds the global Sword cooldown", res.Winner)
	}

	if _, err := svc.PerformDraw(ctx, second, 0); !errors.Is(err, domain.ErrNoAvailableParticipants) {
		t.Fatalf("err = %v, want NO_AVAILABLE_PARTICIPANTS", err)
	}

	history, err := svc.GlobalHistory(ctx, 10)
	if err != nil {
		t.Fatalf("global history: %v", err)
	}
	if len(history) != 2 || history[0].SessionID != second || history[1].SessionID != first {
		t.Fatalf("unexpected global history: %+v", history)
	}
}

func TestLedgerlessModeIsolatesSessions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newTestService(t, WithGlobalLedger(false))
	first := mustCreate(t, svc, swordSetup())
	second := mustCreate(t, svc, swordSetup())

	for _, id := range []string{first, second} {
		res, err := svc.PerformDraw(ctx, id, 0)
		if err != nil {
			t.Fatalf("draw: %v", err)
		}
		if res.Winner != "A" {
			t.Fatalf("winner = %q, want A in every session", res.Winner)
		}
	}

	ledger, err := svc.GlobalCooldowns(ctx)
	if err != nil {
		t.Fatalf("global cooldowns: %v", err)
	}
	if len(ledger) != 0 {
		t.Fatalf("ledger should stay empty, got %+v", ledger)
	}
	history, err := svc.GlobalHistory(ctx, 0)
	if err != nil {
		t.Fatalf("global history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("global history should stay empty, got %+v", history)
	}
}

func TestResetCooldownsKeepsLedgerAndHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newTestService(t)
	id := mustCreate(t, svc, swordSetup())

	if _, err := svc.PerformDraw(ctx, id, 0); err != nil {
		t.Fatalf("draw: %v", err)
	}
	if err := svc.ResetCooldowns(ctx, id); err != nil {
		t.Fatalf("reset: %v", err)
	}

	session, err := svc.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(session.Cooldowns) != 0 {
		t.Fatalf("cooldowns not cleared: %+v", session.Cooldowns)
	}
	if len(session.History) != 1 {
		t.Fatalf("session history = %d, want 1", len(session.History))
	}

	ledger, err := svc.GlobalCooldowns(ctx)
	if err != nil {
		t.Fatalf("global cooldowns: %v", err)
	}
	if len(ledger) != 1 {
		t.Fatalf("ledger = %+v, want one row", ledger)
	}

	// A is still globally blocked, so the next draw picks B.
	res, err := svc.PerformDraw(ctx, id, 0)
	if err != nil {
		t.Fatalf("draw after reset: %v", err)
	}
	if res.Winner != "B" {
		t.Fatalf("winner = %q, want B", res.Winner)
	}

	if err := svc.ResetCooldowns(ctx, "missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("reset missing err = %v", err)
	}
}

func TestCreateSessionRejectsInvalidSetup(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	sword := []domain.Item{{Name: "Sword", CooldownHours: 1}}

	tests := []struct {
		name  string
		setup SessionSetup
	}{
		{"one participant", SessionSetup{Names: []string{"A"}, Items: sword}},
		{"no items", SessionSetup{Names: []string{"A", "B"}}},
		{"blank name", SessionSetup{Names: []string{"A", "  "}, Items: sword}},
		{"duplicate name", SessionSetup{Names: []string{"A", " A"}, Items: sword}},
		{"blank item", SessionSetup{Names: []string{"A", "B"}, Items: []domain.Item{{Name: " ", CooldownHours: 1}}}},
		{"zero cooldown", SessionSetup{Names: []string{"A", "B"}, Items: []domain.Item{{Name: "Sword"}}}},
		{"infinite cooldown", SessionSetup{Names: []string{"A", "B"}, Items: []domain.Item{{Name: "Sword", CooldownHours: math.Inf(1)}}}},
		{"cooldown beyond duration range", SessionSetup{Names: []string{"A", "B"}, Items: []domain.Item{{Name: "Crown", CooldownHours: 1e7}}}},
		{"negative cooldown", SessionSetup{Names: []string{"A", "B"}, Items: []domain.Item{{Name: "Sword", CooldownHours: -2}}}},
		{"audio for stranger", SessionSetup{Names: []string{"A", "B"}, Items: sword, AudioRefs: map[string]string{"C": "c.wav"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateSession(context.Background(), tt.setup)
			if !errors.Is(err, domain.ErrInvalidSetup) {
				t.Fatalf("err = %v, want INVALID_SETUP", err)
			}
		})
	}
}

func TestCreateSessionNormalizesInput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newTestService(t)
	id := mustCreate(t, svc, SessionSetup{
		OwnerID:   "tg:1",
		Names:     []string{" Alice ", "Bob"},
		Items:     []domain.Item{{Name: " Sword ", CooldownHours: 1}, {Name: "Sword", CooldownHours: 2}},
		AudioRefs: map[string]string{"Alice": "alice.wav", "Bob": " "},
	})

	session, err := svc.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.Names[0] != "Alice" || session.Items[0].Name != "Sword" {
		t.Fatalf("input not trimmed: %+v", session)
	}
	if len(session.Items) != 2 {
		t.Fatalf("duplicate item names should be kept, got %+v", session.Items)
	}
	if _, ok := session.AudioRefs.Lookup("Bob"); ok {
		t.Fatal("blank audio ref should be dropped")
	}
	if session.OwnerID != "tg:1" {
		t.Fatalf("owner = %q", session.OwnerID)
	}
}

func TestGlobalHistoryLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, clock := newTestService(t, WithGlobalLedger(true))
	id := mustCreate(t, svc, SessionSetup{
		Names: []string{"A", "B"},
		Items: []domain.Item{{Name: "Coin", CooldownHours: 0.0001}},
	})

	for i := 0; i < 105; i++ {
		if _, err := svc.PerformDraw(ctx, id, 0); err != nil {
			t.Fatalf("draw %d: %v", i, err)
		}
		clock.Advance(time.Second)
	}

	history, err := svc.GlobalHistory(ctx, 0)
	if err != nil {
		t.Fatalf("global history: %v", err)
	}
	if len(history) != DefaultHistoryLimit {
		t.Fatalf("history = %d entries, want %d", len(history), DefaultHistoryLimit)
	}
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp.After(history[i-1].Timestamp) {
			t.Fatalf("history not newest first at %d", i)
		}
	}

	capped, err := svc.GlobalHistory(ctx, 1000)
	if err != nil {
		t.Fatalf("global history: %v", err)
	}
	if len(capped) != 105 {
		t.Fatalf("capped history = %d entries, want 105", len(capped))
	}
}

func TestConcurrentDrawsNeverShareWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newTestService(t, WithPicker(NewRandomPicker(7)))
	first := mustCreate(t, svc, swordSetup())
	second := mustCreate(t, svc, swordSetup())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		failed  int
	)
	for i := 0; i < 8; i++ {
		id := first
		if i%2 == 1 {
			id = second
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := svc.PerformDraw(ctx, id, 0)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !errors.Is(err, domain.ErrNoAvailableParticipants) {
					t.Errorf("unexpected error: %v", err)
				}
				failed++
				return
			}
			winners = append(winners, res.Winner)
		}(id)
	}
	wg.Wait()

	// The global ledger allows each name to win Sword once across both sessions.
	if len(winners) != 2 || failed != 6 {
		t.Fatalf("winners = %v, failed = %d", winners, failed)
	}
	if winners[0] == winners[1] {
		t.Fatalf("same participant won twice: %v", winners)
	}
}

func TestPerformDrawResolvesAudio(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	setup := swordSetup()
	setup.AudioRefs = map[string]string{"A": "a.wav"}

	svc, _, _ := newTestService(t, WithAudioResolver(stubResolver{url: "https://cdn/"}))
	id := mustCreate(t, svc, setup)
	res, err := svc.PerformDraw(ctx, id, 0)
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if res.AudioRef != "https://cdn/a.wav" {
		t.Fatalf("audio = %q", res.AudioRef)
	}

	res, err = svc.PerformDraw(ctx, id, 0)
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if res.AudioRef != "" {
		t.Fatalf("B has no audio, got %q", res.AudioRef)
	}
}

func TestPerformDrawFallsBackToRawAudioRef(t *testing.T) {
	t.Parallel()

	setup := swordSetup()
	setup.AudioRefs = map[string]string{"A": "a.wav"}

	svc, _, _ := newTestService(t, WithAudioResolver(stubResolver{err: errors.New("offline")}))
	id := mustCreate(t, svc, setup)
	res, err := svc.PerformDraw(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("draw must not fail on audio errors: %v", err)
	}
	if res.AudioRef != "a.wav" {
		t.Fatalf("audio = %q, want raw ref", res.AudioRef)
	}
}

func TestEligibilityReportsBothCooldowns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newTestService(t)
	first := mustCreate(t, svc, SessionSetup{
		Names: []string{"A", "B", "C"},
		Items: []domain.Item{{Name: "Sword", CooldownHours: 1}},
	})
	second := mustCreate(t, svc, SessionSetup{
		Names: []string{"A", "B", "C"},
		Items: []domain.Item{{Name: "Sword", CooldownHours: 1}},
	})

	if _, err := svc.PerformDraw(ctx, first, 0); err != nil {
		t.Fatalf("draw: %v", err)
	}

	statuses, err := svc.Eligibility(ctx, first, 0)
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if statuses[0].SessionUntil == nil || statuses[0].GlobalUntil == nil || statuses[0].Eligible {
		t.Fatalf("A should be blocked by both cooldowns: %+v", statuses[0])
	}

	statuses, err = svc.Eligibility(ctx, second, 0)
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if statuses[0].SessionUntil != nil || statuses[0].GlobalUntil == nil || statuses[0].Eligible {
		t.Fatalf("A should be blocked only globally in the second session: %+v", statuses[0])
	}
	if !statuses[1].Eligible || !statuses[2].Eligible {
		t.Fatalf("B and C should be eligible: %+v", statuses)
	}

	if _, err := svc.Eligibility(ctx, first, 5); !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("err = %v, want ITEM_NOT_FOUND", err)
	}
}

func TestOwnedSessions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, clock := newTestService(t)
	setup := swordSetup()
	setup.OwnerID = "tg:1"
	older := mustCreate(t, svc, setup)
	clock.Advance(time.Minute)
	newer := mustCreate(t, svc, setup)

	latest, err := svc.LatestOwnedSession(ctx, "tg:1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.ID != newer {
		t.Fatalf("latest = %+v, want %s", latest, newer)
	}

	if s, err := svc.GetOwnedSession(ctx, older, "tg:2"); err != nil || s != nil {
		t.Fatalf("stranger should not see session: %+v, %v", s, err)
	}

	if err := svc.DeleteSession(ctx, newer, "tg:2"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("delete by stranger err = %v", err)
	}
	if _, err := svc.PerformDraw(ctx, newer, 0); err != nil {
		t.Fatalf("draw: %v", err)
	}
	if err := svc.DeleteSession(ctx, newer, "tg:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.DeleteSession(ctx, newer, "tg:1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("second delete err = %v", err)
	}

	history, err := svc.GlobalHistory(ctx, 0)
	if err != nil {
		t.Fatalf("global history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("global history should survive deletion, got %+v", history)
	}
}

func TestPruneExpiredCooldowns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, clock := newTestService(t)
	id := mustCreate(t, svc, swordSetup())

	if _, err := svc.PerformDraw(ctx, id, 0); err != nil {
		t.Fatalf("draw: %v", err)
	}
	if pruned, err := svc.PruneExpiredCooldowns(ctx); err != nil || pruned != 0 {
		t.Fatalf("pruned = %d, %v before expiry", pruned, err)
	}

	clock.Advance(time.Hour)
	if pruned, err := svc.PruneExpiredCooldowns(ctx); err != nil || pruned != 1 {
		t.Fatalf("pruned = %d, %v after expiry", pruned, err)
	}
}

func TestStartLedgerMaintenanceRejectsBadInterval(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	if _, err := svc.StartLedgerMaintenance(0); err == nil {
		t.Fatal("expected interval error")
	}

	sched, err := svc.StartLedgerMaintenance(time.Hour)
	if err != nil {
		t.Fatalf("start maintenance: %v", err)
	}
	if err := sched.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestRandomPickerStaysInRange(t *testing.T) {
	t.Parallel()

	picker := NewRandomPicker(42)
	seen := map[int]bool{}
	for i := 0; i < 500; i++ {
		n := picker.Pick(3)
		if n < 0 || n >= 3 {
			t.Fatalf("pick out of range: %d", n)
		}
		seen[n] = true
	}
	if len(seen) != 3 {
		t.Fatalf("picker never produced some indices: %v", seen)
	}
}
