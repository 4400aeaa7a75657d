package registry

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

// fakeStore records lifecycle calls and can be told to fail.
type fakeStore struct {
	mu sync.Mutex

	ids      map[string]int64
	fail     bool
	resolves int
	onlines  int
	offlines int
	lastName string
}

func newFakeStore() *fakeStore {
	return &fakeStore{ids: make(map[string]int64)}
}

func (f *fakeStore) ResolveServerID(_ context.Context, ip string, port uint16) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, errors.New("database offline")
	}
	f.resolves++
	return f.ids[(&GameServer{IP: ip, QueryPort: port}).Key()], nil
}

func (f *fakeStore) MarkOnline(_ context.Context, id int64, _ uint16, name string, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("database offline")
	}
	f.onlines++
	f.lastName = name
	return nil
}

func (f *fakeStore) MarkOffline(_ context.Context, id int64, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("database offline")
	}
	f.offlines++
	return nil
}

func testRecord(ip string) GameServer {
	return GameServer{
		IP:         ip,
		QueryPort:  29900,
		GamePort:   16567,
		Hostname:   "server " + ip,
		NumPlayers: 4,
		MaxPlayers: 64,
	}
}

func TestSnapshotOnlyValidated(t *testing.T) {
	reg := New(nil, nil)
	ctx := context.Background()

	reg.Upsert(testRecord("1.1.1.1"))
	reg.Upsert(testRecord("2.2.2.2"))
	reg.MarkValidated(ctx, "1.1.1.1", 29900)

	snap := reg.Snapshot()
	if len(snap) != 1 || snap[0].IP != "1.1.1.1" {
		t.Fatalf("snapshot = %+v, want only validated 1.1.1.1", snap)
	}

	total, validated := reg.Count()
	if total != 2 || validated != 1 {
		t.Fatalf("Count() = (%d, %d), want (2, 1)", total, validated)
	}
}

func TestUpsertPreservesLifecycleState(t *testing.T) {
	reg := New(nil, nil)
	ctx := context.Background()

	reg.Upsert(testRecord("1.1.1.1"))
	reg.MarkValidated(ctx, "1.1.1.1", 29900)

	update := testRecord("1.1.1.1")
	update.NumPlayers = 17
	reg.Upsert(update)

	got, ok := reg.Get("1.1.1.1", 29900)
	if !ok {
		t.Fatal("record disappeared on upsert")
	}
	if !got.IsValidated {
		t.Error("upsert cleared validation state")
	}
	if got.NumPlayers != 17 {
		t.Errorf("NumPlayers = %d, want 17", got.NumPlayers)
	}
}

func TestLastRefreshedMonotonic(t *testing.T) {
	reg := New(nil, nil)

	reg.Upsert(testRecord("1.1.1.1"))
	first, _ := reg.Get("1.1.1.1", 29900)

	reg.Touch("1.1.1.1", 29900)
	reg.Upsert(testRecord("1.1.1.1"))
	second, _ := reg.Get("1.1.1.1", 29900)

	if second.LastRefreshed.Before(first.LastRefreshed) {
		t.Fatal("lastRefreshed went backwards")
	}
}

func TestMarkOnlineResolvesLazily(t *testing.T) {
	store := newFakeStore()
	store.ids["1.1.1.1:29900"] = 42
	reg := New(store, nil)
	ctx := context.Background()

	reg.Upsert(testRecord("1.1.1.1"))
	reg.MarkValidated(ctx, "1.1.1.1", 29900)
	reg.MarkOnline(ctx, "1.1.1.1", 29900)
	reg.MarkOnline(ctx, "1.1.1.1", 29900)

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.resolves != 1 {
		t.Errorf("resolves = %d, want 1 (resolution is remembered)", store.resolves)
	}
	if store.onlines != 1 {
		t.Errorf("onlines = %d, want 1 (unchanged attributes skip the write)", store.onlines)
	}
}

func TestMarkOnlineWritesAgainWhenAttributesChange(t *testing.T) {
	store := newFakeStore()
	store.ids["1.1.1.1:29900"] = 42
	reg := New(store, nil)
	ctx := context.Background()

	reg.Upsert(testRecord("1.1.1.1"))
	reg.MarkValidated(ctx, "1.1.1.1", 29900)

	update := testRecord("1.1.1.1")
	update.NumPlayers = 30
	reg.Upsert(update)
	reg.MarkOnline(ctx, "1.1.1.1", 29900)

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.onlines != 2 {
		t.Errorf("onlines = %d, want 2", store.onlines)
	}
}

func TestMarkOnlineUnknownServerNeverWrites(t *testing.T) {
	store := newFakeStore() // resolves to id 0
	reg := New(store, nil)
	ctx := context.Background()

	reg.Upsert(testRecord("1.1.1.1"))
	reg.MarkValidated(ctx, "1.1.1.1", 29900)
	reg.MarkOnline(ctx, "1.1.1.1", 29900)

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.onlines != 0 {
		t.Errorf("onlines = %d, want 0 (unknown servers are never inserted)", store.onlines)
	}
}

func TestDatabaseFailureDoesNotEvict(t *testing.T) {
	store := newFakeStore()
	store.fail = true
	reg := New(store, nil)
	ctx := context.Background()

	reg.Upsert(testRecord("1.1.1.1"))
	reg.MarkValidated(ctx, "1.1.1.1", 29900)

	// The database is offline, but the server stays queryable.
	snap := reg.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot = %+v, want the server to survive a database failure", snap)
	}
}

func TestEvictStale(t *testing.T) {
	reg := New(nil, nil)
	ctx := context.Background()

	reg.Upsert(testRecord("1.1.1.1"))
	reg.MarkValidated(ctx, "1.1.1.1", 29900)

	if n := reg.EvictStale(ctx, time.Hour); n != 0 {
		t.Fatalf("EvictStale(1h) evicted %d fresh servers", n)
	}
	if n := reg.EvictStale(ctx, -time.Second); n != 1 {
		t.Fatalf("EvictStale(-1s) = %d, want 1", n)
	}
	if total, _ := reg.Count(); total != 0 {
		t.Fatalf("registry still holds %d servers after eviction", total)
	}
}

func TestRemove(t *testing.T) {
	reg := New(nil, nil)
	ctx := context.Background()

	reg.Upsert(testRecord("1.1.1.1"))
	if _, ok := reg.Remove(ctx, "1.1.1.1", 29900); !ok {
		t.Fatal("Remove failed for a present record")
	}
	if _, ok := reg.Remove(ctx, "1.1.1.1", 29900); ok {
		t.Fatal("Remove succeeded twice")
	}
}

func TestAttrDigestStable(t *testing.T) {
	a := testRecord("1.1.1.1")
	b := testRecord("1.1.1.1")
	if a.AttrDigest() != b.AttrDigest() {
		t.Fatal("identical records produced different digests")
	}
	b.MapName = "gulf_of_oman"
	if a.AttrDigest() == b.AttrDigest() {
		t.Fatal("different records produced the same digest")
	}
}

func TestSchemaLookup(t *testing.T) {
	f, ok := LookupField("HOSTNAME")
	if !ok || f.Name != "hostname" {
		t.Fatal("lookup is not case-insensitive")
	}
	if _, ok := LookupField("databaseid"); ok {
		t.Fatal("databaseid must not be part of the schema")
	}
	f, ok = LookupField("bf2_sponsortext")
	if !ok || f.Filterable {
		t.Fatal("bf2_sponsortext must be present but not filterable")
	}
}

func TestRenderField(t *testing.T) {
	s := testRecord("1.1.1.1")
	s.Ranked = true
	if got := RenderField(&s, "bf2_ranked"); got != "1" {
		t.Errorf("bf2_ranked = %q, want 1", got)
	}
	if got := RenderField(&s, "numplayers"); got != "4" {
		t.Errorf("numplayers = %q, want 4", got)
	}
	if got := RenderField(&s, "bogus"); got != "" {
		t.Errorf("unknown field = %q, want empty", got)
	}
}

func TestFilterableNamesLongestFirst(t *testing.T) {
	names := FilterableNames()
	for i := 1; i < len(names); i++ {
		if len(names[i]) > len(names[i-1]) {
			t.Fatalf("names not sorted longest-first: %q after %q", names[i], names[i-1])
		}
	}
}
