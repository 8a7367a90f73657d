package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/turflads/crazy-bids-sub000/go/internal/store"
)

type fakeRepo struct {
	mu   sync.Mutex
	docs map[store.Kind]json.RawMessage
	err  error
	puts int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{docs: make(map[store.Kind]json.RawMessage)}
}

func (r *fakeRepo) GetDocument(_ context.Context, kind store.Kind) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.docs[kind], nil
}

func (r *fakeRepo) PutDocument(_ context.Context, kind store.Kind, doc json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.puts++
	r.docs[kind] = doc
	return nil
}

func TestStorePutThenGet(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	st := store.New(repo)

	doc := json.RawMessage(`{"current_bid":2000000}`)
	if err := st.Put(ctx, store.KindAuction, doc); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := st.Get(ctx, store.KindAuction)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != string(doc) {
		t.Errorf("Get() = %s, want %s", got, doc)
	}
	if repo.puts != 1 {
		t.Errorf("repository puts = %d, want 1", repo.puts)
	}
}

func TestStoreGetAbsent(t *testing.T) {
	st := store.New(newFakeRepo())
	got, err := st.Get(context.Background(), store.KindTeams)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %s, want nil", got)
	}
}

func TestStoreColdCacheLoadsFromRepository(t *testing.T) {
	repo := newFakeRepo()
	repo.docs[store.KindTeams] = json.RawMessage(`{"teams":{}}`)
	st := store.New(repo)

	got, err := st.Get(context.Background(), store.KindTeams)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `{"teams":{}}` {
		t.Errorf("Get() = %s, want repository document", got)
	}
}

func TestStorePersistenceFailureLeavesCacheUntouched(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	st := store.New(repo)

	first := json.RawMessage(`{"current_bid":1}`)
	if err := st.Put(ctx, store.KindAuction, first); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	repo.err = errors.New("connection refused")
	if err := st.Put(ctx, store.KindAuction, json.RawMessage(`{"current_bid":2}`)); err == nil {
		t.Fatal("Put() error = nil, want persistence error")
	}

	got, err := st.Get(ctx, store.KindAuction)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != string(first) {
		t.Errorf("cache = %s, want unchanged %s", got, first)
	}
}

func TestStoreDegradedModeWithoutRepository(t *testing.T) {
	ctx := context.Background()
	st := store.New(nil)
	if st.Persistent() {
		t.Error("Persistent() = true, want false")
	}

	doc := json.RawMessage(`{"teams":{"X":{}}}`)
	if err := st.Put(ctx, store.KindTeams, doc); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := st.Get(ctx, store.KindTeams)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != string(doc) {
		t.Errorf("Get() = %s, want %s", got, doc)
	}
}

func TestStoreRefresh(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	st := store.New(repo)

	stale := json.RawMessage(`{"current_bid":1}`)
	if err := st.Put(ctx, store.KindAuction, stale); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Another process replaces the document behind our back.
	fresh := json.RawMessage(`{"current_bid":9}`)
	repo.mu.Lock()
	repo.docs[store.KindAuction] = fresh
	repo.mu.Unlock()

	got, err := st.Refresh(ctx, store.KindAuction)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if string(got) != string(fresh) {
		t.Errorf("Refresh() = %s, want %s", got, fresh)
	}
	cached, _ := st.Get(ctx, store.KindAuction)
	if string(cached) != string(fresh) {
		t.Errorf("cache after refresh = %s, want %s", cached, fresh)
	}
}

func TestKindFromString(t *testing.T) {
	if kind, ok := store.KindFromString("auction"); !ok || kind != store.KindAuction {
		t.Errorf("KindFromString(auction) = %v, %v", kind, ok)
	}
	if _, ok := store.KindFromString("chat_message"); ok {
		t.Error("KindFromString(chat_message) accepted, want rejected")
	}
}
