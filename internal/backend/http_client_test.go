package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"nestsync/internal/config"
	"nestsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type remoteStub struct {
	mu        sync.Mutex
	records   []models.RemoteRecord
	healthErr bool
	listErr   bool
	lastOp    map[string]any
	lastKey   string
	deleted   []string
}

func (s *remoteStub) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.healthErr {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/api/v1/operations", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.lastKey = r.Header.Get("X-API-Key")
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.lastOp = body
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("/api/v1/records", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			if s.listErr {
				http.Error(w, "list unavailable", http.StatusBadGateway)
				return
			}
			_ = json.NewEncoder(w).Encode(s.records)
		case http.MethodDelete:
			s.deleted = append(s.deleted, r.URL.Query().Get("owner"))
			w.WriteHeader(http.StatusOK)
		}
	})

	mux.HandleFunc("/api/v1/records/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		var rec models.RemoteRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.records = append(s.records, rec)
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func (s *remoteStub) setRecords(records []models.RemoteRecord) {
	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
}

func (s *remoteStub) setListErr(v bool) {
	s.mu.Lock()
	s.listErr = v
	s.mu.Unlock()
}

func newTestClient(t *testing.T, stub *remoteStub, pollMs int) *Client {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	logger := zerolog.New(os.Stdout)
	return NewClient(config.BackendConfig{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		TimeoutSec:     5,
		PollIntervalMs: pollMs,
		WriteRPS:       1000,
		WriteBurst:     100,
	}, &logger)
}

func TestClientWrite(t *testing.T) {
	stub := &remoteStub{}
	client := newTestClient(t, stub, 1000)

	op := &models.QueuedOperation{
		ID:      "op-1",
		Type:    models.OpFeedLog,
		OwnerID: "family-1",
		Payload: `{"amount_ml": 120}`,
	}
	require.NoError(t, client.Write(context.Background(), op))

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, "op-1", stub.lastOp["id"])
	assert.Equal(t, string(models.OpFeedLog), stub.lastOp["type"])
	assert.Equal(t, "test-key", stub.lastKey)
}

func TestClientUpsertAndList(t *testing.T) {
	stub := &remoteStub{}
	client := newTestClient(t, stub, 1000)
	ctx := context.Background()

	rec := &models.RemoteRecord{ID: "r1", OwnerID: "family-1", Type: "recipe", Data: `{}`}
	require.NoError(t, client.Upsert(ctx, rec))

	records, err := client.List(ctx, "family-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "r1", records[0].ID)
}

func TestClientDeleteOwner(t *testing.T) {
	stub := &remoteStub{}
	client := newTestClient(t, stub, 1000)

	require.NoError(t, client.DeleteOwner(context.Background(), "family-1"))

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, []string{"family-1"}, stub.deleted)
}

func TestClientHealth(t *testing.T) {
	stub := &remoteStub{}
	client := newTestClient(t, stub, 1000)
	ctx := context.Background()

	require.NoError(t, client.Health(ctx))

	stub.mu.Lock()
	stub.healthErr = true
	stub.mu.Unlock()
	assert.Error(t, client.Health(ctx))
}

func TestClientErrorIncludesBody(t *testing.T) {
	stub := &remoteStub{listErr: true}
	client := newTestClient(t, stub, 1000)

	_, err := client.List(context.Background(), "family-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "list unavailable")
}

func TestSubscribeDeliversAndDedupes(t *testing.T) {
	stub := &remoteStub{}
	stub.setRecords([]models.RemoteRecord{{ID: "r1", OwnerID: "family-1", Data: `{}`}})
	client := newTestClient(t, stub, 5)

	sub, err := client.Subscribe(context.Background(), "family-1")
	require.NoError(t, err)
	defer sub.Close()

	// First fetch always delivers.
	select {
	case records := <-sub.Updates():
		require.Len(t, records, 1)
		assert.Equal(t, "r1", records[0].ID)
	case <-time.After(time.Second):
		t.Fatal("no initial delivery")
	}

	// Unchanged result set is suppressed.
	select {
	case <-sub.Updates():
		t.Fatal("unchanged snapshot must not be redelivered")
	case <-time.After(50 * time.Millisecond):
	}

	// A change delivers again.
	stub.setRecords([]models.RemoteRecord{
		{ID: "r1", OwnerID: "family-1", Data: `{}`},
		{ID: "r2", OwnerID: "family-1", Data: `{}`},
	})
	select {
	case records := <-sub.Updates():
		assert.Len(t, records, 2)
	case <-time.After(time.Second):
		t.Fatal("changed snapshot not delivered")
	}
}

func TestSubscribeDiesOnError(t *testing.T) {
	stub := &remoteStub{}
	client := newTestClient(t, stub, 5)

	sub, err := client.Subscribe(context.Background(), "family-1")
	require.NoError(t, err)
	defer sub.Close()

	<-sub.Updates()
	stub.setListErr(true)

	select {
	case err := <-sub.Err():
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscription did not surface the error")
	}

	// The stream is dead after its first error.
	select {
	case _, ok := <-sub.Updates():
		assert.False(t, ok, "updates channel closes after the error")
	case <-time.After(time.Second):
		t.Fatal("updates channel did not close")
	}
}
