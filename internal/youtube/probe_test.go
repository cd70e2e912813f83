// SPDX-License-Identifier: MIT

package youtube

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a minimal Live Streaming API double.
type fakeAPI struct {
	mu          sync.Mutex
	broadcasts  map[string][]map[string]any // by broadcastStatus filter
	streams     map[string]map[string]any
	transitions []string
	failWith    int
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/liveBroadcasts", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failWith != 0 {
			http.Error(w, "backend exploded", f.failWith)
			return
		}
		status := r.URL.Query().Get("broadcastStatus")
		items := f.broadcasts[status]
		if items == nil {
			items = []map[string]any{}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	})
	mux.HandleFunc("/liveBroadcasts/transition", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.transitions = append(f.transitions,
			r.URL.Query().Get("id")+"->"+r.URL.Query().Get("broadcastStatus"))
		_ = json.NewEncoder(w).Encode(map[string]any{})
	})
	mux.HandleFunc("/liveStreams", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := r.URL.Query().Get("id")
		items := []map[string]any{}
		if s, ok := f.streams[id]; ok {
			items = append(items, s)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	})
	return mux
}

func broadcastItem(id, lifecycle, streamID string) map[string]any {
	return map[string]any{
		"id":             id,
		"status":         map[string]any{"lifeCycleStatus": lifecycle},
		"contentDetails": map[string]any{"boundStreamId": streamID},
	}
}

func streamItem(id, status string) map[string]any {
	return map[string]any{
		"id": id,
		"status": map[string]any{
			"streamStatus": status,
			"healthStatus": map[string]any{"status": "good"},
		},
	}
}

func newFakeClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	return NewClientWithHTTP(srv.Client(), srv.URL)
}

func TestEnsureBroadcastOK(t *testing.T) {
	api := &fakeAPI{
		broadcasts: map[string][]map[string]any{
			"active": {broadcastItem("b1", "live", "s1")},
		},
		streams: map[string]map[string]any{"s1": streamItem("s1", "active")},
	}
	client := newFakeClient(t, api)

	cat, detail := EnsureBroadcast(context.Background(), client, "s1")
	assert.Equal(t, CategoryOK, cat)
	assert.Contains(t, detail, "b1")
}

func TestEnsureBroadcastNoBroadcast(t *testing.T) {
	api := &fakeAPI{broadcasts: map[string][]map[string]any{}}
	client := newFakeClient(t, api)

	cat, _ := EnsureBroadcast(context.Background(), client, "s1")
	assert.Equal(t, CategoryNoBroadcast, cat)
}

func TestEnsureBroadcastWrongBinding(t *testing.T) {
	api := &fakeAPI{
		broadcasts: map[string][]map[string]any{
			"upcoming": {broadcastItem("b1", "ready", "other-stream")},
		},
		streams: map[string]map[string]any{},
	}
	client := newFakeClient(t, api)

	cat, _ := EnsureBroadcast(context.Background(), client, "s1")
	assert.Equal(t, CategoryWrongBinding, cat)
}

func TestEnsureBroadcastAPIError(t *testing.T) {
	api := &fakeAPI{failWith: http.StatusForbidden}
	client := newFakeClient(t, api)

	cat, detail := EnsureBroadcast(context.Background(), client, "s1")
	assert.Equal(t, CategoryAPIError, cat)
	assert.Contains(t, detail, "403")
}

func TestRecoveryProbeTransitionsBestCandidate(t *testing.T) {
	api := &fakeAPI{
		broadcasts: map[string][]map[string]any{
			"active":   {broadcastItem("b-testing", "testing", "s1")},
			"upcoming": {broadcastItem("b-sched", "scheduled", "s1")},
		},
		streams: map[string]map[string]any{"s1": streamItem("s1", "active")},
	}
	client := newFakeClient(t, api)

	probe := NewRecoveryProbe(client, "s1")
	probe.Run(context.Background())

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.transitions, 1)
	assert.Equal(t, "b-testing->live", api.transitions[0])
}

func TestRecoveryProbeNoEligibleBroadcast(t *testing.T) {
	api := &fakeAPI{
		broadcasts: map[string][]map[string]any{
			"active": {broadcastItem("b1", "live", "s1")},
		},
		// Bound stream exists but is not active/ready.
		streams: map[string]map[string]any{"s1": streamItem("s1", "inactive")},
	}
	client := newFakeClient(t, api)

	probe := NewRecoveryProbe(client, "s1")
	err := probe.run(context.Background())
	assert.ErrorIs(t, err, ErrNoEligibleBroadcast)
}

func TestRecoveryProbeDoesNotPanicOnAPIError(t *testing.T) {
	api := &fakeAPI{failWith: http.StatusInternalServerError}
	client := newFakeClient(t, api)

	probe := NewRecoveryProbe(client, "s1")
	assert.NotPanics(t, func() { probe.Run(context.Background()) })
}
