package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quaygate/quaygate/internal/quaygate/client"
	"github.com/quaygate/quaygate/internal/quaygate/types"
)

func TestPushClient_DeliverReturnsStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/mutations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req types.PushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Mutation.WorkerID != "w-100" {
			t.Errorf("unexpected mutation: %+v", req.Mutation)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.PushResponse{OK: true, Status: types.ApplyStale})
	}))
	defer ts.Close()

	pc := client.NewPushClient(map[string]string{"cp-1": ts.URL}, client.Options{})
	status, err := pc.Deliver(context.Background(), "cp-1", types.Mutation{
		MutationID: "m-1", Op: types.OpTombstone, WorkerID: "w-100", Version: 2,
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if status != types.ApplyStale {
		t.Errorf("expected stale, got %s", status)
	}
}

func TestPushClient_UnknownTarget(t *testing.T) {
	pc := client.NewPushClient(nil, client.Options{})
	_, err := pc.Deliver(context.Background(), "cp-ghost", types.Mutation{})
	if err == nil {
		t.Fatal("expected error for unconfigured target")
	}
}

func TestPortClient_LookupCarriesCheckpointScope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req types.LookupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.CheckpointID != "cp-1" {
			t.Errorf("expected checkpoint scope on the wire, got %q", req.CheckpointID)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.LookupResponse{Found: true})
	}))
	defer ts.Close()

	pc := client.NewPortClient(ts.URL, "cp-1", client.Options{})
	resp, err := pc.Lookup(context.Background(), "card-100")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !resp.Found || resp.Authorized {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestPortClient_PushEventsSurfacesServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": false, "code": "invalid_request", "message": "checkpoint_id is required",
		})
	}))
	defer ts.Close()

	pc := client.NewPortClient(ts.URL, "cp-1", client.Options{})
	err := pc.PushEvents(context.Background(), types.EventBatch{})
	if err == nil {
		t.Fatal("expected error so the spool retains the batch")
	}
}
