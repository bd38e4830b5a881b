package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quaygate/quaygate/internal/httpapi"
	"github.com/quaygate/quaygate/internal/quaygate/biometric"
	"github.com/quaygate/quaygate/internal/quaygate/checkpoint"
	"github.com/quaygate/quaygate/internal/quaygate/types"
)

func newCheckpointHandler(t *testing.T) (http.Handler, *checkpoint.Cache) {
	t.Helper()

	cache, err := checkpoint.NewCache(nil)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	machine := checkpoint.NewMachine(checkpoint.MachineConfig{
		Policy: types.CheckpointPolicy{
			CheckpointID: "cp-gate",
			PortID:       "halifax",
			Location:     "gate",
			AllowedRoles: []string{"crane-operator"},
		},
		Cache:  cache,
		Logger: discardLogger(),
	})
	srv := httpapi.NewCheckpointServer(httpapi.CheckpointDependencies{
		Logger:  discardLogger(),
		Addr:    ":0",
		Cache:   cache,
		Machine: machine,
	})
	return srv.Handler(), cache
}

func pushWorker(t *testing.T, h http.Handler, version uint64, sample []byte) {
	t.Helper()

	tpl, err := biometric.NewTemplate(sample)
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	rec := types.WorkerRecord{
		WorkerID:     "w-100",
		Name:         "Marta Quinn",
		Roles:        []string{"crane-operator"},
		HomePorts:    []string{"halifax"},
		CredentialID: "card-100",
		Template:     tpl,
		Version:      version,
	}
	rr := postJSON(t, h, "/v1/mutations", types.PushRequest{Mutation: types.Mutation{
		MutationID: "m-1",
		Op:         types.OpPut,
		WorkerID:   rec.WorkerID,
		Version:    version,
		Record:     &rec,
		IssuedAt:   time.Now().UTC(),
	}})
	if rr.Code != http.StatusOK {
		t.Fatalf("push: %d: %s", rr.Code, rr.Body.String())
	}
}

type laneReply struct {
	State     string `json:"state"`
	Decided   bool   `json:"decided"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason"`
	Abandoned bool   `json:"abandoned"`
}

func laneStep(t *testing.T, h http.Handler, path string, body any) laneReply {
	t.Helper()

	rr := postJSON(t, h, path, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("%s: %d: %s", path, rr.Code, rr.Body.String())
	}
	var reply laneReply
	if err := json.Unmarshal(rr.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return reply
}

func TestCheckpointServer_LaneGrantFlow(t *testing.T) {
	h, cache := newCheckpointHandler(t)
	sample := []byte("finger-100")
	pushWorker(t, h, 1, sample)

	if cache.Len() != 1 {
		t.Fatalf("expected 1 cached record, got %d", cache.Len())
	}

	reply := laneStep(t, h, "/v1/lane/credential", map[string]string{"credential_id": "card-100"})
	if reply.Decided || reply.State != "awaiting_biometric" {
		t.Fatalf("unexpected credential reply: %+v", reply)
	}

	reply = laneStep(t, h, "/v1/lane/biometric", map[string][]byte{"sample": sample})
	if !reply.Decided || reply.Outcome != string(types.OutcomeGranted) {
		t.Fatalf("expected grant, got %+v", reply)
	}
}

func TestCheckpointServer_LaneMismatchDenied(t *testing.T) {
	h, _ := newCheckpointHandler(t)
	pushWorker(t, h, 1, []byte("finger-100"))

	laneStep(t, h, "/v1/lane/credential", map[string]string{"credential_id": "card-100"})
	reply := laneStep(t, h, "/v1/lane/biometric", map[string][]byte{"sample": []byte("wrong-finger")})
	if !reply.Decided || reply.Outcome != string(types.OutcomeBiometricMismatch) {
		t.Fatalf("expected mismatch denial, got %+v", reply)
	}
}

func TestCheckpointServer_LaneUnknownCredential(t *testing.T) {
	h, _ := newCheckpointHandler(t)

	reply := laneStep(t, h, "/v1/lane/credential", map[string]string{"credential_id": "card-ghost"})
	if !reply.Decided || reply.Outcome != string(types.OutcomeUnknownCredential) {
		t.Fatalf("expected unknown-credential denial, got %+v", reply)
	}
}

func TestCheckpointServer_TombstoneClosesLane(t *testing.T) {
	h, _ := newCheckpointHandler(t)
	pushWorker(t, h, 1, []byte("finger-100"))

	rr := postJSON(t, h, "/v1/mutations", types.PushRequest{Mutation: types.Mutation{
		MutationID: "m-2",
		Op:         types.OpTombstone,
		WorkerID:   "w-100",
		Version:    2,
		IssuedAt:   time.Now().UTC(),
	}})
	if rr.Code != http.StatusOK {
		t.Fatalf("tombstone push: %d", rr.Code)
	}

	reply := laneStep(t, h, "/v1/lane/credential", map[string]string{"credential_id": "card-100"})
	if !reply.Decided || reply.Outcome != string(types.OutcomeUnknownCredential) {
		t.Fatalf("expected tombstoned credential denied, got %+v", reply)
	}
}

func TestCheckpointServer_LaneFaultAndReset(t *testing.T) {
	h, _ := newCheckpointHandler(t)
	pushWorker(t, h, 1, []byte("finger-100"))

	laneStep(t, h, "/v1/lane/credential", map[string]string{"credential_id": "card-100"})
	reply := laneStep(t, h, "/v1/lane/fault", struct{}{})
	if !reply.Decided || reply.Outcome != string(types.OutcomeSensorFault) {
		t.Fatalf("expected sensor fault denial, got %+v", reply)
	}

	// Reset with no attempt in flight is a quiet no-op.
	reply = laneStep(t, h, "/v1/lane/reset", struct{}{})
	if reply.Decided || reply.Abandoned || reply.State != "idle" {
		t.Fatalf("unexpected reset reply: %+v", reply)
	}
}

func TestCheckpointServer_Healthz(t *testing.T) {
	h, _ := newCheckpointHandler(t)
	pushWorker(t, h, 1, []byte("finger-100"))

	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ok"] != true || body["cache_entries"] != float64(1) {
		t.Fatalf("unexpected health body: %v", body)
	}
}
