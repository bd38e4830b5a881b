package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/quaygate/quaygate/internal/quaygate/checkpoint"
	"github.com/quaygate/quaygate/internal/quaygate/types"
)

type CheckpointDependencies struct {
	Logger *slog.Logger
	Addr   string
	Cache  *checkpoint.Cache

	// Machine drives the lane endpoints the reader peripherals call.
	// Nil leaves only the sync surface up.
	Machine *checkpoint.Machine

	// AuditHealthy reports the spool's state for the health endpoint.
	AuditHealthy func() bool
}

// CheckpointServer is the device agent's local HTTP surface: the port
// server delivers mutations to /v1/mutations, and the lane peripherals
// (card reader, fingerprint scanner) report through /v1/lane.
type CheckpointServer struct {
	httpServer   *http.Server
	log          *slog.Logger
	cache        *checkpoint.Cache
	machine      *checkpoint.Machine
	auditHealthy func() bool
}

func NewCheckpointServer(d CheckpointDependencies) *CheckpointServer {
	s := &CheckpointServer{
		log:          d.Logger,
		cache:        d.Cache,
		machine:      d.Machine,
		auditHealthy: d.AuditHealthy,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/mutations", s.handleMutations)
	mux.HandleFunc("GET /v1/healthz", s.handleHealthz)
	if d.Machine != nil {
		mux.HandleFunc("POST /v1/lane/credential", s.handleCredential)
		mux.HandleFunc("POST /v1/lane/biometric", s.handleBiometric)
		mux.HandleFunc("POST /v1/lane/fault", s.handleFault)
		mux.HandleFunc("POST /v1/lane/reset", s.handleReset)
	}

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           loggingMiddleware(d.Logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *CheckpointServer) Handler() http.Handler { return s.httpServer.Handler }

func (s *CheckpointServer) Start() error { return s.httpServer.ListenAndServe() }

func (s *CheckpointServer) Shutdown(ctx context.Context) error { return s.httpServer.Shutdown(ctx) }

func (s *CheckpointServer) handleMutations(w http.ResponseWriter, r *http.Request) {
	var req types.PushRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_mutation", err.Error())
		return
	}

	status, err := s.cache.Apply(req.Mutation)
	if err != nil {
		// The mutation was not durably applied; refusing the ack keeps
		// it queued upstream.
		s.log.Error("mutation apply failed",
			"worker_id", req.Mutation.WorkerID, "version", req.Mutation.Version, "err", err)
		writeError(w, http.StatusInternalServerError, "apply_failed", "mutation not applied")
		return
	}
	writeJSON(w, http.StatusOK, types.PushResponse{OK: true, Status: status})
}

// laneResult is the wire form of a machine transition. The peripheral
// shows feedback (gate, light, display) from Outcome when Decided.
type laneResult struct {
	State     string `json:"state"`
	Decided   bool   `json:"decided"`
	Outcome   string `json:"outcome,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Abandoned bool   `json:"abandoned,omitempty"`
}

func toLaneResult(res checkpoint.Result) laneResult {
	return laneResult{
		State:     res.State.String(),
		Decided:   res.Decided,
		Outcome:   string(res.Outcome),
		Reason:    res.Reason,
		Abandoned: res.Abandoned,
	}
}

func (s *CheckpointServer) handleCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CredentialID string `json:"credential_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	// A tap while another attempt is in flight abandons that attempt
	// and starts fresh for the new card.
	if res := s.machine.Activate(); res.Abandoned {
		s.machine.Activate()
	}
	res := s.machine.PresentCredential(r.Context(), req.CredentialID)
	writeJSON(w, http.StatusOK, toLaneResult(res))
}

func (s *CheckpointServer) handleBiometric(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sample []byte `json:"sample"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	res := s.machine.PresentBiometric(r.Context(), req.Sample)
	writeJSON(w, http.StatusOK, toLaneResult(res))
}

func (s *CheckpointServer) handleFault(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toLaneResult(s.machine.ReportSensorFault()))
}

func (s *CheckpointServer) handleReset(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toLaneResult(s.machine.Reset()))
}

func (s *CheckpointServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"ok": true, "cache_entries": s.cache.Len()}
	if s.auditHealthy != nil {
		body["audit_healthy"] = s.auditHealthy()
	}
	writeJSON(w, http.StatusOK, body)
}
