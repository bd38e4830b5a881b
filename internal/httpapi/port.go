package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/quaygate/quaygate/internal/quaygate/outbox"
	"github.com/quaygate/quaygate/internal/quaygate/portserver"
	"github.com/quaygate/quaygate/internal/quaygate/types"
)

type PortDependencies struct {
	Logger  *slog.Logger
	Addr    string
	Service *portserver.Service
	Audit   *portserver.AuditService

	// Monitor is optional; when present, flagged checkpoints surface
	// on the health endpoint.
	Monitor *outbox.Monitor
}

// PortServer is a port server's HTTP surface: mutation ingestion from
// the directory, lookups and audit forwarding from checkpoints, and
// device provisioning.
type PortServer struct {
	httpServer *http.Server
	log        *slog.Logger
	service    *portserver.Service
	audit      *portserver.AuditService
	monitor    *outbox.Monitor
}

func NewPortServer(d PortDependencies) *PortServer {
	s := &PortServer{
		log:     d.Logger,
		service: d.Service,
		audit:   d.Audit,
		monitor: d.Monitor,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/mutations", s.handleMutations)
	mux.HandleFunc("POST /v1/lookup", s.handleLookup)
	mux.HandleFunc("POST /v1/events", s.handleEvents)
	mux.HandleFunc("POST /v1/checkpoints", s.handleRegister)
	mux.HandleFunc("POST /v1/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("GET /v1/healthz", s.handleHealthz)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           loggingMiddleware(d.Logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *PortServer) Handler() http.Handler { return s.httpServer.Handler }

func (s *PortServer) Start() error { return s.httpServer.ListenAndServe() }

func (s *PortServer) Shutdown(ctx context.Context) error { return s.httpServer.Shutdown(ctx) }

func (s *PortServer) handleMutations(w http.ResponseWriter, r *http.Request) {
	var req types.PushRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.service.ApplyMutation(r.Context(), req)
	if err != nil {
		if errors.Is(err, types.ErrBadMutation) {
			writeError(w, http.StatusBadRequest, "bad_mutation", err.Error())
			return
		}
		s.log.Error("mutation apply failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *PortServer) handleLookup(w http.ResponseWriter, r *http.Request) {
	var req types.LookupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.service.Lookup(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrMissingCredentialID),
			errors.Is(err, types.ErrMissingCheckpointID):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, portserver.ErrUnknownCheckpoint):
			writeError(w, http.StatusForbidden, "unknown_checkpoint", err.Error())
		default:
			// Upstream failures included: the checkpoint treats any
			// non-200 as a miss and fails closed.
			s.log.Error("lookup failed", "err", err)
			writeError(w, http.StatusBadGateway, "lookup_failed", "credential could not be resolved")
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *PortServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	var batch types.EventBatch
	if err := decodeJSON(r, &batch); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	if err := s.audit.Ingest(r.Context(), batch); err != nil {
		if errors.Is(err, types.ErrMissingCheckpointID) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.log.Error("audit ingest failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *PortServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterCheckpointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	if err := s.service.RegisterCheckpoint(r.Context(), req); err != nil {
		switch {
		case errors.Is(err, portserver.ErrWrongPort):
			writeError(w, http.StatusForbidden, "wrong_port", err.Error())
		case isValidationError(err):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			s.log.Error("checkpoint registration failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *PortServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req types.HeartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.service.Heartbeat(r.Context(), req)
	if err != nil {
		if errors.Is(err, types.ErrMissingCheckpointID) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.log.Error("heartbeat failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *PortServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"ok": true}
	if s.monitor != nil {
		if flagged := s.monitor.Flagged(); len(flagged) > 0 {
			stale := make([]string, 0, len(flagged))
			for id := range flagged {
				stale = append(stale, id)
			}
			body["stale_checkpoints"] = stale
		}
	}
	writeJSON(w, http.StatusOK, body)
}
