package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/quaygate/quaygate/internal/quaygate/directory"
	"github.com/quaygate/quaygate/internal/quaygate/outbox"
	"github.com/quaygate/quaygate/internal/quaygate/types"
)

type DirectoryDependencies struct {
	Logger  *slog.Logger
	Addr    string
	Service *directory.Service

	// Monitor is optional; when present, ports behind on their sync
	// queue surface on the health endpoint.
	Monitor *outbox.Monitor
}

// DirectoryServer is the Central Directory's admin and lookup surface.
type DirectoryServer struct {
	httpServer *http.Server
	log        *slog.Logger
	service    *directory.Service
	monitor    *outbox.Monitor
}

func NewDirectoryServer(d DirectoryDependencies) *DirectoryServer {
	s := &DirectoryServer{log: d.Logger, service: d.Service, monitor: d.Monitor}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/enroll", s.handleEnroll)
	mux.HandleFunc("POST /v1/update", s.handleUpdate)
	mux.HandleFunc("POST /v1/delete", s.handleDelete)
	mux.HandleFunc("POST /v1/lookup", s.handleLookup)
	mux.HandleFunc("GET /v1/healthz", s.handleHealthz)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           loggingMiddleware(d.Logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *DirectoryServer) Handler() http.Handler { return s.httpServer.Handler }

func (s *DirectoryServer) Start() error { return s.httpServer.ListenAndServe() }

func (s *DirectoryServer) Shutdown(ctx context.Context) error { return s.httpServer.Shutdown(ctx) }

func (s *DirectoryServer) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req types.EnrollRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.service.Enroll(r.Context(), req)
	if err != nil {
		s.writeMutationError(w, "enroll", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *DirectoryServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req types.UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.service.Update(r.Context(), req)
	if err != nil {
		s.writeMutationError(w, "update", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *DirectoryServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req types.DeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.service.Delete(r.Context(), req)
	if err != nil {
		s.writeMutationError(w, "delete", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *DirectoryServer) handleLookup(w http.ResponseWriter, r *http.Request) {
	var req types.LookupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.service.Lookup(r.Context(), req)
	if err != nil {
		if errors.Is(err, types.ErrMissingCredentialID) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.log.Error("lookup failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeMutationError maps service errors onto stable wire codes.
func (s *DirectoryServer) writeMutationError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, directory.ErrWorkerNotFound):
		writeError(w, http.StatusNotFound, "worker_not_found", err.Error())
	case errors.Is(err, directory.ErrWorkerExists):
		writeError(w, http.StatusConflict, "worker_exists", err.Error())
	case errors.Is(err, directory.ErrCredentialInUse):
		writeError(w, http.StatusConflict, "credential_in_use", err.Error())
	case isValidationError(err):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		s.log.Error(op+" failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}

func isValidationError(err error) bool {
	for _, target := range []error{
		types.ErrMissingWorkerID,
		types.ErrMissingName,
		types.ErrMissingRoles,
		types.ErrMissingHomePorts,
		types.ErrMissingCredentialID,
		types.ErrMissingSample,
		types.ErrEmptyUpdate,
		types.ErrMissingCheckpointID,
		types.ErrMissingPortID,
		types.ErrBadMutation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *DirectoryServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"ok": true}
	if s.monitor != nil {
		if flagged := s.monitor.Flagged(); len(flagged) > 0 {
			stale := make([]string, 0, len(flagged))
			for id := range flagged {
				stale = append(stale, id)
			}
			body["stale_ports"] = stale
		}
	}
	writeJSON(w, http.StatusOK, body)
}
