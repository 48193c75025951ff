package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/AaronLay10/RuleChain/internal/events"
	"github.com/AaronLay10/RuleChain/internal/orchestrator"
)

func (s *Server) listChains(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "chain store not configured")
		return
	}
	chains, err := s.store.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if chains == nil {
		chains = []*orchestrator.RuleChain{}
	}
	writeJSON(w, http.StatusOK, chains)
}

func (s *Server) getChain(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "chain store not configured")
		return
	}
	chain, err := s.store.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (s *Server) createChain(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "chain store not configured")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	chain, err := orchestrator.ParseRuleChain(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.store.Create(r.Context(), chain)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	events.Emit("info", "chain.created", "", map[string]interface{}{
		"chain_id":       created.ID,
		"integration_id": created.IntegrationID,
		"nodes":          len(created.Nodes()),
	})
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) deleteChain(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "chain store not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	events.Emit("info", "chain.deleted", "", map[string]interface{}{"chain_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// BulkDeleteRequest is the body of POST /chains/bulk-delete.
type BulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

// BulkDeleteResponse reports how many chains were removed. On failure
// Error is set and Deleted counts the ids removed before it.
type BulkDeleteResponse struct {
	OK      bool   `json:"ok"`
	Deleted int    `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

// bulkDeleteChains removes ids in order and stops at the first unknown id.
// Chains before it stay deleted and are announced.
func (s *Server) bulkDeleteChains(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "chain store not configured")
		return
	}
	var req BulkDeleteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}

	n, err := orchestrator.DeleteMany(r.Context(), s.store, req.IDs)
	for _, id := range req.IDs[:n] {
		events.Emit("info", "chain.deleted", "", map[string]interface{}{"chain_id": id})
	}
	if err != nil {
		writeJSON(w, storeErrorStatus(err), BulkDeleteResponse{OK: false, Deleted: n, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, BulkDeleteResponse{OK: true, Deleted: n})
}

func storeErrorStatus(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrChainNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrChainExists):
		return http.StatusConflict
	case orchestrator.IsMalformed(err), orchestrator.IsUnknownNodeType(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeStoreError(w http.ResponseWriter, err error) {
	writeError(w, storeErrorStatus(err), err.Error())
}

// RunResponse is the body of POST /run.
type RunResponse struct {
	OK      bool                 `json:"ok"`
	Runs    []orchestrator.RunSummary `json:"runs"`
	Devices orchestrator.Devices      `json:"devices"`
	Error   string                    `json:"error,omitempty"`
}

func (s *Server) runBatch(w http.ResponseWriter, r *http.Request) {
	if s.batch == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not running")
		return
	}
	res, err := s.batch.Trigger(r.Context())
	if res == nil {
		if err == nil {
			err = errors.New("batch produced no result")
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	out := RunResponse{OK: err == nil, Runs: orchestrator.Summarize(res.Runs)}
	if err != nil {
		out.Error = err.Error()
	}
	if res.Context != nil {
		out.Devices = res.Context.Devices
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	if s.batch == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not running")
		return
	}
	devices, err := s.batch.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, devices)
}
