// Package operator exposes the thin HTTP control surface named but left
// unspecified by spec §6 ("operator surface ... shape intentionally
// unspecified"), built on julienschmidt/httprouter the way the teacher's
// go.mod carries it for its own JSON-RPC surface.
package operator

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/chainbridge-x/engine/internal/klog"
	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/safety"
	"github.com/chainbridge-x/engine/internal/store"
)

var logger = klog.NewModuleLogger(klog.ModuleOperator)

// Server wires the operator HTTP endpoints to the engine's components.
type Server struct {
	st     store.Store
	safety *safety.Controller
	token  string // bearer token gating authenticated endpoints

	Router *httprouter.Router
}

// New builds a Server with every route registered. token authenticates
// the mutating endpoints (retry, finalize, halt/unhalt, list mutation);
// with an empty token every authenticated endpoint answers 401.
func New(st store.Store, sc *safety.Controller, token string) *Server {
	s := &Server{st: st, safety: sc, token: token, Router: httprouter.New()}

	s.Router.GET("/status", s.handleStatus)
	s.Router.GET("/transfers", s.handleListTransfers)
	s.Router.POST("/transfers/:id/retry", s.auth(s.handleRetryTransfer))
	s.Router.GET("/finalizations", s.handleListFinalizations)
	s.Router.POST("/finalizations/:block/finalize", s.auth(s.handleForceFinalize))
	s.Router.POST("/safety/halt", s.auth(s.handleHalt))
	s.Router.POST("/safety/unhalt", s.auth(s.handleUnhalt))
	s.Router.POST("/safety/blocklist", s.auth(s.handleBlocklist))
	s.Router.POST("/safety/allowlist", s.auth(s.handleAllowlist))
	return s
}

func (s *Server) auth(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if s.token == "" || r.Header.Get("Authorization") != "Bearer "+s.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r, ps)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("response encode failed", "err", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	halted, reason := s.safety.IsHalted()
	writeJSON(w, http.StatusOK, map[string]interface{}{"halted": halted, "halt_reason": reason})
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	f := store.TransferFilter{}
	if d := q.Get("direction"); d != "" {
		dir := model.Direction(d)
		f.Direction = &dir
	}
	if st := q.Get("status"); st != "" {
		status := model.TransferStatus(st)
		f.Status = &status
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		f.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		f.Offset = v
	}
	transfers, err := s.st.ListTransfers(r.Context(), f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}

func (s *Server) handleRetryTransfer(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	t, err := s.st.GetTransfer(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if t.Status != model.StatusFailed {
		http.Error(w, "transfer is not in FAILED state", http.StatusConflict)
		return
	}
	if err := s.st.UpdateTransferStatus(r.Context(), id, model.StatusFailed, model.StatusPending, func(tr *model.Transfer) {
		tr.NextRetryTime = nil
	}); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(model.StatusPending)})
}

func (s *Server) handleListFinalizations(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	states := []model.FinalizationState{model.FinalizationProposed, model.FinalizationChallenged, model.FinalizationFinalized, model.FinalizationInvalidated}
	out := map[string]interface{}{}
	for _, st := range states {
		fs, err := s.st.ListFinalizationsByState(r.Context(), st, 100)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out[string(st)] = fs
	}
	writeJSON(w, http.StatusOK, out)
}

// handleForceFinalize returns the stored finalization row for the block.
// It does not submit a finalization or change the row's state.
func (s *Server) handleForceFinalize(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	n, err := strconv.ParseUint(ps.ByName("block"), 10, 64)
	if err != nil {
		http.Error(w, "invalid block number", http.StatusBadRequest)
		return
	}
	f, err := s.st.GetFinalization(r.Context(), n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleHalt(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct{ Reason string `json:"reason"` }
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := s.safety.Halt(r.Context(), body.Reason); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"halted": "true"})
}

func (s *Server) handleUnhalt(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct{ Note string `json:"note"` }
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Note == "" {
		http.Error(w, "a resolution note is required to clear an emergency halt", http.StatusBadRequest)
		return
	}
	if err := s.safety.Unhalt(r.Context(), body.Note); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"halted": "false"})
}

func (s *Server) handleBlocklist(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct{ Principal string `json:"principal"` }
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Principal == "" {
		http.Error(w, "principal is required", http.StatusBadRequest)
		return
	}
	if err := s.st.AddToBlocklist(r.Context(), body.Principal); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"principal": body.Principal, "blocklisted": "true"})
}

func (s *Server) handleAllowlist(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct{ Principal string `json:"principal"` }
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Principal == "" {
		http.Error(w, "principal is required", http.StatusBadRequest)
		return
	}
	if err := s.st.AddToAllowlist(r.Context(), body.Principal); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"principal": body.Principal, "allowlisted": "true"})
}
