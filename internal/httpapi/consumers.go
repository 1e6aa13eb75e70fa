package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"conductor/internal/spec"

	"github.com/gorilla/mux"
)

func (s *Server) listConsumers(w http.ResponseWriter, _ *http.Request) {
	specs, err := s.sup.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, specs)
}

func (s *Server) createConsumer(w http.ResponseWriter, r *http.Request) {
	var draft spec.ConsumerSpec
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, fmt.Errorf("%w: %v", spec.ErrInvalid, err))
		return
	}
	created, err := s.sup.Create(draft)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getConsumer(w http.ResponseWriter, r *http.Request) {
	sp, err := s.sup.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

func (s *Server) updateConsumer(w http.ResponseWriter, r *http.Request) {
	var patch spec.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, fmt.Errorf("%w: %v", spec.ErrInvalid, err))
		return
	}
	updated, err := s.sup.Update(mux.Vars(r)["id"], patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type lifecycleResponse struct {
	ID     string      `json:"consumer_id"`
	Status spec.Status `json:"status"`
}

func (s *Server) startConsumer(w http.ResponseWriter, r *http.Request) {
	sp, err := s.sup.Start(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lifecycleResponse{ID: sp.ID, Status: sp.Status})
}

func (s *Server) stopConsumer(w http.ResponseWriter, r *http.Request) {
	sp, err := s.sup.Stop(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lifecycleResponse{ID: sp.ID, Status: sp.Status})
}

func (s *Server) deleteConsumer(w http.ResponseWriter, r *http.Request) {
	if err := s.sup.Delete(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
