package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"conductor/extract"
	"conductor/internal/inspect"
	"conductor/internal/logging"
	"conductor/internal/spec"
	"conductor/internal/store"
	"conductor/internal/supervisor"
	"conductor/sink"

	"github.com/gorilla/mux"
)

// Server is the JSON control surface. It holds the supervisor and inspector
// it was started with; no global state.
type Server struct {
	sup  *supervisor.Supervisor
	insp *inspect.Inspector
}

func New(sup *supervisor.Supervisor, insp *inspect.Inspector) *Server {
	return &Server{sup: sup, insp: insp}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	c := r.PathPrefix("/consumers").Subrouter()
	c.HandleFunc("/", s.listConsumers).Methods(http.MethodGet)
	c.HandleFunc("/", s.createConsumer).Methods(http.MethodPost)
	c.HandleFunc("/{id}", s.getConsumer).Methods(http.MethodGet)
	c.HandleFunc("/{id}", s.updateConsumer).Methods(http.MethodPut)
	c.HandleFunc("/{id}", s.deleteConsumer).Methods(http.MethodDelete)
	c.HandleFunc("/{id}/start", s.startConsumer).Methods(http.MethodPost)
	c.HandleFunc("/{id}/stop", s.stopConsumer).Methods(http.MethodPost)

	g := r.PathPrefix("/consumergroups").Subrouter()
	g.HandleFunc("/", s.listGroups).Methods(http.MethodGet)
	g.HandleFunc("/{group_id}/offsets", s.groupOffsets).Methods(http.MethodGet)

	m := r.PathPrefix("/monitor").Subrouter()
	m.HandleFunc("/consumer-group-offsets", s.monitorOffsets).Methods(http.MethodGet)
	m.HandleFunc("/consumer-group-lag", s.monitorLag).Methods(http.MethodGet)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router(),
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	logging.Named("http").Info("listening", "port", port)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

/*──────── encoding helpers ───────*/

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Detail string `json:"detail"`
}

// writeError maps the error taxonomy onto transport codes.
func writeError(w http.ResponseWriter, err error) {
	var code int
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, inspect.ErrNoOffsets):
		code = http.StatusNotFound
	case errors.Is(err, spec.ErrInvalid),
		errors.Is(err, sink.ErrBadConfig),
		errors.Is(err, sink.ErrUnknownType):
		code = http.StatusBadRequest
	case errors.Is(err, store.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, extract.ErrClientInit), errors.Is(err, inspect.ErrAdmin):
		code = http.StatusBadGateway
	case errors.Is(err, extract.ErrStopTimeout), errors.Is(err, inspect.ErrTimedOut):
		code = http.StatusGatewayTimeout
	default:
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, errorBody{Detail: err.Error()})
}
