package cmd

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hiermem/hiermem/pkg/compress"
	"github.com/hiermem/hiermem/pkg/engine"
	"github.com/hiermem/hiermem/pkg/turns"
)

// TurnsAPI handles turn-related HTTP endpoints.
type TurnsAPI struct {
	engine *engine.Engine
}

// RegisterTurnRoutes adds turn endpoints to the given mux.
func (t *TurnsAPI) RegisterTurnRoutes(mux *http.ServeMux, mw func(string, http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("/v1/memory/store", mw("/v1/memory/store", t.handleStore))
	mux.HandleFunc("/v1/memory/recent", mw("/v1/memory/recent", t.handleRecent))
	mux.HandleFunc("/v1/memory/compressed", mw("/v1/memory/compressed", t.handleCompressed))
	mux.HandleFunc("/v1/memory/stats", mw("/v1/memory/stats", t.handleStats))
}

func (t *TurnsAPI) handleStore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req engine.StoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := t.engine.Store(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func (t *TurnsAPI) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req engine.RecentRequest
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	} else {
		req.AgentID = r.URL.Query().Get("agent_id")
		req.SessionID = r.URL.Query().Get("session_id")
	}

	result, err := t.engine.Recent(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func (t *TurnsAPI) handleCompressed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req engine.CompressedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := t.engine.Compressed(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func (t *TurnsAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := t.engine.Stats(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

// writeEngineError maps engine sentinels onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidArgument):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, turns.ErrDuplicateTurn):
		writeJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, turns.ErrEmptyAgentID), errors.Is(err, turns.ErrEmptyMessage):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, compress.ErrUnavailable):
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
