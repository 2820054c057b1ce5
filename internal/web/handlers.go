package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/modfin/henry/slicez"
	"github.com/modfin/utskick"
	"github.com/modfin/utskick/internal/quota"
	"github.com/modfin/utskick/internal/runner"
)

func respond(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func respondErr(w http.ResponseWriter, code int, message string) {
	respond(w, code, map[string]string{"error": message})
}

// acquire takes the batch mutex or tells the caller a run is in flight.
func acquire(s *Server, w http.ResponseWriter) bool {
	if !s.mu.TryLock() {
		respondErr(w, http.StatusConflict, "a batch operation is already running")
		return false
	}
	return true
}

func validateRecords(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acquire(s, w) {
			return
		}
		defer s.mu.Unlock()

		stats, err := s.runner.ValidateAll(r.Context())
		if err != nil {
			respondErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		respond(w, http.StatusOK, stats)
	}
}

func sendBatch(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acquire(s, w) {
			return
		}
		defer s.mu.Unlock()

		batch := s.config.BatchSize
		if q := r.URL.Query().Get("batch"); q != "" {
			n, err := strconv.Atoi(q)
			if err != nil || n < 1 {
				respondErr(w, http.StatusBadRequest, "batch must be a positive integer")
				return
			}
			batch = n
		}

		stats, err := s.runner.ProcessBatch(r.Context(), batch)
		if errors.Is(err, runner.ErrQuota) {
			respondErr(w, http.StatusTooManyRequests, err.Error())
			return
		}
		if err != nil {
			respondErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		respond(w, http.StatusOK, stats)
	}
}

type statsResponse struct {
	Total   int          `json:"total"`
	Pending int          `json:"pending"`
	Success int          `json:"success"`
	Failed  int          `json:"failed"`
	Quota   quota.Status `json:"quota"`
}

func stats(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := s.store.Read()
		if err != nil {
			respondErr(w, http.StatusInternalServerError, err.Error())
			return
		}

		byStatus := slicez.GroupBy(records, func(r utskick.Record) utskick.Status { return r.Status })
		respond(w, http.StatusOK, statsResponse{
			Total:   len(records),
			Pending: len(byStatus[utskick.StatusPending]),
			Success: len(byStatus[utskick.StatusSuccess]),
			Failed:  len(byStatus[utskick.StatusFailed]),
			Quota:   s.ledger.Status(),
		})
	}
}
