package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/brojonat/walletfeed/service/feed"
	"github.com/brojonat/walletfeed/service/reconcile"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	maxRequestBodySize = 1 << 20
	maxIDLength        = 128
	defaultPageSize    = 10
	maxPageSize        = 100
)

// pageResponse is the body of GET /api/v1/feed.
type pageResponse struct {
	Items []*feed.Event `json:"items"`
	Count int           `json:"count"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// handleGetFeedPage returns the next page of the feed.
// GET /api/v1/feed?count={n}&reset={bool}&category={all|transactions|rewards}
func handleGetFeedPage(f Feed, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		count := defaultPageSize
		if raw := q.Get("count"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxPageSize {
				writeError(w, fmt.Sprintf("count must be between 1 and %d", maxPageSize), http.StatusBadRequest)
				return
			}
			count = n
		}

		reset := false
		if raw := q.Get("reset"); raw != "" {
			b, err := strconv.ParseBool(raw)
			if err != nil {
				writeError(w, "reset must be a boolean", http.StatusBadRequest)
				return
			}
			reset = b
		}

		category, ok := feed.ParseCategory(q.Get("category"))
		if !ok {
			writeError(w, fmt.Sprintf("unknown category %q", q.Get("category")), http.StatusBadRequest)
			return
		}

		if !f.Ready() {
			writeError(w, "feed is initializing", http.StatusServiceUnavailable)
			return
		}

		items := f.GetFeedPage(r.Context(), count, reset, category)
		if items == nil {
			items = []*feed.Event{}
		}
		logger.Debug("feed page served", "count", len(items), "reset", reset, "category", category)
		writeJSON(w, pageResponse{Items: items, Count: len(items)}, http.StatusOK)
	})
}

// handleGetEvent returns a single feed record.
// GET /api/v1/feed/{id}
func handleGetEvent(f Feed, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := validateID(id); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		ev, err := f.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, reconcile.ErrNotReady) {
				writeError(w, "feed is initializing", http.StatusServiceUnavailable)
				return
			}
			logger.Error("failed to get feed record", "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if ev == nil {
			writeError(w, "feed record not found", http.StatusNotFound)
			return
		}
		writeJSON(w, ev, http.StatusOK)
	})
}

// handleEnqueue records a locally sent transaction as pending.
// POST /api/v1/feed
func handleEnqueue(f Feed, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev feed.Event
		if !decodeBody(w, r, &ev, logger) {
			return
		}
		if err := validateID(ev.ID); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if ev.Status != "" && !ev.Status.Valid() {
			writeError(w, fmt.Sprintf("invalid status %q", ev.Status), http.StatusBadRequest)
			return
		}

		if !f.EnqueueTX(r.Context(), &ev) {
			writeError(w, "transaction not enqueued: record exists or store unavailable", http.StatusConflict)
			return
		}
		logger.Info("transaction enqueued", "id", ev.ID, "type", ev.Type)
		stored, err := f.Get(r.Context(), ev.ID)
		if err != nil || stored == nil {
			logger.Warn("failed to read enqueued record", "id", ev.ID, "error", err)
			stored = &ev
		}
		writeJSON(w, stored, http.StatusCreated)
	})
}

// handleUpdateStatus sets the status of a record.
// PUT /api/v1/feed/{id}/status
func handleUpdateStatus(f Feed, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := validateID(id); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		var req statusRequest
		if !decodeBody(w, r, &req, logger) {
			return
		}
		status := feed.Status(req.Status)
		if !status.Valid() {
			writeError(w, fmt.Sprintf("invalid status %q", req.Status), http.StatusBadRequest)
			return
		}

		ev := f.UpdateEventStatus(r.Context(), id, status)
		if ev == nil {
			writeError(w, "feed record not found", http.StatusNotFound)
			return
		}
		writeJSON(w, ev, http.StatusOK)
	})
}

// handleUpdateOTPLStatus sets the payment link status of a record.
// PUT /api/v1/feed/{id}/otpl-status
func handleUpdateOTPLStatus(f Feed, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := validateID(id); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		var req statusRequest
		if !decodeBody(w, r, &req, logger) {
			return
		}
		status := feed.Status(req.Status)
		switch status {
		case feed.StatusPending, feed.StatusCompleted, feed.StatusCancelled:
		default:
			writeError(w, fmt.Sprintf("invalid payment link status %q", req.Status), http.StatusBadRequest)
			return
		}

		ev := f.UpdateOTPLEventStatus(r.Context(), id, status)
		if ev == nil {
			writeError(w, "feed record not found", http.StatusNotFound)
			return
		}
		writeJSON(w, ev, http.StatusOK)
	})
}

// handleMarkError flags a record as failed.
// POST /api/v1/feed/{id}/error
func handleMarkError(f Feed, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := validateID(id); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		existing, err := f.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, reconcile.ErrNotReady) {
				writeError(w, "feed is initializing", http.StatusServiceUnavailable)
				return
			}
			logger.Error("failed to get feed record", "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if existing == nil {
			writeError(w, "feed record not found", http.StatusNotFound)
			return
		}

		f.MarkWithErrorEvent(r.Context(), id)
		logger.Info("feed record marked with error", "id", id)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleReprocess fetches a receipt from the chain and reconciles it.
// POST /api/v1/receipts/{hash}
func handleReprocess(f Feed, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := r.PathValue("hash")
		if err := validateTxHash(hash); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		ev := f.Reprocess(r.Context(), hash)
		if ev == nil {
			writeError(w, "receipt not found or not reconciled", http.StatusNotFound)
			return
		}
		logger.Info("receipt reprocessed", "id", ev.ID, "tx_type", ev.TxType)
		writeJSON(w, ev, http.StatusOK)
	})
}

// decodeBody decodes a size limited JSON body into v. It writes the error
// response and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, logger *slog.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logger.Debug("failed to decode request", "path", r.URL.Path, "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]string{"error": message}, statusCode)
}

// validateID checks a record id: a transaction hash or a payment link id.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("id too long: maximum length is %d characters", maxIDLength)
	}
	if strings.ContainsFunc(id, func(r rune) bool { return r < 0x21 || r > 0x7e }) {
		return fmt.Errorf("id contains invalid characters")
	}
	return nil
}

func validateTxHash(hash string) error {
	if len(hash) != 66 || !strings.HasPrefix(hash, "0x") {
		return fmt.Errorf("hash must be 0x followed by 64 hex characters")
	}
	if _, err := hexutil.Decode(hash); err != nil {
		return fmt.Errorf("hash must be 0x followed by 64 hex characters")
	}
	return nil
}
