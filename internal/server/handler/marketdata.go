package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/paa-listas/primary-go/internal/domain"
)

// SnapshotSource is the live market data view.
type SnapshotSource interface {
	Snapshot(id domain.InstrumentID) (domain.MarketDataSnapshot, bool)
	Snapshots() []domain.MarketDataSnapshot
}

// InstrumentService is the cached instrument catalog.
type InstrumentService interface {
	List(ctx context.Context) ([]domain.Instrument, error)
	Get(ctx context.Context, id domain.InstrumentID) (domain.Instrument, error)
}

// MarketHandler serves instruments and live snapshots.
type MarketHandler struct {
	instruments InstrumentService
	snapshots   SnapshotSource
	logger      *slog.Logger
}

// NewMarketHandler creates a MarketHandler. snapshots may be nil when the
// market data channel is not running.
func NewMarketHandler(instruments InstrumentService, snapshots SnapshotSource, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		instruments: instruments,
		snapshots:   snapshots,
		logger:      logHandler(logger, "market"),
	}
}

// ListInstruments returns the catalog, optionally filtered by ?market=.
// GET /api/instruments
func (h *MarketHandler) ListInstruments(w http.ResponseWriter, r *http.Request) {
	all, err := h.instruments.List(r.Context())
	if err != nil {
		writeFailure(w, r, h.logger, "list instruments", err)
		return
	}
	market := r.URL.Query().Get("market")
	out := make([]domain.Instrument, 0, len(all))
	for _, in := range all {
		if market == "" || in.ID.MarketID == market {
			out = append(out, in)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"instruments": out})
}

// GetInstrument returns one catalog entry.
// GET /api/instruments/{market}/{symbol...}
func (h *MarketHandler) GetInstrument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInstrument(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing instrument id")
		return
	}
	in, err := h.instruments.Get(r.Context(), id)
	if err != nil {
		writeFailure(w, r, h.logger, "get instrument", err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// ListSnapshots returns every subscribed instrument's live view.
// GET /api/marketdata
func (h *MarketHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "market data channel not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": h.snapshots.Snapshots()})
}

// GetSnapshot returns one instrument's live view.
// GET /api/marketdata/{market}/{symbol...}
func (h *MarketHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "market data channel not running")
		return
	}
	id, ok := pathInstrument(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing instrument id")
		return
	}
	snap, ok := h.snapshots.Snapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, "instrument not subscribed")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
