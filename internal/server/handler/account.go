package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/paa-listas/primary-go/internal/domain"
)

// Reporter is the REST surface behind the account and trade endpoints.
type Reporter interface {
	AccountReport(ctx context.Context, account string) (domain.AccountStatement, error)
	Trades(ctx context.Context, id domain.InstrumentID, from, to time.Time) ([]domain.Trade, error)
}

// AccountHandler serves account statements and historical trades.
type AccountHandler struct {
	reporter Reporter
	now      func() time.Time
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(reporter Reporter, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{reporter: reporter, now: time.Now, logger: logHandler(logger, "account")}
}

// GetAccount fetches a statement for one account.
// GET /api/accounts/{id}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("id")
	if account == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}
	st, err := h.reporter.AccountReport(r.Context(), account)
	if err != nil {
		writeFailure(w, r, h.logger, "account report", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListTrades returns historical trades for ?instrument=MARKET:SYMBOL between
// ?from= and ?to= (YYYY-MM-DD, both default to today).
// GET /api/trades
func (h *AccountHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := domain.ParseInstrumentID(q.Get("instrument"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	today := h.now()
	from, err := parseDate(q.Get("from"), today)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from date")
		return
	}
	to, err := parseDate(q.Get("to"), today)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to date")
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to is before from")
		return
	}

	trades, err := h.reporter.Trades(r.Context(), id, from, to)
	if err != nil {
		writeFailure(w, r, h.logger, "list trades", err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

func parseDate(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		y, m, d := fallback.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, fallback.Location()), nil
	}
	return time.Parse(time.DateOnly, s)
}
