package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/paa-listas/primary-go/internal/domain"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// writeJSON marshals v and writes it with the given status. A marshal
// failure becomes a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"description,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeFailure maps an error from the service layer to a status code.
// Unexpected errors are logged and hidden behind a generic message.
func writeFailure(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	var domErr *domain.DomainError
	switch {
	case errors.As(err, &domErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: domErr.Message, Description: domErr.Description})
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInvalidSubscription):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited upstream")
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrNotLoggedIn):
		writeError(w, http.StatusBadGateway, "upstream session rejected")
	default:
		var te *domain.TransportError
		if errors.As(err, &te) {
			writeError(w, http.StatusBadGateway, "upstream unavailable")
			return
		}
		logger.ErrorContext(r.Context(), "handler failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

// decodeBody reads a JSON request body, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// pathInstrument reads the {market} and {symbol...} path values. Symbols
// may contain slashes.
func pathInstrument(r *http.Request) (domain.InstrumentID, bool) {
	id := domain.InstrumentID{
		MarketID: r.PathValue("market"),
		Symbol:   strings.TrimPrefix(r.PathValue("symbol"), "/"),
	}
	return id, !id.IsZero()
}

// pathOrderID reads the {clOrdId} and {proprietary} path values.
func pathOrderID(r *http.Request) (domain.OrderID, bool) {
	id := domain.OrderID{
		ClientOrderID: r.PathValue("clOrdId"),
		Proprietary:   r.PathValue("proprietary"),
	}
	return id, !id.IsZero()
}

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
