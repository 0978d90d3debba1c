package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Zraffens/HackUTA-backend/internal/common"
)

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the public message for err. Internal causes are
// logged, never sent.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := common.HTTPStatus(err)
	reqID := common.RequestIDFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "request_id", reqID, "path", r.URL.Path, "error", err)
	} else {
		logger.Debug("request rejected", "request_id", reqID, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: common.PublicMessage(err), RequestID: reqID})
}

func noteID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	if err := common.NewValidator().Field("note id", raw, common.UUID).Err(); err != nil {
		return uuid.Nil, err
	}
	return uuid.MustParse(raw), nil
}
