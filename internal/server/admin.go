package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Zraffens/HackUTA-backend/constants"
	"github.com/Zraffens/HackUTA-backend/internal/common"
	"github.com/Zraffens/HackUTA-backend/internal/repository"
	"github.com/Zraffens/HackUTA-backend/internal/services/export"
	"github.com/Zraffens/HackUTA-backend/internal/services/notes"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// AdminHandler serves operator routes. Every request reaching it has passed requireAdmin.
type AdminHandler struct {
	notes  *notes.Service
	export *export.Service
	logger *slog.Logger
}

func NewAdminHandler(notesSvc *notes.Service, exportSvc *export.Service, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{notes: notesSvc, export: exportSvc, logger: logger}
}

// List handles GET /api/admin/notes.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	req, err := listRequest(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := h.notes.List(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toListResponse(res))
}

// Stats handles GET /api/admin/notes/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.notes.Stats(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make(map[string]int, len(stats))
	total := 0
	for st, n := range stats {
		out[string(st)] = n
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": out, "total": total})
}

// Reprocess handles POST /api/admin/notes/{id}/reprocess.
func (h *AdminHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	n, err := h.notes.Reprocess(r.Context(), id, common.RequestIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toNoteResponse(n))
}

// Conversions handles GET /api/admin/notes/{id}/conversions.
func (h *AdminHandler) Conversions(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	jobs, err := h.notes.Conversions(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"note_id": id, "conversions": jobs})
}

// Export handles GET /api/admin/notes/export.xlsx. Accepts ?status= and ?q=.
func (h *AdminHandler) Export(w http.ResponseWriter, r *http.Request) {
	var f repository.NoteFilter
	if s := r.URL.Query().Get("status"); s != "" {
		st, ok := constants.ParseStatus(s)
		if !ok {
			writeError(w, r, h.logger, common.InvalidInputf("status must be one of pending, processing, completed, failed"))
			return
		}
		f.Status = &st
	}
	f.Search = r.URL.Query().Get("q")

	b, err := h.export.ExportNotesXLSX(r.Context(), f)
	if err != nil {
		writeError(w, r, h.logger, common.InternalErrorf("export notes: %v", err))
		return
	}
	name := "notes_" + time.Now().UTC().Format("20060102T150405Z") + ".xlsx"
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}
