package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/Zraffens/HackUTA-backend/constants"
	"github.com/Zraffens/HackUTA-backend/internal/common"
	"github.com/Zraffens/HackUTA-backend/internal/entity"
	"github.com/Zraffens/HackUTA-backend/internal/services/notes"
)

const (
	maxPatchBytes   = 64 << 10
	multipartMemory = 8 << 20
)

var patchNoteSchema = common.MustCompileSchema("patch_note.json", map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"minProperties":        1,
	"properties": map[string]any{
		"title":       map[string]any{"type": "string", "minLength": 1, "maxLength": 200},
		"description": map[string]any{"type": "string", "maxLength": 2000},
		"is_public":   map[string]any{"type": "boolean"},
	},
})

type NotesHandler struct {
	svc       *notes.Service
	maxUpload int64
	renderer  goldmark.Markdown
	logger    *slog.Logger
}

func NewNotesHandler(svc *notes.Service, maxUploadBytes int64, logger *slog.Logger) *NotesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotesHandler{
		svc:       svc,
		maxUpload: maxUploadBytes,
		renderer:  goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger:    logger,
	}
}

type noteResponse struct {
	*entity.Note
	HasMarkdown bool   `json:"has_markdown"`
	MarkdownURL string `json:"markdown_url,omitempty"`
}

func toNoteResponse(n *entity.Note) noteResponse {
	out := noteResponse{Note: n, HasMarkdown: n.HasMarkdown()}
	if out.HasMarkdown {
		out.MarkdownURL = "/api/notes/" + n.ID.String() + "/markdown"
	}
	return out
}

type listResponse struct {
	Notes   []noteResponse `json:"notes"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	PerPage int            `json:"per_page"`
}

func toListResponse(res *notes.ListResult) listResponse {
	out := listResponse{Notes: make([]noteResponse, 0, len(res.Notes)), Total: res.Total, Page: res.Page, PerPage: res.PerPage}
	for _, n := range res.Notes {
		out.Notes = append(out.Notes, toNoteResponse(n))
	}
	return out
}

// Upload handles POST /api/notes.
func (h *NotesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxUpload > 0 {
		// leave room for the other form fields
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, h.logger, common.NewAppError("FILE_TOO_LARGE", "file exceeds the upload size limit", common.ErrInvalidInput))
			return
		}
		writeError(w, r, h.logger, common.InvalidInputf("expected multipart/form-data"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, h.logger, common.InvalidInputf("file is required"))
		return
	}
	defer file.Close()

	// notes are public unless the uploader opts out
	isPublic := true
	if v := strings.TrimSpace(r.FormValue("is_public")); v != "" {
		isPublic, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, h.logger, common.InvalidInputf("is_public must be a boolean"))
			return
		}
	}
	var desc *string
	if _, ok := r.MultipartForm.Value["description"]; ok {
		d := r.FormValue("description")
		desc = &d
	}

	n, err := h.svc.Upload(r.Context(), notes.UploadRequest{
		OwnerID:     common.UserIDFromContext(r.Context()),
		Title:       r.FormValue("title"),
		Description: desc,
		IsPublic:    isPublic,
		Filename:    header.Filename,
		Body:        file,
		TraceID:     common.RequestIDFromContext(r.Context()),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Location", "/api/notes/"+n.ID.String())
	writeJSON(w, http.StatusAccepted, toNoteResponse(n))
}

// List handles GET /api/notes.
func (h *NotesHandler) List(w http.ResponseWriter, r *http.Request) {
	req, err := listRequest(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := h.svc.List(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toListResponse(res))
}

func listRequest(r *http.Request) (notes.ListRequest, error) {
	q := r.URL.Query()
	req := notes.ListRequest{Search: q.Get("q"), Status: q.Get("status")}
	for name, dst := range map[string]*int{"page": &req.Page, "per_page": &req.PerPage} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return req, common.InvalidInputf("%s must be a positive integer", name)
		}
		*dst = n
	}
	return req, nil
}

// Get handles GET /api/notes/{id}.
func (h *NotesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	n, err := h.svc.View(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toNoteResponse(n))
}

type patchNoteRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	IsPublic    *bool   `json:"is_public"`
}

// Update handles PATCH /api/notes/{id}.
func (h *NotesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPatchBytes))
	if err != nil {
		writeError(w, r, h.logger, common.InvalidInputf("unreadable body"))
		return
	}
	if err := common.ValidateJSON(patchNoteSchema, body); err != nil {
		writeError(w, r, h.logger, common.InvalidInputf("invalid note update: %v", err))
		return
	}
	var req patchNoteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, h.logger, common.InvalidInputf("invalid JSON body"))
		return
	}
	n, err := h.svc.Update(r.Context(), id, notes.UpdateRequest{
		Title:       req.Title,
		Description: req.Description,
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toNoteResponse(n))
}

// Delete handles DELETE /api/notes/{id}.
func (h *NotesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	Status      constants.ConversionStatus `json:"status"`
	HasMarkdown bool                       `json:"has_markdown"`
}

// Status handles GET /api/notes/{id}/status.
func (h *NotesHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	n, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: n.OCRStatus, HasMarkdown: n.HasMarkdown()})
}

// Markdown handles GET /api/notes/{id}/markdown. Failure details stay in the
// conversion history; clients only learn that processing failed.
func (h *NotesHandler) Markdown(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	md, err := h.svc.Markdown(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	switch md.Status {
	case constants.StatusFailed:
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "processing failed"})
		return
	case constants.StatusPending, constants.StatusProcessing:
		writeJSON(w, http.StatusAccepted, statusResponse{Status: md.Status})
		return
	}

	if r.URL.Query().Get("format") == "html" {
		var buf bytes.Buffer
		if err := h.renderer.Convert(md.Content, &buf); err != nil {
			writeError(w, r, h.logger, common.InternalErrorf("render markdown: %v", err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(md.Content)
}

// Download handles GET /api/notes/{id}/download.
func (h *NotesHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	n, rc, err := h.svc.OpenArtifact(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", constants.ContentTypeForExt(n.FileExt))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": n.Filename}))
	if n.FileSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(n.FileSize, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("download interrupted", "note_id", id, "error", err)
	}
}
