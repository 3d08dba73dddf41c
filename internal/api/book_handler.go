package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/inkvoice/inkvoice/internal/book"
	"github.com/inkvoice/inkvoice/internal/manifest"
	"github.com/inkvoice/inkvoice/internal/packaging"
	"github.com/inkvoice/inkvoice/internal/pipeline"
	"github.com/inkvoice/inkvoice/internal/segmenter"
	"github.com/inkvoice/inkvoice/pkg/types"
)

// maxUploadBytes caps archive uploads
const maxUploadBytes = 200 << 20

// BookHandler handles book-related API endpoints
type BookHandler struct {
	repo      book.Repository
	manifests *manifest.Store
	orch      *pipeline.Orchestrator
	importer  *packaging.Importer
	pipeCfg   types.PipelineConfig
	ttsCfg    types.TTSConfig
	logger    *zap.Logger
}

// NewBookHandler creates a new book handler
func NewBookHandler(
	repo book.Repository,
	manifests *manifest.Store,
	orch *pipeline.Orchestrator,
	importer *packaging.Importer,
	pipeCfg types.PipelineConfig,
	ttsCfg types.TTSConfig,
	logger *zap.Logger,
) *BookHandler {
	return &BookHandler{
		repo:      repo,
		manifests: manifests,
		orch:      orch,
		importer:  importer,
		pipeCfg:   pipeCfg,
		ttsCfg:    ttsCfg,
		logger:    logger.Named("api"),
	}
}

// createBookRequest is the POST /books payload
type createBookRequest struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Voice  string `json:"voice"`
	Text   string `json:"text"`
}

// CreateBook handles POST /api/v1/books. It creates the book, stores the
// source text, and launches generation; the response is 202 because the
// audio is not ready yet.
func (h *BookHandler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req createBookRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&req); err != nil {
		respondError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Title) == "" {
		respondError(w, "Title is required", http.StatusBadRequest)
		return
	}
	cleaned := segmenter.CleanMarkdown(req.Text)
	if err := segmenter.Validate(cleaned, h.pipeCfg.MaxTextChars); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	voice := req.Voice
	if voice == "" {
		voice = h.ttsCfg.DefaultVoice
	}

	now := time.Now().UTC()
	bk := &types.Book{
		ID:               uuid.NewString(),
		Title:            req.Title,
		Author:           req.Author,
		OwnerID:          r.Header.Get("X-User-ID"),
		Voice:            voice,
		ProcessingStatus: types.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	bk.StoragePath = "books/" + bk.ID

	ctx := r.Context()
	if err := h.repo.SaveBook(ctx, bk); err != nil {
		respondError(w, "Failed to save book", http.StatusInternalServerError)
		return
	}
	if err := h.repo.SaveSource(ctx, bk.ID, req.Text); err != nil {
		respondError(w, "Failed to save book source", http.StatusInternalServerError)
		return
	}

	if err := h.orch.StartGeneration(ctx, bk.ID); err != nil {
		h.logger.Error("failed to start generation",
			zap.String("book_id", bk.ID), zap.Error(err))

		var invalid *segmenter.InvalidInputError
		if errors.As(err, &invalid) {
			// nothing references the just-created record
			if delErr := h.repo.DeleteBook(ctx, bk.ID); delErr != nil {
				h.logger.Warn("failed to clean up rejected book",
					zap.String("book_id", bk.ID), zap.Error(delErr))
			}
			respondError(w, invalid.Error(), http.StatusBadRequest)
			return
		}
		respondError(w, "Failed to start generation", http.StatusInternalServerError)
		return
	}

	respondJSON(w, bk, http.StatusAccepted)
}

// StartGeneration handles POST /api/v1/books/{id}/generate. Books created
// through POST /books start generating on their own; this endpoint exists for
// books whose first launch never happened (a crash between create and start).
// Exactly one concurrent caller wins; the rest see 409.
func (h *BookHandler) StartGeneration(w http.ResponseWriter, r *http.Request) {
	bk, ok := h.loadBook(w, r)
	if !ok {
		return
	}

	if err := h.orch.StartGeneration(r.Context(), bk.ID); err != nil {
		switch {
		case errors.Is(err, pipeline.ErrAlreadyProcessing), errors.Is(err, pipeline.ErrTerminalState):
			respondError(w, err.Error(), http.StatusConflict)
		default:
			var invalid *segmenter.InvalidInputError
			if errors.As(err, &invalid) {
				respondError(w, invalid.Error(), http.StatusBadRequest)
				return
			}
			h.logger.Error("failed to start generation",
				zap.String("book_id", bk.ID), zap.Error(err))
			respondError(w, "Failed to start generation", http.StatusInternalServerError)
		}
		return
	}

	respondJSON(w, map[string]string{"book_id": bk.ID, "status": types.StatusProcessing}, http.StatusAccepted)
}

// UploadBook handles POST /api/v1/books/upload, ingesting a pre-produced
// chapter archive.
func (h *BookHandler) UploadBook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	title := r.FormValue("title")
	if title == "" {
		title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}
	author := r.FormValue("author")

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		respondError(w, "Failed to read file", http.StatusInternalServerError)
		return
	}

	bk, err := h.importer.Import(r.Context(), title, author, r.Header.Get("X-User-ID"), data)
	if err != nil {
		if errors.Is(err, packaging.ErrInvalidArchive) {
			respondError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("archive import failed", zap.Error(err))
		respondError(w, "Failed to import archive", http.StatusInternalServerError)
		return
	}

	respondJSON(w, bk, http.StatusCreated)
}

// ListBooks handles GET /api/v1/books
func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.repo.ListBooks(r.Context())
	if err != nil {
		respondError(w, "Failed to list books", http.StatusInternalServerError)
		return
	}
	respondJSON(w, map[string]any{"books": books, "count": len(books)}, http.StatusOK)
}

// GetBook handles GET /api/v1/books/{id}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	bk, ok := h.loadBook(w, r)
	if !ok {
		return
	}
	respondJSON(w, bk, http.StatusOK)
}

// GetStatus handles GET /api/v1/books/{id}/status
func (h *BookHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	bk, ok := h.loadBook(w, r)
	if !ok {
		return
	}
	respondJSON(w, types.ProcessingStatusResponse{
		BookID:    bk.ID,
		Status:    bk.ProcessingStatus,
		Error:     bk.ProcessingError,
		UpdatedAt: bk.UpdatedAt,
	}, http.StatusOK)
}

// GetManifest handles GET /api/v1/books/{id}/manifest. Until the book is
// ready there is no manifest to serve, and the answer is 409 with the
// current status rather than 404, which would suggest a wrong ID.
func (h *BookHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	bk, ok := h.loadBook(w, r)
	if !ok {
		return
	}
	if bk.ProcessingStatus != types.StatusReady {
		respondError(w, fmt.Sprintf("Book is not ready (status: %s)", bk.ProcessingStatus), http.StatusConflict)
		return
	}

	// A ready book always has a manifest; its absence is server corruption,
	// not a client error.
	exists, err := h.manifests.Exists(r.Context(), bk.ID)
	if err == nil && !exists {
		h.logger.Error("manifest missing for ready book", zap.String("book_id", bk.ID))
		respondError(w, "Manifest is missing", http.StatusInternalServerError)
		return
	}

	m, err := h.manifests.Get(r.Context(), bk.ID)
	if err != nil {
		h.logger.Error("failed to load manifest",
			zap.String("book_id", bk.ID), zap.Error(err))
		respondError(w, "Failed to load manifest", http.StatusInternalServerError)
		return
	}
	respondJSON(w, m, http.StatusOK)
}

// GetChapterText handles GET /api/v1/books/{id}/chapters/{chapterID}/text
func (h *BookHandler) GetChapterText(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	text, err := h.repo.GetChapterText(r.Context(), vars["id"], vars["chapterID"])
	if err != nil {
		respondError(w, "Chapter text not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, text)
}

// GetChapterAlignment handles GET /api/v1/books/{id}/chapters/{chapterID}/alignment
func (h *BookHandler) GetChapterAlignment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	segments, err := h.repo.GetAlignment(r.Context(), vars["id"], vars["chapterID"])
	if err != nil {
		respondError(w, "Chapter alignment not found", http.StatusNotFound)
		return
	}
	respondJSON(w, segments, http.StatusOK)
}

// GetChapterAudio handles GET /api/v1/books/{id}/chapters/{chapterID}/audio.
// ServeContent gives players seek support through Range requests.
func (h *BookHandler) GetChapterAudio(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bk, ok := h.loadBook(w, r)
	if !ok {
		return
	}

	data, format, err := h.repo.GetChapterAudio(r.Context(), bk.ID, vars["chapterID"])
	if err != nil {
		respondError(w, "Chapter audio not found", http.StatusNotFound)
		return
	}

	http.ServeContent(w, r, fmt.Sprintf("%s.%s", vars["chapterID"], format), bk.UpdatedAt, bytes.NewReader(data))
}

// GetProgress handles GET /api/v1/books/{id}/progress. A user with no saved
// progress gets a zeroed record, not an error.
func (h *BookHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	bk, ok := h.loadBook(w, r)
	if !ok {
		return
	}
	userID, err := progressUser(r)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	progress, err := h.repo.GetProgress(r.Context(), bk.ID, userID)
	if err != nil {
		progress = &types.ReadingProgress{
			BookID:        bk.ID,
			UserID:        userID,
			PlaybackSpeed: 1.0,
		}
	}
	respondJSON(w, progress, http.StatusOK)
}

// PutProgress handles PUT /api/v1/books/{id}/progress
func (h *BookHandler) PutProgress(w http.ResponseWriter, r *http.Request) {
	bk, ok := h.loadBook(w, r)
	if !ok {
		return
	}

	var progress types.ReadingProgress
	if err := json.NewDecoder(r.Body).Decode(&progress); err != nil {
		respondError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if progress.CurrentPosition < 0 || progress.CurrentSegment < 0 {
		respondError(w, "Position must not be negative", http.StatusBadRequest)
		return
	}
	if progress.PlaybackSpeed <= 0 {
		progress.PlaybackSpeed = 1.0
	}
	userID, err := progressUser(r)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	progress.BookID = bk.ID
	progress.UserID = userID

	if err := h.repo.SaveProgress(r.Context(), &progress); err != nil {
		respondError(w, "Failed to save progress", http.StatusInternalServerError)
		return
	}
	respondJSON(w, &progress, http.StatusOK)
}

// DeleteBook handles DELETE /api/v1/books/{id}. An active generation job is
// canceled before the assets go away.
func (h *BookHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	bk, ok := h.loadBook(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.orch.Cancel(ctx, bk.ID); err != nil {
		respondError(w, "Failed to cancel generation", http.StatusInternalServerError)
		return
	}
	if err := h.repo.DeleteBook(ctx, bk.ID); err != nil {
		respondError(w, "Failed to delete book", http.StatusInternalServerError)
		return
	}

	h.logger.Info("book deleted", zap.String("book_id", bk.ID))
	w.WriteHeader(http.StatusNoContent)
}

// loadBook resolves the {id} path variable, answering 404 when unknown.
func (h *BookHandler) loadBook(w http.ResponseWriter, r *http.Request) (*types.Book, bool) {
	bookID := mux.Vars(r)["id"]
	bk, err := h.repo.GetBook(r.Context(), bookID)
	if err != nil {
		respondError(w, "Book not found", http.StatusNotFound)
		return nil, false
	}
	return bk, true
}

// progressUser resolves the user for a progress request. User IDs come from
// the client, so they are validated before they reach any storage path.
func progressUser(r *http.Request) (string, error) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}
	if userID == "" {
		return "default", nil
	}
	if err := book.ValidUserID(userID); err != nil {
		return "", err
	}
	return userID, nil
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
