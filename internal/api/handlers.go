package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/steveclarke/link-radar-sub004/internal/archive"
)

type createBookmarkRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Note  string `json:"note"`
}

type bookmarkResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type archiveResponse struct {
	ID           string           `json:"id"`
	BookmarkID   string           `json:"bookmark_id"`
	State        string           `json:"state"`
	Title        string           `json:"title,omitempty"`
	Description  string           `json:"description,omitempty"`
	MainText     string           `json:"main_text,omitempty"`
	ImageURL     string           `json:"image_url,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Metadata     archive.Metadata `json:"metadata,omitempty"`
	FetchedAt    *time.Time       `json:"fetched_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

type transitionResponse struct {
	ID         int64            `json:"id"`
	ToState    string           `json:"to_state"`
	Metadata   archive.Metadata `json:"metadata,omitempty"`
	SortKey    int              `json:"sort_key"`
	MostRecent bool             `json:"most_recent"`
	CreatedAt  time.Time        `json:"created_at"`
}

func toBookmarkResponse(b archive.Bookmark) bookmarkResponse {
	return bookmarkResponse{
		ID:        b.ID,
		URL:       b.URL,
		Title:     b.Title,
		Note:      b.Note,
		CreatedAt: b.CreatedAt,
	}
}

func (s *Server) handleCreateBookmark(w http.ResponseWriter, r *http.Request) {
	var req createBookmarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	bm, err := s.bookmarks.Create(r.Context(), req.URL, req.Title, req.Note)
	if err != nil {
		s.logger.Error("create bookmark", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create bookmark")
		return
	}
	writeJSON(w, http.StatusCreated, toBookmarkResponse(bm))
}

func (s *Server) handleGetBookmark(w http.ResponseWriter, r *http.Request) {
	bm, err := s.bookmarks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, s.logger, err, "get bookmark")
		return
	}
	writeJSON(w, http.StatusOK, toBookmarkResponse(bm))
}

func (s *Server) handleDeleteBookmark(w http.ResponseWriter, r *http.Request) {
	if err := s.bookmarks.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondStoreError(w, s.logger, err, "delete bookmark")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	arch, err := s.bookmarks.GetArchive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, s.logger, err, "get archive")
		return
	}
	state, err := s.store.CurrentState(r.Context(), arch.ID)
	if err != nil {
		respondStoreError(w, s.logger, err, "get archive state")
		return
	}
	writeJSON(w, http.StatusOK, archiveResponse{
		ID:           arch.ID,
		BookmarkID:   arch.BookmarkID,
		State:        string(state),
		Title:        arch.Title,
		Description:  arch.Description,
		MainText:     arch.MainText,
		ImageURL:     arch.ImageURL,
		ErrorMessage: arch.ErrorMessage,
		Metadata:     arch.Metadata,
		FetchedAt:    arch.FetchedAt,
		CreatedAt:    arch.CreatedAt,
	})
}

func (s *Server) handleListTransitions(w http.ResponseWriter, r *http.Request) {
	trs, err := s.store.ListTransitions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, s.logger, err, "list transitions")
		return
	}
	out := make([]transitionResponse, 0, len(trs))
	for _, tr := range trs {
		out = append(out, transitionResponse{
			ID:         tr.ID,
			ToState:    string(tr.ToState),
			Metadata:   tr.Metadata,
			SortKey:    tr.SortKey,
			MostRecent: tr.MostRecent,
			CreatedAt:  tr.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": out})
}

// handleDeleteLatestTransition is the operator escape hatch for repairing
// a bad terminal write. History is otherwise append only.
func (s *Server) handleDeleteLatestTransition(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteMostRecentTransition(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondStoreError(w, s.logger, err, "delete latest transition")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondStoreError(w http.ResponseWriter, logger *zap.Logger, err error, op string) {
	if errors.Is(err, archive.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	logger.Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
