package api

import (
	"encoding/json/v2"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomeapp/tome-server/internal/http/response"
	"github.com/tomeapp/tome-server/internal/service"
	"github.com/tomeapp/tome-server/internal/store"
)

// handleCreateBook adds a book to the caller's library. Creating a title the
// caller already tracks returns the existing book.
func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := getUserID(ctx)

	var req service.CreateBookRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	book, err := s.bookService.CreateBook(ctx, userID, req)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Created(w, book, s.logger)
}

// handleListBooks returns the caller's books, newest first.
func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	books, err := s.bookService.GetBooks(ctx, getUserID(ctx))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, books, s.logger)
}

// handleGetBook returns a single book the caller owns.
func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	book, err := s.bookService.GetBook(ctx, chi.URLParam(r, "id"), getUserID(ctx))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, book, s.logger)
}

// handleDeleteBook soft-deletes a book.
func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.bookService.DeleteBook(ctx, chi.URLParam(r, "id"), getUserID(ctx)); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.NoContent(w)
}

// handleStartBook moves a book into READING.
func (s *Server) handleStartBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req service.StartBookRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	book, err := s.bookService.StartBook(ctx, chi.URLParam(r, "id"), getUserID(ctx), req)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, book, s.logger)
}

// handleUpdateProgress records a page-progress entry. Backdated entries
// trigger a full timeline reconciliation.
func (s *Server) handleUpdateProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req service.ProgressRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	book, err := s.bookService.UpdateProgress(ctx, chi.URLParam(r, "id"), getUserID(ctx), req)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, book, s.logger)
}

// handleFinishBook moves a book into READ.
func (s *Server) handleFinishBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req service.FinishBookRequest
	if r.ContentLength != 0 {
		if err := json.UnmarshalRead(r.Body, &req); err != nil {
			response.BadRequest(w, "Invalid request body", s.logger)
			return
		}
	}

	book, err := s.bookService.FinishBook(ctx, chi.URLParam(r, "id"), getUserID(ctx), req)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, book, s.logger)
}

// handleArchiveBook moves a book into ARCHIVED.
func (s *Server) handleArchiveBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	book, err := s.bookService.ArchiveBook(ctx, chi.URLParam(r, "id"), getUserID(ctx))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, book, s.logger)
}

// handleGetEvents returns the book's event timeline at its latest version.
// The order query parameter selects asc (default) or desc.
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	order := store.OrderAsc
	switch r.URL.Query().Get("order") {
	case "", "asc":
	case "desc":
		order = store.OrderDesc
	default:
		response.BadRequest(w, "order must be asc or desc", s.logger)
		return
	}

	events, err := s.bookService.GetEvents(ctx, chi.URLParam(r, "id"), getUserID(ctx), order)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, events, s.logger)
}
