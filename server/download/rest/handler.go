package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/downloadui/download-ui/server/download/domain"
	"github.com/downloadui/download-ui/server/internal/downloaders"
)

type RestHandler struct {
	service domain.Service
}

func New(service domain.Service) domain.RestHandler {
	return &RestHandler{
		service: service,
	}
}

type createRequest struct {
	URL     string              `json:"url"`
	Command downloaders.Command `json:"command"`
}

type selectRequest struct {
	FileFormat uint `json:"file_format"`
}

func downloadID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

// override is a flag: its presence is enough
func override(r *http.Request) bool {
	return r.URL.Query().Has("override")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Create implements domain.RestHandler.
func (h *RestHandler) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		req.URL = strings.TrimSpace(req.URL)
		if req.URL == "" {
			http.Error(w, "url is required", http.StatusBadRequest)
			return
		}

		sub, err := h.service.CreateDraft(r.Context(), req.URL, req.Command, override(r))
		if err != nil {
			writeError(w, err)
			return
		}

		if sub.Download == nil {
			writeJSON(w, http.StatusOK, sub)
			return
		}
		writeJSON(w, http.StatusCreated, sub.Download)
	}
}

// SelectFormat implements domain.RestHandler.
func (h *RestHandler) SelectFormat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		id, err := downloadID(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var req selectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		sub, err := h.service.SelectFormat(r.Context(), id, req.FileFormat, override(r))
		if err != nil {
			writeError(w, err)
			return
		}

		if len(sub.Existing) > 0 {
			writeJSON(w, http.StatusOK, sub)
			return
		}
		writeJSON(w, http.StatusAccepted, sub.Download)
	}
}

// Get implements domain.RestHandler.
func (h *RestHandler) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := downloadID(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		d, err := h.service.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, d)
	}
}

// Choices implements domain.RestHandler.
func (h *RestHandler) Choices() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := downloadID(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		choices, err := h.service.Choices(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, choices)
	}
}

// Progress implements domain.RestHandler.
func (h *RestHandler) Progress() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := downloadID(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		p, err := h.service.Progress(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, p)
	}
}

// Archive implements domain.RestHandler.
func (h *RestHandler) Archive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := downloadID(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		d, err := h.service.Archive(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, d)
	}
}

// Cancel implements domain.RestHandler.
func (h *RestHandler) Cancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := downloadID(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		d, err := h.service.Cancel(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, d)
	}
}

// List implements domain.RestHandler.
func (h *RestHandler) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := 1
		if p := r.URL.Query().Get("page"); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil || n < 1 {
				http.Error(w, "invalid page", http.StatusBadRequest)
				return
			}
			page = n
		}

		res, err := h.service.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("q")), page)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

// Home implements domain.RestHandler.
func (h *RestHandler) Home() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		downloads, err := h.service.Home(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, downloads)
	}
}

// ApplyRouter implements domain.RestHandler.
func (h *RestHandler) ApplyRouter() func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", h.List())
		r.Post("/", h.Create())
		r.Get("/home", h.Home())

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get())
			r.Put("/format", h.SelectFormat())
			r.Get("/choices", h.Choices())
			r.Get("/progress", h.Progress())
			r.Get("/ws", h.Watch())
			r.Post("/archive", h.Archive())
			r.Post("/cancel", h.Cancel())
		})
	}
}
