package rest

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/downloadui/download-ui/server/download/domain"
	"github.com/downloadui/download-ui/server/internal/downloaders"
)

func writeError(w http.ResponseWriter, err error) {
	var exErr *downloaders.ExtractionError
	if errors.As(err, &exErr) {
		http.Error(w, "Download failure: "+exErr.Message, http.StatusUnprocessableEntity)
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrFormatNotOffered), errors.Is(err, domain.ErrUnknownCommand):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrNoActiveTask), errors.Is(err, domain.ErrStaleRecord):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("request failed", slog.Any("err", err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
