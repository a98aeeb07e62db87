package status

import (
	"github.com/go-chi/chi/v5"
)

func ApplyRouter(args *Sources) func(chi.Router) {
	var (
		s = NewService(args)
		h = &Handler{service: s}
	)

	return func(r chi.Router) {
		r.Get("/", h.Status)
	}
}
