package api

import (
	"net/http"

	"github.com/unwatchhq/unwatch/internal/validation"
)

type optionsResponse struct {
	Categories []string `json:"categories"`
	Moods      []string `json:"moods"`
}

// HandleGetOptions handles GET /api/v1/options: the choices offered by the
// session form.
func HandleGetOptions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, optionsResponse{
			Categories: validation.Categories,
			Moods:      validation.Moods,
		})
	}
}
