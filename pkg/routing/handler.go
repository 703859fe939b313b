package routing

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Handler serves match results as JSON:
//
//	{"_controller": "AboutController", "_route": "contentful_page_<id>", "data": {...}}
//
// Unmatched paths answer 404; an entry without a controller answers 500.
func (m *Matcher) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		match, err := m.MatchRequest(r.Context(), r)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrResourceNotFound) {
				status = http.StatusNotFound
			} else {
				m.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Route match failed")
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, match)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
