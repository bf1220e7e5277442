package api

import "net/http"

const (
	defaultNewsLimit = 20
	maxNewsLimit     = 100
)

// handleNews returns the most recent news articles, newest first.
func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, defaultNewsLimit, maxNewsLimit)
	articles, err := s.gw.ListNews(r.Context(), limit)
	if err != nil {
		s.log.Error("list news", errField(err))
		respondError(w, http.StatusInternalServerError, "could not load news")
		return
	}
	respondJSON(w, http.StatusOK, articles)
}
