package api

import "net/http"

const (
	defaultListLimit    = 20
	maxMostWantedLimit  = 100
	maxPrisonLimit      = 100
	maxLeaderboardLimit = 100
)

// handleWorldStatus returns the current macro regime and clock state.
func (s *Server) handleWorldStatus(w http.ResponseWriter, r *http.Request) {
	ws, err := s.gw.GetWorldState(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not load world state")
		return
	}
	respondJSON(w, http.StatusOK, ws)
}

// handleWorldTick returns just the current tick number, for callers
// polling cheaply between full /world/status reads.
func (s *Server) handleWorldTick(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, struct {
		Tick uint64 `json:"tick"`
	}{Tick: s.pipeline.CurrentTick()})
}

// handleLeaderboard ranks agents, highest cash first (persist.Gateway
// computes the ranking so the ordering rule lives in one place).
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, defaultListLimit, maxLeaderboardLimit)
	agents, err := s.gw.ListLeaderboard(r.Context(), limit)
	if err != nil {
		s.log.Error("list leaderboard", errField(err))
		respondError(w, http.StatusInternalServerError, "could not load leaderboard")
		return
	}
	respondJSON(w, http.StatusOK, agents)
}

// handleMostWanted lists open and charged investigations, oldest opened
// first, as the in-world "most wanted" board.
func (s *Server) handleMostWanted(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, defaultListLimit, maxMostWantedLimit)
	investigations, err := s.gw.ListMostWanted(r.Context(), limit)
	if err != nil {
		s.log.Error("list most wanted", errField(err))
		respondError(w, http.StatusInternalServerError, "could not load investigations")
		return
	}
	respondJSON(w, http.StatusOK, investigations)
}

// handlePrison lists agents currently serving an imprisonment sentence.
func (s *Server) handlePrison(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, defaultListLimit, maxPrisonLimit)
	imprisoned, err := s.gw.ListImprisoned(r.Context(), limit)
	if err != nil {
		s.log.Error("list imprisoned", errField(err))
		respondError(w, http.StatusInternalServerError, "could not load prison roster")
		return
	}
	respondJSON(w, http.StatusOK, imprisoned)
}
