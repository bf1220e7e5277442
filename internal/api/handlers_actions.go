package api

import (
	"io"
	"net/http"

	"github.com/wallstreetsim/engine/internal/actions"
	"github.com/wallstreetsim/engine/internal/domain"
)

// handleActions submits up to maxActionsPerRequest actions to the tick
// pipeline in submission order, returning one ActionResult per action in
// the same order. Each Submit call resolves immediately against the
// current order book state (§4.6's synchronous-ingress design); none of
// this waits for the next tick to run.
func (s *Server) handleActions(w http.ResponseWriter, r *http.Request, agent *domain.Agent) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	req, err := decodeActionsRequest(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Actions) == 0 {
		respondError(w, http.StatusBadRequest, "actions must be a non-empty array")
		return
	}
	if len(req.Actions) > maxActionsPerRequest {
		respondError(w, http.StatusBadRequest, "at most 10 actions per request")
		return
	}

	results := make([]actions.ActionResult, 0, len(req.Actions))
	for _, env := range req.Actions {
		results = append(results, s.pipeline.Submit(r.Context(), agent, env.toAction()))
	}

	respondJSON(w, http.StatusOK, struct {
		Results []actions.ActionResult `json:"results"`
	}{Results: results})
}
