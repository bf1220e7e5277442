package api

import (
	"net/http"
	"strings"

	"github.com/wallstreetsim/engine/internal/auth"
	"github.com/wallstreetsim/engine/internal/domain"
)

// agentHandler is an HTTP handler that has already been resolved to the
// calling agent by authenticated.
type agentHandler func(w http.ResponseWriter, r *http.Request, agent *domain.Agent)

// authenticated resolves the Authorization header to an agent, accepting
// either a raw API key (checked against the stored hash) or a session
// token minted by POST /auth/verify, and rejects the request with 401 if
// neither resolves.
func (s *Server) authenticated(next agentHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
			return
		}

		agent, err := s.resolveAgent(r, token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		next(w, r, agent)
	})
}

// resolveAgent tries token first as a session token (signed with
// jwtSecret), falling back to a raw API key. A session token is preferred
// since verifying it never touches the gateway.
func (s *Server) resolveAgent(r *http.Request, token string) (*domain.Agent, error) {
	if agentID, err := auth.VerifySessionToken(s.jwtSecret, token); err == nil {
		return s.gw.GetAgent(r.Context(), agentID)
	}

	agent, err := s.gw.GetAgentByAPIKeyHash(r.Context(), auth.HashAPIKey(token))
	if err != nil {
		return nil, err
	}
	if !auth.VerifyAPIKey(token, agent.APIKeyHash) {
		return nil, auth.ErrInvalidToken
	}
	return agent, nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
