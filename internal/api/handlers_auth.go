package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wallstreetsim/engine/internal/auth"
	"github.com/wallstreetsim/engine/internal/domain"
)

const sessionTokenTTL = 24 * time.Hour

// defaultMarginLimit is the starting margin ceiling granted to a newly
// registered agent, generous enough that an agent can open a short before
// its first mark-to-market recompute without tripping bankruptcy.
var defaultMarginLimit = decimal.NewFromInt(50000)

type registerRequest struct {
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

type registerResponse struct {
	APIKey  string `json:"apiKey"`
	AgentID string `json:"agentId"`
}

// handleRegister creates a new agent and returns its API key exactly
// once; only the key's hash is ever persisted (internal/auth).
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.DisplayName == "" {
		respondError(w, http.StatusBadRequest, "displayName is required")
		return
	}

	key, hash, err := auth.GenerateAPIKey()
	if err != nil {
		s.log.Error("register: generate api key", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not generate credentials")
		return
	}

	now := time.Now().UTC()
	agent := &domain.Agent{
		ID:          uuid.NewString(),
		DisplayName: req.DisplayName,
		Role:        req.Role,
		Status:      domain.AgentActive,
		Cash:        decimal.NewFromInt(100000),
		MarginLimit: defaultMarginLimit,
		APIKeyHash:  hash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.gw.CreateAgent(r.Context(), agent); err != nil {
		s.log.Error("register: create agent", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not create agent")
		return
	}

	respondJSON(w, http.StatusCreated, registerResponse{APIKey: key, AgentID: agent.ID})
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Valid   bool   `json:"valid"`
	AgentID string `json:"agentId,omitempty"`
}

// handleVerify checks whether a raw API key or session token resolves to
// a live agent, and mints a fresh session token on success so the caller
// can avoid resending its raw API key on every subsequent request.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		token, ok := bearerToken(r)
		if !ok {
			respondError(w, http.StatusBadRequest, "token is required")
			return
		}
		req.Token = token
	}

	agent, err := s.resolveAgent(r, req.Token)
	if err != nil {
		respondJSON(w, http.StatusOK, verifyResponse{Valid: false})
		return
	}

	respondJSON(w, http.StatusOK, struct {
		verifyResponse
		SessionToken string `json:"sessionToken"`
	}{
		verifyResponse: verifyResponse{Valid: true, AgentID: agent.ID},
		SessionToken:   auth.IssueSessionToken(s.jwtSecret, agent.ID, sessionTokenTTL),
	})
}
