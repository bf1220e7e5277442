// Package api exposes the simulator's HTTP ingress (§6 EXTERNAL
// INTERFACES): agent registration, action submission, and read-only
// market/world/news endpoints, fronted by gorilla/mux and rs/cors.
//
// Grounded on uhyunpark-hyperlicked/pkg/api/server.go's Server/NewServer/
// setupRoutes shape: a single mux.Router built once at construction,
// versioned path prefixes carved into subrouters, and a cors.Handler
// wrapping the whole router rather than per-route CORS headers. The
// teacher's net/http.ServeMux + PathValue routing (api.go/handlers.go) is
// replaced outright since this domain's route surface — agent auth,
// action submission, investigations/prison — has no analogue there.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/wallstreetsim/engine/internal/orderbook"
	"github.com/wallstreetsim/engine/internal/persist"
	"github.com/wallstreetsim/engine/internal/tick"
)

// Server wires the ingress HTTP API to the simulation's live state: the
// gateway for reads and agent auth, the order book for depth snapshots,
// and the tick pipeline for action submission and the current tick.
type Server struct {
	gw        persist.Gateway
	engine    *orderbook.Engine
	pipeline  *tick.Pipeline
	jwtSecret string
	log       *zap.Logger

	router *mux.Router

	startAt time.Time
}

// NewServer builds a Server and registers every route. jwtSecret signs
// and verifies session tokens; POST /auth/verify accepts either a raw
// API key or a session token minted from one.
func NewServer(gw persist.Gateway, engine *orderbook.Engine, pipeline *tick.Pipeline, jwtSecret string, log *zap.Logger) *Server {
	s := &Server{
		gw:        gw,
		engine:    engine,
		pipeline:  pipeline,
		jwtSecret: jwtSecret,
		log:       log,
		router:    mux.NewRouter(),
		startAt:   time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	s.router.HandleFunc("/auth/verify", s.handleVerify).Methods(http.MethodPost)

	s.router.Handle("/actions", s.authenticated(s.handleActions)).Methods(http.MethodPost)

	market := s.router.PathPrefix("/market").Subrouter()
	market.HandleFunc("/stocks", s.handleStocks).Methods(http.MethodGet)
	market.HandleFunc("/stocks/{symbol}", s.handleStock).Methods(http.MethodGet)
	market.HandleFunc("/orderbook/{symbol}", s.handleOrderBook).Methods(http.MethodGet)
	market.HandleFunc("/trades/{symbol}", s.handleTrades).Methods(http.MethodGet)

	world := s.router.PathPrefix("/world").Subrouter()
	world.HandleFunc("/status", s.handleWorldStatus).Methods(http.MethodGet)
	world.HandleFunc("/tick", s.handleWorldTick).Methods(http.MethodGet)
	world.HandleFunc("/leaderboard", s.handleLeaderboard).Methods(http.MethodGet)
	world.HandleFunc("/investigations/most-wanted", s.handleMostWanted).Methods(http.MethodGet)
	world.HandleFunc("/prison", s.handlePrison).Methods(http.MethodGet)

	s.router.HandleFunc("/news", s.handleNews).Methods(http.MethodGet)
}

// Handler returns the fully wired router, CORS-wrapped, ready to pass to
// http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	})
	return c.Handler(s.router)
}
