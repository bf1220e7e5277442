package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// handleStocks lists every tracked company with its current market data.
func (s *Server) handleStocks(w http.ResponseWriter, r *http.Request) {
	companies, err := s.gw.ListCompanies(r.Context())
	if err != nil {
		s.log.Error("list companies", errField(err))
		respondError(w, http.StatusInternalServerError, "could not list stocks")
		return
	}
	respondJSON(w, http.StatusOK, companies)
}

// handleStock returns a single company by symbol.
func (s *Server) handleStock(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	company, err := s.gw.GetCompany(r.Context(), symbol)
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown symbol: "+symbol)
		return
	}
	respondJSON(w, http.StatusOK, company)
}

// handleOrderBook returns the live depth snapshot for a symbol.
func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if _, err := s.gw.GetCompany(r.Context(), symbol); err != nil {
		respondError(w, http.StatusNotFound, "unknown symbol: "+symbol)
		return
	}
	respondJSON(w, http.StatusOK, s.engine.GetOrderBook(symbol))
}

const (
	defaultTradesLimit = 50
	maxTradesLimit     = 100
)

// handleTrades returns the most recent trades for a symbol, newest first,
// capped at maxTradesLimit per §6.
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	limit := limitParam(r, defaultTradesLimit, maxTradesLimit)

	trades, err := s.gw.ListTradesForSymbol(r.Context(), symbol, limit)
	if err != nil {
		s.log.Error("list trades", errField(err))
		respondError(w, http.StatusInternalServerError, "could not list trades")
		return
	}
	respondJSON(w, http.StatusOK, trades)
}
