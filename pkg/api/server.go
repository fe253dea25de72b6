// Package api exposes the orchestrator's operations over HTTP. Each handler
// maps 1:1 to an orchestrator operation; all lifecycle logic stays in the
// orchestrator.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bridgeline-hq/bridgeline-settler/pkg/logger"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/models"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/orchestrator"
)

// Server serves the payment intent API
type Server struct {
	orch       *orchestrator.Orchestrator
	logger     logger.Logger
	httpServer *http.Server
}

// NewServer creates the API server listening on the given port
func NewServer(port string, orch *orchestrator.Orchestrator, log logger.Logger) *Server {
	s := &Server{
		orch:   orch,
		logger: log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/intents", s.handleCreateIntent)
	mux.HandleFunc("GET /api/v1/intents/{id}", s.handleGetIntent)
	mux.HandleFunc("POST /api/v1/intents/{id}/proof", s.handleSubmitProof)
	mux.HandleFunc("POST /api/v1/intents/{id}/settle", s.handleTriggerSettlement)
	mux.HandleFunc("GET /api/v1/intents/{id}/receipt", s.handleGetReceipt)

	s.httpServer = &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// Start blocks serving requests until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("API listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type createIntentRequest struct {
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

type submitProofRequest struct {
	Proof       string `json:"proof"`
	TxRef       string `json:"tx_ref"`
	PayerWallet string `json:"payer_wallet,omitempty"`
}

type ackResponse struct {
	IntentID string `json:"intent_id"`
	Status   string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	intent, err := s.orch.CreateIntent(r.Context(), req.Amount, req.Recipient)
	if err != nil {
		s.writeOrchestratorError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, intent)
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	intent, err := s.orch.GetIntent(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeOrchestratorError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, intent)
}

func (s *Server) handleSubmitProof(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req submitProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.orch.SubmitSourceProof(r.Context(), id, req.Proof, req.TxRef, req.PayerWallet); err != nil {
		s.writeOrchestratorError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ackResponse{IntentID: id, Status: string(models.StatusSourceSettled)})
}

func (s *Server) handleTriggerSettlement(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.orch.TriggerTargetPayment(r.Context(), id); err != nil {
		s.writeOrchestratorError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ackResponse{IntentID: id, Status: string(models.StatusCompleted)})
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.orch.GetReceipt(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeOrchestratorError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, receipt)
}

// writeOrchestratorError maps the error taxonomy onto HTTP status codes
func (s *Server) writeOrchestratorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "intent not found")
	case errors.Is(err, models.ErrInvalidState):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrInvalidProof):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, models.ErrVerifierUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "proof verifier unavailable, retry later")
	case errors.Is(err, models.ErrSettlementFailed):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("Unhandled API error: %v", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}
