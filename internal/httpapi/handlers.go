package httpapi

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ZKRand-Network/relay_layer/internal/domain/fee"
	"github.com/ZKRand-Network/relay_layer/internal/domain/proof"
	"github.com/ZKRand-Network/relay_layer/internal/domain/request"
)

type createRequestInput struct {
	ChainID   string `json:"chain_id"`
	Requester string `json:"requester"`
	Seed      string `json:"seed"`
	FeePaid   uint64 `json:"fee_paid"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var input createRequestInput
	if !decodeJSON(w, r, &input) {
		return
	}
	input.ChainID = strings.TrimSpace(input.ChainID)
	input.Requester = strings.TrimSpace(input.Requester)
	if input.ChainID == "" || input.Requester == "" {
		writeError(w, http.StatusBadRequest, "chain_id and requester required")
		return
	}

	req, err := s.ledger.CreateRequest(r.Context(), input.ChainID, input.Requester, input.Seed, input.FeePaid)
	switch {
	case errors.Is(err, request.ErrMalformedSeed):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, request.ErrInsufficientFee):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, request.ErrDuplicateSeed):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.log.WithContext(r.Context()).WithError(err).Error("create request failed")
		writeError(w, http.StatusInternalServerError, "failed to create request")
	default:
		writeJSON(w, http.StatusCreated, req)
	}
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	var (
		list []request.Request
		err  error
	)
	if state := r.URL.Query().Get("state"); state != "" {
		list, err = s.ledger.ListByState(r.Context(), request.State(state))
	} else {
		list, err = s.ledger.List(r.Context())
	}
	if err != nil {
		s.log.WithContext(r.Context()).WithError(err).Error("list requests failed")
		writeError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.ledger.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, request.ErrNotFound) {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		s.log.WithContext(r.Context()).WithError(err).Error("get request failed")
		writeError(w, http.StatusInternalServerError, "failed to load request")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type randomnessResponse struct {
	RequestID     string `json:"request_id"`
	RandomValue   string `json:"random_value"`
	ProofIdentity string `json:"proof_identity"`
	FulfilledAt   string `json:"fulfilled_at"`
}

// handleGetRandomness returns the delivered value only once the request is
// fulfilled. Anything earlier is 409 so callers can poll without ambiguity.
func (s *Server) handleGetRandomness(w http.ResponseWriter, r *http.Request) {
	req, err := s.ledger.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, request.ErrNotFound) {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		s.log.WithContext(r.Context()).WithError(err).Error("get request failed")
		writeError(w, http.StatusInternalServerError, "failed to load request")
		return
	}
	if req.State != request.StateFulfilled {
		writeError(w, http.StatusConflict, "request not fulfilled, state: "+string(req.State))
		return
	}
	resp := randomnessResponse{
		RequestID:     req.ID,
		RandomValue:   req.RandomValue,
		ProofIdentity: req.ProofIdentity,
	}
	if req.FulfilledAt != nil {
		resp.FulfilledAt = req.FulfilledAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	writeJSON(w, http.StatusOK, resp)
}

type submitProofInput struct {
	RequestID    string `json:"request_id"`
	ProofPayload string `json:"proof_payload"` // base64
	RandomValue  string `json:"random_value"`
}

type submitProofResponse struct {
	ProofIdentity string `json:"proof_identity"`
	RequestID     string `json:"request_id"`
	Accepted      bool   `json:"accepted"`
}

func (s *Server) handleSubmitProof(w http.ResponseWriter, r *http.Request) {
	var input submitProofInput
	if !decodeJSON(w, r, &input) {
		return
	}
	if input.RequestID == "" {
		writeError(w, http.StatusBadRequest, "request_id required")
		return
	}
	payload, err := base64.StdEncoding.DecodeString(input.ProofPayload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "proof_payload must be base64")
		return
	}
	if len(payload) == 0 {
		writeError(w, http.StatusBadRequest, "proof_payload required")
		return
	}
	if input.RandomValue == "" {
		writeError(w, http.StatusBadRequest, "random_value required")
		return
	}

	identity, err := s.coordinator.SubmitProof(r.Context(), input.RequestID, payload, input.RandomValue)
	switch {
	case errors.Is(err, request.ErrNotFound):
		writeError(w, http.StatusNotFound, "request not found")
	case errors.Is(err, proof.ErrDuplicateProof):
		writeError(w, http.StatusConflict, "proof already used")
	case errors.Is(err, request.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, "request already has a proof in flight")
	case err != nil:
		s.log.WithContext(r.Context()).WithError(err).Error("submit proof failed")
		writeError(w, http.StatusInternalServerError, "failed to submit proof")
	default:
		writeJSON(w, http.StatusAccepted, submitProofResponse{
			ProofIdentity: identity,
			RequestID:     input.RequestID,
			Accepted:      true,
		})
	}
}

type proofStatusResponse struct {
	proof.Record
	Used bool `json:"used"`
}

func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request) {
	identity := mux.Vars(r)["identity"]
	rec, err := s.registry.Get(r.Context(), identity)
	if errors.Is(err, proof.ErrUnknownProof) {
		writeError(w, http.StatusNotFound, "unknown proof")
		return
	}
	if err != nil {
		s.log.WithContext(r.Context()).WithError(err).Error("get proof failed")
		writeError(w, http.StatusInternalServerError, "failed to load proof")
		return
	}
	writeJSON(w, http.StatusOK, proofStatusResponse{Record: rec, Used: true})
}

func (s *Server) handleGetFees(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.feePolicy.Schedule())
}

type setFeeInput struct {
	NewFee uint64 `json:"new_fee"`
}

// handleSetFee updates the request fee. The caller identifies itself with
// the X-Fee-Setter header and must be on the authorized list.
func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get("X-Fee-Setter")
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "X-Fee-Setter header required")
		return
	}
	var input setFeeInput
	if !decodeJSON(w, r, &input) {
		return
	}
	if input.NewFee == 0 {
		writeError(w, http.StatusBadRequest, "new_fee must be positive")
		return
	}
	if err := s.feePolicy.SetFee(r.Context(), caller, input.NewFee); err != nil {
		if errors.Is(err, fee.ErrUnauthorized) {
			writeError(w, http.StatusForbidden, "caller not authorized to set fees")
			return
		}
		s.log.WithContext(r.Context()).WithError(err).Error("set fee failed")
		writeError(w, http.StatusInternalServerError, "failed to set fee")
		return
	}
	writeJSON(w, http.StatusOK, s.feePolicy.Schedule())
}
