package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/qcnet/warden/internal/core/domain"
	"github.com/qcnet/warden/internal/custody/auth"
	"github.com/qcnet/warden/internal/custody/manager"
	"github.com/qcnet/warden/internal/custody/mint"
	"github.com/qcnet/warden/internal/custody/oracle"
	"github.com/qcnet/warden/internal/custody/redemption"
	"github.com/qcnet/warden/internal/custody/registry"
	"github.com/qcnet/warden/internal/custody/system"
	"github.com/qcnet/warden/internal/infra/ledger"
	"github.com/qcnet/warden/internal/infra/relay"
	"github.com/qcnet/warden/internal/infra/storage"
	"github.com/qcnet/warden/internal/metrics"
)

// -----------------------------------------------------------------------------
// System params
// -----------------------------------------------------------------------------

func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request) {
	params, err := s.deps.System.Params(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, params)
}

func (s *Server) handlePauseMinting(w http.ResponseWriter, r *http.Request) {
	s.paramAction(w, r, s.deps.System.PauseMinting)
}

func (s *Server) handleResumeMinting(w http.ResponseWriter, r *http.Request) {
	s.paramAction(w, r, s.deps.System.ResumeMinting)
}

func (s *Server) handlePauseRedemption(w http.ResponseWriter, r *http.Request) {
	s.paramAction(w, r, s.deps.System.PauseRedemption)
}

func (s *Server) handleResumeRedemption(w http.ResponseWriter, r *http.Request) {
	s.paramAction(w, r, s.deps.System.ResumeRedemption)
}

func (s *Server) paramAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, caller string) error) {
	if err := fn(r.Context(), caller(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetMintLimits(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MinAmount uint64 `json:"min_amount"`
		MaxAmount uint64 `json:"max_amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.deps.System.SetMintLimits(r.Context(), caller(r), req.MinAmount, req.MaxAmount); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetRedemptionTimeout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TimeoutSeconds int64 `json:"timeout_seconds"`
	}
	if !decode(w, r, &req) {
		return
	}
	err := s.deps.System.SetRedemptionTimeout(r.Context(), caller(r), time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetCollateralRatio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ratio uint64 `json:"ratio"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.deps.System.SetMinCollateralRatio(r.Context(), caller(r), req.Ratio); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetReserveStaleness(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WindowSeconds int64 `json:"window_seconds"`
	}
	if !decode(w, r, &req) {
		return
	}
	err := s.deps.System.SetReserveStaleness(r.Context(), caller(r), time.Duration(req.WindowSeconds)*time.Second)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetConsensusPolicy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode         string `json:"mode"`
		Quorum       int    `json:"quorum"`
		MinAttesters int    `json:"min_attesters"`
	}
	if !decode(w, r, &req) {
		return
	}
	err := s.deps.System.SetConsensusPolicy(r.Context(), caller(r), domain.ConsensusMode(req.Mode), req.Quorum, req.MinAttesters)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetFulfillmentPolicy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BlockUnderReview bool `json:"block_under_review"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.deps.System.SetFulfillmentPolicy(r.Context(), caller(r), req.BlockUnderReview); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// -----------------------------------------------------------------------------
// Custodians
// -----------------------------------------------------------------------------

func (s *Server) handleRegisterCustodian(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          string `json:"id"`
		MaxCapacity uint64 `json:"max_capacity"`
	}
	if !decode(w, r, &req) {
		return
	}
	custodian, err := s.deps.Manager.RegisterCustodian(r.Context(), caller(r), req.ID, req.MaxCapacity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, custodian)
}

func (s *Server) handleListCustodians(w http.ResponseWriter, r *http.Request) {
	custodians, err := s.deps.Manager.Custodians(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, custodians)
}

func (s *Server) handleGetCustodian(w http.ResponseWriter, r *http.Request) {
	custodian, err := s.deps.Manager.Custodian(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, custodian)
}

func (s *Server) handleSetCapacity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxCapacity uint64 `json:"max_capacity"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.deps.Manager.SetMaxCapacity(r.Context(), caller(r), r.PathValue("id"), req.MaxCapacity); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkUnderReview(w http.ResponseWriter, r *http.Request) {
	s.statusAction(w, r, s.deps.Manager.MarkUnderReview)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	s.statusAction(w, r, s.deps.Manager.Revoke)
}

func (s *Server) statusAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, caller, id, reason string) error) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := fn(r.Context(), caller(r), r.PathValue("id"), req.Reason); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestoreActive(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Manager.RestoreActive(r.Context(), caller(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheckCustodian(w http.ResponseWriter, r *http.Request) {
	forced, err := s.deps.Watchdog.CheckCustodian(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"forced_under_review": forced})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Store.Events().List(r.Context(), r.PathValue("id"), limitParam(r, 50))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.deps.Mint.Receipts(r.Context(), r.PathValue("id"), limitParam(r, 50))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (s *Server) handleListRedemptions(w http.ResponseWriter, r *http.Request) {
	redemptions, err := s.deps.Redemption.ListByCustodian(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redemptions)
}

// -----------------------------------------------------------------------------
// Oracle
// -----------------------------------------------------------------------------

func (s *Server) handleGetReserve(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.deps.Oracle.ConsensusReserve(r.Context(), r.PathValue("id"))
	if errors.Is(err, oracle.ErrNoConsensus) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	round, err := s.deps.Oracle.Round(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

func (s *Server) handleSubmitAttestation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Balance uint64 `json:"balance"`
	}
	if !decode(w, r, &req) {
		return
	}
	custodianID := r.PathValue("id")
	snapshot, err := s.deps.Oracle.SubmitAttestation(r.Context(), caller(r), custodianID, req.Balance)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if snapshot != nil {
		writeJSON(w, http.StatusOK, snapshot)
		return
	}
	// No consensus yet. Report where the round stands.
	round, err := s.deps.Oracle.Round(r.Context(), custodianID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, round)
}

// -----------------------------------------------------------------------------
// Mint
// -----------------------------------------------------------------------------

func (s *Server) handleRequestMint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Beneficiary string `json:"beneficiary"`
		Amount      uint64 `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	receipt, err := s.deps.Mint.RequestMint(r.Context(), caller(r), r.PathValue("id"), req.Beneficiary, req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// -----------------------------------------------------------------------------
// Wallets
// -----------------------------------------------------------------------------

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.deps.Manager.Wallets(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wallets)
}

func (s *Server) handleRequestWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if !decode(w, r, &req) {
		return
	}
	wallet, err := s.deps.Manager.RequestWalletRegistration(r.Context(), caller(r), r.PathValue("id"), req.Address)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// The challenge is never part of the wallet's JSON form; the requesting
	// custodian gets it exactly once here.
	writeJSON(w, http.StatusCreated, map[string]string{
		"address":      wallet.Address,
		"custodian_id": wallet.CustodianID,
		"status":       string(wallet.Status),
		"challenge":    wallet.Challenge,
	})
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.deps.Manager.Wallet(r.Context(), r.PathValue("address"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (s *Server) handleActivateWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustodianID string `json:"custodian_id"`
		Signature   string `json:"signature"`
	}
	if !decode(w, r, &req) {
		return
	}
	err := s.deps.Manager.ActivateWallet(r.Context(), caller(r), req.CustodianID, r.PathValue("address"), req.Signature)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequestWalletDereg(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustodianID string `json:"custodian_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	err := s.deps.Manager.RequestWalletDeregistration(r.Context(), caller(r), req.CustodianID, r.PathValue("address"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFinalizeWalletDereg(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustodianID string `json:"custodian_id"`
		Balance     uint64 `json:"balance"`
	}
	if !decode(w, r, &req) {
		return
	}
	err := s.deps.Manager.FinalizeWalletDeregistration(r.Context(), caller(r), req.CustodianID, r.PathValue("address"), req.Balance)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// -----------------------------------------------------------------------------
// Redemptions
// -----------------------------------------------------------------------------

func (s *Server) handleInitiateRedemption(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustodianID       string `json:"custodian_id"`
		Amount            uint64 `json:"amount"`
		SettlementAddress string `json:"settlement_address"`
	}
	if !decode(w, r, &req) {
		return
	}
	red, err := s.deps.Redemption.InitiateRedemption(r.Context(), caller(r), req.CustodianID, req.Amount, req.SettlementAddress)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, red)
}

func (s *Server) handleListPendingRedemptions(w http.ResponseWriter, r *http.Request) {
	pending, err := s.deps.Redemption.ListPending(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleGetRedemption(w http.ResponseWriter, r *http.Request) {
	red, err := s.deps.Redemption.Redemption(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, red)
}

func (s *Server) handleRecordFulfillment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TxID string `json:"tx_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	red, err := s.deps.Redemption.RecordFulfillment(r.Context(), caller(r), r.PathValue("id"), req.TxID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, red)
}

func (s *Server) handleFlagDefault(w http.ResponseWriter, r *http.Request) {
	red, err := s.deps.Redemption.FlagDefault(r.Context(), caller(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, red)
}

// -----------------------------------------------------------------------------
// Watchdog
// -----------------------------------------------------------------------------

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Watchdog.ScanAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func caller(r *http.Request) string {
	return r.Header.Get(AccountHeader)
}

func limitParam(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses: bad input 400, missing
// identity or role 403, unknown records 404, rejected state changes 409,
// unverifiable settlement proofs 422.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	metrics.OperationErrorsTotal.WithLabelValues(r.Pattern, strconv.Itoa(status)).Inc()
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusForbidden

	case errors.Is(err, manager.ErrInvalidArgument),
		errors.Is(err, manager.ErrProofInvalid),
		errors.Is(err, system.ErrInvalidLimits),
		errors.Is(err, system.ErrInvalidTimeout),
		errors.Is(err, system.ErrInvalidRatio),
		errors.Is(err, system.ErrInvalidStaleness),
		errors.Is(err, system.ErrInvalidPolicy),
		errors.Is(err, mint.ErrAmountOutOfRange),
		errors.Is(err, mint.ErrBeneficiaryRequired),
		errors.Is(err, redemption.ErrInvalidAmount),
		errors.Is(err, redemption.ErrProofRequired),
		errors.Is(err, relay.ErrInvalidAddress):
		return http.StatusBadRequest

	case errors.Is(err, storage.ErrCustodianNotFound),
		errors.Is(err, storage.ErrWalletNotFound),
		errors.Is(err, storage.ErrRedemptionNotFound):
		return http.StatusNotFound

	case errors.Is(err, relay.ErrProofNotFound),
		errors.Is(err, relay.ErrUnconfirmed):
		return http.StatusUnprocessableEntity

	case errors.Is(err, mint.ErrMintingPaused),
		errors.Is(err, redemption.ErrRedemptionPaused),
		errors.Is(err, redemption.ErrExceedsObligation),
		errors.Is(err, redemption.ErrAmountMismatch),
		errors.Is(err, redemption.ErrAddressMismatch),
		errors.Is(err, redemption.ErrProofReused),
		errors.Is(err, redemption.ErrAlreadyFinalized),
		errors.Is(err, redemption.ErrTimeoutNotElapsed),
		errors.Is(err, registry.ErrCustodianNotActive),
		errors.Is(err, registry.ErrCustodianRevoked),
		errors.Is(err, registry.ErrCapacityExceeded),
		errors.Is(err, registry.ErrReserveShortfall),
		errors.Is(err, registry.ErrStateChanged),
		errors.Is(err, registry.ErrObligationUnderflow),
		errors.Is(err, manager.ErrInvalidTransition),
		errors.Is(err, manager.ErrInvalidWalletTransition),
		errors.Is(err, manager.ErrInsolvent),
		errors.Is(err, oracle.ErrDuplicateSubmission),
		errors.Is(err, oracle.ErrNoConsensus),
		errors.Is(err, oracle.ErrStaleReserve),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrSupplyOverflow),
		errors.Is(err, storage.ErrCustodianExists),
		errors.Is(err, storage.ErrWalletExists):
		return http.StatusConflict

	default:
		return http.StatusInternalServerError
	}
}
