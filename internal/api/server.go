// Package api exposes the custody operations over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qcnet/warden/internal/custody/health"
	"github.com/qcnet/warden/internal/custody/manager"
	"github.com/qcnet/warden/internal/custody/mint"
	"github.com/qcnet/warden/internal/custody/oracle"
	"github.com/qcnet/warden/internal/custody/redemption"
	"github.com/qcnet/warden/internal/custody/system"
	"github.com/qcnet/warden/internal/custody/watchdog"
	"github.com/qcnet/warden/internal/infra/storage"
)

// AccountHeader carries the caller identity. Authentication of the header
// itself (mTLS, gateway signatures) happens upstream of this service.
const AccountHeader = "X-Warden-Account"

// Deps are the components the server fronts.
type Deps struct {
	System     *system.Service
	Manager    *manager.Manager
	Oracle     *oracle.Oracle
	Mint       *mint.Gateway
	Redemption *redemption.Gateway
	Watchdog   *watchdog.Enforcer
	Monitor    *health.Monitor
	Store      storage.Store
}

// Server provides the HTTP API plus health and metrics endpoints.
type Server struct {
	deps   Deps
	server *http.Server
}

// NewServer creates the API server.
func NewServer(deps Deps, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		deps: deps,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleHealthDetailed)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/params", s.handleGetParams)
	mux.HandleFunc("POST /v1/params/minting/pause", s.handlePauseMinting)
	mux.HandleFunc("POST /v1/params/minting/resume", s.handleResumeMinting)
	mux.HandleFunc("POST /v1/params/redemption/pause", s.handlePauseRedemption)
	mux.HandleFunc("POST /v1/params/redemption/resume", s.handleResumeRedemption)
	mux.HandleFunc("PUT /v1/params/mint-limits", s.handleSetMintLimits)
	mux.HandleFunc("PUT /v1/params/redemption-timeout", s.handleSetRedemptionTimeout)
	mux.HandleFunc("PUT /v1/params/collateral-ratio", s.handleSetCollateralRatio)
	mux.HandleFunc("PUT /v1/params/reserve-staleness", s.handleSetReserveStaleness)
	mux.HandleFunc("PUT /v1/params/consensus", s.handleSetConsensusPolicy)
	mux.HandleFunc("PUT /v1/params/fulfillment-policy", s.handleSetFulfillmentPolicy)

	mux.HandleFunc("POST /v1/custodians", s.handleRegisterCustodian)
	mux.HandleFunc("GET /v1/custodians", s.handleListCustodians)
	mux.HandleFunc("GET /v1/custodians/{id}", s.handleGetCustodian)
	mux.HandleFunc("PUT /v1/custodians/{id}/capacity", s.handleSetCapacity)
	mux.HandleFunc("POST /v1/custodians/{id}/review", s.handleMarkUnderReview)
	mux.HandleFunc("POST /v1/custodians/{id}/restore", s.handleRestoreActive)
	mux.HandleFunc("POST /v1/custodians/{id}/revoke", s.handleRevoke)
	mux.HandleFunc("POST /v1/custodians/{id}/check", s.handleCheckCustodian)
	mux.HandleFunc("GET /v1/custodians/{id}/events", s.handleListEvents)
	mux.HandleFunc("GET /v1/custodians/{id}/receipts", s.handleListReceipts)
	mux.HandleFunc("GET /v1/custodians/{id}/redemptions", s.handleListRedemptions)
	mux.HandleFunc("GET /v1/custodians/{id}/reserve", s.handleGetReserve)
	mux.HandleFunc("GET /v1/custodians/{id}/round", s.handleGetRound)
	mux.HandleFunc("POST /v1/custodians/{id}/attestations", s.handleSubmitAttestation)
	mux.HandleFunc("POST /v1/custodians/{id}/mint", s.handleRequestMint)
	mux.HandleFunc("GET /v1/custodians/{id}/wallets", s.handleListWallets)
	mux.HandleFunc("POST /v1/custodians/{id}/wallets", s.handleRequestWallet)

	mux.HandleFunc("GET /v1/wallets/{address}", s.handleGetWallet)
	mux.HandleFunc("POST /v1/wallets/{address}/activate", s.handleActivateWallet)
	mux.HandleFunc("POST /v1/wallets/{address}/deregister", s.handleRequestWalletDereg)
	mux.HandleFunc("POST /v1/wallets/{address}/finalize", s.handleFinalizeWalletDereg)

	mux.HandleFunc("POST /v1/redemptions", s.handleInitiateRedemption)
	mux.HandleFunc("GET /v1/redemptions/pending", s.handleListPendingRedemptions)
	mux.HandleFunc("GET /v1/redemptions/{id}", s.handleGetRedemption)
	mux.HandleFunc("POST /v1/redemptions/{id}/fulfillment", s.handleRecordFulfillment)
	mux.HandleFunc("POST /v1/redemptions/{id}/default", s.handleFlagDefault)

	mux.HandleFunc("POST /v1/watchdog/scan", s.handleScan)

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.deps.Monitor.CheckHealth(r.Context())

	status := http.StatusOK
	if report.SystemStatus == health.StatusCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": string(report.SystemStatus)})
}

func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Monitor.CheckHealth(r.Context()))
}
