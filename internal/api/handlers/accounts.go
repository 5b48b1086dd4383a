package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/api/middleware"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/api/request"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/api/response"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/apperrors"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/model"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/service"
)

// AccountHandler handles HTTP requests for linked accounts and their synced data.
// It serves as the HTTP layer adapter, parsing requests and delegating
// business logic to the account, sync, dashboard and snapshot services.
type AccountHandler struct {
	accountService   *service.AccountService
	syncService      *service.SyncService
	dashboardService *service.DashboardService
	snapshotService  *service.SnapshotService
}

// NewAccountHandler creates a new AccountHandler with the provided service dependencies.
func NewAccountHandler(
	accountService *service.AccountService,
	syncService *service.SyncService,
	dashboardService *service.DashboardService,
	snapshotService *service.SnapshotService,
) *AccountHandler {
	return &AccountHandler{
		accountService:   accountService,
		syncService:      syncService,
		dashboardService: dashboardService,
		snapshotService:  snapshotService,
	}
}

// ListAccounts handles GET requests to list the user's linked accounts.
//
// Endpoint: GET /api/accounts[?includeInactive=true]
// Response: 200 OK with array of LinkedAccount
// Error: 400 Bad Request if includeInactive is not a boolean
// Error: 500 Internal Server Error if retrieval fails
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	includeInactive, err := request.ParseBool("includeInactive", r.URL.Query().Get("includeInactive"))
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid query parameter", err.Error())
		return
	}

	accounts, err := h.accountService.ListAccounts(r.Context(), middleware.UserID(r.Context()), includeInactive)
	if err != nil {
		respondAccountError(w, apperrors.ErrFailedToRetrieveAccounts, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, accounts)
}

// GetAccount handles GET requests to retrieve one linked account.
//
// Endpoint: GET /api/accounts/{uuid}
// Response: 200 OK with LinkedAccount
// Error: 400 Bad Request if account ID is invalid (validated by middleware)
// Error: 404 Not Found if the account does not exist or belongs to another user
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.accountService.GetAccount(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"))
	if err != nil {
		respondAccountError(w, apperrors.ErrFailedToRetrieveAccounts, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, account)
}

// UnlinkAccount handles DELETE requests to unlink an account. History is kept.
//
// Endpoint: DELETE /api/accounts/{uuid}
// Response: 204 No Content
// Error: 404 Not Found if the account does not exist, is already unlinked or belongs to another user
func (h *AccountHandler) UnlinkAccount(w http.ResponseWriter, r *http.Request) {
	err := h.accountService.UnlinkAccount(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"))
	if err != nil {
		respondAccountError(w, errors.New("failed to unlink account"), err)
		return
	}

	response.RespondJSON(w, http.StatusNoContent, nil)
}

// SyncAccount handles POST requests to sync an account with the brokerage now.
//
// Endpoint: POST /api/accounts/{uuid}/sync
// Response: 200 OK with SyncOutcome
// Error: 404 Not Found if the account does not exist or is unlinked
// Error: 409 Conflict with SyncOutcome if a sync is already running
// Error: 422/502/503/500 with SyncOutcome if the sync failed
func (h *AccountHandler) SyncAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.accountService.GetAccount(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"))
	if err != nil {
		respondAccountError(w, apperrors.ErrFailedToRetrieveAccounts, err)
		return
	}
	if !account.IsActive {
		response.RespondError(w, http.StatusNotFound, apperrors.ErrLinkedAccountNotFound.Error(), "account is unlinked")
		return
	}

	outcome := h.syncService.SyncAccount(r.Context(), account.ID)
	status := http.StatusOK
	if outcome.Status != model.SyncResultSuccess {
		status = statusForCode(outcome.Code)
	}
	respondJSON(w, status, outcome)
}

// Holdings handles GET requests to list an account's holdings with derived figures.
//
// Endpoint: GET /api/accounts/{uuid}/holdings[?includeClosed=true]
// Response: 200 OK with array of HoldingView
// Error: 400 Bad Request if includeClosed is not a boolean
// Error: 404 Not Found if the account does not exist or belongs to another user
func (h *AccountHandler) Holdings(w http.ResponseWriter, r *http.Request) {
	includeClosed, err := request.ParseBool("includeClosed", r.URL.Query().Get("includeClosed"))
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid query parameter", err.Error())
		return
	}

	holdings, err := h.accountService.GetHoldings(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"), includeClosed)
	if err != nil {
		respondAccountError(w, apperrors.ErrFailedToRetrieveHoldings, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, holdings)
}

// Transactions handles GET requests to list an account's imported transactions.
//
// Endpoint: GET /api/accounts/{uuid}/transactions[?startDate=YYYY-MM-DD&endDate=YYYY-MM-DD]
// Response: 200 OK with array of BrokerTransaction, newest first
// Error: 400 Bad Request if a date is invalid
// Error: 404 Not Found if the account does not exist or belongs to another user
func (h *AccountHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	filters, err := request.ParseTransactionFilters(r.URL.Query().Get("startDate"), r.URL.Query().Get("endDate"))
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid query parameter", err.Error())
		return
	}

	transactions, err := h.accountService.GetTransactions(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"),
		filters.StartDate, filters.EndDate)
	if err != nil {
		respondAccountError(w, apperrors.ErrFailedToRetrieveTransactions, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, transactions)
}

// Dashboard handles GET requests for an account's derived portfolio metrics.
//
// Endpoint: GET /api/accounts/{uuid}/dashboard
// Response: 200 OK with Dashboard
// Error: 404 Not Found if the account does not exist or belongs to another user
// Error: 500 Internal Server Error if the dashboard cannot be built
func (h *AccountHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.dashboardService.GetDashboard(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"))
	if err != nil {
		respondAccountError(w, apperrors.ErrFailedToBuildDashboard, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, dashboard)
}

// CreateSnapshot handles POST requests to record a manual snapshot from stored holdings.
//
// Endpoint: POST /api/accounts/{uuid}/snapshots
// Response: 201 Created with PortfolioSnapshot
// Error: 404 Not Found if the account does not exist or belongs to another user
func (h *AccountHandler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	account, err := h.accountService.GetAccount(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "uuid"))
	if err != nil {
		respondAccountError(w, apperrors.ErrFailedToRetrieveAccounts, err)
		return
	}

	snap, err := h.snapshotService.TakeSnapshot(r.Context(), account.ID, model.SnapshotManual)
	if err != nil {
		log.Printf("Failed to take snapshot of account %s: %v", account.ID, err)
		response.RespondError(w, http.StatusInternalServerError, "failed to take snapshot", "")
		return
	}

	response.RespondJSON(w, http.StatusCreated, snap)
}
