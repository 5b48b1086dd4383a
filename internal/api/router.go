package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/api/handlers"
	custommiddleware "github.com/ndewijer/Portfolio-Performance-Tracker/internal/api/middleware"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/config"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/service"
)

// Services bundles what the router dispatches to.
type Services struct {
	System    *service.SystemService
	Link      *service.LinkService
	Accounts  *service.AccountService
	Sync      *service.SyncService
	Dashboard *service.DashboardService
	Snapshots *service.SnapshotService
}

// NewRouter creates and configures the HTTP router
func NewRouter(svc Services, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(custommiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS middleware
	corsMiddleware := custommiddleware.NewCORS(cfg.CORS.AllowedOrigins)
	r.Use(corsMiddleware.Handler)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// System namespace
		r.Route("/system", func(r chi.Router) {
			systemHandler := handlers.NewSystemHandler(svc.System)
			r.Get("/health", systemHandler.Health)
			r.Get("/version", systemHandler.Version)
		})

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.RequireUserID)

			r.Route("/link", func(r chi.Router) {
				linkHandler := handlers.NewLinkHandler(svc.Link)
				r.Post("/", linkHandler.LinkAccount)
				r.Post("/mfa", linkHandler.SubmitMFA)
			})

			r.Route("/accounts", func(r chi.Router) {
				accountHandler := handlers.NewAccountHandler(svc.Accounts, svc.Sync, svc.Dashboard, svc.Snapshots)
				r.Get("/", accountHandler.ListAccounts)

				r.Route("/{uuid}", func(r chi.Router) {
					r.Use(custommiddleware.ValidateUUIDMiddleware)
					r.Get("/", accountHandler.GetAccount)
					r.Delete("/", accountHandler.UnlinkAccount)
					r.Post("/sync", accountHandler.SyncAccount)
					r.Get("/holdings", accountHandler.Holdings)
					r.Get("/transactions", accountHandler.Transactions)
					r.Get("/dashboard", accountHandler.Dashboard)
					r.Post("/snapshots", accountHandler.CreateSnapshot)
				})
			})
		})
	})

	return r
}
