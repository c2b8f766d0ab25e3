package routes

import (
	"github.com/carterwilliams/bastion/internal/auth"
	"github.com/carterwilliams/bastion/internal/cache"
	"github.com/carterwilliams/bastion/internal/handlers"
	"github.com/carterwilliams/bastion/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	sessionHandler *handlers.SessionHandler,
	accountHandler *handlers.AccountHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
	sessions auth.SessionChecker,
	userRepo auth.UserRepository,
	creds *cache.CredentialCache,
) {
	authRateLimit := middleware.RateLimitByIP(middleware.DefaultAuthRateLimit())

	// Public routes - no authentication required
	router.Group(func(r chi.Router) {
		r.Use(authRateLimit)

		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/refresh", authHandler.RefreshToken)
		r.Post("/auth/reactivate", authHandler.Reactivate)
		r.Post("/auth/2fa/verify", authHandler.VerifyTwoFactor)
		r.Post("/auth/2fa/resend", authHandler.ResendTwoFactor)
	})

	// Protected routes - a valid envelope and a live session required
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(middleware.DefaultAPIRateLimit()))
		r.Use(auth.AuthMiddleware(tokenManager, sessions, creds))

		r.Post("/auth/logout", authHandler.Logout)

		r.Get("/sessions", sessionHandler.List)
		r.Delete("/sessions", sessionHandler.RevokeAll)
		r.Delete("/sessions/others", sessionHandler.RevokeOthers)
		r.Delete("/sessions/{id}", sessionHandler.Revoke)

		r.Get("/account", accountHandler.GetProfile)
		r.Patch("/account", accountHandler.UpdateName)
		r.Delete("/account", accountHandler.DeleteAccount)
		r.Get("/account/activity", accountHandler.GetActivity)
		r.Post("/account/2fa/totp", accountHandler.StartTOTPEnrollment)
		r.Post("/account/2fa/totp/confirm", accountHandler.ConfirmTOTPEnrollment)
		r.Post("/account/2fa/email", accountHandler.EnableEmailTwoFactor)
		r.Delete("/account/2fa", accountHandler.DisableTwoFactor)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(userRepo, creds, "admin"))

			r.Get("/admin/users", adminHandler.ListUsers)
			r.Get("/admin/users/{id}", adminHandler.GetUser)
			r.Post("/admin/users/{id}/block", adminHandler.BlockUser)
			r.Post("/admin/users/{id}/unblock", adminHandler.UnblockUser)
			r.Put("/admin/users/{id}/role", adminHandler.SetRole)
			r.Post("/admin/users/{id}/restore", adminHandler.RestoreUser)
			r.Get("/admin/users/{id}/audit", adminHandler.GetUserAudit)
			r.Get("/admin/audit", adminHandler.QueryAudit)
			r.Get("/admin/stats", adminHandler.GetSecurityStats)
			r.Post("/admin/alerts/{id}/acknowledge", adminHandler.AcknowledgeAlert)
		})
	})
}
