// Package handler exposes the pricing engine and the administrative rule
// CRUD surface over HTTP.
package handler

import (
	"github.com/go-chi/chi/v5"

	"github.com/ordesk/promo-engine/internal/domain/pricing"
	"github.com/ordesk/promo-engine/internal/domain/rule"
)

// Scopes required by the administrative endpoints.
const (
	ScopeManageRules = "manage_rules"
	ScopeCommit      = "commit_redemptions"
)

// Handler routes HTTP requests to the pricing engine and rule store.
type Handler struct {
	engine *pricing.Engine
	rules  rule.Store
	keys   *Keychain
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(engine *pricing.Engine, rules rule.Store, keys *Keychain) *Handler {
	return &Handler{
		engine: engine,
		rules:  rules,
		keys:   keys,
	}
}

// Routes builds the API router. Pricing previews are open; committing
// redemptions and mutating rules require an API key with the matching scope.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/pricing", func(r chi.Router) {
		r.Post("/quote", h.Quote)
		r.Post("/code", h.ValidateCode)
		r.With(h.keys.Require(ScopeCommit)).Post("/commit", h.Commit)
	})

	r.Route("/rules", func(r chi.Router) {
		r.Use(h.keys.Require(ScopeManageRules))
		r.Get("/", h.ListRules)
		r.Post("/", h.CreateRule)
		r.Get("/{id}", h.GetRule)
		r.Put("/{id}", h.UpdateRule)
		r.Delete("/{id}", h.DeleteRule)
		r.Post("/{id}/toggle", h.ToggleRule)
	})

	return r
}
