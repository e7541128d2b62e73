package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordesk/promo-engine/internal/domain/rule"
)

type ruleRequest struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	DiscountType  rule.DiscountType `json:"discountType"`
	DiscountValue decimal.Decimal   `json:"discountValue"`
	BuyQuantity   int               `json:"buyQuantity,omitempty"`
	GetQuantity   int               `json:"getQuantity,omitempty"`

	AppliesTo   rule.AppliesTo `json:"appliesTo"`
	ProductIDs  []string       `json:"productIds,omitempty"`
	CategoryIDs []string       `json:"categoryIds,omitempty"`

	CustomerIDs             []string `json:"customerIds,omitempty"`
	CustomerClassifications []string `json:"customerClassifications,omitempty"`

	MinOrderAmount    decimal.Decimal `json:"minOrderAmount"`
	MinQuantity       int             `json:"minQuantity,omitempty"`
	MaxDiscountAmount decimal.Decimal `json:"maxDiscountAmount"`

	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`

	UsageLimit       int `json:"usageLimit,omitempty"`
	UsagePerCustomer int `json:"usagePerCustomer,omitempty"`

	Priority     int  `json:"priority"`
	IsCombinable bool `json:"isCombinable"`
	IsActive     bool `json:"isActive"`

	Version int `json:"version,omitempty"`
}

type ruleResponse struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	DiscountType  rule.DiscountType `json:"discountType"`
	DiscountValue decimal.Decimal   `json:"discountValue"`
	BuyQuantity   int               `json:"buyQuantity,omitempty"`
	GetQuantity   int               `json:"getQuantity,omitempty"`

	AppliesTo   rule.AppliesTo `json:"appliesTo"`
	ProductIDs  []string       `json:"productIds,omitempty"`
	CategoryIDs []string       `json:"categoryIds,omitempty"`

	CustomerIDs             []string `json:"customerIds,omitempty"`
	CustomerClassifications []string `json:"customerClassifications,omitempty"`

	MinOrderAmount    decimal.Decimal `json:"minOrderAmount"`
	MinQuantity       int             `json:"minQuantity,omitempty"`
	MaxDiscountAmount decimal.Decimal `json:"maxDiscountAmount"`

	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`

	UsageLimit       int `json:"usageLimit,omitempty"`
	UsagePerCustomer int `json:"usagePerCustomer,omitempty"`
	CurrentUsage     int `json:"currentUsage"`

	Priority     int  `json:"priority"`
	IsCombinable bool `json:"isCombinable"`
	IsActive     bool `json:"isActive"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ruleListResponse struct {
	Rules []ruleResponse `json:"rules"`
	Total int            `json:"total"`
}

// ListRules returns the administrative rule listing with optional filtering,
// sorting and pagination via query parameters.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	f, ok := parseListFilter(w, r)
	if !ok {
		return
	}

	rules, total, err := h.rules.List(r.Context(), f)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	resp := ruleListResponse{Rules: make([]ruleResponse, len(rules)), Total: total}
	for i := range rules {
		resp.Rules[i] = toRuleResponse(&rules[i])
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// CreateRule validates and persists a new rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rr, ok := toRule(w, r, req)
	if !ok {
		return
	}
	rr.ID = uuid.NewString()

	if err := h.rules.Create(r.Context(), rr); err != nil {
		if errors.Is(err, rule.ErrCodeTaken) {
			writeError(w, r, http.StatusConflict, "rule code already exists")
			return
		}
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toRuleResponse(rr))
}

// GetRule returns one rule by id.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rr, err := h.rules.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, rule.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "rule not found")
			return
		}
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toRuleResponse(rr))
}

// UpdateRule replaces a rule's definition, guarded by its version so
// concurrent administrative edits cannot silently overwrite each other.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rr, ok := toRule(w, r, req)
	if !ok {
		return
	}
	rr.ID = chi.URLParam(r, "id")
	rr.Version = req.Version

	if err := h.rules.Update(r.Context(), rr); err != nil {
		switch {
		case errors.Is(err, rule.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "rule not found")
		case errors.Is(err, rule.ErrVersionConflict):
			writeError(w, r, http.StatusConflict, "rule was modified concurrently")
		case errors.Is(err, rule.ErrCodeTaken):
			writeError(w, r, http.StatusConflict, "rule code already exists")
		default:
			writeInternalError(w, r, err)
		}
		return
	}
	writeJSON(w, r, http.StatusOK, toRuleResponse(rr))
}

// DeleteRule removes a never-redeemed rule, or deactivates one that has
// redemptions so the audit trail survives.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, rule.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "rule not found")
			return
		}
		writeInternalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type toggleRequest struct {
	Active bool `json:"active"`
}

// ToggleRule flips a rule's activation without touching its definition.
func (h *Handler) ToggleRule(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.rules.SetActive(r.Context(), id, req.Active); err != nil {
		if errors.Is(err, rule.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "rule not found")
			return
		}
		writeInternalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseListFilter(w http.ResponseWriter, r *http.Request) (rule.ListFilter, bool) {
	q := r.URL.Query()
	f := rule.ListFilter{
		Code:   q.Get("code"),
		SortBy: q.Get("sort"),
	}

	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid active filter")
			return f, false
		}
		f.Active = &active
	}
	if v := q.Get("validAt"); v != "" {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid validAt timestamp")
			return f, false
		}
		f.WithinWindowAt = &at
	}
	f.SortDesc = q.Get("order") == "desc"

	var err error
	if f.Limit, err = parseIntParam(q.Get("limit"), 50); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid limit")
		return f, false
	}
	if f.Offset, err = parseIntParam(q.Get("offset"), 0); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid offset")
		return f, false
	}
	return f, true
}

func parseIntParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("not a non-negative integer")
	}
	return n, nil
}

func toRule(w http.ResponseWriter, r *http.Request, req ruleRequest) (*rule.Rule, bool) {
	benefit, err := rule.NewBenefit(req.DiscountType, req.DiscountValue, req.BuyQuantity, req.GetQuantity)
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return nil, false
	}

	rr := &rule.Rule{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,

		Benefit:   benefit,
		AppliesTo: req.AppliesTo,

		ProductIDs:  req.ProductIDs,
		CategoryIDs: req.CategoryIDs,

		CustomerIDs:             req.CustomerIDs,
		CustomerClassifications: req.CustomerClassifications,

		MinOrderAmount:    req.MinOrderAmount,
		MinQuantity:       req.MinQuantity,
		MaxDiscountAmount: req.MaxDiscountAmount,

		StartDate: req.StartDate,
		EndDate:   req.EndDate,

		UsageLimit:       req.UsageLimit,
		UsagePerCustomer: req.UsagePerCustomer,

		Priority:     req.Priority,
		IsCombinable: req.IsCombinable,
		IsActive:     req.IsActive,
	}
	if err := rr.Validate(); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return nil, false
	}
	return rr, true
}

func toRuleResponse(rr *rule.Rule) ruleResponse {
	resp := ruleResponse{
		ID:          rr.ID,
		Code:        rr.Code,
		Name:        rr.Name,
		Description: rr.Description,

		DiscountType: rr.Benefit.Type(),
		AppliesTo:    rr.AppliesTo,

		ProductIDs:  rr.ProductIDs,
		CategoryIDs: rr.CategoryIDs,

		CustomerIDs:             rr.CustomerIDs,
		CustomerClassifications: rr.CustomerClassifications,

		MinOrderAmount:    rr.MinOrderAmount,
		MinQuantity:       rr.MinQuantity,
		MaxDiscountAmount: rr.MaxDiscountAmount,

		StartDate: rr.StartDate,
		EndDate:   rr.EndDate,

		UsageLimit:       rr.UsageLimit,
		UsagePerCustomer: rr.UsagePerCustomer,
		CurrentUsage:     rr.CurrentUsage,

		Priority:     rr.Priority,
		IsCombinable: rr.IsCombinable,
		IsActive:     rr.IsActive,

		Version:   rr.Version,
		CreatedAt: rr.CreatedAt,
		UpdatedAt: rr.UpdatedAt,
	}

	switch b := rr.Benefit.(type) {
	case rule.Percentage:
		resp.DiscountValue = b.Value
	case rule.Fixed:
		resp.DiscountValue = b.Value
	case rule.BuyXGetY:
		resp.BuyQuantity = b.Buy
		resp.GetQuantity = b.Get
	}
	return resp
}
