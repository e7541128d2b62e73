package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/ordesk/promo-engine/internal/domain/pricing"
)

type orderLineRequest struct {
	ProductID  string          `json:"productId"`
	CategoryID string          `json:"categoryId,omitempty"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
}

type orderContextRequest struct {
	CustomerID             string             `json:"customerId"`
	CustomerClassification string             `json:"customerClassification,omitempty"`
	Items                  []orderLineRequest `json:"items"`
}

type codeRequest struct {
	Code  string              `json:"code"`
	Order orderContextRequest `json:"order"`
}

type appliedDiscountJSON struct {
	RuleID   string          `json:"ruleId"`
	RuleCode string          `json:"ruleCode"`
	Scope    string          `json:"scope"`
	Amount   decimal.Decimal `json:"amount"`
}

type excludedRuleJSON struct {
	RuleID   string `json:"ruleId"`
	RuleCode string `json:"ruleCode"`
	Scope    string `json:"scope"`
	Reason   string `json:"reason"`
}

type pricingResultJSON struct {
	Applied       []appliedDiscountJSON `json:"applied"`
	Excluded      []excludedRuleJSON    `json:"excluded"`
	Subtotal      decimal.Decimal       `json:"subtotal"`
	TotalDiscount decimal.Decimal       `json:"totalDiscount"`
	FinalTotal    decimal.Decimal       `json:"finalTotal"`
}

type commitRequest struct {
	CustomerID string            `json:"customerId"`
	Result     pricingResultJSON `json:"result"`
}

type commitResponse struct {
	Result pricingResultJSON     `json:"result"`
	Voided []appliedDiscountJSON `json:"voided,omitempty"`
}

type codeResponse struct {
	Valid  bool             `json:"valid"`
	Error  string           `json:"error,omitempty"`
	Code   string           `json:"code,omitempty"`
	Name   string           `json:"name,omitempty"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// Quote prices the order against every eligible rule. Purely a preview:
// usage counters never move here.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req orderContextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	order, ok := toOrderContext(w, r, req)
	if !ok {
		return
	}

	res, err := h.engine.ApplyDiscounts(r.Context(), order)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toResultJSON(res))
}

// ValidateCode checks one manually entered code against the order.
func (h *Handler) ValidateCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, r, http.StatusBadRequest, "code is required")
		return
	}
	order, ok := toOrderContext(w, r, req.Order)
	if !ok {
		return
	}

	v, err := h.engine.ValidateCode(r.Context(), req.Code, order)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	resp := codeResponse{Valid: v.Valid}
	if v.Rule != nil {
		resp.Code = v.Rule.Code
		resp.Name = v.Rule.Name
	}
	if v.Valid {
		amount := v.Amount
		resp.Amount = &amount
	} else {
		resp.Error = string(v.Reason)
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// Commit records redemptions for a confirmed order. Called exactly once by
// the order system after confirmation, never on preview. Rules whose caps
// were exhausted by a concurrent checkout are voided from the response.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CustomerID == "" {
		writeError(w, r, http.StatusBadRequest, "customerId is required")
		return
	}

	res := fromResultJSON(req.Result)
	adjusted, voided, err := h.engine.CommitRedemptions(r.Context(), res, req.CustomerID)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	resp := commitResponse{Result: toResultJSON(adjusted)}
	for _, v := range voided {
		resp.Voided = append(resp.Voided, appliedDiscountJSON(v))
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func toOrderContext(w http.ResponseWriter, r *http.Request, req orderContextRequest) (pricing.OrderContext, bool) {
	if len(req.Items) == 0 {
		writeError(w, r, http.StatusBadRequest, "items required")
		return pricing.OrderContext{}, false
	}

	order := pricing.OrderContext{
		CustomerID:             req.CustomerID,
		CustomerClassification: req.CustomerClassification,
		Lines:                  make([]pricing.LineItem, len(req.Items)),
	}
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			writeError(w, r, http.StatusUnprocessableEntity,
				"quantity must be greater than 0 for product "+item.ProductID)
			return pricing.OrderContext{}, false
		}
		if item.UnitPrice.IsNegative() {
			writeError(w, r, http.StatusUnprocessableEntity,
				"unit price must not be negative for product "+item.ProductID)
			return pricing.OrderContext{}, false
		}
		order.Lines[i] = pricing.LineItem{
			ProductID:  item.ProductID,
			CategoryID: item.CategoryID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		}
	}
	return order, true
}

func toResultJSON(res *pricing.PricingResult) pricingResultJSON {
	out := pricingResultJSON{
		Applied:       make([]appliedDiscountJSON, len(res.Applied)),
		Excluded:      make([]excludedRuleJSON, len(res.Excluded)),
		Subtotal:      res.Subtotal,
		TotalDiscount: res.TotalDiscount,
		FinalTotal:    res.FinalTotal,
	}
	for i, a := range res.Applied {
		out.Applied[i] = appliedDiscountJSON(a)
	}
	for i, x := range res.Excluded {
		out.Excluded[i] = excludedRuleJSON(x)
	}
	return out
}

func fromResultJSON(in pricingResultJSON) *pricing.PricingResult {
	res := &pricing.PricingResult{
		Subtotal:      in.Subtotal,
		TotalDiscount: in.TotalDiscount,
		FinalTotal:    in.FinalTotal,
	}
	for _, a := range in.Applied {
		res.Applied = append(res.Applied, pricing.AppliedDiscount(a))
	}
	for _, x := range in.Excluded {
		res.Excluded = append(res.Excluded, pricing.ExcludedRule(x))
	}
	return res
}
