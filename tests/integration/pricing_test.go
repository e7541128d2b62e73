//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestQuote_AppliesSeededRules(t *testing.T) {
	resp := doPost(t, "/api/pricing/quote", sampleOrder())
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	result := decodeJSON[quoteResponse](t, resp)
	if result.Subtotal != "60" {
		t.Errorf("subtotal: got %q, want 60", result.Subtotal)
	}
	if len(result.Applied) == 0 {
		t.Fatal("expected at least one applied discount")
	}

	// SNACKTIME (buy 2 get 1 on snacks, non-combinable, priority 20) and
	// WELCOME10 + FIVEOFF stacking on the order scope.
	codes := make(map[string]bool)
	for _, a := range result.Applied {
		codes[a.RuleCode] = true
	}
	for _, want := range []string{"SNACKTIME", "WELCOME10", "FIVEOFF"} {
		if !codes[want] {
			t.Errorf("expected %s to be applied, applied: %v", want, codes)
		}
	}
}

func TestQuote_BelowMinimum(t *testing.T) {
	order := orderBody{
		CustomerID: "customer-2",
		Items: []orderLine{
			{ProductID: "p1", CategoryID: "drinks", Quantity: 1, UnitPrice: "5.00"},
		},
	}

	resp := doPost(t, "/api/pricing/quote", order)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	result := decodeJSON[quoteResponse](t, resp)
	// 5.00 order is under every seeded rule's minimum.
	if len(result.Applied) != 0 {
		t.Errorf("expected no discounts, got %v", result.Applied)
	}
	if result.FinalTotal != "5" {
		t.Errorf("final total: got %q, want 5", result.FinalTotal)
	}
}

func TestQuote_InvalidBody(t *testing.T) {
	resp := doPost(t, "/api/pricing/quote", orderBody{CustomerID: "x"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestValidateCode_Valid(t *testing.T) {
	resp := doPost(t, "/api/pricing/code", codeBody{Code: "welcome10", Order: sampleOrder()})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	v := decodeJSON[codeResponse](t, resp)
	if !v.Valid {
		t.Fatalf("expected valid, got error %q", v.Error)
	}
	if v.Code != "WELCOME10" {
		t.Errorf("code: got %q, want WELCOME10", v.Code)
	}
	if v.Amount == "" {
		t.Error("expected a computed amount")
	}
}

func TestValidateCode_Unknown(t *testing.T) {
	resp := doPost(t, "/api/pricing/code", codeBody{Code: "NOSUCHCODE", Order: sampleOrder()})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	v := decodeJSON[codeResponse](t, resp)
	if v.Valid {
		t.Fatal("expected invalid")
	}
	if v.Error != "not_found" {
		t.Errorf("error: got %q, want not_found", v.Error)
	}
}

func TestCommit_RequiresAPIKey(t *testing.T) {
	resp := doPost(t, "/api/pricing/commit", commitBody{CustomerID: "customer-1"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCommit_RecordsRedemptions(t *testing.T) {
	quoteResp := doPost(t, "/api/pricing/quote", sampleOrder())
	quote := decodeJSON[quoteResponse](t, quoteResp)
	quoteResp.Body.Close()

	resp := doPostWithAuth(t, "/api/pricing/commit", commitBody{
		CustomerID: "customer-1",
		Result:     quote,
	}, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	c := decodeJSON[commitResponse](t, resp)
	if len(c.Voided) != 0 {
		t.Errorf("expected no voided discounts, got %v", c.Voided)
	}
	if len(c.Result.Applied) != len(quote.Applied) {
		t.Errorf("applied count changed: got %d, want %d", len(c.Result.Applied), len(quote.Applied))
	}
}
