package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPGateway verifies payments against a REST gateway exposing
// GET {base}/transaction/verify/{reference} with a bearer secret key.
type HTTPGateway struct {
	BaseURL   string
	SecretKey string
	client    *http.Client
}

func NewHTTPGateway(baseURL, secretKey string) *HTTPGateway {
	return &HTTPGateway{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		SecretKey: secretKey,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

type verifyResp struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Status    string `json:"status"`
		Customer  struct {
			Email string `json:"email"`
		} `json:"customer"`
	} `json:"data"`
}

func (g *HTTPGateway) Verify(ctx context.Context, reference string) (*Verification, error) {
	endpoint := g.BaseURL + "/transaction/verify/" + url.PathEscape(reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.SecretKey)
	req.Header.Set("Accept", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", reference, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrUnknownReference
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("[PAYMENT] verify %s: status %d body=%s", reference, resp.StatusCode, string(body))
		return nil, fmt.Errorf("verify %s: gateway returned %d", reference, resp.StatusCode)
	}
	var out verifyResp
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("verify %s: decode: %w", reference, err)
	}
	if !out.Status {
		return nil, fmt.Errorf("verify %s: %s", reference, out.Message)
	}
	ref := out.Data.Reference
	if ref == "" {
		ref = reference
	}
	return &Verification{
		Reference:   ref,
		AmountCents: out.Data.Amount,
		Currency:    out.Data.Currency,
		PayerEmail:  out.Data.Customer.Email,
		Status:      strings.ToLower(out.Data.Status),
	}, nil
}
