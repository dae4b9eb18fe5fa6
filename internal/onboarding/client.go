package onboarding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/procflow/pkg/api"
)

// HTTPClient is a PartnerClient for the partner services' REST API.
//
//	POST {base}/wallets                        {"process_id": "..."}
//	POST {base}/identities/{process_id}/bpn
//	POST {base}/companies/{process_id}/activate
//
// Any non-2xx response becomes an *api.ServiceError; transport faults are
// reported as recoverable.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

var _ PartnerClient = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient. A nil httpClient uses one with a
// 30 second timeout.
func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

func (c *HTTPClient) CreateWallet(ctx context.Context, processID uuid.UUID) error {
	body := map[string]string{"process_id": processID.String()}
	return c.post(ctx, "wallet", "/wallets", body)
}

func (c *HTTPClient) AddBPNToIdentity(ctx context.Context, processID uuid.UUID) error {
	return c.post(ctx, "identity", "/identities/"+processID.String()+"/bpn", nil)
}

func (c *HTTPClient) ActivateCompany(ctx context.Context, processID uuid.UUID) error {
	return c.post(ctx, "company", "/companies/"+processID.String()+"/activate", nil)
}

func (c *HTTPClient) post(ctx context.Context, service, path string, body any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", service, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", service, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &api.ServiceError{Service: service, Recoverable: true, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &api.ServiceError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(msg)),
	}
}

// DryRunClient is a PartnerClient that only logs the calls it receives.
type DryRunClient struct {
	Logger *slog.Logger
}

var _ PartnerClient = DryRunClient{}

func (c DryRunClient) CreateWallet(ctx context.Context, processID uuid.UUID) error {
	c.log(ctx, "create wallet", processID)
	return nil
}

func (c DryRunClient) AddBPNToIdentity(ctx context.Context, processID uuid.UUID) error {
	c.log(ctx, "add bpn to identity", processID)
	return nil
}

func (c DryRunClient) ActivateCompany(ctx context.Context, processID uuid.UUID) error {
	c.log(ctx, "activate company", processID)
	return nil
}

func (c DryRunClient) log(ctx context.Context, call string, processID uuid.UUID) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "dry run partner call", "call", call, "process_id", processID.String())
}
