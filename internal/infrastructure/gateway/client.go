package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sessionflow/flowguard/internal/domain/callback"
)

// Verifier asks the payment gateway for the authoritative status of a
// transaction. It implements booking.GatewayVerifier.
type Verifier struct {
	baseURL string
	client  *http.Client
}

func NewVerifier(baseURL string, timeout time.Duration) *Verifier {
	return &Verifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Verify returns nil, nil when the gateway does not know the transaction.
func (v *Verifier) Verify(ctx context.Context, externalTransactionID string) (*callback.GatewayStatus, error) {
	var status callback.GatewayStatus
	found, err := getJSON(ctx, v.client, v.baseURL+"/transactions/"+url.PathEscape(externalTransactionID), &status)
	if err != nil || !found {
		return nil, err
	}
	if status.ExternalTransactionID == "" {
		status.ExternalTransactionID = externalTransactionID
	}
	return &status, nil
}

// FormsClient queries the intake-forms service. It implements booking.FormsChecker.
type FormsClient struct {
	baseURL string
	client  *http.Client
}

func NewFormsClient(baseURL string, timeout time.Duration) *FormsClient {
	return &FormsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type formsStatus struct {
	Complete bool `json:"complete"`
}

// FormsComplete treats an unknown booking as incomplete forms.
func (f *FormsClient) FormsComplete(ctx context.Context, ref string) (bool, error) {
	var status formsStatus
	found, err := getJSON(ctx, f.client, f.baseURL+"/bookings/"+url.PathEscape(ref)+"/forms", &status)
	if err != nil || !found {
		return false, err
	}
	return status.Complete, nil
}

func getJSON(ctx context.Context, client *http.Client, target string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("GET %s: status %d: %s", target, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode %s: %w", target, err)
	}
	return true, nil
}
