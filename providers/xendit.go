package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	xenditBaseURL           = "https://api.xendit.co"
	xenditIdempotencyHeader = "Idempotency-key"
)

// XenditGateway implements PaymentGateway using Xendit QRIS payment requests.
type XenditGateway struct {
	secretKey  string
	baseURL    string
	currency   string
	httpClient *http.Client
}

// NewXenditGateway creates a new XenditGateway. An empty baseURL selects the
// public API.
func NewXenditGateway(secretKey, baseURL, currency string, timeout time.Duration) *XenditGateway {
	if baseURL == "" {
		baseURL = xenditBaseURL
	}
	return &XenditGateway{
		secretKey: secretKey,
		baseURL:   baseURL,
		currency:  currency,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (x *XenditGateway) Name() string { return "xendit" }

// ---- Xendit API request/response structs ----

type xenditQRCode struct {
	ChannelCode       string `json:"channel_code"`
	ChannelProperties *struct {
		QRString string `json:"qr_string"`
	} `json:"channel_properties,omitempty"`
}

type xenditPaymentMethodRequest struct {
	Type        string       `json:"type"`
	Reusability string       `json:"reusability"`
	ReferenceID string       `json:"reference_id"`
	QRCode      xenditQRCode `json:"qr_code"`
}

type xenditPaymentRequest struct {
	ReferenceID   string                     `json:"reference_id"`
	Amount        int64                      `json:"amount"`
	Currency      string                     `json:"currency"`
	PaymentMethod xenditPaymentMethodRequest `json:"payment_method"`
}

type xenditPaymentMethod struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	QRCode xenditQRCode `json:"qr_code"`
}

func (m xenditPaymentMethod) qrString() string {
	if m.QRCode.ChannelProperties == nil {
		return ""
	}
	return m.QRCode.ChannelProperties.QRString
}

type xenditPaymentResponse struct {
	ID            string              `json:"id"`
	Status        string              `json:"status"`
	PaymentMethod xenditPaymentMethod `json:"payment_method"`
}

type xenditSimulateRequest struct {
	Amount int64 `json:"amount"`
}

// ---- PaymentGateway implementation ----

// CreatePaymentRequest creates a one-time QRIS payment request.
func (x *XenditGateway) CreatePaymentRequest(ctx context.Context, amount int64, orderID string) (*PaymentRequest, error) {
	reqBody := xenditPaymentRequest{
		ReferenceID: orderID,
		Amount:      amount,
		Currency:    x.currency,
		PaymentMethod: xenditPaymentMethodRequest{
			Type:        "QR_CODE",
			Reusability: "ONE_TIME_USE",
			ReferenceID: orderID,
			QRCode:      xenditQRCode{ChannelCode: "QRIS"},
		},
	}

	var resp xenditPaymentResponse
	if err := x.doRequest(ctx, http.MethodPost, "/payment_requests", IdempotencyKey(orderID), reqBody, &resp); err != nil {
		return nil, fmt.Errorf("xendit CreatePaymentRequest: %w", err)
	}
	if resp.ID == "" || resp.PaymentMethod.ID == "" {
		return nil, fmt.Errorf("xendit CreatePaymentRequest: response missing identifiers")
	}

	return &PaymentRequest{
		RequestID:       resp.ID,
		PaymentMethodID: resp.PaymentMethod.ID,
		PaymentCode:     resp.PaymentMethod.qrString(),
	}, nil
}

// SimulatePayment asks Xendit to pay the QR code. Xendit reports the result
// through the regular payment callback.
func (x *XenditGateway) SimulatePayment(ctx context.Context, paymentMethodID string, amount int64) error {
	path := fmt.Sprintf("/v2/payment_methods/%s/payments/simulate", url.PathEscape(paymentMethodID))
	if err := x.doRequest(ctx, http.MethodPost, path, "", xenditSimulateRequest{Amount: amount}, nil); err != nil {
		return fmt.Errorf("xendit SimulatePayment: %w", err)
	}
	return nil
}

func (x *XenditGateway) LookupPaymentMethod(ctx context.Context, link PaymentLink) (*PaymentMethod, error) {
	path := fmt.Sprintf("/v2/payment_methods/%s", url.PathEscape(link.PaymentMethodID))

	var resp xenditPaymentMethod
	if err := x.doRequest(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, fmt.Errorf("xendit LookupPaymentMethod: %w", err)
	}
	return &PaymentMethod{
		ID:          resp.ID,
		Status:      resp.Status,
		PaymentCode: resp.qrString(),
	}, nil
}

// ---- HTTP helper ----

func (x *XenditGateway) doRequest(ctx context.Context, method, path, idempotencyKey string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, x.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(x.secretKey, "")
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(xenditIdempotencyHeader, idempotencyKey)
	}

	resp, err := x.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures leave the request outcome unknown.
		return errors.Join(ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Join(ErrGatewayUnavailable, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 500 {
		return errors.Join(ErrGatewayUnavailable,
			fmt.Errorf("xendit API error (status %d): %s", resp.StatusCode, string(respBytes)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("xendit API error (status %d): %s", resp.StatusCode, string(respBytes))
	}

	if out != nil {
		if err := json.Unmarshal(respBytes, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
