/**
 * @description
 * This package provides a client for the Midtrans Core API. It encapsulates the
 * logic for making authenticated HTTP requests to Midtrans's charge and
 * transaction-status endpoints and for verifying webhook notification
 * signatures.
 *
 * @dependencies
 * - bytes, context, crypto, encoding, fmt, net/http, time: Standard Go libraries.
 */
package midtrans

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const (
	sandboxBaseURL    = "https://api.sandbox.midtrans.com"
	productionBaseURL = "https://api.midtrans.com"
)

// Client is a client for the Midtrans Core API.
type Client struct {
	BaseURL    string
	ServerKey  string
	HTTPClient *http.Client
}

// NewClient creates a new Midtrans API client. The production flag selects the
// live gateway; everything else hits the sandbox.
func NewClient(serverKey string, production bool) *Client {
	baseURL := sandboxBaseURL
	if production {
		baseURL = productionBaseURL
	}
	return &Client{
		BaseURL:   baseURL,
		ServerKey: serverKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ChargeRequest represents the payload for a QRIS charge.
type ChargeRequest struct {
	PaymentType        string `json:"payment_type"`
	TransactionDetails struct {
		OrderID     string `json:"order_id"`
		GrossAmount int64  `json:"gross_amount"`
	} `json:"transaction_details"`
	QRIS struct {
		Acquirer string `json:"acquirer"`
	} `json:"qris"`
}

// ChargeResponse is the expected response from the charge endpoint.
type ChargeResponse struct {
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message"`
	TransactionID     string `json:"transaction_id"`
	OrderID           string `json:"order_id"`
	GrossAmount       string `json:"gross_amount"`
	TransactionStatus string `json:"transaction_status"`
	QRString          string `json:"qr_string"`
	ExpiryTime        string `json:"expiry_time"`
	Actions           []struct {
		Name   string `json:"name"`
		Method string `json:"method"`
		URL    string `json:"url"`
	} `json:"actions"`
}

// TransactionStatusResponse is the response from the status/cancel/expire endpoints.
type TransactionStatusResponse struct {
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message"`
	TransactionID     string `json:"transaction_id"`
	OrderID           string `json:"order_id"`
	GrossAmount       string `json:"gross_amount"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
}

// APIError represents a non-2xx response from the Midtrans API.
type APIError struct {
	StatusCode    int
	StatusMessage string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("midtrans api error (status %d): %s", e.StatusCode, e.StatusMessage)
}

// QRURL returns the QR code image URL from the charge actions, if present.
func (r *ChargeResponse) QRURL() string {
	for _, action := range r.Actions {
		if action.Name == "generate-qr-code" {
			return action.URL
		}
	}
	return ""
}

// CreateQRISCharge creates a QRIS charge for the given order via the GoPay acquirer.
func (c *Client) CreateQRISCharge(ctx context.Context, orderID string, grossAmount int64) (*ChargeResponse, error) {
	reqPayload := ChargeRequest{}
	reqPayload.PaymentType = "qris"
	reqPayload.TransactionDetails.OrderID = orderID
	reqPayload.TransactionDetails.GrossAmount = grossAmount
	reqPayload.QRIS.Acquirer = "gopay"

	var chargeResp ChargeResponse
	if err := c.do(ctx, "POST", "/v2/charge", reqPayload, &chargeResp); err != nil {
		return nil, err
	}
	return &chargeResp, nil
}

// GetTransactionStatus fetches the current gateway status for an order.
func (c *Client) GetTransactionStatus(ctx context.Context, orderID string) (*TransactionStatusResponse, error) {
	var statusResp TransactionStatusResponse
	if err := c.do(ctx, "GET", "/v2/"+orderID+"/status", nil, &statusResp); err != nil {
		return nil, err
	}
	return &statusResp, nil
}

// CancelTransaction cancels a pending transaction at the gateway.
func (c *Client) CancelTransaction(ctx context.Context, orderID string) (*TransactionStatusResponse, error) {
	var statusResp TransactionStatusResponse
	if err := c.do(ctx, "POST", "/v2/"+orderID+"/cancel", nil, &statusResp); err != nil {
		return nil, err
	}
	return &statusResp, nil
}

// ExpireTransaction forces a pending transaction to the expired state.
func (c *Client) ExpireTransaction(ctx context.Context, orderID string) (*TransactionStatusResponse, error) {
	var statusResp TransactionStatusResponse
	if err := c.do(ctx, "POST", "/v2/"+orderID+"/expire", nil, &statusResp); err != nil {
		return nil, err
	}
	return &statusResp, nil
}

// VerifySignature checks a webhook notification signature. Midtrans signs
// notifications as SHA512(order_id + status_code + gross_amount + server_key).
func (c *Client) VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + c.ServerKey))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signatureKey)) == 1
}

// do executes an authenticated request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal midtrans request: %w", err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create midtrans request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.ServerKey+":")))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute midtrans request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read midtrans response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			StatusMessage string `json:"status_message"`
		}
		_ = json.Unmarshal(bodyBytes, &errBody)
		log.Printf("level=warn component=midtrans_client method=%s path=%s status=%d msg=%q", method, path, resp.StatusCode, errBody.StatusMessage)
		return &APIError{StatusCode: resp.StatusCode, StatusMessage: errBody.StatusMessage}
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode midtrans response: %w", err)
	}
	return nil
}
