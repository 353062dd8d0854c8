// services/payment_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// PaymentClient asks the payment service whether a token can be charged.
type PaymentClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
	Logger  *zap.Logger
}

type verifyResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func NewPaymentClient(baseURL, token string, logger *zap.Logger) *PaymentClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
		Logger: logger,
	}
}

// Verify calls /payments/verify. A 4xx or {"valid": false} means the token is unusable.
func (c *PaymentClient) Verify(ctx context.Context, userID, paymentToken string) error {
	url := fmt.Sprintf("%s/payments/verify", c.BaseURL)

	jsonData, err := json.Marshal(map[string]string{
		"user_id":       userID,
		"payment_token": paymentToken,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("payment service: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		c.Logger.Info("payment token rejected",
			zap.String("user_id", userID),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("payment service returned %d: %w", resp.StatusCode, ErrInvalidPaymentMethod)
	}
	if resp.StatusCode != http.StatusOK {
		c.Logger.Error("payment service error",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return fmt.Errorf("payment verification failed: %d", resp.StatusCode)
	}

	var out verifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("decode payment response: %w", err)
	}
	if !out.Valid {
		return fmt.Errorf("payment token rejected (%s): %w", out.Reason, ErrInvalidPaymentMethod)
	}
	return nil
}
