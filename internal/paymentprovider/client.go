// Package paymentprovider реализует клиент платежного шлюза Paystack:
// создание платежной ссылки и проверку статуса платежа по reference.
package paymentprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Client struct {
	secretKey  string
	apiURL     string
	httpClient *http.Client
}

// NewClient создаёт новый клиент Paystack.
func NewClient(secretKey string) *Client {
	return &Client{
		secretKey:  secretKey,
		apiURL:     "https://api.paystack.co",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	url := c.apiURL + path
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// InitializeTransaction отправляет запрос на создание платежа
// и возвращает ссылку для оплаты.
func (c *Client) InitializeTransaction(ctx context.Context, reqParams InitializeRequest) (*InitializeResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/transaction/initialize", reqParams)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("unexpected status: " + resp.Status)
	}

	var initResp InitializeResponse
	if err := json.NewDecoder(resp.Body).Decode(&initResp); err != nil {
		return nil, err
	}
	if !initResp.Status {
		return nil, fmt.Errorf("paystack initialize failed: %s", initResp.Message)
	}
	return &initResp, nil
}

// VerifyTransaction проверяет статус платежа по reference.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*VerifyResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/transaction/verify/"+reference, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("unexpected status: " + resp.Status)
	}

	var verifyResp VerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&verifyResp); err != nil {
		return nil, err
	}
	return &verifyResp, nil
}
