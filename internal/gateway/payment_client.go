// Package gateway содержит клиент внешнего платёжного шлюза.
// Движок escrow деньгами не управляет: шлюз создаёт платёж и отвечает
// на вопрос "оплачен ли reference", всё остальное — его зона.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CreateIntentRequest — запрос на создание платежа.
type CreateIntentRequest struct {
	Reference string  `json:"reference"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
}

// IntentResponse — ответ шлюза на создание платежа.
type IntentResponse struct {
	Reference   string  `json:"reference"`
	Status      string  `json:"status"`
	RedirectURL *string `json:"redirect_url,omitempty"`
}

type verifyResponse struct {
	Reference string `json:"reference"`
	Paid      bool   `json:"paid"`
}

// Client — HTTP клиент платёжного шлюза.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient создаёт экземпляр клиента.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateIntent регистрирует платёж в шлюзе и возвращает ссылку на оплату.
func (c *Client) CreateIntent(ctx context.Context, req CreateIntentRequest) (*IntentResponse, error) {
	var out IntentResponse
	if err := c.post(ctx, "/v1/intents", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyPayment спрашивает шлюз, прошла ли оплата по reference.
// Ошибка означает недоступность шлюза, а не отказ в оплате.
func (c *Client) VerifyPayment(ctx context.Context, reference string) (bool, error) {
	url := fmt.Sprintf("%s/v1/intents/%s", c.baseURL, reference)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("gateway: запрос статуса платежа не выполнен: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errorBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errorBody)
		return false, fmt.Errorf("gateway: код ответа %d: %v", resp.StatusCode, errorBody)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("gateway: не удалось разобрать ответ шлюза: %w", err)
	}
	return out.Paid, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("gateway: baseURL не задан")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("gateway: запрос не выполнен: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errorBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errorBody)
		return fmt.Errorf("gateway: код ответа %d: %v", resp.StatusCode, errorBody)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gateway: не удалось разобрать ответ шлюза: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
