// Package telegram реализует минимальный клиент Telegram Bot API:
// длинный опрос обновлений, отправку и пересылку сообщений, проверку
// прав администратора. Исходящие вызовы ограничены по частоте согласно
// лимитам Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

type Client struct {
	token      string
	apiURL     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient создаёт новый клиент Bot API. Таймаут HTTP-клиента выбран
// с запасом относительно длинного опроса getUpdates.
func NewClient(token string, pollTimeout time.Duration) *Client {
	return &Client{
		token:      token,
		apiURL:     "https://api.telegram.org",
		httpClient: &http.Client{Timeout: pollTimeout + 10*time.Second},
		// Bot API допускает около 30 исходящих сообщений в секунду.
		limiter: rate.NewLimiter(30, 30),
	}
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	var buf bytes.Buffer
	if params != nil {
		if err := json.NewEncoder(&buf).Encode(params); err != nil {
			return err
		}
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.apiURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return err
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram: %s failed: %d %s", method, apiResp.ErrorCode, apiResp.Description)
	}
	if result != nil {
		if err := json.Unmarshal(apiResp.Result, result); err != nil {
			return err
		}
	}
	return nil
}

// GetMe возвращает аккаунт самого бота. Используется при старте,
// чтобы узнать собственный id для проверок прав администратора.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var me User
	if err := c.call(ctx, "getMe", nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// GetUpdates выполняет длинный опрос обновлений начиная с offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	params := map[string]any{
		"offset":  offset,
		"timeout": int(timeout.Seconds()),
		"allowed_updates": []string{
			"message", "channel_post",
		},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage отправляет текстовое сообщение в чат.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	params := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	return c.call(ctx, "sendMessage", params, nil)
}

// ForwardMessage пересылает сообщение messageID из fromChatID в destChatID.
func (c *Client) ForwardMessage(ctx context.Context, destChatID, fromChatID int64, messageID int) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	params := map[string]any{
		"chat_id":      destChatID,
		"from_chat_id": fromChatID,
		"message_id":   messageID,
	}
	return c.call(ctx, "forwardMessage", params, nil)
}

// GetChat возвращает информацию о чате.
func (c *Client) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	params := map[string]any{"chat_id": chatID}
	var chat Chat
	if err := c.call(ctx, "getChat", params, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// GetChatTitle возвращает название чата.
func (c *Client) GetChatTitle(ctx context.Context, chatID int64) (string, error) {
	chat, err := c.GetChat(ctx, chatID)
	if err != nil {
		return "", err
	}
	return chat.Title, nil
}

// GetChatMember возвращает статус участника userID в чате chatID.
func (c *Client) GetChatMember(ctx context.Context, chatID, userID int64) (*ChatMember, error) {
	params := map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	}
	var member ChatMember
	if err := c.call(ctx, "getChatMember", params, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

// IsChatAdmin сообщает, является ли userID администратором чата chatID.
func (c *Client) IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	member, err := c.GetChatMember(ctx, chatID, userID)
	if err != nil {
		return false, err
	}
	return member.Status == "administrator" || member.Status == "creator", nil
}
