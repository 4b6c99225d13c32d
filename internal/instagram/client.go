// Package instagram is the outbound Graph API client: message sends,
// sender actions, and the long-lived token exchange.
package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultGraphBase = "https://graph.facebook.com/v21.0"

// SendError is a Graph API send failure. The delivery step records
// Message verbatim on the failed message row.
type SendError struct {
	Status  int
	Code    int
	Message string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("graph send failed (HTTP %d, code %d): %s", e.Status, e.Code, e.Message)
}

// Client talks to the Graph API. One shared instance; page tokens are
// passed per call because every tenant has its own.
type Client struct {
	baseURL string
	client  *http.Client

	sendRPS  float64
	mu       sync.Mutex
	limiters map[string]*rate.Limiter // keyed by token
}

func NewClient(baseURL string, sendRPS float64) *Client {
	if baseURL == "" {
		baseURL = defaultGraphBase
	}
	if sendRPS <= 0 {
		sendRPS = 2
	}
	return &Client{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		sendRPS:  sendRPS,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (c *Client) limiter(token string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[token]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.sendRPS), 1)
		c.limiters[token] = l
	}
	return l
}

type graphRecipient struct {
	ID string `json:"id"`
}

type sendRequest struct {
	Recipient    graphRecipient `json:"recipient"`
	Message      *sendMessage   `json:"message,omitempty"`
	SenderAction string         `json:"sender_action,omitempty"`
}

type sendMessage struct {
	Text string `json:"text"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send delivers a text message to userID and returns the platform
// message id. Rate limited per token.
func (c *Client) Send(ctx context.Context, token, userID, text string) (string, error) {
	if err := c.limiter(token).Wait(ctx); err != nil {
		return "", err
	}
	resp, err := c.post(ctx, token, sendRequest{
		Recipient: graphRecipient{ID: userID},
		Message:   &sendMessage{Text: text},
	})
	if err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// SendTyping shows the typing indicator. Best-effort; callers ignore
// the error.
func (c *Client) SendTyping(ctx context.Context, token, userID string) error {
	_, err := c.post(ctx, token, sendRequest{
		Recipient:    graphRecipient{ID: userID},
		SenderAction: "typing_on",
	})
	return err
}

// MarkSeen marks the conversation read on the Instagram side.
// Best-effort.
func (c *Client) MarkSeen(ctx context.Context, token, userID string) error {
	_, err := c.post(ctx, token, sendRequest{
		Recipient:    graphRecipient{ID: userID},
		SenderAction: "mark_seen",
	})
	return err
}

func (c *Client) post(ctx context.Context, token string, body sendRequest) (*sendResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("instagram: marshal request: %w", err)
	}

	endpoint := c.baseURL + "/me/messages?access_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("instagram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("instagram: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("instagram: read response: %w", err)
	}

	var resp sendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		if httpResp.StatusCode != http.StatusOK {
			return nil, &SendError{Status: httpResp.StatusCode, Message: string(respBody)}
		}
		return nil, fmt.Errorf("instagram: decode response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK || resp.Error != nil {
		se := &SendError{Status: httpResp.StatusCode}
		if resp.Error != nil {
			se.Code = resp.Error.Code
			se.Message = resp.Error.Message
		} else {
			se.Message = string(respBody)
		}
		return nil, se
	}
	return &resp, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Error       *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// RefreshToken exchanges a page token for a fresh long-lived one via the
// fb_exchange_token grant. Returns the new token and its expiry.
func (c *Client) RefreshToken(ctx context.Context, appID, appSecret, token string) (string, time.Time, error) {
	q := url.Values{}
	q.Set("grant_type", "fb_exchange_token")
	q.Set("client_id", appID)
	q.Set("client_secret", appSecret)
	q.Set("fb_exchange_token", token)

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/oauth/access_token?"+q.Encode(), nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("instagram: create refresh request: %w", err)
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("instagram: refresh request failed: %w", err)
	}
	defer httpResp.Body.Close()

	var resp tokenResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", time.Time{}, fmt.Errorf("instagram: decode refresh response: %w", err)
	}
	if resp.Error != nil || resp.AccessToken == "" {
		msg := "empty access token"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return "", time.Time{}, fmt.Errorf("instagram: token exchange rejected: %s", msg)
	}

	// Meta omits expires_in for tokens that never expire; treat those as
	// 60 days so the refresh job keeps a steady cadence.
	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 60 * 24 * 3600
	}
	return resp.AccessToken, time.Now().Add(time.Duration(expiresIn) * time.Second).UTC(), nil
}
