package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSend(t *testing.T) {
	var captured sendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("access_token") != "page-token" {
			t.Errorf("access_token missing")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.Write([]byte(`{"recipient_id": "user-9", "message_id": "mid.out.1"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, 100)
	mid, err := c.Send(context.Background(), "page-token", "user-9", "hola!")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if mid != "mid.out.1" {
		t.Errorf("mid = %q", mid)
	}
	if captured.Recipient.ID != "user-9" {
		t.Errorf("recipient = %q", captured.Recipient.ID)
	}
	if captured.Message == nil || captured.Message.Text != "hola!" {
		t.Errorf("message = %+v", captured.Message)
	}
}

func TestSendGraphError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "Invalid OAuth access token.", "code": 190}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, 100)
	_, err := c.Send(context.Background(), "stale-token", "user-9", "hi")
	var se *SendError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want SendError", err)
	}
	if se.Code != 190 {
		t.Errorf("code = %d, want 190", se.Code)
	}
}

func TestSenderActions(t *testing.T) {
	var actions []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		json.NewDecoder(r.Body).Decode(&req)
		actions = append(actions, req.SenderAction)
		w.Write([]byte(`{"recipient_id": "user-9"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, 100)
	if err := c.SendTyping(context.Background(), "tok", "user-9"); err != nil {
		t.Fatalf("SendTyping: %v", err)
	}
	if err := c.MarkSeen(context.Background(), "tok", "user-9"); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if len(actions) != 2 || actions[0] != "typing_on" || actions[1] != "mark_seen" {
		t.Errorf("actions = %v", actions)
	}
}

func TestRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("grant_type") != "fb_exchange_token" {
			t.Errorf("grant_type = %q", q.Get("grant_type"))
		}
		if q.Get("client_id") != "app-1" || q.Get("client_secret") != "secret" {
			t.Errorf("client credentials not forwarded")
		}
		if q.Get("fb_exchange_token") != "old-token" {
			t.Errorf("fb_exchange_token = %q", q.Get("fb_exchange_token"))
		}
		w.Write([]byte(`{"access_token": "new-token", "expires_in": 5184000}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, 100)
	token, expiry, err := c.RefreshToken(context.Background(), "app-1", "secret", "old-token")
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if token != "new-token" {
		t.Errorf("token = %q", token)
	}
	if expiry.IsZero() {
		t.Error("expiry not set")
	}
}

func TestRefreshTokenRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "Session has expired"}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, 100)
	if _, _, err := c.RefreshToken(context.Background(), "a", "s", "t"); err == nil {
		t.Fatal("expected error")
	}
}

func TestPerTokenLimiters(t *testing.T) {
	c := NewClient("http://unused", 2)
	a := c.limiter("token-a")
	b := c.limiter("token-b")
	if a == b {
		t.Error("tokens should not share a limiter")
	}
	if c.limiter("token-a") != a {
		t.Error("limiter not cached per token")
	}
}
