package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"mmbot/internal/config"

	"go.uber.org/zap"
)

func TestTelegramSendDisabled(t *testing.T) {
	cfg := config.TelegramConfig{Enabled: false}
	client := newTelegram(cfg, zap.NewNop(), "http://unused", nil)
	if err := client.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("expected nil error when disabled, got %v", err)
	}
}

func TestTelegramSendMissingConfig(t *testing.T) {
	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatIDs: []string{" "}}
	client := newTelegram(cfg, zap.NewNop(), "http://unused", nil)
	if err := client.Send(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error for missing chat_ids")
	}
}

func TestTelegramSendPostsToEveryChat(t *testing.T) {
	var (
		mu       sync.Mutex
		gotPath  string
		payloads []map[string]string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		gotPath = r.URL.Path
		payloads = append(payloads, payload)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatIDs: []string{"123", "456"}}
	client := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	if err := client.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("expected send success, got %v", err)
	}
	if gotPath != "/bottoken/sendMessage" {
		t.Fatalf("expected path /bottoken/sendMessage, got %s", gotPath)
	}
	if len(payloads) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(payloads))
	}
	if payloads[0]["chat_id"] != "123" || payloads[1]["chat_id"] != "456" {
		t.Fatalf("unexpected chat ids %q, %q", payloads[0]["chat_id"], payloads[1]["chat_id"])
	}
	if payloads[0]["text"] != "hello" || payloads[0]["parse_mode"] != "Markdown" {
		t.Fatalf("unexpected payload %v", payloads[0])
	}
}

func TestTelegramFailingChatDoesNotBlockOthers(t *testing.T) {
	var (
		mu        sync.Mutex
		delivered []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["chat_id"] == "bad" {
			_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
			return
		}
		mu.Lock()
		delivered = append(delivered, payload["chat_id"])
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatIDs: []string{"bad", "good"}}
	client := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	if err := client.Send(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error for failing chat")
	}
	if len(delivered) != 1 || delivered[0] != "good" {
		t.Fatalf("expected delivery to good chat, got %v", delivered)
	}
}
