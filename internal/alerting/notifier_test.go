package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testNotification() Notification {
	deadline := time.Unix(1_700_086_400, 0).UTC()
	return Notification{
		Collateral:  "susds",
		OldStatus:   "SOUND",
		NewStatus:   "IFFY",
		WhenDefault: &deadline,
		PriceLow:    decimal.RequireFromString("0.98"),
		PriceHigh:   decimal.RequireFromString("1.01"),
		RefPerTok:   decimal.RequireFromString("1.05"),
		OccurredAt:  time.Unix(1_700_000_000, 0).UTC(),
		Channels:    []string{"telegram"},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	text := received["text"]
	if !strings.Contains(text, "SOUND -> IFFY") {
		t.Fatalf("message should name the transition: %q", text)
	}
	if !strings.Contains(text, "susds") {
		t.Fatalf("message should name the collateral: %q", text)
	}
	if !strings.Contains(text, "Default deadline") {
		t.Fatalf("message should carry the default deadline: %q", text)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("ok=false should surface an error")
	}
}

func TestRenderMessageOmitsEmptyFields(t *testing.T) {
	note := Notification{
		Collateral: "usdc",
		OldStatus:  "IFFY",
		NewStatus:  "SOUND",
		OccurredAt: time.Unix(1_700_000_000, 0).UTC(),
	}
	text := renderMessage(note)
	if strings.Contains(text, "Default deadline") {
		t.Fatalf("sound transition should carry no deadline: %q", text)
	}
	if strings.Contains(text, "Price band") {
		t.Fatalf("zero prices should be omitted: %q", text)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
