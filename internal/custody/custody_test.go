package custody

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"betvault/internal/config"
	"betvault/pkg/types"
)

func newTestClient(baseURL string) *Client {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewClient(config.CustodyConfig{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	}, logger)
}

func TestDepositFrom(t *testing.T) {
	t.Parallel()

	var got transferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transfers/deposits" {
			t.Errorf("path = %s, want /transfers/deposits", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.DepositFrom(context.Background(), "alice", "USDC", 100); err != nil {
		t.Fatalf("DepositFrom: %v", err)
	}
	if got.Identity != "alice" || got.Asset != "USDC" || got.Amount != 100 {
		t.Errorf("request = %+v, want alice/USDC/100", got)
	}
}

func TestDepositFromInsufficientFunds(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.DepositFrom(context.Background(), "alice", "USDC", 100)
	if !errors.Is(err, types.ErrInsufficientFunds) {
		t.Errorf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestPayToServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.PayTo(context.Background(), "bob", "USDC", 198); err == nil {
		t.Error("expected error for 500 response")
	}
}
