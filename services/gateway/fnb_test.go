package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"revenue-engine/pkg/config"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func fnbConfig(baseURL string) *config.Config {
	cfg := &config.Config{}
	cfg.Gateways.FNB.BaseURL = baseURL
	cfg.Gateways.FNB.ClientID = "client"
	cfg.Gateways.FNB.ClientSecret = "secret"
	cfg.Gateways.FNB.AccountNumber = "62999999999"
	return cfg
}

func TestFNBSubmitTransfer(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/transfers", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transaction_id":"tx_1","status":"completed"}`))
	}))
	defer server.Close()

	g := NewFNB(fnbConfig(server.URL))

	result, err := g.SubmitTransfer(context.Background(), decimal.RequireFromString("60000.00"), Destination{
		AccountName:   "Product Dev",
		AccountNumber: "62000000001",
		BranchCode:    "250655",
	}, "revenue payout product_development")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	require.True(t, strings.HasPrefix(result.ExternalRef, "PYT"))

	require.Equal(t, "62999999999", got["from_account"])
	require.Equal(t, "62000000001", got["to_account"])
	require.Equal(t, "60000.00", got["amount"])
	require.Equal(t, "revenue payout product_development", got["description"])
}

func TestFNBSubmitTransferRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"account closed"}`))
	}))
	defer server.Close()

	g := NewFNB(fnbConfig(server.URL))

	_, err := g.SubmitTransfer(context.Background(), decimal.NewFromInt(100), Destination{AccountNumber: "1"}, "x")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrRejected))
}

func TestFNBFindCredit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/accounts/62999999999/transactions", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transactions":[{"reference":"CBT000042INV-1","amount":"1500.00"}]}`))
	}))
	defer server.Close()

	g := NewFNB(fnbConfig(server.URL))

	found, err := g.FindCredit(context.Background(), "CBT000042INV-1")
	require.NoError(t, err)
	require.True(t, found)

	found, err = g.FindCredit(context.Background(), "CBT000099INV-9")
	require.NoError(t, err)
	require.False(t, found)
}
