package chain_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claerdex/trading-engine/internal/chain"
	"github.com/claerdex/trading-engine/internal/config"
	"github.com/claerdex/trading-engine/internal/model"
)

func newClient(url string) *chain.Client {
	return chain.NewClient(config.ChainConfig{
		MiddlewareURL:    url,
		Timeout:          time.Second,
		DefaultBalanceAE: 1000,
	})
}

func TestBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v3/accounts/") {
			http.NotFound(w, r)
			return
		}
		// 2.5 AE in aettos.
		w.Write([]byte(`{"balance": 2500000000000000000}`))
	}))
	defer srv.Close()

	got := newClient(srv.URL).Balance(context.Background(), "ak_alice")
	assert.True(t, got.Equal(decimal.NewFromFloat(2.5)), "balance = %s", got)
}

func TestBalance_StringNumber(t *testing.T) {
	// The middleware serializes large balances as JSON strings.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"balance": "1000000000000000000"}`))
	}))
	defer srv.Close()

	got := newClient(srv.URL).Balance(context.Background(), "ak_alice")
	assert.True(t, got.Equal(decimal.NewFromInt(1)), "balance = %s", got)
}

func TestBalance_FallsBackToDefault(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"account not found", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		}},
		{"malformed body", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("not json"))
		}},
		{"negative balance", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"balance": -5}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			got := newClient(srv.URL).Balance(context.Background(), "ak_alice")
			assert.True(t, got.Equal(decimal.NewFromInt(1000)), "balance = %s", got)
		})
	}
}

func TestBalance_Unreachable(t *testing.T) {
	got := newClient("http://127.0.0.1:1").Balance(context.Background(), "ak_alice")
	assert.True(t, got.Equal(decimal.NewFromInt(1000)))
}

func TestRecord(t *testing.T) {
	client := newClient("http://unused")
	position := model.Position{
		ID:      "pos-1",
		Asset:   "BTC",
		Side:    model.SideLong,
		SizeUSD: decimal.NewFromInt(3400000),
	}

	ref, err := client.Record(context.Background(), position)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "th_"), "ref = %q", ref)
	assert.Len(t, ref, 43)

	// Same position digest, same reference.
	again, err := client.Record(context.Background(), position)
	require.NoError(t, err)
	assert.Equal(t, ref, again)

	// Any digest field change produces a different reference.
	position.Side = model.SideShort
	other, err := client.Record(context.Background(), position)
	require.NoError(t, err)
	assert.NotEqual(t, ref, other)
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/key-blocks" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"data":[{"height":1000001,"hash":"kh_abc","time":1724800000000,"transactions_count":12,"micro_blocks_count":3,"miner":"ak_miner"}]}`))
	}))
	defer srv.Close()

	block := newClient(srv.URL).Status(context.Background())
	assert.Equal(t, int64(1000001), block.Height)
	assert.Equal(t, "kh_abc", block.Hash)
	assert.Equal(t, "ak_miner", block.Miner)
	assert.Empty(t, block.Error)
}

func TestStatus_Fallback(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"empty data", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"data":[]}`))
		}},
		{"malformed body", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("<html>"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			block := newClient(srv.URL).Status(context.Background())
			assert.Equal(t, "unavailable", block.Hash)
			assert.NotEmpty(t, block.Error)
		})
	}
}
