package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brojonat/counterwallet/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCommand_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	err := newApp().Run([]string{"walletctl", "--server", server.URL, "health"})
	require.NoError(t, err)
}

func TestHealthCommand_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := newApp().Run([]string{"walletctl", "--server", server.URL, "health"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestConnectCommand_ReportsCategory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/session/connect", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{
			"error":    "Transaction was rejected by user.",
			"category": "UserRejected",
		})
	}))
	defer server.Close()

	err := newApp().Run([]string{"walletctl", "--server", server.URL, "connect"})
	require.Error(t, err)
	assert.True(t, client.IsCategory(err, "UserRejected"))
}

func TestCountCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/counter", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"count": "7"})
	}))
	defer server.Close()

	err := newApp().Run([]string{"walletctl", "--server", server.URL, "--json", "count"})
	require.NoError(t, err)
}

func TestTxCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transactions/0xhash1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"hash": "0xhash1", "status": "success"})
	}))
	defer server.Close()

	require.NoError(t, newApp().Run([]string{"walletctl", "--server", server.URL, "tx", "0xhash1"}))

	err := newApp().Run([]string{"walletctl", "--server", server.URL, "tx"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transaction hash is required")
}

func TestHistoryCommand_InvalidFilter(t *testing.T) {
	// the filter is compiled before any request is made
	err := newApp().Run([]string{"walletctl", "--server", "http://127.0.0.1:1", "history", "--jq", ".status =="})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")
}

func TestMatchesAll(t *testing.T) {
	tx := client.Transaction{
		Hash:      "0xhash1",
		Status:    "success",
		Timestamp: 1700000000000,
	}

	tests := []struct {
		name    string
		filters []string
		want    bool
	}{
		{name: "no filters", filters: nil, want: true},
		{name: "status match", filters: []string{`.status == "success"`}, want: true},
		{name: "status mismatch", filters: []string{`.status == "failed"`}, want: false},
		{name: "numeric comparison", filters: []string{`.timestamp > 1600000000000`}, want: true},
		{name: "all must match", filters: []string{`.status == "success"`, `.hash == "0xother"`}, want: false},
		{name: "null result", filters: []string{`.missing`}, want: false},
		{name: "string result is truthy", filters: []string{`.hash`}, want: true},
		{name: "empty result", filters: []string{`empty`}, want: false},
		{name: "runtime error", filters: []string{`.hash | tonumber`}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codes, err := compileFilters(tt.filters)
			require.NoError(t, err)

			got, err := matchesAll(codes, tx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0.0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy(map[string]interface{}{}))
}

func TestPrintState(t *testing.T) {
	t.Run("disconnected", func(t *testing.T) {
		var buf bytes.Buffer
		printState(&buf, &client.State{Status: "disconnected"})
		assert.Equal(t, "Status:   disconnected\n", buf.String())
	})

	t.Run("connected with error", func(t *testing.T) {
		var buf bytes.Buffer
		printState(&buf, &client.State{
			Status:  "connected",
			Address: "0xabc",
			ChainID: 1,
			Balance: "1.5",
			Network: &client.Network{Name: "Ethereum Mainnet", CurrencySymbol: "ETH"},
			Pending: []string{"0xhash1"},
			Count:   "3",
			Error: &client.Notice{
				Category:  "UserRejected",
				Message:   "Transaction was rejected by user.",
				ExpiresAt: time.Date(2024, 1, 1, 12, 0, 5, 0, time.UTC),
			},
		})

		out := buf.String()
		assert.Contains(t, out, "Address:  0xabc")
		assert.Contains(t, out, "Network:  Ethereum Mainnet (1)")
		assert.Contains(t, out, "Balance:  1.5 ETH")
		assert.Contains(t, out, "Count:    3")
		assert.Contains(t, out, "Pending:  1 transaction(s)")
		assert.Contains(t, out, "[UserRejected] Transaction was rejected by user.")
	})

	t.Run("unknown network", func(t *testing.T) {
		var buf bytes.Buffer
		printState(&buf, &client.State{Status: "connected", Address: "0xabc", ChainID: 999})
		assert.Contains(t, buf.String(), "Network:  Chain ID: 999")
	})
}

func TestPrintTransactions(t *testing.T) {
	var buf bytes.Buffer
	printTransactions(&buf, nil)
	assert.Equal(t, "No transactions\n", buf.String())

	buf.Reset()
	printTransactions(&buf, []client.Transaction{{Hash: "0xhash1", Status: "pending", Timestamp: 0}})
	assert.Contains(t, buf.String(), "0xhash1")
	assert.Contains(t, buf.String(), "1970-01-01T00:00:00Z")
}
