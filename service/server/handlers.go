package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/brojonat/counterwallet/service/counter"
	"github.com/brojonat/counterwallet/service/errs"
	"github.com/brojonat/counterwallet/service/networks"
	"github.com/brojonat/counterwallet/service/session"
	"github.com/brojonat/counterwallet/service/txn"
)

const maxHistoryLimit = 1000

// stateResponse is the JSON response format for the published state.
type stateResponse struct {
	Version uint64 `json:"version"`
	Status  string `json:"status"`
	Address string `json:"address,omitempty"`
	ChainID int64  `json:"chain_id,omitempty"`
	Balance string `json:"balance,omitempty"`

	Network *networkResponse `json:"network,omitempty"`
	Error   *errorResponse   `json:"error,omitempty"`

	Pending []string              `json:"pending"`
	History []transactionResponse `json:"history"`

	Count   string `json:"count,omitempty"`
	Loading bool   `json:"loading"`
}

type networkResponse struct {
	Name           string `json:"name"`
	CurrencySymbol string `json:"currency_symbol,omitempty"`
	BlockExplorer  string `json:"block_explorer,omitempty"`
	Testnet        bool   `json:"testnet"`
}

type errorResponse struct {
	Category  errs.Category `json:"category"`
	Message   string        `json:"message"`
	Reason    string        `json:"reason,omitempty"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// transactionResponse is the JSON response format for a transaction.
type transactionResponse struct {
	Hash        string `json:"hash"`
	Status      string `json:"status"`
	Timestamp   int64  `json:"timestamp"`
	ExplorerURL string `json:"explorer_url,omitempty"`
}

func toStateResponse(v session.View, registry *networks.Registry) stateResponse {
	resp := stateResponse{
		Version: v.Version,
		Status:  string(v.Session.Status),
		Address: v.Session.Address,
		ChainID: v.Session.ChainID,
		Balance: v.Session.Balance,
		Pending: v.Pending,
		History: toTransactionResponses(v.History, v.Session.ChainID, registry),
		Count:   v.Count,
		Loading: v.Loading,
	}
	if resp.Pending == nil {
		resp.Pending = []string{}
	}
	if v.Session.Connected() {
		network := &networkResponse{Name: registry.Name(v.Session.ChainID)}
		if n, ok := registry.Lookup(v.Session.ChainID); ok {
			network.CurrencySymbol = n.CurrencySymbol
			network.BlockExplorer = n.BlockExplorer
			network.Testnet = n.Testnet
		}
		resp.Network = network
	}
	if v.Error != nil {
		resp.Error = &errorResponse{
			Category:  v.Error.Category,
			Message:   v.Error.Message,
			Reason:    v.Error.Reason,
			ExpiresAt: v.Error.ExpiresAt,
		}
	}
	return resp
}

func toTransactionResponses(records []txn.Record, chainID int64, registry *networks.Registry) []transactionResponse {
	out := make([]transactionResponse, len(records))
	for i, rec := range records {
		out[i] = transactionResponse{
			Hash:        rec.Hash,
			Status:      string(rec.Status),
			Timestamp:   rec.Timestamp,
			ExplorerURL: registry.ExplorerTxURL(chainID, rec.Hash),
		}
	}
	return out
}

// handleGetState returns a handler that reports the current published state.
// GET /api/v1/state
func handleGetState(machine *session.Machine, registry *networks.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, toStateResponse(machine.View(), registry), http.StatusOK)
	})
}

// handleConnect returns a handler that requests account access from the provider.
// POST /api/v1/session/connect
func handleConnect(machine *session.Machine, registry *networks.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := machine.Connect(r.Context())
		switch {
		case err == nil:
			logger.InfoContext(r.Context(), "session connected via API", "address", machine.Session().Address)
			writeJSON(w, toStateResponse(machine.View(), registry), http.StatusOK)
		case errors.Is(err, session.ErrSuperseded):
			writeError(w, "connect superseded by a newer session change", http.StatusConflict)
		default:
			writeNormalizedError(w, errs.Normalize(err), http.StatusBadGateway)
		}
	})
}

// handleDisconnect returns a handler that ends the session.
// POST /api/v1/session/disconnect
func handleDisconnect(machine *session.Machine, registry *networks.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		machine.Disconnect(r.Context())
		logger.InfoContext(r.Context(), "session disconnected via API")
		writeJSON(w, toStateResponse(machine.View(), registry), http.StatusOK)
	})
}

// handleRefresh returns a handler that re-queries the balance.
// POST /api/v1/session/refresh
func handleRefresh(machine *session.Machine, registry *networks.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := machine.RefreshBalance(r.Context()); err != nil {
			logger.WarnContext(r.Context(), "balance refresh failed", "error", err)
			writeNormalizedError(w, errs.Normalize(err), http.StatusBadGateway)
			return
		}
		writeJSON(w, toStateResponse(machine.View(), registry), http.StatusOK)
	})
}

// handleReadCounter returns a handler that reads the counter value.
// GET /api/v1/counter
func handleReadCounter(executor *counter.Executor, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, err := executor.Read(r.Context())
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, errs.ErrNotConnected) {
				status = http.StatusConflict
			}
			writeNormalizedError(w, errs.Normalize(err), status)
			return
		}
		writeJSON(w, map[string]interface{}{
			"count":    n.String(),
			"contract": executor.ContractAddress().Hex(),
		}, http.StatusOK)
	})
}

// handleCounterAction returns a handler that submits a counter transaction
// and waits for its confirmation.
// POST /api/v1/counter/{action}
func handleCounterAction(executor *counter.Executor, machine *session.Machine, registry *networks.Registry, actionCtx context.Context, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		action, err := counter.ParseAction(r.PathValue("action"))
		if err != nil || !action.Writes() {
			writeError(w, "action must be one of: increment, decrement", http.StatusBadRequest)
			return
		}

		ok := executor.Invoke(actionCtx, action)
		logger.InfoContext(r.Context(), "counter action finished", "action", action, "ok", ok)
		writeJSON(w, map[string]interface{}{
			"ok":    ok,
			"state": toStateResponse(machine.View(), registry),
		}, http.StatusOK)
	})
}

// handleListTransactions returns a handler that lists tracked transactions.
// GET /api/v1/transactions?status=pending|success|failed&limit=N
func handleListTransactions(machine *session.Machine, registry *networks.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		var status txn.Status
		switch s := txn.Status(query.Get("status")); s {
		case "", txn.StatusPending, txn.StatusSuccess, txn.StatusFailed:
			status = s
		default:
			writeError(w, "status must be one of: pending, success, failed", http.StatusBadRequest)
			return
		}

		limit := maxHistoryLimit
		if limitStr := query.Get("limit"); limitStr != "" {
			parsed, err := strconv.Atoi(limitStr)
			if err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsed < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if parsed > maxHistoryLimit {
				writeError(w, "limit cannot exceed 1000", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		snap := machine.Tracker().Snapshot()
		history := make([]txn.Record, 0, len(snap.History))
		for _, rec := range snap.History {
			if status != "" && rec.Status != status {
				continue
			}
			history = append(history, rec)
			if len(history) == limit {
				break
			}
		}

		pending := snap.Pending
		if pending == nil {
			pending = []string{}
		}

		logger.Debug("transactions listed", "count", len(history), "status", status)
		writeJSON(w, map[string]interface{}{
			"pending": pending,
			"history": toTransactionResponses(history, machine.Session().ChainID, registry),
			"count":   len(history),
		}, http.StatusOK)
	})
}

// handleGetTransaction returns a handler that reports one tracked transaction.
// GET /api/v1/transactions/{hash}
func handleGetTransaction(machine *session.Machine, registry *networks.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := r.PathValue("hash")
		rec, ok := machine.Tracker().Lookup(hash)
		if !ok {
			logger.Debug("transaction not found", "hash", hash)
			writeError(w, "transaction not tracked", http.StatusNotFound)
			return
		}
		resp := toTransactionResponses([]txn.Record{rec}, machine.Session().ChainID, registry)
		writeJSON(w, resp[0], http.StatusOK)
	})
}

// handleDismissError returns a handler that clears the active error.
// DELETE /api/v1/error
func handleDismissError(machine *session.Machine, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dismissed := machine.Errors().Dismiss()
		logger.Debug("error dismissed", "dismissed", dismissed)
		writeJSON(w, map[string]bool{"dismissed": dismissed}, http.StatusOK)
	})
}

// handleListNetworks returns a handler that lists known networks.
// GET /api/v1/networks
func handleListNetworks(registry *networks.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		list := registry.List()
		writeJSON(w, map[string]interface{}{
			"networks": list,
			"count":    len(list),
		}, http.StatusOK)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeNormalizedError writes a JSON error response carrying the error category.
func writeNormalizedError(w http.ResponseWriter, n errs.Normalized, statusCode int) {
	body := map[string]string{
		"error":    n.Message,
		"category": string(n.Category),
	}
	if n.Reason != "" {
		body["reason"] = n.Reason
	}
	writeJSON(w, body, statusCode)
}
