package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/claerdex/trading-engine/internal/model"
	"github.com/claerdex/trading-engine/internal/pricefeed"
)

// --- Request/Response types ---

// OpenPositionRequest is the JSON body for POST /positions/open.
type OpenPositionRequest struct {
	UserAddress  string          `json:"user_address"`
	Asset        string          `json:"asset"`
	Side         string          `json:"side"` // "long" or "short"
	CollateralAE decimal.Decimal `json:"collateral_to_use_ae"`
	Leverage     decimal.Decimal `json:"leverage"`
}

// OpenPositionResponse is returned from POST /positions/open.
type OpenPositionResponse struct {
	Message   string          `json:"message"`
	Position  *model.Position `json:"position"`
	OnChainTx string          `json:"on_chain_tx"`
}

// ClosePositionResponse is returned from POST /positions/close/{positionID}.
type ClosePositionResponse struct {
	Message       string          `json:"message"`
	RealizedPnLAE decimal.Decimal `json:"realized_pnl_ae"`
}

// PricesResponse is returned from GET /prices.
type PricesResponse struct {
	Data           map[string]AssetPrice `json:"data"`
	Timestamp      int64                 `json:"timestamp"`
	UpdateInterval int                   `json:"update_interval"`
}

// HistoryResponse is returned from GET /prices/history.
type HistoryResponse struct {
	Asset    string            `json:"asset"`
	Interval string            `json:"interval"`
	Data     []model.OHLCPoint `json:"data"`
}

// --- HTTP Handlers ---

// GetPrices handles GET /api/v1/prices
// Returns current price plus 24h stats for every registered asset.
func (s *Service) GetPrices(w http.ResponseWriter, r *http.Request) {
	resp := PricesResponse{
		Data:           s.Snapshot(r.Context()),
		Timestamp:      time.Now().Unix(),
		UpdateInterval: 5,
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=5, stale-while-revalidate=60")
	json.NewEncoder(w).Encode(resp)
}

// GetPriceHistory handles GET /api/v1/prices/history?asset=&interval=&limit=
func (s *Service) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		asset = "AE"
	}
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "1m"
	}
	limit := 60
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if limit > 1000 {
		limit = 1000
	}

	if !s.feed.Registry().Has(asset) {
		writeError(w, "invalid asset: "+asset, http.StatusBadRequest)
		return
	}
	if !pricefeed.ValidInterval(interval) {
		writeError(w, "invalid interval: "+interval, http.StatusBadRequest)
		return
	}

	resp := HistoryResponse{
		Asset:    asset,
		Interval: interval,
		Data:     s.feed.History(r.Context(), asset, interval, limit),
	}
	if resp.Data == nil {
		resp.Data = []model.OHLCPoint{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetBlockchainStatus handles GET /api/v1/blockchain/status
func (s *Service) GetBlockchainStatus(w http.ResponseWriter, r *http.Request) {
	block := s.status.Status(r.Context())

	resp := map[string]any{
		"network":      "mainnet",
		"latest_block": block,
	}
	if block.Hash != "" && block.Hash != "unavailable" {
		resp["explorer_url"] = fmt.Sprintf("https://explorer.aeternity.io/keyblock/%s", block.Hash)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetAccount handles GET /api/v1/account/{address}
// Returns the live account view: fresh balance, fresh unrealized PnL.
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	account, err := s.Refresh(r.Context(), address)
	if err != nil {
		writeError(w, err.Error(), statusFromError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

// OpenPosition handles POST /api/v1/positions/open
func (s *Service) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if req.UserAddress == "" {
		writeError(w, "user_address is required", http.StatusBadRequest)
		return
	}
	if !s.feed.Registry().Has(req.Asset) {
		writeError(w, "invalid asset: "+req.Asset, http.StatusBadRequest)
		return
	}
	if !model.ValidSide(req.Side) {
		writeError(w, "side must be long or short", http.StatusBadRequest)
		return
	}
	if !req.CollateralAE.IsPositive() {
		writeError(w, "collateral_to_use_ae must be positive", http.StatusBadRequest)
		return
	}
	if req.Leverage.LessThan(decimal.NewFromInt(1)) {
		writeError(w, "leverage must be at least 1", http.StatusBadRequest)
		return
	}

	position, txRef, err := s.Open(r.Context(), req.UserAddress, req.Asset, req.Side, req.CollateralAE, req.Leverage)
	if err != nil {
		writeError(w, err.Error(), statusFromError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(OpenPositionResponse{
		Message:   "Position opened successfully",
		Position:  position,
		OnChainTx: txRef,
	})
}

// ClosePosition handles POST /api/v1/positions/close/{positionID}?user_address=
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")
	address := r.URL.Query().Get("user_address")
	if address == "" {
		writeError(w, "user_address is required", http.StatusBadRequest)
		return
	}

	realized, err := s.Close(r.Context(), address, positionID)
	if err != nil {
		writeError(w, err.Error(), statusFromError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ClosePositionResponse{
		Message:       "Position closed",
		RealizedPnLAE: realized,
	})
}

// statusFromError maps taxonomy errors to HTTP status codes.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, ErrInsufficientCollateral), errors.Is(err, ErrUnknownAsset):
		return http.StatusBadRequest
	case errors.Is(err, ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPriceUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrPersistenceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
