// Package trade provides the HTTP handlers for placing, cancelling and
// executing orders, triggering exits, administering pairs and querying
// accounts.
//
// All monetary values use shopspring/decimal, never float64 for money.
package trade

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/access"
	"github.com/atmx/settlement-engine/internal/auth"
	"github.com/atmx/settlement-engine/internal/engine"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/pair"
	"github.com/atmx/settlement-engine/internal/store"
)

// Wallet is the account ledger behind the deposit and balance routes.
type Wallet interface {
	Fund(account, asset string, amount decimal.Decimal) error
	Balance(account, asset string) decimal.Decimal
}

// Referrals records who referred an account. Referrers receive a rebate
// on the fees the account pays.
type Referrals interface {
	SetReferrer(account, referrer string) error
	Referrer(account string) (string, bool)
}

// Service serves the settlement engine over HTTP. The capabilities are
// the ones the service presents on behalf of authenticated admins and
// executors.
type Service struct {
	engine    *engine.Engine
	store     store.Store
	wallet    Wallet
	referrals Referrals
	admin     access.Capability
	executor  access.Capability

	persistMu sync.Mutex
}

// NewService creates a new trade service.
func NewService(eng *engine.Engine, st store.Store, wallet Wallet, referrals Referrals, admin, executor access.Capability) *Service {
	return &Service{
		engine:    eng,
		store:     st,
		wallet:    wallet,
		referrals: referrals,
		admin:     admin,
		executor:  executor,
	}
}

// --- Request types ---

// PlaceOrderRequest is the JSON body for POST /orders. The account is the
// authenticated caller.
type PlaceOrderRequest struct {
	Pair                 string          `json:"pair"`
	SizeDelta            decimal.Decimal `json:"size_delta"`
	CollateralDelta      decimal.Decimal `json:"collateral_delta"`
	Price                decimal.Decimal `json:"price"`
	IsLong               bool            `json:"is_long"`
	IsIncrease           bool            `json:"is_increase"`
	IsMarket             bool            `json:"is_market"`
	CanExecuteAbovePrice bool            `json:"can_execute_above_price"`
	StopLoss             decimal.Decimal `json:"stop_loss"`
	TakeProfit           decimal.Decimal `json:"take_profit"`
}

// PriceRequest is the JSON body for the executor routes. Proof is passed
// to the price feed's verifier as is.
type PriceRequest struct {
	Price decimal.Decimal `json:"price"`
	Proof string          `json:"proof"`
}

// RegisterPairRequest is the JSON body for POST /pairs.
type RegisterPairRequest struct {
	Pair   string           `json:"pair"`
	Config model.PairConfig `json:"config"`
}

// DepositRequest is the JSON body for POST /accounts/{account}/deposits.
type DepositRequest struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// ReferrerRequest is the JSON body for PUT /accounts/{account}/referrer.
type ReferrerRequest struct {
	Referrer string `json:"referrer"`
}

// PairView is a pair's configuration and open interest.
type PairView struct {
	Pair              model.PairKey    `json:"pair"`
	Config            model.PairConfig `json:"config"`
	LongOpenInterest  decimal.Decimal  `json:"long_open_interest"`
	ShortOpenInterest decimal.Decimal  `json:"short_open_interest"`
	NextOrderID       uint64           `json:"next_order_id"`
}

// --- Trading ---

// PlaceOrder handles POST /api/v1/orders
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	key, err := pair.ParseKey(req.Pair)
	if err != nil {
		s.fail(w, err)
		return
	}

	ctx := r.Context()
	account := auth.AccountFrom(ctx)
	order, err := s.engine.PlaceOrder(ctx, engine.PlaceRequest{
		Pair:                 key,
		Account:              account,
		SizeDelta:            req.SizeDelta,
		CollateralDelta:      req.CollateralDelta,
		Price:                req.Price,
		IsLong:               req.IsLong,
		IsIncrease:           req.IsIncrease,
		IsMarket:             req.IsMarket,
		CanExecuteAbovePrice: req.CanExecuteAbovePrice,
		StopLoss:             req.StopLoss,
		TakeProfit:           req.TakeProfit,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.persist(ctx, key)
	writeJSON(w, http.StatusCreated, order)
}

// CancelOrder handles DELETE /api/v1/orders/{pair}/{orderID}
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	key, orderID, ok := s.orderParams(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	ev, err := s.engine.CancelOrder(ctx, auth.AccountFrom(ctx), key, orderID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.persist(ctx, key)
	writeJSON(w, http.StatusOK, ev)
}

// ExecuteOrder handles POST /api/v1/orders/{pair}/{orderID}/execute
// An order cancelled during execution is still a 200; the returned event
// says which happened.
func (s *Service) ExecuteOrder(w http.ResponseWriter, r *http.Request) {
	key, orderID, ok := s.orderParams(w, r)
	if !ok {
		return
	}
	var req PriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	ev, err := s.engine.ExecuteOrder(ctx, s.executor, key, orderID, req.Price, []byte(req.Proof))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.persist(ctx, key)

	slog.Info("order executed",
		"pair", key.String(),
		"order_id", orderID,
		"executor", auth.AccountFrom(ctx),
		"event", ev.Type,
		"cancel_reason", ev.CancelReason,
	)
	writeJSON(w, http.StatusOK, ev)
}

// ExecuteExit handles POST /api/v1/positions/{pair}/{account}/{side}/exit
func (s *Service) ExecuteExit(w http.ResponseWriter, r *http.Request) {
	key, err := pair.ParseKey(chi.URLParam(r, "pair"))
	if err != nil {
		s.fail(w, err)
		return
	}
	var isLong bool
	switch chi.URLParam(r, "side") {
	case "long":
		isLong = true
	case "short":
	default:
		writeError(w, "side must be long or short", http.StatusBadRequest)
		return
	}
	var req PriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	account := chi.URLParam(r, "account")
	ev, err := s.engine.ExecuteExit(ctx, s.executor, key, account, isLong, req.Price, []byte(req.Proof))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.persist(ctx, key)

	slog.Info("position exited",
		"pair", key.String(),
		"account", account,
		"is_long", isLong,
		"trigger", ev.Type,
		"payout", ev.Payout.String(),
	)
	writeJSON(w, http.StatusOK, ev)
}

// --- Pairs ---

// ListPairs handles GET /api/v1/pairs
func (s *Service) ListPairs(w http.ResponseWriter, r *http.Request) {
	keys := s.engine.Pairs()
	views := make([]PairView, 0, len(keys))
	for _, key := range keys {
		view, err := s.pairView(key)
		if err != nil {
			continue // removed concurrently
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

// GetPair handles GET /api/v1/pairs/{pair}
func (s *Service) GetPair(w http.ResponseWriter, r *http.Request) {
	key, err := pair.ParseKey(chi.URLParam(r, "pair"))
	if err != nil {
		s.fail(w, err)
		return
	}
	view, err := s.pairView(key)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// RegisterPair handles POST /api/v1/pairs
func (s *Service) RegisterPair(w http.ResponseWriter, r *http.Request) {
	var req RegisterPairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	key, err := pair.ParseKey(req.Pair)
	if err != nil {
		s.fail(w, err)
		return
	}

	ctx := r.Context()
	if err := s.engine.RegisterPair(ctx, s.admin, key, req.Config); err != nil {
		s.fail(w, err)
		return
	}
	s.persist(ctx, key)

	view, err := s.pairView(key)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// UpdatePairConfig handles PUT /api/v1/pairs/{pair}/config
func (s *Service) UpdatePairConfig(w http.ResponseWriter, r *http.Request) {
	key, err := pair.ParseKey(chi.URLParam(r, "pair"))
	if err != nil {
		s.fail(w, err)
		return
	}
	var cfg model.PairConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := s.engine.UpdatePairConfig(ctx, s.admin, key, cfg); err != nil {
		s.fail(w, err)
		return
	}
	s.persist(ctx, key)

	slog.Info("pair config updated", "pair", key.String(), "admin", auth.AccountFrom(ctx))
	view, err := s.pairView(key)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SetPaused handles PUT /api/v1/pairs/{pair}/paused
func (s *Service) SetPaused(w http.ResponseWriter, r *http.Request) {
	key, err := pair.ParseKey(chi.URLParam(r, "pair"))
	if err != nil {
		s.fail(w, err)
		return
	}
	var req struct {
		Paused bool `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := s.engine.SetPaused(ctx, s.admin, key, req.Paused); err != nil {
		s.fail(w, err)
		return
	}
	s.persist(ctx, key)

	slog.Info("pair pause toggled", "pair", key.String(), "paused", req.Paused, "admin", auth.AccountFrom(ctx))
	writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}

// --- Accounts ---

// ListOrders handles GET /api/v1/accounts/{account}/orders
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.engine.OrdersOf(chi.URLParam(r, "account"))
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// ListPositions handles GET /api/v1/accounts/{account}/positions
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := s.engine.PositionsOf(chi.URLParam(r, "account"))
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// ListEvents handles GET /api/v1/accounts/{account}/events?limit=N
func (s *Service) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := s.store.EventsByAccount(r.Context(), chi.URLParam(r, "account"), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetBalance handles GET /api/v1/accounts/{account}/balances/{asset}
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	writeJSON(w, http.StatusOK, map[string]any{
		"account": chi.URLParam(r, "account"),
		"asset":   asset,
		"balance": s.wallet.Balance(chi.URLParam(r, "account"), asset),
	})
}

// Deposit handles POST /api/v1/accounts/{account}/deposits
// Credits an account from outside the engine.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Asset == "" || !req.Amount.IsPositive() || !req.Amount.IsInteger() {
		writeError(w, "asset and a positive integer amount are required", http.StatusBadRequest)
		return
	}

	account := chi.URLParam(r, "account")
	if err := s.wallet.Fund(account, req.Asset, req.Amount); err != nil {
		s.fail(w, err)
		return
	}

	slog.Info("account funded",
		"account", account,
		"asset", req.Asset,
		"amount", req.Amount.String(),
		"admin", auth.AccountFrom(r.Context()),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"asset":   req.Asset,
		"balance": s.wallet.Balance(account, req.Asset),
	})
}

// GetReferrer handles GET /api/v1/accounts/{account}/referrer
func (s *Service) GetReferrer(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	referrer, ok := s.referrals.Referrer(account)
	if !ok {
		writeError(w, "account has no referrer", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account":  account,
		"referrer": referrer,
	})
}

// SetReferrer handles PUT /api/v1/accounts/{account}/referrer
func (s *Service) SetReferrer(w http.ResponseWriter, r *http.Request) {
	var req ReferrerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Referrer == "" {
		writeError(w, "referrer is required", http.StatusBadRequest)
		return
	}

	account := chi.URLParam(r, "account")
	if err := s.referrals.SetReferrer(account, req.Referrer); err != nil {
		s.fail(w, err)
		return
	}

	slog.Info("referrer set",
		"account", account,
		"referrer", req.Referrer,
		"admin", auth.AccountFrom(r.Context()),
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"account":  account,
		"referrer": req.Referrer,
	})
}

// --- Helpers ---

func (s *Service) pairView(key model.PairKey) (PairView, error) {
	snap, err := s.engine.Snapshot(key)
	if err != nil {
		return PairView{}, err
	}
	return PairView{
		Pair:              key,
		Config:            snap.Config,
		LongOpenInterest:  snap.State.LongOpenInterest,
		ShortOpenInterest: snap.State.ShortOpenInterest,
		NextOrderID:       snap.State.NextOrderID,
	}, nil
}

func (s *Service) orderParams(w http.ResponseWriter, r *http.Request) (model.PairKey, uint64, bool) {
	key, err := pair.ParseKey(chi.URLParam(r, "pair"))
	if err != nil {
		s.fail(w, err)
		return model.PairKey{}, 0, false
	}
	orderID, err := strconv.ParseUint(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		writeError(w, "invalid order id", http.StatusBadRequest)
		return model.PairKey{}, 0, false
	}
	return key, orderID, true
}

// persist saves the pair's snapshot after a successful mutation. The
// mutation has already happened, so failures are logged and the pair is
// saved again on its next change. Saves are serialized so that an older
// snapshot never overwrites a newer one.
func (s *Service) persist(ctx context.Context, key model.PairKey) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	snap, err := s.engine.Snapshot(key)
	if err != nil {
		slog.Error("snapshot pair failed", "pair", key.String(), "error", err)
		return
	}
	if err := s.store.SavePair(context.WithoutCancel(ctx), snap); err != nil {
		slog.Error("persist pair failed", "pair", key.String(), "error", err)
	}
}

func (s *Service) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
