// Package market provides the HTTP surface of the pool engine: the
// authenticated user command router (place/cancel/buy and queries) and the
// settlement-authority surface (mint, burn, distribute, cleanup).
//
// A service-level mutex serializes every mutating operation, so each one
// runs to completion without interleaving and is observable only as a
// whole — the execution model the ledger and book are written against.
package market

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/stormvane/pool-engine/internal/bank"
	"github.com/stormvane/pool-engine/internal/book"
	"github.com/stormvane/pool-engine/internal/ledger"
	"github.com/stormvane/pool-engine/internal/model"
	"github.com/stormvane/pool-engine/internal/store"
)

// Service handles ledger and order-book operations over HTTP.
type Service struct {
	mu     sync.Mutex
	ledger *ledger.Ledger
	engine *book.Engine
	bank   *bank.MemoryBank // nil unless the dev faucet is enabled
	store  store.Store
}

// NewService creates the HTTP service. Pass a non-nil MemoryBank to expose
// the development deposit faucet.
func NewService(l *ledger.Ledger, e *book.Engine, mb *bank.MemoryBank, st store.Store) *Service {
	return &Service{
		ledger: l,
		engine: e,
		bank:   mb,
		store:  st,
	}
}

// Routes mounts all handlers under the given router.
func (s *Service) Routes(r chi.Router) {
	// Settlement-authority surface.
	r.Post("/policies/{policyID}/mint", s.Mint)
	r.Post("/policies/{policyID}/burn", s.Burn)
	r.Post("/policies/{policyID}/transfer", s.Transfer)
	r.Post("/policies/{policyID}/distribute", s.Distribute)
	r.Post("/policies/{policyID}/cleanup", s.Cleanup)

	// Queries.
	r.Get("/policies/{policyID}/balances/{account}", s.GetBalance)
	r.Get("/policies/{policyID}/supply", s.GetSupply)
	r.Get("/policies/{policyID}/holders", s.GetHolders)
	r.Get("/policies/{policyID}/book", s.GetDepth)
	r.Get("/policies/{policyID}/trades", s.GetTrades)
	r.Get("/policies/{policyID}/events", s.GetEvents)
	r.Get("/orders", s.ListOrders)

	// User command router.
	r.Post("/orders", s.PlaceAsk)
	r.Delete("/orders/{orderID}", s.CancelAsk)
	r.Post("/buy", s.Buy)

	if s.bank != nil {
		r.Post("/bank/deposit", s.Deposit)
	}
}

// --- Request/Response types ---

// AmountRequest is the JSON body for mint and burn.
type AmountRequest struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

// TransferRequest is the JSON body for share transfers.
type TransferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// DistributeRequest is the JSON body for settlement payouts.
type DistributeRequest struct {
	Source string `json:"source"`
	Amount uint64 `json:"amount"`
}

// PlaceAskRequest is the JSON body for POST /orders.
type PlaceAskRequest struct {
	PolicyID model.PolicyID `json:"policy_id"`
	Seller   string         `json:"seller"`
	Price    uint64         `json:"price"`
	Quantity uint64         `json:"quantity"`
}

// BuyRequest is the JSON body for POST /buy.
type BuyRequest struct {
	PolicyID model.PolicyID `json:"policy_id"`
	Buyer    string         `json:"buyer"`
	MaxPrice uint64         `json:"max_price"`
	Quantity uint64         `json:"quantity"`
}

// DepositRequest is the JSON body for the dev faucet.
type DepositRequest struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

// CleanupResponse reports what settlement cleanup removed.
type CleanupResponse struct {
	OrdersCancelled int `json:"orders_cancelled"`
}

// --- Settlement-authority handlers ---

// Mint handles POST /api/v1/policies/{policyID}/mint
func (s *Service) Mint(w http.ResponseWriter, r *http.Request) {
	policy, ok := policyParam(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ledger.Mint(policy, req.Account, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ledger.Entry(policy, req.Account))
}

// Burn handles POST /api/v1/policies/{policyID}/burn
func (s *Service) Burn(w http.ResponseWriter, r *http.Request) {
	policy, ok := policyParam(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ledger.Burn(policy, req.Account, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ledger.Entry(policy, req.Account))
}

// Transfer handles POST /api/v1/policies/{policyID}/transfer
func (s *Service) Transfer(w http.ResponseWriter, r *http.Request) {
	policy, ok := policyParam(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.From == "" || req.To == "" {
		writeError(w, "from and to are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ledger.Transfer(policy, req.From, req.To, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Distribute handles POST /api/v1/policies/{policyID}/distribute
// Pays the posted amount pro-rata to the policy's holders.
func (s *Service) Distribute(w http.ResponseWriter, r *http.Request) {
	policy, ok := policyParam(w, r)
	if !ok {
		return
	}
	var req DistributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Source == "" {
		writeError(w, "source is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ledger.Distribute(r.Context(), policy, req.Source, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Cleanup handles POST /api/v1/policies/{policyID}/cleanup
// Cancels every open ask for the policy, then clears ledger state. Run by
// the settlement authority after the final distribution.
func (s *Service) Cleanup(w http.ResponseWriter, r *http.Request) {
	policy, ok := policyParam(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := s.engine.CancelPolicyOrders(policy)
	s.ledger.Cleanup(policy)

	writeJSON(w, http.StatusOK, CleanupResponse{OrdersCancelled: cancelled})
}

// --- User command handlers ---

// PlaceAsk handles POST /api/v1/orders
func (s *Service) PlaceAsk(w http.ResponseWriter, r *http.Request) {
	var req PlaceAskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Seller == "" {
		writeError(w, "seller is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.engine.PlaceAsk(req.PolicyID, req.Seller, req.Price, req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// CancelAsk handles DELETE /api/v1/orders/{orderID}?caller=<account>
func (s *Service) CancelAsk(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseUint(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		writeError(w, "invalid order id", http.StatusBadRequest)
		return
	}
	caller := r.URL.Query().Get("caller")
	if caller == "" {
		writeError(w, "caller is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.engine.CancelAsk(orderID, caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// Buy handles POST /api/v1/buy
// Fills against resting asks at or below max_price. Partial fill is a
// success; the response reports exactly what was filled.
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Buyer == "" {
		writeError(w, "buyer is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	trade, err := s.engine.Buy(r.Context(), req.PolicyID, req.Buyer, req.MaxPrice, req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.store.InsertTrade(r.Context(), trade); err != nil {
		// The trade executed; history persistence is best-effort.
		writeJSON(w, http.StatusOK, trade)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// Deposit handles POST /api/v1/bank/deposit — development faucet for the
// in-memory bank.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" || req.Asset == "" {
		writeError(w, "asset and account are required", http.StatusBadRequest)
		return
	}
	s.bank.Deposit(req.Asset, req.Account, req.Amount)
	w.WriteHeader(http.StatusNoContent)
}

// --- Query handlers ---

// GetBalance handles GET /api/v1/policies/{policyID}/balances/{account}
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	policy, ok := policyParam(w, r)
	if !ok {
		return
	}
	account := chi.URLParam(r, "account")
	writeJSON(w, http.StatusOK, s.ledger.Entry(policy, account))
}

// GetSupply handles GET /api/v1/policies/{policyID}/supply
func (s *Service) GetSupply(w http.ResponseWriter, r *http.Request) {
	policy, ok := policyParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"total_shares": s.ledger.TotalShares(policy)})
}

// GetHolders handles GET /api/v1/policies/{policyID}/holders
func (s *Service) GetHolders(w http.ResponseWriter, r *http.Request) {
	policy, ok := policyParam(w, r)
	if !ok {
		return
	}
	holders := s.ledger.Holders(policy)
	if holders == nil {
		holders = []string{}
	}
	writeJSON(w, http.StatusOK, holders)
}

// GetDepth handles GET /api/v1/policies/{policyID}/book?levels=N
func (s *Service) GetDepth(w http.ResponseWriter, r *http.Request) {
	policy, ok := policyParam(w, r)
	if !ok {
		return
	}
	n := 20
	if v := r.URL.Query().Get("levels"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeError(w, "invalid levels", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	levels := s.engine.Depth(policy, n)
	if levels == nil {
		levels = []model.DepthLevel{}
	}
	writeJSON(w, http.StatusOK, levels)
}

// GetTrades handles GET /api/v1/policies/{policyID}/trades
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	policy, ok := policyParam(w, r)
	if !ok {
		return
	}
	trades, err := s.store.ListTradesByPolicy(r.Context(), policy)
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetEvents handles GET /api/v1/policies/{policyID}/events?limit=N
func (s *Service) GetEvents(w http.ResponseWriter, r *http.Request) {
	policy, ok := policyParam(w, r)
	if !ok {
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	evs, err := s.store.ListEventsByPolicy(r.Context(), policy, limit)
	if err != nil {
		writeError(w, "failed to load events", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

// ListOrders handles GET /api/v1/orders?policy_id=N&account=A
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	policyID, err := strconv.ParseUint(r.URL.Query().Get("policy_id"), 10, 64)
	if err != nil {
		writeError(w, "invalid policy_id", http.StatusBadRequest)
		return
	}
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	orders := s.engine.UserOrders(model.PolicyID(policyID), account)
	writeJSON(w, http.StatusOK, orders)
}

// --- Helpers ---

func policyParam(w http.ResponseWriter, r *http.Request) (model.PolicyID, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "policyID"), 10, 64)
	if err != nil {
		writeError(w, "invalid policy id", http.StatusBadRequest)
		return 0, false
	}
	return model.PolicyID(id), true
}

// writeDomainError maps ledger and book sentinel errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, book.ErrInvalidPrice),
		errors.Is(err, book.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrZeroAmount):
		status = http.StatusBadRequest
	case errors.Is(err, book.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, book.ErrNotOrderOwner):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientLockedBalance),
		errors.Is(err, ledger.ErrArithmeticOverflow),
		errors.Is(err, ledger.ErrTooManyHolders),
		errors.Is(err, ledger.ErrNoShares),
		errors.Is(err, ledger.ErrTransferFailed),
		errors.Is(err, book.ErrInsufficientShares),
		errors.Is(err, book.ErrNoMatchingOrders),
		errors.Is(err, book.ErrArithmeticOverflow),
		errors.Is(err, book.ErrTransferFailed),
		errors.Is(err, book.ErrTooManyOrdersAtLevel),
		errors.Is(err, book.ErrTooManyPriceLevels),
		errors.Is(err, book.ErrTooManyOrdersPerUser):
		status = http.StatusConflict
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
