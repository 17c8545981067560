// Package api serves account risk metrics over HTTP and WebSocket.
//
// Monetary values are returned twice: the exact ledger integer as a string,
// and a shopspring/decimal display form scaled by its precision.
package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/risk-engine/internal/identity"
	"github.com/atmx/risk-engine/internal/metrics"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/risk"
)

// Service handles risk queries for any account the ledger knows.
type Service struct {
	registry *Registry
	wsHub    *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new risk service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(registry *Registry, hub *WSHub) *Service {
	return &Service{registry: registry, wsHub: hub}
}

// Routes mounts the account endpoints on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/accounts", s.ListAccounts)
	r.Route("/accounts/{authority}/{subAccount}", func(r chi.Router) {
		r.Get("/", s.GetSummary)
		r.Post("/refresh", s.Refresh)
		r.Get("/collateral", s.GetCollateral)
		r.Get("/margin-requirement", s.GetMarginRequirement)
		r.Get("/free-collateral", s.GetFreeCollateral)
		r.Get("/leverage", s.GetLeverage)
		r.Get("/liquidatable", s.GetLiquidatable)
		r.Get("/unrealized-pnl", s.GetUnrealizedPnL)
		r.Get("/spot-liability", s.GetSpotLiability)
		r.Get("/spot-asset-value", s.GetSpotAssetValue)
		r.Get("/perp-value", s.GetPerpValue)
		r.Get("/spot-positions/{marketIndex}", s.GetSpotPosition)
		r.Get("/perp-positions/{marketIndex}", s.GetPerpPosition)
	})
}

// --- Response types ---

// ValueResponse is the body of single-value queries.
type ValueResponse struct {
	Account  model.AccountID      `json:"account"`
	Category model.MarginCategory `json:"category"`
	Value    Amount               `json:"value"`
}

// LiquidatableResponse is the body of GET .../liquidatable.
type LiquidatableResponse struct {
	Account         model.AccountID `json:"account"`
	CanBeLiquidated bool            `json:"can_be_liquidated"`
}

// AccountsResponse lists tracked accounts.
type AccountsResponse struct {
	Mode     string            `json:"mode"`
	Accounts []model.AccountID `json:"accounts"`
}

// --- Handlers ---

// ListAccounts handles GET /api/v1/accounts.
func (s *Service) ListAccounts(w http.ResponseWriter, r *http.Request) {
	tracked := s.registry.Tracked()
	resp := AccountsResponse{
		Mode:     s.registry.Mode().String(),
		Accounts: make([]model.AccountID, 0, len(tracked)),
	}
	for _, t := range tracked {
		resp.Accounts = append(resp.Accounts, t.ID)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSummary handles GET /api/v1/accounts/{authority}/{subAccount}.
func (s *Service) GetSummary(w http.ResponseWriter, r *http.Request) {
	defer metrics.ObserveQuery("summary", time.Now())
	e, _, ok := s.engine(w, r)
	if !ok {
		return
	}
	summary, err := e.Summary(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSummaryResponse(summary))
}

// Refresh handles POST .../refresh: captures a new snapshot, then returns
// and broadcasts the account's summary.
func (s *Service) Refresh(w http.ResponseWriter, r *http.Request) {
	defer metrics.ObserveQuery("refresh", time.Now())
	e, id, ok := s.engine(w, r)
	if !ok {
		return
	}
	if err := e.Refresh(r.Context()); err != nil {
		writeEngineError(w, err)
		return
	}
	summary, err := e.Summary(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := newSummaryResponse(summary)
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: MessageSummary, Account: id.String(), Summary: &resp})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCollateral handles GET .../collateral?category=.
func (s *Service) GetCollateral(w http.ResponseWriter, r *http.Request) {
	defer metrics.ObserveQuery("total_collateral", time.Now())
	category, err := queryCategory(r.URL.Query(), model.MarginNone)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	e, id, ok := s.engine(w, r)
	if !ok {
		return
	}
	v, err := e.TotalCollateral(r.Context(), category)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ValueResponse{Account: id, Category: category, Value: quoteAmount(v)})
}

// GetMarginRequirement handles GET .../margin-requirement?category=&liquidation_buffer=.
// Category defaults to maintenance.
func (s *Service) GetMarginRequirement(w http.ResponseWriter, r *http.Request) {
	defer metrics.ObserveQuery("margin_requirement", time.Now())
	q := r.URL.Query()
	category, err := queryCategory(q, model.MarginMaintenance)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	buffer, err := queryUint32(q, "liquidation_buffer")
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	e, id, ok := s.engine(w, r)
	if !ok {
		return
	}
	v, err := e.MarginRequirement(r.Context(), category, buffer)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ValueResponse{Account: id, Category: category, Value: quoteAmount(v)})
}

// GetFreeCollateral handles GET .../free-collateral.
func (s *Service) GetFreeCollateral(w http.ResponseWriter, r *http.Request) {
	defer metrics.ObserveQuery("free_collateral", time.Now())
	e, id, ok := s.engine(w, r)
	if !ok {
		return
	}
	v, err := e.FreeCollateral(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ValueResponse{Account: id, Category: model.MarginInitial, Value: quoteAmount(v)})
}

// GetLeverage handles GET .../leverage?category=.
func (s *Service) GetLeverage(w http.ResponseWriter, r *http.Request) {
	defer metrics.ObserveQuery("leverage", time.Now())
	category, err := queryCategory(r.URL.Query(), model.MarginNone)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	e, id, ok := s.engine(w, r)
	if !ok {
		return
	}
	v, err := e.Leverage(r.Context(), category)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ValueResponse{Account: id, Category: category, Value: leverageAmount(v)})
}

// GetLiquidatable handles GET .../liquidatable.
func (s *Service) GetLiquidatable(w http.ResponseWriter, r *http.Request) {
	defer metrics.ObserveQuery("can_be_liquidated", time.Now())
	e, id, ok := s.engine(w, r)
	if !ok {
		return
	}
	liquidatable, err := e.CanBeLiquidated(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LiquidatableResponse{Account: id, CanBeLiquidated: liquidatable})
}

// GetUnrealizedPnL handles GET .../unrealized-pnl?market=&with_funding=&category=.
func (s *Service) GetUnrealizedPnL(w http.ResponseWriter, r *http.Request) {
	defer metrics.ObserveQuery("unrealized_pnl", time.Now())
	s.aggregate(w, r, risk.Options{}, func(e *risk.Engine, r *http.Request, opts risk.Options) (Amount, error) {
		v, err := e.UnrealizedPnL(r.Context(), opts)
		return quoteAmount(v), err
	})
}

// GetSpotLiability handles GET .../spot-liability.
func (s *Service) GetSpotLiability(w http.ResponseWriter, r *http.Request) {
	defer metrics.ObserveQuery("spot_market_liability", time.Now())
	s.aggregate(w, r, risk.Options{}, func(e *risk.Engine, r *http.Request, opts risk.Options) (Amount, error) {
		v, err := e.SpotMarketLiability(r.Context(), opts)
		return quoteAmount(v), err
	})
}

// GetSpotAssetValue handles GET .../spot-asset-value. Open orders are
// included unless open_orders=false.
func (s *Service) GetSpotAssetValue(w http.ResponseWriter, r *http.Request) {
	defer metrics.ObserveQuery("spot_market_asset_value", time.Now())
	s.aggregate(w, r, risk.Options{IncludeOpenOrders: true}, func(e *risk.Engine, r *http.Request, opts risk.Options) (Amount, error) {
		v, err := e.SpotMarketAssetValue(r.Context(), opts)
		return quoteAmount(v), err
	})
}

// GetPerpValue handles GET .../perp-value.
func (s *Service) GetPerpValue(w http.ResponseWriter, r *http.Request) {
	defer metrics.ObserveQuery("total_perp_position", time.Now())
	s.aggregate(w, r, risk.Options{}, func(e *risk.Engine, r *http.Request, opts risk.Options) (Amount, error) {
		v, err := e.TotalPerpPosition(r.Context(), opts)
		return quoteAmount(v), err
	})
}

// GetSpotPosition handles GET .../spot-positions/{marketIndex}.
func (s *Service) GetSpotPosition(w http.ResponseWriter, r *http.Request) {
	index, err := parseUint16(chi.URLParam(r, "marketIndex"))
	if err != nil {
		writeError(w, "invalid market index", http.StatusBadRequest)
		return
	}
	e, _, ok := s.engine(w, r)
	if !ok {
		return
	}
	p, err := e.UserSpotPosition(r.Context(), index)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if p == nil {
		writeError(w, "no spot position in market", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetPerpPosition handles GET .../perp-positions/{marketIndex}.
func (s *Service) GetPerpPosition(w http.ResponseWriter, r *http.Request) {
	index, err := parseUint16(chi.URLParam(r, "marketIndex"))
	if err != nil {
		writeError(w, "invalid market index", http.StatusBadRequest)
		return
	}
	e, _, ok := s.engine(w, r)
	if !ok {
		return
	}
	p, err := e.UserPosition(r.Context(), index)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if p == nil {
		writeError(w, "no perp position in market", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Helpers ---

// engine resolves the path's account to its engine, writing the error
// response when it cannot.
func (s *Service) engine(w http.ResponseWriter, r *http.Request) (*risk.Engine, model.AccountID, bool) {
	id, err := identity.ParseParts(chi.URLParam(r, "authority"), chi.URLParam(r, "subAccount"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return nil, model.AccountID{}, false
	}
	e, err := s.registry.Get(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return nil, model.AccountID{}, false
	}
	return e, id, true
}

type aggregation func(e *risk.Engine, r *http.Request, opts risk.Options) (Amount, error)

func (s *Service) aggregate(w http.ResponseWriter, r *http.Request, defaults risk.Options, fn aggregation) {
	opts, err := parseOptions(r.URL.Query(), defaults)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	e, id, ok := s.engine(w, r)
	if !ok {
		return
	}
	v, err := fn(e, r, opts)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ValueResponse{Account: id, Category: opts.Category, Value: v})
}

// parseOptions reads market, category, liquidation_buffer, open_orders and
// with_funding over defaults.
func parseOptions(q url.Values, defaults risk.Options) (risk.Options, error) {
	opts := defaults
	var err error
	if v := q.Get("market"); v != "" {
		index, err := parseUint16(v)
		if err != nil {
			return opts, fmt.Errorf("invalid market: %q", v)
		}
		opts.Market = risk.Market(index)
	}
	if opts.Category, err = queryCategory(q, defaults.Category); err != nil {
		return opts, err
	}
	if opts.LiquidationBuffer, err = queryUint32(q, "liquidation_buffer"); err != nil {
		return opts, err
	}
	if opts.IncludeOpenOrders, err = queryBool(q, "open_orders", defaults.IncludeOpenOrders); err != nil {
		return opts, err
	}
	if opts.WithFunding, err = queryBool(q, "with_funding", defaults.WithFunding); err != nil {
		return opts, err
	}
	return opts, nil
}

func queryCategory(q url.Values, def model.MarginCategory) (model.MarginCategory, error) {
	v := q.Get("category")
	if v == "" {
		return def, nil
	}
	c, err := model.ParseMarginCategory(v)
	if err != nil {
		return def, fmt.Errorf("invalid category: %q", v)
	}
	return c, nil
}

func queryUint32(q url.Values, key string) (uint32, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return uint32(n), nil
}

func queryBool(q url.Values, key string, def bool) (bool, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %q", key, v)
	}
	return b, nil
}

func parseUint16(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	return uint16(n), err
}
