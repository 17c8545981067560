package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/fixed"
	"github.com/atmx/risk-engine/internal/identity"
	"github.com/atmx/risk-engine/internal/ledger"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/risk"
	"github.com/atmx/risk-engine/internal/snapshot"
)

// Display exponents: a value is shown as value / 10^exp.
const (
	quoteExp    = 6 // QuotePrecision
	leverageExp = 4 // LeveragePrecision
)

// Amount is a fixed-point value with its display form. Value is the exact
// ledger integer; Display is Value scaled by its precision.
type Amount struct {
	Value   fixed.Int       `json:"value"`
	Display decimal.Decimal `json:"display"`
}

func quoteAmount(v fixed.Int) Amount {
	return Amount{Value: v, Display: v.Decimal(quoteExp)}
}

func leverageAmount(v fixed.Int) Amount {
	return Amount{Value: v, Display: v.Decimal(leverageExp)}
}

// SummaryResponse is the JSON form of risk.Summary.
type SummaryResponse struct {
	Authority    string    `json:"authority"`
	SubAccountID uint16    `json:"sub_account_id"`
	SnapshotID   string    `json:"snapshot_id,omitempty"`
	ComputedAt   time.Time `json:"computed_at"`

	TotalCollateral              Amount `json:"total_collateral"`
	UnrealizedPnL                Amount `json:"unrealized_pnl"`
	InitialMarginRequirement     Amount `json:"initial_margin_requirement"`
	MaintenanceMarginRequirement Amount `json:"maintenance_margin_requirement"`
	FreeCollateral               Amount `json:"free_collateral"`
	Leverage                     Amount `json:"leverage"`
	BeingLiquidated              bool   `json:"being_liquidated"`
	CanBeLiquidated              bool   `json:"can_be_liquidated"`
}

func newSummaryResponse(s *risk.Summary) SummaryResponse {
	resp := SummaryResponse{
		Authority:                    s.Account.Authority,
		SubAccountID:                 s.Account.SubAccountID,
		ComputedAt:                   s.ComputedAt.UTC(),
		TotalCollateral:              quoteAmount(s.TotalCollateral),
		UnrealizedPnL:                quoteAmount(s.UnrealizedPnL),
		InitialMarginRequirement:     quoteAmount(s.InitialMarginRequirement),
		MaintenanceMarginRequirement: quoteAmount(s.MaintenanceMarginRequirement),
		FreeCollateral:               quoteAmount(s.FreeCollateral),
		Leverage:                     leverageAmount(s.Leverage),
		BeingLiquidated:              s.BeingLiquidated,
		CanBeLiquidated:              s.CanBeLiquidated,
	}
	if s.SnapshotID != uuid.Nil {
		resp.SnapshotID = s.SnapshotID.String()
	}
	return resp
}

// writeJSON writes v with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeEngineError maps an engine error to its HTTP status.
func writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, err.Error(), status)
}

func statusFor(err error) int {
	var du *snapshot.DataUnavailableError
	switch {
	case errors.Is(err, risk.ErrUnsupportedOption),
		errors.Is(err, identity.ErrInvalidAccount),
		errors.Is(err, identity.ErrInvalidAuthority),
		errors.Is(err, identity.ErrInvalidSubAccount):
		return http.StatusBadRequest
	case errors.Is(err, snapshot.ErrNotReady):
		return http.StatusConflict
	case errors.As(err, &du) && du.Entity == snapshot.EntityAccount && errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrDuplicatePosition), errors.Is(err, snapshot.ErrIndexMismatch):
		return http.StatusBadGateway
	case errors.Is(err, snapshot.ErrDataUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, fixed.ErrOverflow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
