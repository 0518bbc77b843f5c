package ledger

import (
	fpmath "DSCEngine/internal/math"
	"errors"
	"fmt"
)

var ErrUnsupportedCollateral = errors.New("unsupported collateral")

// CollateralType is an approved collateral asset and the feed that prices it.
type CollateralType struct {
	Symbol    string
	Decimals  uint8
	PriceFeed string
}

// Registry is the ordered, immutable set of collateral types fixed at
// construction.
type Registry struct {
	types  []CollateralType
	bySymb map[string]int
}

func NewRegistry(types []CollateralType) (*Registry, error) {
	r := &Registry{
		types:  make([]CollateralType, 0, len(types)),
		bySymb: make(map[string]int, len(types)),
	}
	for _, ct := range types {
		if ct.Symbol == "" {
			return nil, fmt.Errorf("collateral type with empty symbol")
		}
		if ct.Symbol == DebtAsset {
			return nil, fmt.Errorf("collateral symbol %s is reserved", DebtAsset)
		}
		if ct.Decimals > fpmath.MaxDecimals {
			return nil, fmt.Errorf("collateral %s: %d decimals exceeds %d", ct.Symbol, ct.Decimals, fpmath.MaxDecimals)
		}
		if ct.PriceFeed == "" {
			return nil, fmt.Errorf("collateral %s has no price feed", ct.Symbol)
		}
		if _, dup := r.bySymb[ct.Symbol]; dup {
			return nil, fmt.Errorf("duplicate collateral %s", ct.Symbol)
		}
		r.bySymb[ct.Symbol] = len(r.types)
		r.types = append(r.types, ct)
	}
	return r, nil
}

// Lookup returns the collateral type for symbol or ErrUnsupportedCollateral.
func (r *Registry) Lookup(symbol string) (CollateralType, error) {
	i, ok := r.bySymb[symbol]
	if !ok {
		return CollateralType{}, fmt.Errorf("%w: %s", ErrUnsupportedCollateral, symbol)
	}
	return r.types[i], nil
}

// Types returns the collateral types in registration order.
func (r *Registry) Types() []CollateralType {
	out := make([]CollateralType, len(r.types))
	copy(out, r.types)
	return out
}

// Symbols returns the collateral symbols in registration order.
func (r *Registry) Symbols() []string {
	out := make([]string, len(r.types))
	for i, ct := range r.types {
		out[i] = ct.Symbol
	}
	return out
}
