package ingestion

import (
	"DSCEngine/internal/core"
	"DSCEngine/internal/event"
	fpmath "DSCEngine/internal/math"
	"DSCEngine/internal/oracle"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts and
// prices are base-10 integer strings in the token's smallest unit.

type priceJSON struct {
	Feed        string `json:"feed"`
	Price       string `json:"price"`
	Decimals    uint8  `json:"decimals"`
	Round       int64  `json:"round"`
	UpdatedAtUs int64  `json:"updated_at_us"`
}

// ParsePriceUpdate converts a price feed message into an oracle round.
// Price validity (positive, fresh) is checked at read time by the adapter;
// only a decimals count no 256-bit value can carry is rejected here.
func ParsePriceUpdate(data []byte) (oracle.PriceUpdate, error) {
	var j priceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return oracle.PriceUpdate{}, fmt.Errorf("parse price update: %w", err)
	}
	if j.Feed == "" {
		return oracle.PriceUpdate{}, fmt.Errorf("parse price update: missing feed")
	}
	if j.Decimals > fpmath.MaxDecimals {
		return oracle.PriceUpdate{}, fmt.Errorf("parse price for %s: %d decimals exceeds %d", j.Feed, j.Decimals, fpmath.MaxDecimals)
	}
		price, ok := new(big.Int).SetString(j.Price, 10)
	if !ok {
		return oracle.PriceUpdate{}, fmt.Errorf("parse price for %s: %q is not an integer", j.Feed, j.Price)
	}
	return oracle.PriceUpdate{
		Feed:      j.Feed,
		Price:     price,
		Decimals:  j.Decimals,
		Round:     j.Round,
		UpdatedAt: time.UnixMicro(j.UpdatedAtUs).UTC(),
	}, nil
}

// CommandMessage is the wire form of an engine command, shared by the NATS
// command subjects and the RPC surface.
type CommandMessage struct {
	Operation        string `json:"operation"`
	Caller           string `json:"caller"`
	IdempotencyKey   string `json:"idempotency_key,omitempty"`
	Token            string `json:"token,omitempty"`
	Amount           string `json:"amount,omitempty"`
	CollateralAmount string `json:"collateral_amount,omitempty"`
	MintAmount       string `json:"mint_amount,omitempty"`
	BurnAmount       string `json:"burn_amount,omitempty"`
	Debtor           string `json:"debtor,omitempty"`
	DebtToCover      string `json:"debt_to_cover,omitempty"`
}

// ParseCommand decodes a command message into an engine command.
func ParseCommand(data []byte) (core.Command, error) {
	var j CommandMessage
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	return j.Command()
}

// Command converts the message into an engine command. Missing amounts are
// left nil so the engine rejects them as InvalidAmount.
func (j CommandMessage) Command() (core.Command, error) {
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	meta := core.Meta{Caller: caller, IdempotencyKey: j.IdempotencyKey}

	p := amountParser{}
	var cmd core.Command
	switch op := event.ParseOperationType(j.Operation); op {
	case event.OperationDepositCollateral:
		cmd = &core.DepositCollateral{Meta: meta, Token: j.Token, Amount: p.parse("amount", j.Amount)}
	case event.OperationDepositCollateralAndMintDsc:
		cmd = &core.DepositCollateralAndMintDsc{
			Meta:             meta,
			Token:            j.Token,
			CollateralAmount: p.parse("collateral_amount", j.CollateralAmount),
			MintAmount:       p.parse("mint_amount", j.MintAmount),
		}
	case event.OperationRedeemCollateral:
		cmd = &core.RedeemCollateral{Meta: meta, Token: j.Token, Amount: p.parse("amount", j.Amount)}
	case event.OperationRedeemCollateralForDsc:
		cmd = &core.RedeemCollateralForDsc{
			Meta:             meta,
			Token:            j.Token,
			CollateralAmount: p.parse("collateral_amount", j.CollateralAmount),
			BurnAmount:       p.parse("burn_amount", j.BurnAmount),
		}
	case event.OperationMintDsc:
		cmd = &core.MintDsc{Meta: meta, Amount: p.parse("amount", j.Amount)}
	case event.OperationBurnDsc:
		cmd = &core.BurnDsc{Meta: meta, Amount: p.parse("amount", j.Amount)}
	case event.OperationLiquidate:
		debtor, err := uuid.Parse(j.Debtor)
		if err != nil {
			return nil, fmt.Errorf("parse debtor: %w", err)
		}
		cmd = &core.Liquidate{
			Meta:        meta,
			Token:       j.Token,
			Debtor:      debtor,
			DebtToCover: p.parse("debt_to_cover", j.DebtToCover),
		}
	default:
		return nil, fmt.Errorf("unknown operation: %q", j.Operation)
	}

	if p.err != nil {
		return nil, p.err
	}
	return cmd, nil
}

// ParseAmount parses a base-10 integer string. An empty string yields nil.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%q is not an integer", s)
	}
	return v, nil
}

// amountParser keeps the first parse failure.
type amountParser struct {
	err error
}

func (p *amountParser) parse(field, s string) *big.Int {
	v, err := ParseAmount(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("parse %s: %w", field, err)
	}
	return v
}
