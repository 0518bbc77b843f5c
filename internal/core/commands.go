package core

import (
	"DSCEngine/internal/event"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Command is one mutating request to the engine. Amounts are signed so that
// negative input from any transport is rejected uniformly as InvalidAmount.
type Command interface {
	Operation() event.OperationType
	Metadata() Meta
}

// Meta identifies who issued a command. IdempotencyKey is optional.
type Meta struct {
	Caller         uuid.UUID
	IdempotencyKey string
}

func (m Meta) Metadata() Meta { return m }

type DepositCollateral struct {
	Meta
	Token  string
	Amount *big.Int
}

type DepositCollateralAndMintDsc struct {
	Meta
	Token            string
	CollateralAmount *big.Int
	MintAmount       *big.Int
}

type RedeemCollateral struct {
	Meta
	Token  string
	Amount *big.Int
}

type RedeemCollateralForDsc struct {
	Meta
	Token            string
	CollateralAmount *big.Int
	BurnAmount       *big.Int
}

type MintDsc struct {
	Meta
	Amount *big.Int
}

type BurnDsc struct {
	Meta
	Amount *big.Int
}

// Liquidate is issued by the liquidator (Meta.Caller).
type Liquidate struct {
	Meta
	Token       string
	Debtor      uuid.UUID
	DebtToCover *big.Int
}

func (c *DepositCollateral) Operation() event.OperationType {
	return event.OperationDepositCollateral
}

func (c *DepositCollateralAndMintDsc) Operation() event.OperationType {
	return event.OperationDepositCollateralAndMintDsc
}

func (c *RedeemCollateral) Operation() event.OperationType {
	return event.OperationRedeemCollateral
}

func (c *RedeemCollateralForDsc) Operation() event.OperationType {
	return event.OperationRedeemCollateralForDsc
}

func (c *MintDsc) Operation() event.OperationType {
	return event.OperationMintDsc
}

func (c *BurnDsc) Operation() event.OperationType {
	return event.OperationBurnDsc
}

func (c *Liquidate) Operation() event.OperationType {
	return event.OperationLiquidate
}

// toAmount converts a request amount into a ledger amount. Nil, zero,
// negative and values wider than 256 bits are all InvalidAmount.
func toAmount(v *big.Int) (*uint256.Int, error) {
	if v == nil || v.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	amount, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: %s exceeds 256 bits", ErrInvalidAmount, v.String())
	}
	return amount, nil
}
