package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeCollateralDeposited
	EventTypeCollateralRedeemed
	EventTypeDscMinted
	EventTypeDscBurned
	EventTypePositionLiquidated
)

// OperationType identifies the engine entry point that produced an envelope.
type OperationType int32

const (
	OperationUnknown OperationType = iota
	OperationDepositCollateral
	OperationDepositCollateralAndMintDsc
	OperationRedeemCollateral
	OperationRedeemCollateralForDsc
	OperationMintDsc
	OperationBurnDsc
	OperationLiquidate
)

// Event is the interface all event payloads must implement
type Event interface {
	EventType() EventType
	// Account returns the user whose position the event changed.
	Account() uuid.UUID
}

// EventEnvelope wraps every committed operation in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Caller-supplied idempotency key, empty if none
	IdempotencyKey string

	Operation OperationType

	// Identity that invoked the operation
	Caller uuid.UUID

	Timestamp time.Time

	// Events emitted by the operation, in emission order
	Events []Event

	// SHA-256 of state AFTER applying this operation
	StateHash [32]byte

	// Previous operation's state hash (chain integrity)
	PrevHash [32]byte
}

func (et EventType) String() string {
	switch et {
	case EventTypeCollateralDeposited:
		return "CollateralDeposited"
	case EventTypeCollateralRedeemed:
		return "CollateralRedeemed"
	case EventTypeDscMinted:
		return "DscMinted"
	case EventTypeDscBurned:
		return "DscBurned"
	case EventTypePositionLiquidated:
		return "PositionLiquidated"
	default:
		return "Unknown"
	}
}

func (ot OperationType) String() string {
	switch ot {
	case OperationDepositCollateral:
		return "DepositCollateral"
	case OperationDepositCollateralAndMintDsc:
		return "DepositCollateralAndMintDsc"
	case OperationRedeemCollateral:
		return "RedeemCollateral"
	case OperationRedeemCollateralForDsc:
		return "RedeemCollateralForDsc"
	case OperationMintDsc:
		return "MintDsc"
	case OperationBurnDsc:
		return "BurnDsc"
	case OperationLiquidate:
		return "Liquidate"
	default:
		return "Unknown"
	}
}

// ParseOperationType is the inverse of OperationType.String.
func ParseOperationType(s string) OperationType {
	for ot := OperationDepositCollateral; ot <= OperationLiquidate; ot++ {
		if ot.String() == s {
			return ot
		}
	}
	return OperationUnknown
}
