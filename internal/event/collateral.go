package event

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// CollateralDeposited is emitted when collateral is credited to a user.
type CollateralDeposited struct {
	User   uuid.UUID    `json:"user"`
	Token  string       `json:"token"`
	Amount *uint256.Int `json:"amount"`
}

func (e *CollateralDeposited) EventType() EventType {
	return EventTypeCollateralDeposited
}

func (e *CollateralDeposited) Account() uuid.UUID {
	return e.User
}

// CollateralRedeemed is emitted when collateral leaves From's position and
// is sent to To. From and To differ during liquidation.
type CollateralRedeemed struct {
	From   uuid.UUID    `json:"from"`
	To     uuid.UUID    `json:"to"`
	Token  string       `json:"token"`
	Amount *uint256.Int `json:"amount"`
}

func (e *CollateralRedeemed) EventType() EventType {
	return EventTypeCollateralRedeemed
}

func (e *CollateralRedeemed) Account() uuid.UUID {
	return e.From
}
