package event

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type DscMinted struct {
	User   uuid.UUID    `json:"user"`
	Amount *uint256.Int `json:"amount"`
}

func (e *DscMinted) EventType() EventType {
	return EventTypeDscMinted
}

func (e *DscMinted) Account() uuid.UUID {
	return e.User
}

// DscBurned records debt repaid for OnBehalfOf with units taken from Payer.
type DscBurned struct {
	OnBehalfOf uuid.UUID    `json:"on_behalf_of"`
	Payer      uuid.UUID    `json:"payer"`
	Amount     *uint256.Int `json:"amount"`
}

func (e *DscBurned) EventType() EventType {
	return EventTypeDscBurned
}

func (e *DscBurned) Account() uuid.UUID {
	return e.OnBehalfOf
}
