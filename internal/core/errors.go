package core

import (
	"DSCEngine/internal/guard"
	"DSCEngine/internal/oracle"
	"DSCEngine/internal/state"
	"errors"
)

// ErrorKind is the closed taxonomy of engine failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidAmount
	KindUnsupportedCollateral
	KindConfigMismatch
	KindTransferFailure
	KindMintFailure
	KindHealthFactorBroken
	KindHealthFactorOK
	KindHealthFactorNotImproved
	KindInsufficientBalance
	KindReentrantCall
	KindOracleFailure
	KindDuplicateOperation
)

var (
	ErrInvalidAmount           = state.ErrInvalidAmount
	ErrUnsupportedCollateral   = state.ErrUnsupportedCollateral
	ErrConfigMismatch          = state.ErrConfigMismatch
	ErrTransferFailure         = state.ErrTransferFailure
	ErrMintFailure             = state.ErrMintFailure
	ErrHealthFactorBroken      = state.ErrHealthFactorBroken
	ErrHealthFactorOK          = state.ErrHealthFactorOK
	ErrHealthFactorNotImproved = state.ErrHealthFactorNotImproved
	ErrInsufficientBalance     = state.ErrInsufficientBalance
	ErrReentrantCall           = guard.ErrReentrantCall
	ErrDuplicateOperation      = errors.New("duplicate operation")
	ErrProcessorStopped        = errors.New("processor stopped")
)

// HealthFactorBrokenError carries the offending ratio.
type HealthFactorBrokenError = state.HealthFactorBrokenError

var kindOrder = []struct {
	kind ErrorKind
	errs []error
}{
	{KindReentrantCall, []error{ErrReentrantCall}},
	{KindDuplicateOperation, []error{ErrDuplicateOperation}},
	{KindInvalidAmount, []error{ErrInvalidAmount}},
	{KindUnsupportedCollateral, []error{ErrUnsupportedCollateral, oracle.ErrUnknownToken}},
	{KindConfigMismatch, []error{ErrConfigMismatch}},
	{KindHealthFactorBroken, []error{ErrHealthFactorBroken}},
	{KindHealthFactorOK, []error{ErrHealthFactorOK}},
	{KindHealthFactorNotImproved, []error{ErrHealthFactorNotImproved}},
	{KindMintFailure, []error{ErrMintFailure}},
	{KindTransferFailure, []error{ErrTransferFailure}},
	{KindInsufficientBalance, []error{ErrInsufficientBalance}},
	{KindOracleFailure, []error{oracle.ErrInvalidPrice, oracle.ErrStalePrice, oracle.ErrNoPrice}},
}

// KindOf classifies err. Unclassified errors are KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kindOrder {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return KindUnknown
}

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidAmount:
		return "InvalidAmount"
	case KindUnsupportedCollateral:
		return "UnsupportedCollateral"
	case KindConfigMismatch:
		return "ConfigMismatch"
	case KindTransferFailure:
		return "TransferFailure"
	case KindMintFailure:
		return "MintFailure"
	case KindHealthFactorBroken:
		return "HealthFactorBroken"
	case KindHealthFactorOK:
		return "HealthFactorOK"
	case KindHealthFactorNotImproved:
		return "HealthFactorNotImproved"
	case KindInsufficientBalance:
		return "InsufficientBalance"
	case KindReentrantCall:
		return "ReentrantCall"
	case KindOracleFailure:
		return "OracleFailure"
	case KindDuplicateOperation:
		return "DuplicateOperation"
	default:
		return "Unknown"
	}
}
