package server

import (
	"DSCEngine/internal/core"
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CodeForKind maps the engine error taxonomy to gRPC codes.
func CodeForKind(kind core.ErrorKind) codes.Code {
	switch kind {
	case core.KindInvalidAmount, core.KindUnsupportedCollateral, core.KindConfigMismatch:
		return codes.InvalidArgument
	case core.KindHealthFactorBroken, core.KindHealthFactorOK,
		core.KindHealthFactorNotImproved, core.KindInsufficientBalance:
		return codes.FailedPrecondition
	case core.KindTransferFailure, core.KindMintFailure, core.KindReentrantCall:
		return codes.Aborted
	case core.KindOracleFailure:
		return codes.Unavailable
	case core.KindDuplicateOperation:
		return codes.AlreadyExists
	default:
		return codes.Internal
	}
}

// toStatus converts an engine or processor error into a gRPC status error.
// The message is prefixed with the error kind.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, core.ErrProcessorStopped):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	kind := core.KindOf(err)
	return status.Errorf(CodeForKind(kind), "%s: %v", kind, err)
}
