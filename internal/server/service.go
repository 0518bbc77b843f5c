package server

import (
	"DSCEngine/internal/core"
	"DSCEngine/internal/ingestion"
	fpmath "DSCEngine/internal/math"
	"DSCEngine/internal/persistence"
	"DSCEngine/internal/projection"
	"DSCEngine/internal/query"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Executor runs commands and views on the engine goroutine.
// *core.Processor implements it.
type Executor interface {
	Submit(ctx context.Context, cmd core.Command) (*core.Receipt, error)
	View(ctx context.Context, fn func(ctx context.Context, e *core.Engine) error) error
}

// Deps holds everything the engine service reads from. DB, Queries and
// Snapshots are optional; the methods that need them fail with Unavailable.
type Deps struct {
	Engine       Executor
	DB           *sql.DB
	Queries      *query.QueryService
	Snapshots    *persistence.SnapshotManager
	TakeSnapshot func(ctx context.Context) (int64, error)
	Logger       zerolog.Logger
}

// Service implements the engine RPCs. The same methods back the gRPC
// service and the HTTP gateway routes.
type Service struct {
	deps Deps
}

func NewService(deps Deps) *Service {
	return &Service{deps: deps}
}

// ============================================================================
// Commands
// ============================================================================

// Execute submits one command. req.Operation selects the engine operation.
func (s *Service) Execute(ctx context.Context, req *ingestion.CommandMessage) (*CommandResponse, error) {
	cmd, err := req.Command()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	receipt, err := s.deps.Engine.Submit(ctx, cmd)
	if err != nil {
		return nil, toStatus(err)
	}

	events, err := persistence.MarshalEvents(receipt.Events)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "marshal events: %v", err)
	}

	resp := &CommandResponse{
		Sequence:  receipt.Sequence,
		Operation: receipt.Operation.String(),
		StateHash: hex.EncodeToString(receipt.StateHash[:]),
		Events:    json.RawMessage(events),
	}
	if l := receipt.Liquidation; l != nil {
		resp.Liquidation = &LiquidationSummary{
			Debtor:               l.Debtor.String(),
			Token:                l.Token,
			DebtCovered:          l.DebtCovered.Dec(),
			CollateralSeized:     l.Seized.Dec(),
			Bonus:                l.Bonus.Dec(),
			StartingHealthFactor: l.StartingHealthFactor.Dec(),
			EndingHealthFactor:   l.EndingHealthFactor.Dec(),
		}
	}
	return resp, nil
}

// ============================================================================
// Engine views
// ============================================================================

func (s *Service) GetAccountInformation(ctx context.Context, req *UserRequest) (*AccountInformationResponse, error) {
	user, err := parseUser(req.User)
	if err != nil {
		return nil, err
	}

	resp := &AccountInformationResponse{User: user.String()}
	err = s.deps.Engine.View(ctx, func(ctx context.Context, e *core.Engine) error {
		debt, value, err := e.GetAccountInformation(ctx, user)
		if err != nil {
			return err
		}
		resp.TotalDscMinted = debt.Dec()
		resp.CollateralValueInUsd = value.Dec()
		return nil
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *Service) GetHealthFactor(ctx context.Context, req *UserRequest) (*HealthFactorResponse, error) {
	user, err := parseUser(req.User)
	if err != nil {
		return nil, err
	}

	resp := &HealthFactorResponse{User: user.String()}
	err = s.deps.Engine.View(ctx, func(ctx context.Context, e *core.Engine) error {
		hf, err := e.GetHealthFactor(ctx, user)
		if err != nil {
			return err
		}
		resp.HealthFactor = hf.Dec()
		resp.Formatted = fpmath.FormatUnits(hf, fpmath.PrecisionDecimals)
		return nil
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *Service) GetCollateralBalance(ctx context.Context, req *CollateralBalanceRequest) (*AmountResponse, error) {
	user, err := parseUser(req.User)
	if err != nil {
		return nil, err
	}

	resp := &AmountResponse{Token: req.Token}
	err = s.deps.Engine.View(ctx, func(_ context.Context, e *core.Engine) error {
		bal, err := e.GetCollateralBalanceOfUser(user, req.Token)
		if err != nil {
			return err
		}
		resp.Amount = bal.Dec()
		return nil
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

// GetUsdValue converts a token amount into 18-decimal peg value.
func (s *Service) GetUsdValue(ctx context.Context, req *ConversionRequest) (*AmountResponse, error) {
	return s.convert(ctx, req, (*core.Engine).GetUsdValue)
}

// GetTokenAmountFromUsd converts an 18-decimal peg value into a token amount.
func (s *Service) GetTokenAmountFromUsd(ctx context.Context, req *ConversionRequest) (*AmountResponse, error) {
	return s.convert(ctx, req, (*core.Engine).GetTokenAmountFromUsd)
}

func (s *Service) convert(
	ctx context.Context,
	req *ConversionRequest,
	fn func(e *core.Engine, ctx context.Context, symbol string, v *uint256.Int) (*uint256.Int, error),
) (*AmountResponse, error) {
	amount, err := uint256.FromDecimal(req.Amount)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid amount %q: %v", req.Amount, err)
	}

	resp := &AmountResponse{Token: req.Token}
	err = s.deps.Engine.View(ctx, func(ctx context.Context, e *core.Engine) error {
		out, err := fn(e, ctx, req.Token, amount)
		if err != nil {
			return err
		}
		resp.Amount = out.Dec()
		return nil
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

// GetParameters returns the engine's collateral list and risk constants.
func (s *Service) GetParameters(ctx context.Context, _ *Empty) (*ParametersResponse, error) {
	resp := &ParametersResponse{}
	err := s.deps.Engine.View(ctx, func(_ context.Context, e *core.Engine) error {
		resp.EngineID = e.ID().String()
		for _, symbol := range e.GetCollateralTokens() {
			feed, err := e.GetCollateralTokenPriceFeed(symbol)
			if err != nil {
				return err
			}
			resp.CollateralTokens = append(resp.CollateralTokens, TokenParameters{Symbol: symbol, PriceFeed: feed})
		}
		resp.Precision = e.GetPrecision().Dec()
		resp.AdditionalFeedPrecision = e.GetAdditionalFeedPrecision().Dec()
		resp.LiquidationThreshold = e.GetLiquidationThreshold()
		resp.LiquidationBonus = e.GetLiquidationBonus()
		resp.LiquidationPrecision = e.GetLiquidationPrecision()
		resp.MinHealthFactor = e.GetMinHealthFactor().Dec()
		return nil
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

// ============================================================================
// Projection queries
// ============================================================================

func (s *Service) GetPosition(ctx context.Context, req *UserRequest) (*query.PositionResponse, error) {
	if s.deps.Queries == nil {
		return nil, errNoStore
	}
	user, err := parseUser(req.User)
	if err != nil {
		return nil, err
	}
	pos, err := s.deps.Queries.GetPosition(ctx, user)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get position: %v", err)
	}
	return pos, nil
}

func (s *Service) ListLiquidations(ctx context.Context, req *HistoryRequest) (*LiquidationsResponse, error) {
	if s.deps.Queries == nil {
		return nil, errNoStore
	}
	user, err := parseUser(req.User)
	if err != nil {
		return nil, err
	}
	rows, err := s.deps.Queries.GetLiquidationHistory(ctx, user, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get liquidation history: %v", err)
	}
	return &LiquidationsResponse{Liquidations: rows}, nil
}

func (s *Service) ListJournals(ctx context.Context, req *HistoryRequest) (*JournalsResponse, error) {
	if s.deps.Queries == nil {
		return nil, errNoStore
	}
	user, err := parseUser(req.User)
	if err != nil {
		return nil, err
	}
	entries, err := s.deps.Queries.GetJournalHistory(ctx, user, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get journals: %v", err)
	}
	return &JournalsResponse{Journals: entries}, nil
}

// ============================================================================
// Admin
// ============================================================================

func (s *Service) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	if s.deps.Queries == nil {
		return nil, errNoStore
	}
	report, err := s.deps.Queries.VerifyIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}
	if !report.IsHealthy {
		s.deps.Logger.Warn().
			Ints64("hash_chain_breaks", report.HashChainBreaks).
			Ints64("sequence_gaps", report.SequenceGaps).
			Str("conservation", report.ConservationError).
			Int("projection_drift", len(report.ProjectionDrift)).
			Msg("integrity check failed")
	}
	return report, nil
}

func (s *Service) RebuildProjections(ctx context.Context, _ *Empty) (*RebuildResponse, error) {
	if s.deps.DB == nil {
		return nil, errNoStore
	}
	if err := projection.RebuildProjections(ctx, s.deps.DB, s.deps.Logger); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return &RebuildResponse{Rebuilt: true}, nil
}

func (s *Service) GetEventLogInfo(ctx context.Context, _ *Empty) (*EventLogInfoResponse, error) {
	resp := &EventLogInfoResponse{LastPersistedSequence: -1}
	err := s.deps.Engine.View(ctx, func(_ context.Context, e *core.Engine) error {
		resp.EngineSequence = e.GetSequence()
		hash := e.GetStateHash()
		resp.StateHash = hex.EncodeToString(hash[:])
		return nil
	})
	if err != nil {
		return nil, toStatus(err)
	}

	if s.deps.Snapshots != nil {
		seq, err := s.deps.Snapshots.GetLatestSequence(ctx)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "get latest sequence: %v", err)
		}
		resp.LastPersistedSequence = seq
	}
	return resp, nil
}

func (s *Service) TakeSnapshot(ctx context.Context, _ *Empty) (*SnapshotResponse, error) {
	if s.deps.TakeSnapshot == nil {
		return nil, errNoStore
	}
	seq, err := s.deps.TakeSnapshot(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "take snapshot: %v", err)
	}
	return &SnapshotResponse{Sequence: seq}, nil
}

// ============================================================================
// Helpers
// ============================================================================

var errNoStore = status.Error(codes.Unavailable, "event store not configured")

func parseUser(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, status.Error(codes.InvalidArgument, "user is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid user: %v", err)
	}
	return id, nil
}
