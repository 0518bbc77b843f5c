package server

import (
	"DSCEngine/internal/query"
	"encoding/json"
)

// Amounts are base-10 integer strings in the smallest unit; health factors
// and peg values are 18-decimal fixed point.

type Empty struct{}

type UserRequest struct {
	User string `json:"user"`
}

type CollateralBalanceRequest struct {
	User  string `json:"user"`
	Token string `json:"token"`
}

type ConversionRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type HistoryRequest struct {
	User           string `json:"user"`
	Limit          int    `json:"limit,omitempty"`
	BeforeSequence *int64 `json:"before_sequence,omitempty"`
}

type CommandResponse struct {
	Sequence    int64               `json:"sequence"`
	Operation   string              `json:"operation"`
	StateHash   string              `json:"state_hash"`
	Events      json.RawMessage     `json:"events"`
	Liquidation *LiquidationSummary `json:"liquidation,omitempty"`
}

type LiquidationSummary struct {
	Debtor               string `json:"debtor"`
	Token                string `json:"token"`
	DebtCovered          string `json:"debt_covered"`
	CollateralSeized     string `json:"collateral_seized"`
	Bonus                string `json:"bonus"`
	StartingHealthFactor string `json:"starting_health_factor"`
	EndingHealthFactor   string `json:"ending_health_factor"`
}

type AccountInformationResponse struct {
	User                 string `json:"user"`
	TotalDscMinted       string `json:"total_dsc_minted"`
	CollateralValueInUsd string `json:"collateral_value_in_usd"`
}

type HealthFactorResponse struct {
	User         string `json:"user"`
	HealthFactor string `json:"health_factor"`
	Formatted    string `json:"formatted"`
}

type AmountResponse struct {
	Token  string `json:"token,omitempty"`
	Amount string `json:"amount"`
}

type TokenParameters struct {
	Symbol    string `json:"symbol"`
	PriceFeed string `json:"price_feed"`
}

type ParametersResponse struct {
	EngineID                string            `json:"engine_id"`
	CollateralTokens        []TokenParameters `json:"collateral_tokens"`
	Precision               string            `json:"precision"`
	AdditionalFeedPrecision string            `json:"additional_feed_precision"`
	LiquidationThreshold    uint64            `json:"liquidation_threshold"`
	LiquidationBonus        uint64            `json:"liquidation_bonus"`
	LiquidationPrecision    uint64            `json:"liquidation_precision"`
	MinHealthFactor         string            `json:"min_health_factor"`
}

type LiquidationsResponse struct {
	Liquidations []query.LiquidationResponse `json:"liquidations"`
}

type JournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type EventLogInfoResponse struct {
	LastPersistedSequence int64  `json:"last_persisted_sequence"`
	EngineSequence        int64  `json:"engine_sequence"`
	StateHash             string `json:"state_hash"`
}

type SnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

type RebuildResponse struct {
	Rebuilt bool `json:"rebuilt"`
}
