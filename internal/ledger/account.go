package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DebtAsset is the ledger asset symbol of the synthetic unit.
const DebtAsset = "DSC"

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeCollateral AccountSubType = iota
	SubTypeDebt

	// External sub-types. External accounts are the boundary of the ledger:
	// they accumulate cumulative flows and never go negative.
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
	SubTypeExternalIssued
	SubTypeExternalBurned
)

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte
	SubType  AccountSubType
	Asset    string
}

func NewUserAccountKey(userID uuid.UUID, subType AccountSubType, asset string) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  subType,
		Asset:    asset,
	}
}

func NewExternalAccountKey(subType AccountSubType, asset string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		Asset:   asset,
	}
}

// CollateralKey is the collateral account of user for asset.
func CollateralKey(userID uuid.UUID, asset string) AccountKey {
	return NewUserAccountKey(userID, SubTypeCollateral, asset)
}

// DebtKey is the minted-debt account of user.
func DebtKey(userID uuid.UUID) AccountKey {
	return NewUserAccountKey(userID, SubTypeDebt, DebtAsset)
}

func (k AccountKey) IsExternal() bool {
	return k.Scope == AccountScopeExternal
}

// UserID returns the owning user of a user-scoped account.
func (k AccountKey) UserID() uuid.UUID {
	return uuid.UUID(k.EntityID)
}

// AccountPath returns the string representation for storage/logging,
// e.g. "user:<uuid>:collateral:WETH" or "external:deposits:WETH".
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.UserID(), k.SubType.String(), k.Asset)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.SubType.String(), k.Asset)
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) == 4 && parts[0] == "user":
		userID, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		st, ok := parseSubType(parts[2])
		if !ok || st > SubTypeDebt {
			return AccountKey{}, fmt.Errorf("account path %q: unknown user sub-type %q", path, parts[2])
		}
		return NewUserAccountKey(userID, st, parts[3]), nil

	case len(parts) == 3 && parts[0] == "external":
		st, ok := parseSubType(parts[1])
		if !ok || st < SubTypeExternalDeposits {
			return AccountKey{}, fmt.Errorf("account path %q: unknown external sub-type %q", path, parts[1])
		}
		return NewExternalAccountKey(st, parts[2]), nil
	}
	return AccountKey{}, fmt.Errorf("malformed account path %q", path)
}

func (st AccountSubType) String() string {
	switch st {
	case SubTypeCollateral:
		return "collateral"
	case SubTypeDebt:
		return "debt"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	case SubTypeExternalIssued:
		return "issued"
	case SubTypeExternalBurned:
		return "burned"
	default:
		return "unknown"
	}
}

func parseSubType(s string) (AccountSubType, bool) {
	for st := SubTypeCollateral; st <= SubTypeExternalBurned; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}
