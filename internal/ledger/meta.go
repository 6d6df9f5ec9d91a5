package ledger

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/aquanetwork/bribes-engine/internal/assets"
	"github.com/shopspring/decimal"
	"github.com/stellar/go-stellar-sdk/xdr"
)

// OperationEffect is the pre/post balance-line delta this engine cares
// about from a single operation's ledger-entry changes: how much of
// which asset moved in or out of an account. Only this package (here and
// in envelope.go) touches github.com/stellar/go-stellar-sdk/xdr
// directly — every other package only ever sees the decoded ledger.* types.
type OperationEffect struct {
	Account    string
	Asset      assets.Asset
	PreAmount  decimal.Decimal
	PostAmount decimal.Decimal
}

// DecodeLastOperationEffects parses a base64 result_meta_xdr payload and
// returns the trustline-balance changes caused by the transaction's
// last operation — exactly what process_response (spec.md §4.3) needs
// to learn how much of the destination asset actually arrived,
// independent of what was requested.
func DecodeLastOperationEffects(resultMetaXDR string) ([]OperationEffect, error) {
	raw, err := base64.StdEncoding.DecodeString(resultMetaXDR)
	if err != nil {
		return nil, fmt.Errorf("ledger: malformed result_meta_xdr: %w", err)
	}

	var meta xdr.TransactionMeta
	if err := meta.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("ledger: decode TransactionMeta: %w", err)
	}

	opMetas, ok := meta.GetOperations()
	if !ok || len(opMetas) == 0 {
		return nil, fmt.Errorf("ledger: result_meta_xdr has no operation metas")
	}
	last := opMetas[len(opMetas)-1]

	// A trustline's STATE (pre) and UPDATED/CREATED (post) changes are
	// merged into one effect per account and asset.
	var effects []OperationEffect
	index := make(map[string]int)
	for _, change := range last.Changes {
		effect, ok, err := decodeTrustlineChange(change)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		key := effect.Account + "|" + effect.Asset.String()
		i, seen := index[key]
		if !seen {
			index[key] = len(effects)
			effects = append(effects, effect)
			continue
		}
		if change.Type == xdr.LedgerEntryChangeTypeLedgerEntryState {
			effects[i].PreAmount = effect.PreAmount
		} else {
			effects[i].PostAmount = effect.PostAmount
		}
	}
	return effects, nil
}

func decodeTrustlineChange(change xdr.LedgerEntryChange) (OperationEffect, bool, error) {
	var entry *xdr.LedgerEntry
	var pre *xdr.LedgerEntry

	switch change.Type {
	case xdr.LedgerEntryChangeTypeLedgerEntryUpdated:
		entry = change.Updated
	case xdr.LedgerEntryChangeTypeLedgerEntryCreated:
		entry = change.Created
	case xdr.LedgerEntryChangeTypeLedgerEntryState:
		pre = change.State
		return decodeTrustlinePreState(pre)
	default:
		return OperationEffect{}, false, nil
	}
	if entry == nil {
		return OperationEffect{}, false, nil
	}
	return decodeTrustlinePostState(entry)
}

func decodeTrustlinePreState(entry *xdr.LedgerEntry) (OperationEffect, bool, error) {
	if entry == nil || entry.Data.Type != xdr.LedgerEntryTypeTrustline {
		return OperationEffect{}, false, nil
	}
	tl, ok := entry.Data.GetTrustLine()
	if !ok {
		return OperationEffect{}, false, nil
	}
	asset, err := decodeTrustlineAsset(tl.Asset)
	if err != nil {
		return OperationEffect{}, false, err
	}
	return OperationEffect{
		Account:   tl.AccountId.Address(),
		Asset:     asset,
		PreAmount: stroopsToDecimal(int64(tl.Balance)),
	}, true, nil
}

func decodeTrustlinePostState(entry *xdr.LedgerEntry) (OperationEffect, bool, error) {
	if entry.Data.Type != xdr.LedgerEntryTypeTrustline {
		return OperationEffect{}, false, nil
	}
	tl, ok := entry.Data.GetTrustLine()
	if !ok {
		return OperationEffect{}, false, nil
	}
	asset, err := decodeTrustlineAsset(tl.Asset)
	if err != nil {
		return OperationEffect{}, false, err
	}
	return OperationEffect{
		Account:    tl.AccountId.Address(),
		Asset:      asset,
		PostAmount: stroopsToDecimal(int64(tl.Balance)),
	}, true, nil
}

func decodeTrustlineAsset(tla xdr.TrustLineAsset) (assets.Asset, error) {
	switch tla.Type {
	case xdr.AssetTypeAssetTypeNative:
		return assets.Native(), nil
	case xdr.AssetTypeAssetTypeCreditAlphanum4:
		a := tla.MustAlphaNum4()
		return assets.New(trimAssetCode(a.AssetCode[:]), a.Issuer.Address()), nil
	case xdr.AssetTypeAssetTypeCreditAlphanum12:
		a := tla.MustAlphaNum12()
		return assets.New(trimAssetCode(a.AssetCode[:]), a.Issuer.Address()), nil
	default:
		return assets.Asset{}, fmt.Errorf("ledger: unsupported trustline asset type %v", tla.Type)
	}
}

func trimAssetCode(raw []byte) string {
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}
	return string(raw[:end])
}

// stroopsToDecimal converts an int64 stroop amount (1e-7 units) to a
// decimal.Decimal at the engine's Scale, the inverse of the
// *10_000_000 encoding the ledger SDK's xdr.Int64 balance fields use.
func stroopsToDecimal(stroops int64) decimal.Decimal {
	return decimal.New(stroops, -7)
}

// balanceIDHex renders a ClaimableBalanceId the way Horizon's JSON API
// and this engine's stored IDs both do: lowercase hex of the V0 hash,
// matching the other_examples ingestion extractors' own encoding.
func balanceIDHex(id xdr.ClaimableBalanceId) (string, error) {
	switch id.Type {
	case xdr.ClaimableBalanceIdTypeClaimableBalanceIdTypeV0:
		hash := id.MustV0()
		return hex.EncodeToString(hash[:]), nil
	default:
		return "", fmt.Errorf("ledger: unsupported claimable balance id type %v", id.Type)
	}
}
