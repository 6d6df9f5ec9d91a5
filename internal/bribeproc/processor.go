// Package bribeproc implements the BribeProcessor: building and signing
// the atomic multi-op transactions that claim, convert, or return a
// Bribe, and accounting for exactly how much arrived on each side.
// Grounded on bribe_processor.py's monotonic builder usage
// (_get_builder/claim/convert_asset/claim_and_convert/claim_and_return)
// and, for result accounting, the other_examples Stellar ingestion
// extractors that decode xdr.LedgerEntryChange.
package bribeproc

import (
	"context"
	"errors"
	"fmt"

	"github.com/aquanetwork/bribes-engine/internal/assets"
	"github.com/aquanetwork/bribes-engine/internal/ledger"
	"github.com/aquanetwork/bribes-engine/internal/moneydec"
	"github.com/aquanetwork/bribes-engine/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNoPathForConversion mirrors the source system's
// NoPathForConversionError: raised when no strict-receive path exists
// (or the pledge is too small) to fund CONVERSION_AMOUNT of reward asset.
var ErrNoPathForConversion = errors.New("bribeproc: no path for conversion")

// Store is the subset of *store.Store the processor needs.
type Store interface {
	UpdateBribeAfterProcessing(ctx context.Context, b store.Bribe) error
}

// Config carries the house-wallet identity and conversion parameters
// every claim/convert/return attempt needs.
type Config struct {
	HouseWalletAddress string
	HouseWalletSigner  string
	RewardAsset        assets.Asset
	ConversionAmount   decimal.Decimal
}

// Processor builds, signs, and submits the transactions that advance a
// Bribe's lifecycle, and records the outcome.
type Processor struct {
	gateway ledger.Gateway
	store   Store
	cfg     Config
	log     *zap.SugaredLogger
}

// New builds a Processor.
func New(gateway ledger.Gateway, st Store, cfg Config, log *zap.SugaredLogger) *Processor {
	return &Processor{gateway: gateway, store: st, cfg: cfg, log: log.Named("bribeproc")}
}

func (p *Processor) loadHouseAccount(ctx context.Context) (*ledger.AccountRecord, error) {
	return p.gateway.GetAccount(ctx, p.cfg.HouseWalletAddress)
}

func (p *Processor) newBuilder(account *ledger.AccountRecord) *ledger.TransactionBuilder {
	return ledger.NewTransactionBuilder(p.cfg.HouseWalletAddress, account.SequenceNumber, p.cfg.HouseWalletSigner)
}

// claim appends a change-trust (if needed) and a claim-claimable-balance
// op to builder, per §4.3's claim(b).
func (p *Processor) claim(builder *ledger.TransactionBuilder, account *ledger.AccountRecord, b store.Bribe) {
	if !b.Asset.IsNative() && !ledger.HasTrustline(account, b.Asset) {
		builder.Append(ledger.ChangeTrustOp{Asset: b.Asset})
	}
	builder.Append(ledger.ClaimClaimableBalanceOp{BalanceID: b.ClaimableBalanceID})
}

// convert appends a strict-receive path payment converting b.asset into
// ConversionAmount of the reward asset, per §4.3's convert(b).
func (p *Processor) convert(ctx context.Context, builder *ledger.TransactionBuilder, b store.Bribe) error {
	quotes, err := p.gateway.StrictReceivePaths(ctx, b.Asset, p.cfg.RewardAsset, p.cfg.ConversionAmount)
	if err != nil {
		return fmt.Errorf("bribeproc: strict receive paths: %w", err)
	}
	if len(quotes) == 0 {
		return ErrNoPathForConversion
	}
	best := quotes[0]
	builder.Append(ledger.PathPaymentStrictReceiveOp{
		Destination: p.cfg.HouseWalletAddress,
		SendAsset:   b.Asset,
		SendMax:     b.Amount,
		DestAsset:   p.cfg.RewardAsset,
		DestAmount:  p.cfg.ConversionAmount,
		Path:        best.Path,
	})
	return nil
}

// ClaimAndConvert runs claim+convert for b and records the outcome,
// per §4.3's claim_and_convert(b).
func (p *Processor) ClaimAndConvert(ctx context.Context, b store.Bribe) error {
	account, err := p.loadHouseAccount(ctx)
	if err != nil {
		return fmt.Errorf("bribeproc: load house account: %w", err)
	}
	builder := p.newBuilder(account)
	p.claim(builder, account, b)

	skipConversion := false
	if b.Asset.Equal(p.cfg.RewardAsset) {
		if b.Amount.LessThan(p.cfg.ConversionAmount) {
			return p.failNoPath(ctx, b)
		}
		skipConversion = true
	}
	if !skipConversion {
		if err := p.convert(ctx, builder, b); err != nil {
			if errors.Is(err, ErrNoPathForConversion) {
				return p.failNoPath(ctx, b)
			}
			return err
		}
	}

	envelope := builder.Build()
	result, err := p.gateway.Submit(ctx, envelope)
	if err != nil {
		return p.handleSubmitFailure(ctx, b, store.BribeStatusFailedClaim, err)
	}
	return p.processResponse(ctx, b, builder, result)
}

// ClaimAndReturn claims a bribe and pays it back to the sponsor, per
// §4.3's claim_and_return(b).
func (p *Processor) ClaimAndReturn(ctx context.Context, b store.Bribe) error {
	account, err := p.loadHouseAccount(ctx)
	if err != nil {
		return fmt.Errorf("bribeproc: load house account: %w", err)
	}
	builder := p.newBuilder(account)
	p.claim(builder, account, b)
	builder.Append(ledger.PaymentOp{
		Source:      p.cfg.HouseWalletAddress,
		Destination: b.Sponsor,
		Asset:       b.Asset,
		Amount:      b.Amount,
	})

	result, err := p.gateway.Submit(ctx, builder.Build())
	if err != nil {
		return p.handleSubmitFailure(ctx, b, store.BribeStatusFailedReturn, err)
	}

	b.Status = store.BribeStatusReturned
	b.RefundTxHash = result.Hash
	return p.store.UpdateBribeAfterProcessing(ctx, b)
}

func (p *Processor) failNoPath(ctx context.Context, b store.Bribe) error {
	b.Status = store.BribeStatusNoPathForConversion
	return p.store.UpdateBribeAfterProcessing(ctx, b)
}

// handleSubmitFailure classifies a submit error per §4.3/§7: safe-to-
// retry reasons leave status untouched; everything else records a
// terminal failure with the reason in message.
func (p *Processor) handleSubmitFailure(ctx context.Context, b store.Bribe, failureStatus store.BribeStatus, err error) error {
	if ledger.IsSafeToRetry(err) {
		p.log.Infow("submit failed with a safe-to-retry reason, leaving status unchanged", "claimable_balance_id", b.ClaimableBalanceID, "error", err)
		return nil
	}

	var rc *ledger.ResultCodeError
	reason := err.Error()
	if errors.As(err, &rc) {
		reason = rc.FirstFailureCode()
	}
	b.Status = failureStatus
	b.Message = reason
	return p.store.UpdateBribeAfterProcessing(ctx, b)
}

// processResponse implements §4.3's result accounting: record the
// conversion tx hash, then determine amount_for_bribes/amount_reward
// either from the ConversionAmount shortcut (pure reward-asset case)
// or by decoding result_meta_xdr for the general path-payment case.
func (p *Processor) processResponse(ctx context.Context, b store.Bribe, builder *ledger.TransactionBuilder, result *ledger.TxResult) error {
	b.Status = store.BribeStatusActive
	b.ConversionTxHash = result.Hash

	if _, isPathPayment := builder.LastOp().(ledger.PathPaymentStrictReceiveOp); !isPathPayment {
		b.AmountForBribes = moneydec.RoundDown(b.Amount.Sub(p.cfg.ConversionAmount))
		b.AmountReward = p.cfg.ConversionAmount
		return p.store.UpdateBribeAfterProcessing(ctx, b)
	}

	metaXDR := result.ResultMetaXDR
	if metaXDR == "" {
		fetched, err := p.gateway.GetTransaction(ctx, result.Hash)
		if err != nil {
			return fmt.Errorf("bribeproc: fetch transaction for result meta: %w", err)
		}
		metaXDR = fetched.ResultMetaXDR
	}

	effects, err := ledger.DecodeLastOperationEffects(metaXDR)
	if err != nil {
		return fmt.Errorf("bribeproc: decode result meta: %w", err)
	}

	for _, effect := range effects {
		if effect.Account != p.cfg.HouseWalletAddress {
			continue
		}
		delta := effect.PreAmount.Sub(effect.PostAmount)
		switch {
		case effect.Asset.Equal(b.Asset):
			b.AmountForBribes = moneydec.RoundDown(b.Amount.Sub(delta))
		case effect.Asset.Equal(p.cfg.RewardAsset):
			b.AmountReward = moneydec.RoundDown(delta.Neg())
		}
	}

	return p.store.UpdateBribeAfterProcessing(ctx, b)
}

// ResolveTimeoutByHash looks up a previously timeout-pending submission
// by hash and reports whether it ultimately succeeded, for callers
// reconciling a submission whose failure was classified safe to retry
// (a classification that leaves the bribe's status unchanged).
func (p *Processor) ResolveTimeoutByHash(ctx context.Context, hash string) (*ledger.TxResult, error) {
	return p.gateway.GetTransaction(ctx, hash)
}
