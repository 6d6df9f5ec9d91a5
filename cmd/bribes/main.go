package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aquanetwork/bribes-engine/internal/aggregator"
	"github.com/aquanetwork/bribes-engine/internal/assets"
	"github.com/aquanetwork/bribes-engine/internal/bribeproc"
	"github.com/aquanetwork/bribes-engine/internal/claims"
	"github.com/aquanetwork/bribes-engine/internal/config"
	"github.com/aquanetwork/bribes-engine/internal/ingest"
	"github.com/aquanetwork/bribes-engine/internal/ledger"
	"github.com/aquanetwork/bribes-engine/internal/moneydec"
	"github.com/aquanetwork/bribes-engine/internal/rewards"
	"github.com/aquanetwork/bribes-engine/internal/scheduler"
	"github.com/aquanetwork/bribes-engine/internal/store"
	"github.com/aquanetwork/bribes-engine/internal/trustees"
	"github.com/aquanetwork/bribes-engine/internal/votes"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// decimalSevenDays divides an epoch's total reward into a per-day
// amount; the engine only ever runs 7-day epochs per the Epoch Rule.
var decimalSevenDays = decimal.NewFromInt(7)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Printf("failed to build logger: %s\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("failed to load config", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Connect(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer st.Close()
	if err := st.InitSchema(ctx); err != nil {
		log.Fatalw("failed to init schema", "error", err)
	}

	gateway, err := ledger.NewClient(ctx, ledger.Config{
		HorizonURL:        cfg.HorizonURL,
		NetworkPassphrase: cfg.NetworkPassphrase,
		BaseFee:           cfg.BaseFee,
	}, log)
	if err != nil {
		log.Fatalw("failed to reach ledger endpoint", "error", err)
	}

	rewardAsset := cfg.RewardAsset()
	conversionAmount, err := cfg.ConversionAmountDecimal()
	if err != nil {
		log.Fatalw("bad conversion amount", "error", err)
	}
	delegatableAssets, err := cfg.ParseDelegatableAssets()
	if err != nil {
		log.Fatalw("bad delegatable assets", "error", err)
	}

	ingestor := ingest.New(gateway, st, cfg.HouseWalletAddress, rewardAsset, cfg.DefaultDuration, log)
	processor := bribeproc.New(gateway, st, bribeproc.Config{
		HouseWalletAddress: cfg.HouseWalletAddress,
		HouseWalletSigner:  cfg.HouseWalletSigner,
		RewardAsset:        rewardAsset,
		ConversionAmount:   conversionAmount,
	}, log)
	agg := aggregator.New(st, rewardAsset, log)
	trusteeSnap := trustees.New(gateway, st, log)
	claimSnap := claims.New(gateway, st, log)
	votesLoader := votes.New(st, votes.Config{
		TrackerBaseURL:    cfg.VotingTrackerURL,
		DelegatableAssets: delegatableAssets,
		DelegateMarker:    cfg.DelegateMarker,
	}, log)
	payer := rewards.New(gateway, st, rewards.Config{
		HouseWalletAddress: cfg.HouseWalletAddress,
		HouseWalletSigner:  cfg.HouseWalletSigner,
		ResolveDelay:       cfg.ResolveDelay,
	}, log)

	app := &engine{
		cfg: cfg, gateway: gateway, store: st,
		ingestor: ingestor, processor: processor, aggregator: agg,
		trusteeSnap: trusteeSnap, claimSnap: claimSnap, votesLoader: votesLoader, payer: payer,
		delegatableAssets: delegatableAssets, log: log,
	}

	sched := scheduler.New(log)
	sched.Every("ingest", 5*time.Minute, app.runIngest)
	sched.Every("refresh_reward_equivalent", 10*time.Minute, app.refreshRewardEquivalents)
	sched.WeeklyAt("roll_pending_forward", time.Monday, 0, app.rollPendingForward)
	sched.WeeklyAt("finish_stopped_bribes", time.Monday, 0, app.finishStoppedBribes)
	sched.WeeklyAt("return_no_path", time.Sunday, 9, app.returnNoPathBribes)
	sched.WeeklyAt("claim_and_convert", time.Sunday, 19, app.claimReadyBribes)
	sched.WeeklyAt("aggregate", time.Sunday, 20, app.runAggregate)
	sched.DailyAt("snapshot_trustees", 0, app.runTrusteeSnapshot)
	sched.DailyAt("snapshot_claims_and_votes", 1, app.runClaimsAndVotes)
	sched.Every("pay_rewards", time.Hour, app.runPayTick)

	log.Infow("bribes engine starting", "house_wallet", cfg.HouseWalletAddress, "reward_asset", rewardAsset.Short())
	sched.Run(ctx)
	log.Info("bribes engine stopped")
}

// engine holds every wired component the scheduler drives. It plays
// the same role cmd/engine/main.go's wsHub/blockScanner locals played
// for the teacher, just gathered into one struct since the scheduler
// here owns many more job kinds than the teacher's single poller.
type engine struct {
	cfg               *config.Config
	gateway           ledger.Gateway
	store             *store.Store
	ingestor          *ingest.Ingestor
	processor         *bribeproc.Processor
	aggregator        *aggregator.Aggregator
	trusteeSnap       *trustees.Snapshotter
	claimSnap         *claims.Snapshotter
	votesLoader       *votes.Loader
	payer             *rewards.Payer
	delegatableAssets []votes.AssetPair
	log               *zap.SugaredLogger
}

func (e *engine) runIngest(ctx context.Context) error {
	return e.ingestor.Run(ctx)
}

func (e *engine) refreshRewardEquivalents(ctx context.Context) error {
	pending, err := e.store.BribesByStatus(ctx, store.BribeStatusActive, 500)
	if err != nil {
		return err
	}
	for _, b := range pending {
		paths, err := e.gateway.StrictSendPaths(ctx, b.Asset, b.AmountForBribes, e.cfg.RewardAsset())
		if err != nil || len(paths) == 0 {
			continue
		}
		if err := e.store.UpdateBribeRewardEquivalent(ctx, b.ID, paths[0].DestinationAmount); err != nil {
			return err
		}
	}
	return nil
}

func (e *engine) rollPendingForward(ctx context.Context) error {
	_, err := e.store.RollPendingBribePeriodsForward(ctx, fmt.Sprintf("%d seconds", int64(e.cfg.DefaultDuration.Seconds())))
	return err
}

func (e *engine) finishStoppedBribes(ctx context.Context) error {
	_, err := e.store.FinishActiveBribesPastStopAt(ctx)
	return err
}

func (e *engine) returnNoPathBribes(ctx context.Context) error {
	ready, err := e.store.BribesPendingReturnReady(ctx)
	if err != nil {
		return err
	}
	for _, b := range ready {
		if err := e.processor.ClaimAndReturn(ctx, b); err != nil {
			e.log.Errorw("claim and return failed", "bribe_id", b.ID, "error", err)
		}
	}
	return nil
}

func (e *engine) claimReadyBribes(ctx context.Context) error {
	for {
		ready, err := e.store.BribesReadyToClaim(ctx)
		if err != nil {
			return err
		}
		if len(ready) == 0 {
			return nil
		}
		for _, b := range ready {
			if err := e.processor.ClaimAndConvert(ctx, b); err != nil {
				e.log.Errorw("claim and convert failed", "bribe_id", b.ID, "error", err)
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (e *engine) runAggregate(ctx context.Context) error {
	startAt, stopAt := moneydec.EpochWindow(time.Now().Add(-e.cfg.DefaultDuration), e.cfg.DefaultDuration)
	return e.aggregator.Run(ctx, startAt, stopAt)
}

func (e *engine) runTrusteeSnapshot(ctx context.Context) error {
	acquired, err := e.store.TrySetInFlight(ctx, store.FlagTrustorsInFlight)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer e.store.ClearInFlight(ctx, store.FlagTrustorsInFlight)

	today := time.Now().UTC().Truncate(24 * time.Hour)
	startAt, stopAt := moneydec.EpochWindow(time.Now().Add(-e.cfg.DefaultDuration), e.cfg.DefaultDuration)
	aggregated, err := e.store.AggregatedBribesInEpoch(ctx, startAt, stopAt)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, a := range aggregated {
		if a.Asset.IsNative() {
			continue
		}
		key := a.Asset.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := e.trusteeSnap.SnapshotAsset(ctx, a.Asset, today); err != nil {
			return err
		}
	}
	return nil
}

func (e *engine) runClaimsAndVotes(ctx context.Context) error {
	acquired, err := e.store.TrySetInFlight(ctx, store.FlagVotesInFlight)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer e.store.ClearInFlight(ctx, store.FlagVotesInFlight)

	today := time.Now().UTC().Truncate(24 * time.Hour)
	seen := make(map[string]bool)
	for _, pair := range e.delegatableAssets {
		for _, asset := range []assets.Asset{pair.DelegatableAsset, pair.DelegatedAsset} {
			if key := asset.String(); !seen[key] {
				seen[key] = true
				if err := e.claimSnap.SnapshotAsset(ctx, asset, today); err != nil {
					return err
				}
			}
		}
	}

	aggregated, err := e.store.AggregatedBribesInEpoch(ctx, moneydec.EpochStart(time.Now().Add(-e.cfg.DefaultDuration)), moneydec.EpochStart(time.Now()))
	if err != nil {
		return err
	}
	markets := make(map[string]bool)
	for _, a := range aggregated {
		markets[a.MarketKey] = true
	}
	for market := range markets {
		if err := e.votesLoader.LoadMarket(ctx, market, today); err != nil {
			return err
		}
	}
	return nil
}

func (e *engine) runPayTick(ctx context.Context) error {
	if err := e.payer.ReconcileTimeouts(ctx); err != nil {
		return err
	}

	votesInFlight, err := e.store.IsInFlight(ctx, store.FlagVotesInFlight)
	if err != nil {
		return err
	}
	trustorsInFlight, err := e.store.IsInFlight(ctx, store.FlagTrustorsInFlight)
	if err != nil {
		return err
	}
	if votesInFlight || trustorsInFlight {
		e.log.Info("skipping pay tick, snapshot in flight")
		return nil
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	startAt, stopAt := moneydec.EpochWindow(time.Now().Add(-e.cfg.DefaultDuration), e.cfg.DefaultDuration)
	aggregated, err := e.store.AggregatedBribesInEpoch(ctx, startAt, stopAt)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(e.cfg.PayRewardTimeLimit)
	for _, bribe := range aggregated {
		candidates, err := e.store.VoteSnapshotsForMarketOnDate(ctx, bribe.MarketKey, today)
		if err != nil {
			return err
		}
		dailyAmount := moneydec.RoundDown(bribe.TotalRewardAmount.Div(decimalSevenDays))
		if err := e.payer.PayTick(ctx, bribe, candidates, dailyAmount, e.cfg.DefaultRewardPeriod, today, deadline); err != nil {
			e.log.Errorw("pay tick failed", "aggregated_bribe_id", bribe.ID, "error", err)
		}
	}
	return nil
}
