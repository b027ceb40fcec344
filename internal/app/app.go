package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"collateralwatch/internal/alerting"
	"collateralwatch/internal/chain"
	"collateralwatch/internal/collateral"
	"collateralwatch/internal/config"
	"collateralwatch/internal/fixedpoint"
	"collateralwatch/internal/metrics"
	"collateralwatch/internal/oracle"
	"collateralwatch/internal/registry"
	"collateralwatch/internal/scheduler"
	"collateralwatch/internal/service"
	"collateralwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newChainClient() *chain.Client {
	return chain.NewClient(chain.ClientOptions{
		RPCURL:  a.Config.Ethereum.RPCURL,
		Timeout: a.Config.Ethereum.RequestTimeout,
	}, a.Logger)
}

// buildBasket assembles the registry of configured collaterals, one pricer
// per block according to its kind.
func (a *App) buildBasket(caller *chain.Client) (*registry.Registry, error) {
	reg := registry.New(a.Logger)
	for i := range a.Config.Collaterals {
		cc := &a.Config.Collaterals[i]
		c, err := a.buildCollateral(cc, caller)
		if err != nil {
			return nil, fmt.Errorf("collateral %q: %w", cc.Name, err)
		}
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (a *App) buildCollateral(cc *config.CollateralConfig, caller *chain.Client) (*collateral.Collateral, error) {
	cfg := collateral.Config{
		Name:              cc.Name,
		TargetName:        cc.TargetName,
		MaxTradeVolume:    decimal.NewFromFloat(cc.MaxTradeVolume),
		OracleTimeout:     cc.OracleTimeout,
		OracleError:       fixedpoint.FromDecimal(decimal.NewFromFloat(cc.OracleError)),
		DefaultThreshold:  fixedpoint.FromDecimal(decimal.NewFromFloat(cc.DefaultThreshold)),
		DelayUntilDefault: cc.DelayUntilDefault,
	}

	pricer, err := a.buildPricer(cc, cfg, caller)
	if err != nil {
		return nil, err
	}
	return collateral.New(cfg, pricer, a.Logger)
}

func (a *App) buildPricer(cc *config.CollateralConfig, cfg collateral.Config, caller *chain.Client) (collateral.Pricer, error) {
	switch cc.Kind {
	case config.KindFiat:
		feed, err := a.newFeed(cc.Feed, caller)
		if err != nil {
			return nil, err
		}
		return collateral.NewFiatCollateral(feed, cfg.OracleTimeout, cfg.OracleError), nil

	case config.KindYield:
		feed, err := a.newFeed(cc.Feed, caller)
		if err != nil {
			return nil, err
		}
		var targetFeed oracle.Feed
		if cc.TargetFeed.Address != "" {
			targetFeed, err = a.newFeed(cc.TargetFeed, caller)
			if err != nil {
				return nil, err
			}
		}
		rate, err := chain.NewERC4626Reader(chain.ERC4626Options{
			VaultAddress:  cc.Vault.Address,
			ShareDecimals: cc.Vault.ShareDecimals,
			AssetDecimals: cc.Vault.AssetDecimals,
		}, caller, a.Logger)
		if err != nil {
			return nil, err
		}
		var rewards collateral.RewardSweeper
		if cc.Rewards.Program != "" {
			rewards, err = chain.NewRewardReader(chain.RewardOptions{
				ProgramAddress: cc.Rewards.Program,
				RewardToken:    cc.Rewards.Token,
				Holder:         cc.Rewards.Holder,
			}, caller, a.Logger)
			if err != nil {
				return nil, err
			}
		}
		return collateral.NewYieldCollateral(collateral.YieldOptions{
			Feed:        feed,
			TargetFeed:  targetFeed,
			Rate:        rate,
			Rewards:     rewards,
			Timeout:     cfg.OracleTimeout,
			OracleError: cfg.OracleError,
		}), nil

	case config.KindLPPair:
		feed0, err := a.newFeed(cc.Feed0, caller)
		if err != nil {
			return nil, err
		}
		feed1, err := a.newFeed(cc.Feed1, caller)
		if err != nil {
			return nil, err
		}
		pool, err := chain.NewPairReader(chain.PairOptions{
			PairAddress:    cc.Pair.Address,
			Token0Decimals: cc.Pair.Token0Decimals,
			Token1Decimals: cc.Pair.Token1Decimals,
		}, caller, a.Logger)
		if err != nil {
			return nil, err
		}
		return collateral.NewLPPairCollateral(collateral.LPPairOptions{
			Feed0:       feed0,
			Feed1:       feed1,
			Pool:        pool,
			Pegged:      collateral.PeggedTokens(cc.Pegged),
			Timeout:     cfg.OracleTimeout,
			OracleError: cfg.OracleError,
			Threshold:   cfg.DefaultThreshold,
		})

	default:
		return nil, fmt.Errorf("unknown collateral kind %q", cc.Kind)
	}
}

func (a *App) newFeed(fc config.FeedConfig, caller *chain.Client) (oracle.Feed, error) {
	return oracle.NewChainlinkFeed(oracle.ChainlinkOptions{
		Address:  fc.Address,
		Decimals: fc.Decimals,
	}, caller, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) serveMetrics(ctx context.Context) {
	if !a.Config.Metrics.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: a.Config.Metrics.ListenAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		a.Logger.Info().Str("addr", a.Config.Metrics.ListenAddr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server terminated")
		}
	}()
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	client := a.newChainClient()
	defer client.Close()

	reg, err := a.buildBasket(client)
	if err != nil {
		return err
	}
	if len(reg.Collaterals()) == 0 {
		return errors.New("no collaterals configured")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	notifier := a.newNotifier()

	var sampleStore storage.SampleStore
	var transitionStore storage.TransitionStore
	if store != nil {
		sampleStore = store
		transitionStore = store
	}

	var recorder *metrics.Recorder
	if a.Config.Metrics.Enabled {
		recorder = metrics.New()
		a.serveMetrics(ctx)
	}

	svc := service.New(a.Config, sched, reg, sampleStore, transitionStore, notifier, recorder, a.Logger)

	a.Logger.Info().Int("collaterals", len(reg.Collaterals())).Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	Collateral string
	From       *time.Time
	To         *time.Time
	PNGPath    string
	CSVPath    string
	MaxPoints  int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// StatusOptions configure the one-shot status command.
type StatusOptions struct {
	Persist bool
}
