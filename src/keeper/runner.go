package keeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"keeper-oracle/src/helpers"
	"keeper-oracle/src/interfaces"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"
)

// ErrUnknownBot is returned by NewBot for a name with no implementation.
var ErrUnknownBot = errors.New("unknown bot")

// Bot is one keeper job. Step performs a single pass; a non-nil error makes
// the runner wait the continue delay instead of the run interval.
type Bot interface {
	Name() string
	Step(ctx context.Context) error
}

// PriceProvider supplies the aggregated oracle price. NaN means no price.
type PriceProvider interface {
	GetAggregatedPrice(ctx context.Context) (float64, error)
}

// Deps carries what the bots need to run.
type Deps struct {
	RPC              interfaces.ICircuitRPC
	Prices           PriceProvider
	ThresholdBps     float64
	VetoPolicy       VetoPolicy
	TargetPuzzleHash string
	Logger           *logger.Logger
}

// -----------------------------------------------------------------------------
// Bot registry
// -----------------------------------------------------------------------------

type botEntry struct {
	defaults models.MBotConfig
	build    func(d Deps, log *logger.Logger) Bot
}

var registry = map[string]botEntry{
	"oracle_update": {
		models.MBotConfig{RunIntervalSeconds: 20, ContinueDelaySeconds: 10},
		func(d Deps, log *logger.Logger) Bot { return &OracleUpdateBot{rpc: d.RPC, logger: log} },
	},
	"announcer_update": {
		models.MBotConfig{RunIntervalSeconds: 60, ContinueDelaySeconds: 10},
		func(d Deps, log *logger.Logger) Bot {
			return &AnnouncerUpdateBot{rpc: d.RPC, prices: d.Prices, thresholdBps: d.ThresholdBps, logger: log}
		},
	},
	"announcer_configure": {
		models.MBotConfig{RunIntervalSeconds: 20, ContinueDelaySeconds: 10},
		func(d Deps, log *logger.Logger) Bot { return &AnnouncerConfigureBot{rpc: d.RPC, logger: log} },
	},
	"announcer_penalize": {
		models.MBotConfig{RunIntervalSeconds: 60, ContinueDelaySeconds: 10},
		func(d Deps, log *logger.Logger) Bot { return &AnnouncerPenalizeBot{rpc: d.RPC, logger: log} },
	},
	"liquidation_start": {
		models.MBotConfig{RunIntervalSeconds: 60, ContinueDelaySeconds: 10},
		func(d Deps, log *logger.Logger) Bot { return &LiquidationStartBot{rpc: d.RPC, logger: log} },
	},
	"bad_debt_recovery": {
		models.MBotConfig{RunIntervalSeconds: 60, ContinueDelaySeconds: 10},
		func(d Deps, log *logger.Logger) Bot { return &BadDebtRecoveryBot{rpc: d.RPC, logger: log} },
	},
	"governance_implement": {
		models.MBotConfig{RunIntervalSeconds: 60, ContinueDelaySeconds: 10},
		func(d Deps, log *logger.Logger) Bot { return &GovernanceImplementBot{rpc: d.RPC, logger: log} },
	},
	"surplus_start": {
		models.MBotConfig{RunIntervalSeconds: 60, ContinueDelaySeconds: 10},
		func(d Deps, log *logger.Logger) Bot { return &SurplusStartBot{rpc: d.RPC, logger: log} },
	},
	"stability_fee_transfer": {
		models.MBotConfig{RunIntervalSeconds: 6 * 60 * 60, ContinueDelaySeconds: 10},
		func(d Deps, log *logger.Logger) Bot { return &StabilityFeeTransferBot{rpc: d.RPC, logger: log} },
	},
	"treasury_rebalance": {
		models.MBotConfig{RunIntervalSeconds: 15 * 60, ContinueDelaySeconds: 10},
		func(d Deps, log *logger.Logger) Bot { return &TreasuryRebalanceBot{rpc: d.RPC, logger: log} },
	},
	"governance_veto": {
		models.MBotConfig{RunIntervalSeconds: 60, ContinueDelaySeconds: 10},
		func(d Deps, log *logger.Logger) Bot { return &GovernanceVetoBot{rpc: d.RPC, policy: d.VetoPolicy, logger: log} },
	},
	"statutes_update": {
		models.MBotConfig{RunIntervalSeconds: 20, ContinueDelaySeconds: 10},
		func(d Deps, log *logger.Logger) Bot { return &StatutesUpdateBot{rpc: d.RPC, logger: log} },
	},
	"announcer_rewards": {
		models.MBotConfig{RunIntervalSeconds: 10 * 60, ContinueDelaySeconds: 60},
		func(d Deps, log *logger.Logger) Bot {
			return &AnnouncerRewardsBot{rpc: d.RPC, targetPuzzleHash: d.TargetPuzzleHash, logger: log}
		},
	},
	"recharge_start_settle": {
		models.MBotConfig{RunIntervalSeconds: 60, ContinueDelaySeconds: 10},
		func(d Deps, log *logger.Logger) Bot { return &RechargeStartSettleBot{rpc: d.RPC, logger: log} },
	},
	"savings": {
		models.MBotConfig{RunIntervalSeconds: 24 * 60 * 60, ContinueDelaySeconds: 60 * 60, Schedule: "CRON_TZ=UTC 0 0 * * *", MaxAttempts: 3},
		func(d Deps, log *logger.Logger) Bot { return &SavingsBot{rpc: d.RPC, logger: log} },
	},
}

// Names lists the available bots, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NeedsPrice reports whether the bot reads the aggregated oracle price.
func NeedsPrice(name string) bool {
	return name == "announcer_update"
}

// ApplyDefaults fills unset run intervals, continue delays and schedules of
// known bots.
func ApplyDefaults(bots map[string]models.MBotConfig) map[string]models.MBotConfig {
	out := make(map[string]models.MBotConfig, len(registry))
	for name, cfg := range bots {
		out[name] = cfg
	}
	for name, entry := range registry {
		cfg := out[name]
		if cfg.RunIntervalSeconds <= 0 {
			cfg.RunIntervalSeconds = entry.defaults.RunIntervalSeconds
		}
		if cfg.ContinueDelaySeconds <= 0 {
			cfg.ContinueDelaySeconds = entry.defaults.ContinueDelaySeconds
		}
		if cfg.Schedule == "" {
			cfg.Schedule = entry.defaults.Schedule
		}
		if cfg.MaxAttempts <= 0 {
			cfg.MaxAttempts = entry.defaults.MaxAttempts
		}
		out[name] = cfg
	}
	return out
}

// NewBot builds the named bot.
func NewBot(name string, d Deps) (Bot, error) {
	entry, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBot, name)
	}
	if d.RPC == nil {
		return nil, helpers.NewConfigurationError(name+" needs an RPC client", nil)
	}
	if NeedsPrice(name) && d.Prices == nil {
		return nil, helpers.NewConfigurationError(name+" needs a price provider", nil)
	}
	log := d.Logger
	if log == nil {
		log = logger.NewLogger(nil, name)
	} else {
		log = log.With("bot", name)
	}
	return entry.build(d, log), nil
}

// -----------------------------------------------------------------------------
// Runner
// -----------------------------------------------------------------------------

// ParseSchedule parses a standard five-field cron expression or descriptor,
// optionally prefixed with CRON_TZ=<zone>.
func ParseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return schedule, nil
}

// Runner repeats a bot's Step until its context is cancelled, either every
// run interval or on a cron schedule.
type Runner struct {
	bot           Bot
	runInterval   time.Duration
	continueDelay time.Duration
	schedule      cron.Schedule
	maxAttempts   int
	logger        *logger.Logger
	onRun         func(bot string, err error)

	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

func NewRunner(bot Bot, cfg models.MBotConfig, log *logger.Logger) (*Runner, error) {
	if log == nil {
		log = logger.NewLogger(nil, bot.Name())
	}
	r := &Runner{
		bot:           bot,
		runInterval:   time.Duration(cfg.RunIntervalSeconds) * time.Second,
		continueDelay: time.Duration(cfg.ContinueDelaySeconds) * time.Second,
		maxAttempts:   max(cfg.MaxAttempts, 1),
		logger:        log,
		sleep:         helpers.SleepContext,
		now:           time.Now,
	}
	if cfg.Schedule != "" {
		schedule, err := ParseSchedule(cfg.Schedule)
		if err != nil {
			return nil, helpers.NewConfigurationError(bot.Name()+" schedule", err)
		}
		r.schedule = schedule
	}
	return r, nil
}

// OnRun registers a hook called with the outcome of every step.
func (r *Runner) OnRun(fn func(bot string, err error)) {
	r.onRun = fn
}

// step runs the bot once. stopped is true when ctx ended the step.
func (r *Runner) step(ctx context.Context) (stopped bool, err error) {
	err = r.bot.Step(ctx)
	if ctx.Err() != nil {
		return true, ctx.Err()
	}
	if r.onRun != nil {
		r.onRun(r.bot.Name(), err)
	}
	return false, err
}

// Run loops until ctx is cancelled and returns ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	if r.schedule != nil {
		return r.runScheduled(ctx)
	}

	r.logger.Info("%s bot started. RUN_INTERVAL=%s CONTINUE_DELAY=%s", r.bot.Name(), r.runInterval, r.continueDelay)
	for {
		stopped, err := r.step(ctx)
		if stopped {
			r.logger.Info("%s bot stopped", r.bot.Name())
			return err
		}

		wait := r.runInterval
		if err != nil {
			wait = r.continueDelay
			r.logger.Error("%s failed: %v. Sleeping for %s", r.bot.Name(), err, wait)
		} else {
			r.logger.Debug("Sleeping for %s", wait)
		}

		if err := r.sleep(ctx, wait); err != nil {
			r.logger.Info("%s bot stopped", r.bot.Name())
			return err
		}
	}
}

// runScheduled runs the bot at every schedule activation, retrying a failed
// run after the continue delay until maxAttempts runs have failed.
func (r *Runner) runScheduled(ctx context.Context) error {
	r.logger.Info("%s bot started. MAX_ATTEMPTS=%d CONTINUE_DELAY=%s", r.bot.Name(), r.maxAttempts, r.continueDelay)
	for {
		now := r.now()
		next := r.schedule.Next(now)
		r.logger.Info("Next %s run at %s", r.bot.Name(), next.Format(time.RFC3339))
		if err := r.sleep(ctx, next.Sub(now)); err != nil {
			r.logger.Info("%s bot stopped", r.bot.Name())
			return err
		}

		for attempt := 1; attempt <= r.maxAttempts; attempt++ {
			stopped, err := r.step(ctx)
			if stopped {
				r.logger.Info("%s bot stopped", r.bot.Name())
				return err
			}
			if err == nil {
				break
			}
			if attempt == r.maxAttempts {
				r.logger.Error("%s failed: %v. Max number of attempts (%d) reached", r.bot.Name(), err, r.maxAttempts)
				break
			}
			r.logger.Error("%s failed: %v. Next attempt (%d/%d) in %s", r.bot.Name(), err, attempt+1, r.maxAttempts, r.continueDelay)
			if err := r.sleep(ctx, r.continueDelay); err != nil {
				r.logger.Info("%s bot stopped", r.bot.Name())
				return err
			}
		}
	}
}
