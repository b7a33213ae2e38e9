package keeper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"keeper-oracle/src/interfaces"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"
)

// PricePrecision is the number of decimal places of an announcer price.
const PricePrecision = 2

var (
	ErrNoAnnouncer         = errors.New("no announcer found")
	ErrNoApprovedAnnouncer = errors.New("no approved announcer found")
	ErrNegativePrice       = errors.New("market price is negative")
)

// -----------------------------------------------------------------------------
// oracle_update
// -----------------------------------------------------------------------------

// OracleUpdateBot pushes announcer prices into the protocol oracle.
type OracleUpdateBot struct {
	rpc    interfaces.ICircuitRPC
	logger *logger.Logger
}

func (b *OracleUpdateBot) Name() string { return "oracle_update" }

func (b *OracleUpdateBot) Step(ctx context.Context) error {
	if err := b.rpc.SetFeePerCost(ctx); err != nil {
		return fmt.Errorf("set fee per cost: %w", err)
	}
	res, err := b.rpc.OracleUpdate(ctx)
	if err != nil {
		return fmt.Errorf("update oracle: %w", err)
	}
	b.logger.Info("Updated oracle. New coins: %s", strings.Join(res.NewCoins, ", "))
	return nil
}

// -----------------------------------------------------------------------------
// announcer_update
// -----------------------------------------------------------------------------

// AnnouncerUpdateBot publishes the aggregated price to the keeper's announcer
// when it moved by more than the threshold.
type AnnouncerUpdateBot struct {
	rpc          interfaces.ICircuitRPC
	prices       PriceProvider
	thresholdBps float64
	logger       *logger.Logger
}

func (b *AnnouncerUpdateBot) Name() string { return "announcer_update" }

func (b *AnnouncerUpdateBot) Step(ctx context.Context) error {
	announcers, err := b.rpc.AnnouncerShow(ctx)
	if err != nil {
		return fmt.Errorf("show announcer: %w", err)
	}
	announcer, err := pickAnnouncer(announcers, b.logger)
	if err != nil {
		return err
	}

	price, fresh := b.marketPrice(ctx, announcer)

	switch {
	case price < 0:
		b.logger.Error("Failed to update announcer price. market_price=%d announcer_price=%d", price, announcer.Price)
		return ErrNegativePrice
	case price == 0:
		b.logger.Warning("Market price is 0. announcer_price=%d", announcer.Price)
		return nil
	case fresh && withinThreshold(announcer.Price, price, b.thresholdBps):
		b.logger.Info("Not updating announcer. Price update threshold not reached")
		return nil
	}

	b.logger.Info("Updating announcer. Setting price to %s", formatPrice(price))
	res, err := b.rpc.AnnouncerUpdate(ctx, announcer.Name, price)
	if err != nil {
		return fmt.Errorf("update announcer: %w", err)
	}
	b.logger.Info("Updated announcer. Price set to %s", formatPrice(price))
	if len(res.NewCoins) > 0 {
		b.logger.Info("New announcer coin: %s", res.NewCoins[0])
	}
	return nil
}

// marketPrice returns the aggregated price scaled to announcer precision. When
// no price is available it falls back to the announcer's own price so that it
// is re-published before it expires; fresh is false in that case.
func (b *AnnouncerUpdateBot) marketPrice(ctx context.Context, announcer models.MAnnouncer) (int64, bool) {
	price, err := b.prices.GetAggregatedPrice(ctx)
	if err != nil {
		b.logger.Error("Failed to fetch latest price: %v. Using existing price: %s", err, formatPrice(announcer.Price))
		return announcer.Price, false
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		b.logger.Info("Still ramping up, using existing price: %s", formatPrice(announcer.Price))
		return announcer.Price, false
	}
	scaled := ToAnnouncerPrice(price)
	b.logger.Info("Fetched latest price: %s", formatPrice(scaled))
	return scaled, true
}

// ToAnnouncerPrice converts a USD price to hundredths, truncating.
func ToAnnouncerPrice(price float64) int64 {
	return decimal.NewFromFloat(price).Shift(PricePrecision).IntPart()
}

func formatPrice(price int64) string {
	return decimal.New(price, -PricePrecision).StringFixed(PricePrecision)
}

// withinThreshold reports |current/next - 1| <= bps/10000.
func withinThreshold(current, next int64, bps float64) bool {
	if next == 0 {
		return false
	}
	ratio := decimal.NewFromInt(current).Div(decimal.NewFromInt(next)).Sub(decimal.NewFromInt(1)).Abs()
	return ratio.LessThanOrEqual(decimal.NewFromFloat(bps).Div(decimal.NewFromInt(10000)))
}

// pickAnnouncer returns the first approved announcer, or the first announcer
// when none is approved.
func pickAnnouncer(announcers []models.MAnnouncer, log *logger.Logger) (models.MAnnouncer, error) {
	if len(announcers) == 0 {
		return models.MAnnouncer{}, ErrNoAnnouncer
	}
	approved := approvedAnnouncers(announcers)
	if len(approved) == 0 {
		log.Warning("No approved announcer found")
		if len(announcers) > 1 {
			log.Error("More than one unapproved announcer found")
		}
		a := announcers[0]
		log.Info("Found an unapproved announcer. Name: %s  LauncherID: %s", a.Name, a.LauncherID)
		return a, nil
	}
	if len(approved) > 1 {
		log.Error("More than one approved announcer found")
	}
	a := approved[0]
	log.Info("Found an approved announcer. Name: %s  LauncherID: %s", a.Name, a.LauncherID)
	return a, nil
}

func approvedAnnouncers(announcers []models.MAnnouncer) []models.MAnnouncer {
	var out []models.MAnnouncer
	for _, a := range announcers {
		if a.Approved {
			out = append(out, a)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// announcer_configure
// -----------------------------------------------------------------------------

// AnnouncerConfigureBot keeps the announcer's min deposit and price TTL in
// line with the statutes and any bill about to change them.
type AnnouncerConfigureBot struct {
	rpc    interfaces.ICircuitRPC
	logger *logger.Logger
}

func (b *AnnouncerConfigureBot) Name() string { return "announcer_configure" }

func (b *AnnouncerConfigureBot) Step(ctx context.Context) error {
	announcers, err := b.rpc.AnnouncerShow(ctx)
	if err != nil {
		return fmt.Errorf("show announcer: %w", err)
	}
	if len(announcers) == 0 {
		return ErrNoAnnouncer
	}
	approved := approvedAnnouncers(announcers)
	if len(approved) == 0 {
		return ErrNoApprovedAnnouncer
	}
	if len(approved) > 1 {
		b.logger.Error("More than one approved announcer found")
	}
	announcer := approved[0]
	b.logger.Info("Found an approved announcer. Name: %s  LauncherID: %s", announcer.Name, announcer.LauncherID)

	statutes, err := b.rpc.StatutesList(ctx)
	if err != nil {
		return fmt.Errorf("get statutes: %w", err)
	}
	bills, err := b.rpc.UpkeepBillsList(ctx, models.BillsEnacted)
	if err != nil {
		return fmt.Errorf("get governance coins with bills: %w", err)
	}
	b.logger.Info("Found %d enacted bills (incl lapsed ones)", len(bills))

	minDeposit, priceTTL := requiredSettings(statutes, bills, b.logger)
	req := models.MAnnouncerConfigure{Name: announcer.Name}

	if announcer.MinDeposit != minDeposit {
		req.MinDeposit = &minDeposit
		if announcer.Deposit < minDeposit {
			b.logger.Info("Must increase announcer deposit: %d -> %d", announcer.Deposit, minDeposit)
			balances, err := b.rpc.WalletBalances(ctx)
			if err != nil {
				return fmt.Errorf("get wallet balance: %w", err)
			}
			needed := minDeposit - announcer.Deposit
			if balances.Xch < needed {
				b.logger.Error("Insufficient XCH balance to increase MIN_DEPOSIT on announcer %s. DEPOSIT=%d desired=%d xch_balance=%d required=%d",
					announcer.Name, announcer.Deposit, minDeposit, balances.Xch, needed)
				return fmt.Errorf("insufficient xch balance: have %d, need %d", balances.Xch, needed)
			}
			req.Deposit = &minDeposit
		}
	}
	if announcer.PriceTTL != priceTTL {
		req.TTL = &priceTTL
	}

	if req.MinDeposit == nil && req.TTL == nil {
		b.logger.Debug("Announcer %s already configured", announcer.Name)
		return nil
	}

	b.logger.Info("Configuring announcer %s.%s", announcer.Name, describeChanges(announcer, req))
	res, err := b.rpc.AnnouncerConfigure(ctx, req)
	if err != nil {
		return fmt.Errorf("configure announcer: %w", err)
	}
	if len(res.NewCoins) > 0 {
		b.logger.Info("New announcer coin: %s", res.NewCoins[0])
	}

	latest, err := b.rpc.AnnouncerShow(ctx)
	if err != nil {
		return fmt.Errorf("show new announcer: %w", err)
	}
	for _, a := range latest {
		if a.LauncherID == announcer.LauncherID {
			b.logger.Info("Announcer %s: MIN_DEPOSIT=%d DEPOSIT=%d VALUE_TTL=%d", a.Name, a.MinDeposit, a.Deposit, a.PriceTTL)
			return nil
		}
	}
	return errors.New("new announcer not found")
}

// requiredSettings takes the statute values and lets pending bills raise the
// min deposit or lower the price TTL.
func requiredSettings(st models.MStatutes, bills []models.MBillCoin, log *logger.Logger) (int64, int64) {
	minDeposit := st.AnnouncerMinimumDeposit
	priceTTL := st.AnnouncerValueTTL

	for _, c := range bills {
		pending := c.Status == models.BillStatusInImplementationDelay || c.Status == models.BillStatusImplementable
		switch c.Bill.StatuteIndex {
		case models.StatuteAnnouncerMinimumDeposit:
			log.Info("Found bill to change announcer MIN_DEPOSIT to %d. Status: %s", c.Bill.Value, c.Status)
			if pending && c.Bill.Value > minDeposit {
				minDeposit = c.Bill.Value
			}
		case models.StatuteAnnouncerValueTTL:
			log.Info("Found bill to change announcer VALUE_TTL to %d. Status: %s", c.Bill.Value, c.Status)
			if pending && c.Bill.Value < priceTTL {
				priceTTL = c.Bill.Value
			}
		}
	}
	return minDeposit, priceTTL
}

func describeChanges(a models.MAnnouncer, req models.MAnnouncerConfigure) string {
	var sb strings.Builder
	if req.MinDeposit != nil {
		fmt.Fprintf(&sb, "  MIN_DEPOSIT: %d -> %d", a.MinDeposit, *req.MinDeposit)
	}
	if req.Deposit != nil {
		fmt.Fprintf(&sb, "  DEPOSIT: %d -> %d", a.Deposit, *req.Deposit)
	}
	if req.TTL != nil {
		fmt.Fprintf(&sb, "  VALUE_TTL: %d -> %d", a.PriceTTL, *req.TTL)
	}
	return sb.String()
}

// -----------------------------------------------------------------------------
// announcer_penalize
// -----------------------------------------------------------------------------

// AnnouncerPenalizeBot penalizes every penalizable announcer concurrently.
type AnnouncerPenalizeBot struct {
	rpc    interfaces.ICircuitRPC
	logger *logger.Logger
}

func (b *AnnouncerPenalizeBot) Name() string { return "announcer_penalize" }

func (b *AnnouncerPenalizeBot) Step(ctx context.Context) error {
	if err := b.rpc.SetFeePerCost(ctx); err != nil {
		return fmt.Errorf("set fee per cost: %w", err)
	}
	announcers, err := b.rpc.UpkeepAnnouncersList(ctx, true)
	if err != nil {
		return fmt.Errorf("list penalizable announcers: %w", err)
	}
	if len(announcers) == 0 {
		b.logger.Info("No penalizable announcers found")
		return nil
	}
	b.logger.Info("Found %d penalizable announcers", len(announcers))

	errs := make([]error, len(announcers))
	var wg sync.WaitGroup
	for i, a := range announcers {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			b.logger.Info("Penalizing announcer %s", name)
			if _, err := b.rpc.UpkeepAnnouncersPenalize(ctx, name); err != nil {
				b.logger.Error("Failed to penalize announcer %s: %v", name, err)
				errs[i] = err
			}
		}(i, a.Name)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to penalize %d of %d announcers", failed, len(announcers))
	}
	b.logger.Info("Penalized all %d penalizable announcers", len(announcers))
	return nil
}

// -----------------------------------------------------------------------------
// announcer_rewards
// -----------------------------------------------------------------------------

// AnnouncerRewardsBot registers the keeper's approved announcer and
// distributes registry rewards once they become distributable.
type AnnouncerRewardsBot struct {
	rpc              interfaces.ICircuitRPC
	targetPuzzleHash string
	logger           *logger.Logger
}

func (b *AnnouncerRewardsBot) Name() string { return "announcer_rewards" }

func (b *AnnouncerRewardsBot) Step(ctx context.Context) error {
	if err := b.rpc.SetFeePerCost(ctx); err != nil {
		return fmt.Errorf("set fee per cost: %w", err)
	}
	announcers, err := b.rpc.AnnouncerShow(ctx)
	if err != nil {
		return fmt.Errorf("show announcer: %w", err)
	}
	approved := approvedAnnouncers(announcers)
	if len(approved) == 0 {
		return ErrNoApprovedAnnouncer
	}
	announcer := approved[0]
	b.logger.Info("Found an approved announcer. Name: %s  LauncherID: %s", announcer.Name, announcer.LauncherID)

	// A failed registration does not hold back the reward distribution.
	var registerErr error
	if announcer.Registered {
		b.logger.Info("Announcer already registered")
	} else {
		b.logger.Info("Registering announcer")
		if _, registerErr = b.rpc.AnnouncerRegister(ctx, announcer.Name, b.targetPuzzleHash); registerErr != nil {
			b.logger.Error("Failed to register announcer %s: %v", announcer.Name, registerErr)
		} else {
			b.logger.Info("Announcer registered")
		}
	}

	info, err := b.rpc.UpkeepRegistryRewardInfo(ctx)
	if err != nil {
		return fmt.Errorf("get info on reward distribution: %w", err)
	}
	if info.ActionExecutable {
		b.logger.Info("Distributing rewards")
		if _, err := b.rpc.UpkeepRegistryReward(ctx, b.targetPuzzleHash); err != nil {
			return fmt.Errorf("distribute rewards: %w", err)
		}
		b.logger.Info("Rewards distributed")
	} else {
		b.logger.Info("Rewards cannot be distributed yet. Needs %d more Statutes price updates", info.UpdatesUntilDistributable)
	}

	if registerErr != nil {
		return fmt.Errorf("register announcer %s: %w", announcer.Name, registerErr)
	}
	return nil
}
