package keeper

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"keeper-oracle/src/interfaces"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"
)

// nonAnnounceFailure marks a bill implementation rejected because the
// statutes must be announced first.
const nonAnnounceFailure = "non-announce operation failed"

// runEach calls fn for every name and counts failures.
func runEach(names []string, log *logger.Logger, what string, fn func(name string) error) int {
	failed := 0
	for _, name := range names {
		if err := fn(name); err != nil {
			failed++
			log.Error("Failed to %s %s: %v", what, name, err)
		}
	}
	return failed
}

func vaultNames(vaults []models.MVault) []string {
	out := make([]string, 0, len(vaults))
	for _, v := range vaults {
		out = append(out, v.Name)
	}
	return out
}

// -----------------------------------------------------------------------------
// liquidation_start
// -----------------------------------------------------------------------------

// LiquidationStartBot starts auctions for vaults pending liquidation.
type LiquidationStartBot struct {
	rpc    interfaces.ICircuitRPC
	logger *logger.Logger
}

func (b *LiquidationStartBot) Name() string { return "liquidation_start" }

func (b *LiquidationStartBot) Step(ctx context.Context) error {
	if err := b.rpc.SetFeePerCost(ctx); err != nil {
		return fmt.Errorf("set fee per cost: %w", err)
	}
	state, err := b.rpc.UpkeepState(ctx)
	if err != nil {
		return fmt.Errorf("get protocol state: %w", err)
	}
	pending := vaultNames(state.VaultsPendingLiquidation)
	if len(pending) == 0 {
		b.logger.Info("No vaults pending liquidation")
		return nil
	}
	b.logger.Info("%d vaults pending liquidation. Starting liquidation auctions", len(pending))

	failed := runEach(pending, b.logger, "start liquidation auction for vault", func(name string) error {
		_, err := b.rpc.UpkeepVaultsLiquidate(ctx, name)
		if err == nil {
			b.logger.Info("Liquidation auction started for vault %s", name)
		}
		return err
	})
	if failed > 0 {
		return fmt.Errorf("failed to start liquidation for %d of %d liquidatable vaults", failed, len(pending))
	}
	b.logger.Info("Started liquidation for all %d liquidatable vaults", len(pending))
	return nil
}

// -----------------------------------------------------------------------------
// bad_debt_recovery
// -----------------------------------------------------------------------------

// BadDebtRecoveryBot recovers bad debt from vaults that carry it.
type BadDebtRecoveryBot struct {
	rpc    interfaces.ICircuitRPC
	logger *logger.Logger
}

func (b *BadDebtRecoveryBot) Name() string { return "bad_debt_recovery" }

func (b *BadDebtRecoveryBot) Step(ctx context.Context) error {
	if err := b.rpc.SetFeePerCost(ctx); err != nil {
		return fmt.Errorf("set fee per cost: %w", err)
	}
	state, err := b.rpc.UpkeepState(ctx)
	if err != nil {
		return fmt.Errorf("get protocol state: %w", err)
	}
	inBadDebt := vaultNames(state.VaultsWithBadDebt)
	if len(inBadDebt) == 0 {
		b.logger.Info("No vaults with bad debt")
		return nil
	}
	b.logger.Info("%d vaults with bad debt. Recovering", len(inBadDebt))

	failed := runEach(inBadDebt, b.logger, "recover bad debt of vault", func(name string) error {
		_, err := b.rpc.UpkeepVaultsRecover(ctx, name)
		if err == nil {
			b.logger.Info("Recovered bad debt of vault %s", name)
		}
		return err
	})
	if failed > 0 {
		return fmt.Errorf("failed to recover bad debt for %d of %d vaults", failed, len(inBadDebt))
	}
	return nil
}

// -----------------------------------------------------------------------------
// governance_implement
// -----------------------------------------------------------------------------

// GovernanceImplementBot implements every implementable bill. A bill rejected
// with a non-announce failure triggers a statutes announcement and is picked
// up again on the next run.
type GovernanceImplementBot struct {
	rpc    interfaces.ICircuitRPC
	logger *logger.Logger
}

func (b *GovernanceImplementBot) Name() string { return "governance_implement" }

func (b *GovernanceImplementBot) Step(ctx context.Context) error {
	bills, err := b.rpc.BillsList(ctx, true)
	if err != nil {
		return fmt.Errorf("get implementable bills: %w", err)
	}
	if len(bills) == 0 {
		b.logger.Info("No implementable bills found")
		return nil
	}
	b.logger.Info("Found %d implementable bills", len(bills))

	if err := b.rpc.SetFeePerCost(ctx); err != nil {
		return fmt.Errorf("set fee per cost: %w", err)
	}

	failed := 0
	for _, c := range bills {
		b.logger.Info("Implementing bill for Statute [%d] %s: %d. Coin ID: %s",
			c.Bill.StatuteIndex, c.Bill.StatuteName, c.Bill.Value, c.Name)

		if _, err := b.rpc.BillsImplement(ctx, c.Name); err != nil {
			failed++
			b.logger.Error("Failed to implement bill %s: %v", c.Name, err)
			if strings.Contains(err.Error(), nonAnnounceFailure) {
				b.logger.Info("Announcing Statutes")
				if _, err := b.rpc.StatutesAnnounce(ctx); err != nil {
					b.logger.Error("Failed to announce Statutes: %v", err)
				}
			}
			continue
		}
		b.logger.Info("Successfully implemented bill %s", c.Name)
	}

	if failed > 0 {
		return fmt.Errorf("failed to implement %d of %d implementable bills", failed, len(bills))
	}
	b.logger.Info("Successfully implemented all %d implementable bills", len(bills))
	return nil
}

// -----------------------------------------------------------------------------
// surplus_start
// -----------------------------------------------------------------------------

type SurplusStartBot struct {
	rpc    interfaces.ICircuitRPC
	logger *logger.Logger
}

func (b *SurplusStartBot) Name() string { return "surplus_start" }

func (b *SurplusStartBot) Step(ctx context.Context) error {
	treasury, err := b.rpc.UpkeepTreasuryShow(ctx)
	if err != nil {
		return fmt.Errorf("show treasury: %w", err)
	}
	if !treasury.CanStartSurplusAuction {
		b.logger.Info("Cannot start surplus auction")
		return nil
	}
	if err := b.rpc.SetFeePerCost(ctx); err != nil {
		return fmt.Errorf("set fee per cost: %w", err)
	}
	if _, err := b.rpc.UpkeepSurplusStart(ctx); err != nil {
		return fmt.Errorf("start surplus auction: %w", err)
	}
	b.logger.Info("Started surplus auction")
	return nil
}

// -----------------------------------------------------------------------------
// stability_fee_transfer
// -----------------------------------------------------------------------------

// StabilityFeeTransferBot transfers stability fees from the first vault that
// is neither in liquidation nor in bad debt.
type StabilityFeeTransferBot struct {
	rpc    interfaces.ICircuitRPC
	logger *logger.Logger
}

func (b *StabilityFeeTransferBot) Name() string { return "stability_fee_transfer" }

func (b *StabilityFeeTransferBot) Step(ctx context.Context) error {
	vaults, err := b.rpc.UpkeepVaultsList(ctx)
	if err != nil {
		return fmt.Errorf("get vaults list: %w", err)
	}

	var target *models.MVault
	for i := range vaults {
		if !vaults[i].InLiquidation && !vaults[i].InBadDebt {
			target = &vaults[i]
			break
		}
	}
	if target == nil {
		b.logger.Info("Not transferring any Stability Fees. No non-seized collateral vaults")
		return nil
	}

	if err := b.rpc.SetFeePerCost(ctx); err != nil {
		return fmt.Errorf("set fee per cost: %w", err)
	}
	res, err := b.rpc.UpkeepVaultsTransfer(ctx, target.Name)
	if err != nil {
		return fmt.Errorf("transfer stability fees: %w", err)
	}
	if len(res.NewCoins) > 0 {
		b.logger.Info("New collateral vault coin: %s", res.NewCoins[0])
	}
	return nil
}

// -----------------------------------------------------------------------------
// treasury_rebalance
// -----------------------------------------------------------------------------

type TreasuryRebalanceBot struct {
	rpc    interfaces.ICircuitRPC
	logger *logger.Logger
}

func (b *TreasuryRebalanceBot) Name() string { return "treasury_rebalance" }

func (b *TreasuryRebalanceBot) Step(ctx context.Context) error {
	treasury, err := b.rpc.UpkeepTreasuryShow(ctx)
	if err != nil {
		return fmt.Errorf("show treasury: %w", err)
	}
	if !treasury.CanRebalance {
		b.logger.Debug("Treasury does not need rebalancing")
		return nil
	}
	if err := b.rpc.SetFeePerCost(ctx); err != nil {
		return fmt.Errorf("set fee per cost: %w", err)
	}
	res, err := b.rpc.UpkeepTreasuryRebalance(ctx)
	if err != nil {
		return fmt.Errorf("rebalance treasury: %w", err)
	}
	b.logger.Info("Rebalanced treasury. Status: %s", res.Status)
	return nil
}

// -----------------------------------------------------------------------------
// recharge_start_settle
// -----------------------------------------------------------------------------

// RechargeStartSettleBot settles expired recharge auctions and starts a new
// one from a coin on stand-by when the treasury is below its minimum.
type RechargeStartSettleBot struct {
	rpc    interfaces.ICircuitRPC
	logger *logger.Logger
}

func (b *RechargeStartSettleBot) Name() string { return "recharge_start_settle" }

func (b *RechargeStartSettleBot) Step(ctx context.Context) error {
	auctions, err := b.rpc.UpkeepRechargeList(ctx)
	if err != nil {
		return fmt.Errorf("list recharge auction coins: %w", err)
	}
	if err := b.rpc.SetFeePerCost(ctx); err != nil {
		return fmt.Errorf("set fee per cost: %w", err)
	}

	var expired, standby []string
	for _, a := range auctions {
		switch {
		case a.IsExpired:
			expired = append(expired, a.Name)
		case a.Status == models.RechargeStatusStandby:
			standby = append(standby, a.Name)
		}
	}

	failed := runEach(expired, b.logger, "settle recharge auction", func(name string) error {
		b.logger.Info("Settling recharge auction %s", name)
		_, err := b.rpc.UpkeepRechargeSettle(ctx, name)
		if err == nil {
			b.logger.Info("Settled recharge auction %s", name)
		}
		return err
	})

	treasury, err := b.rpc.UpkeepTreasuryShow(ctx)
	if err != nil {
		return fmt.Errorf("show treasury: %w", err)
	}
	if treasury.CanStartRechargeAuction {
		started := false
		for _, name := range standby {
			b.logger.Info("Starting recharge auction %s", name)
			if _, err := b.rpc.UpkeepRechargeStart(ctx, name); err != nil {
				b.logger.Error("Failed to start recharge auction %s: %v", name, err)
				continue
			}
			b.logger.Info("Started recharge auction %s", name)
			started = true
			break
		}
		if !started {
			return fmt.Errorf("failed to start a recharge auction on any of the %d coins on stand-by", len(standby))
		}
	}

	if failed > 0 {
		return fmt.Errorf("failed to settle %d of %d expired recharge auctions", failed, len(expired))
	}
	return nil
}

// -----------------------------------------------------------------------------
// savings
// -----------------------------------------------------------------------------

// ErrWithdrawalDeclined is returned when the server found no treasury coin
// large enough for the accrued interest.
var ErrWithdrawalDeclined = errors.New("interest withdrawal declined")

// SavingsBot withdraws the accrued interest from the treasury into the
// keeper's savings vault once it exceeds the treasury minimum delta.
type SavingsBot struct {
	rpc    interfaces.ICircuitRPC
	logger *logger.Logger
}

func (b *SavingsBot) Name() string { return "savings" }

func (b *SavingsBot) Step(ctx context.Context) error {
	vault, err := b.rpc.SavingsShow(ctx)
	if err != nil {
		return fmt.Errorf("show savings vault: %w", err)
	}
	b.logger.Info("Found savings vault. Accrued interest: %d mBYC, name: %s", vault.AccruedInterest, vault.Name)

	statutes, err := b.rpc.StatutesList(ctx)
	if err != nil {
		return fmt.Errorf("get statutes: %w", err)
	}
	if statutes.TreasuryMinimumDelta == nil {
		return errors.New("statute TREASURY_MINIMUM_DELTA not reported")
	}
	minDelta := *statutes.TreasuryMinimumDelta
	if vault.AccruedInterest <= minDelta {
		b.logger.Info("Accrued interest does not exceed minimum treasury delta (%d <= %d). Interest withdrawal not possible",
			vault.AccruedInterest, minDelta)
		return nil
	}

	if err := b.rpc.SetFeePerCost(ctx); err != nil {
		return fmt.Errorf("set fee per cost: %w", err)
	}
	b.logger.Info("Withdrawing accrued interest of %d mBYC to savings vault %s", vault.AccruedInterest, vault.Name)
	res, err := b.rpc.SavingsWithdraw(ctx, 0)
	if err != nil {
		return fmt.Errorf("withdraw interest: %w", err)
	}
	if res.Message != "" {
		return fmt.Errorf("%w: %s", ErrWithdrawalDeclined, res.Message)
	}
	b.logger.Info("Accrued interest of %d mBYC withdrawn to savings vault %s", vault.AccruedInterest, vault.Name)
	return nil
}
