package keeper

import (
	"context"
	"fmt"
	"sort"

	"keeper-oracle/src/interfaces"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"
)

// WalletCoinsAll asks wallet_coins for every coin type.
const WalletCoinsAll = "all"

// -----------------------------------------------------------------------------
// Veto policy
// -----------------------------------------------------------------------------

// VetoPolicy maps a statute index to the values the keeper accepts. Bills on
// statutes without an entry are always acceptable.
type VetoPolicy map[int]models.MStatuteBounds

// Violation describes why bill is unacceptable, or returns "".
func (p VetoPolicy) Violation(bill models.MBill) string {
	bounds, ok := p[bill.StatuteIndex]
	if !ok {
		return ""
	}
	if bounds.Min != nil && bill.Value < *bounds.Min {
		return fmt.Sprintf("value %d below minimum %d", bill.Value, *bounds.Min)
	}
	if bounds.Max != nil && bill.Value > *bounds.Max {
		return fmt.Sprintf("value %d above maximum %d", bill.Value, *bounds.Max)
	}
	return ""
}

// pickVetoingCoin returns a coin larger than amount, preferring coins that
// carry no proposal. Coins in used are skipped.
func pickVetoingCoin(coins []models.MWalletCoin, amount int64, used map[string]bool) (models.MWalletCoin, bool) {
	var withProposal *models.MWalletCoin
	for i := range coins {
		c := &coins[i]
		if used[c.Name] || c.Amount <= amount {
			continue
		}
		if c.BillHash == "" {
			return *c, true
		}
		if withProposal == nil {
			withProposal = c
		}
	}
	if withProposal != nil {
		return *withProposal, true
	}
	return models.MWalletCoin{}, false
}

func largestAmount(coins []models.MWalletCoin) int64 {
	var largest int64
	for _, c := range coins {
		if c.Amount > largest {
			largest = c.Amount
		}
	}
	return largest
}

// -----------------------------------------------------------------------------
// governance_veto
// -----------------------------------------------------------------------------

// GovernanceVetoBot vetoes proposed bills that fall outside the veto policy,
// the soonest to leave the veto period first.
type GovernanceVetoBot struct {
	rpc    interfaces.ICircuitRPC
	policy VetoPolicy
	logger *logger.Logger
}

func (b *GovernanceVetoBot) Name() string { return "governance_veto" }

func (b *GovernanceVetoBot) Step(ctx context.Context) error {
	bills, err := b.rpc.UpkeepBillsList(ctx, models.BillsVetoable)
	if err != nil {
		return fmt.Errorf("get vetoable bills: %w", err)
	}
	sort.SliceStable(bills, func(i, j int) bool { return bills[i].VetoableUntil < bills[j].VetoableUntil })

	var unacceptable []models.MBillCoin
	for _, c := range bills {
		if reason := b.policy.Violation(c.Bill); reason != "" {
			b.logger.Info("Detected proposal of unacceptable bill. Proposal coin ID: %s. Statute [%d] %s: %s",
				c.Name, c.Bill.StatuteIndex, c.Bill.StatuteName, reason)
			unacceptable = append(unacceptable, c)
		}
	}
	if len(unacceptable) == 0 {
		b.logger.Debug("No unacceptable bills among %d vetoable bills", len(bills))
		return nil
	}

	if err := b.rpc.SetFeePerCost(ctx); err != nil {
		return fmt.Errorf("set fee per cost: %w", err)
	}
	coins, err := b.rpc.WalletCoins(ctx, WalletCoinsAll)
	if err != nil {
		return fmt.Errorf("get wallet coins: %w", err)
	}

	used := make(map[string]bool)
	failed := 0
	for _, bill := range unacceptable {
		coin, ok := pickVetoingCoin(coins, bill.Amount, used)
		if !ok {
			failed++
			b.logger.Error("No large enough governance coin available to veto unacceptable bill %s (%d <= %d)",
				bill.Name, largestAmount(coins), bill.Amount)
			continue
		}
		b.logger.Info("Vetoing proposal coin %s (amount: %d) with vetoing coin %s (amount: %d)",
			bill.Name, bill.Amount, coin.Name, coin.Amount)
		if _, err := b.rpc.UpkeepBillsVeto(ctx, bill.Name, coin.Name); err != nil {
			failed++
			b.logger.Error("Failed to veto bill %s: %v", bill.Name, err)
			continue
		}
		used[coin.Name] = true
		b.logger.Info("Successfully vetoed bill %s", bill.Name)
	}

	if failed > 0 {
		return fmt.Errorf("failed to veto %d of %d unacceptable bills", failed, len(unacceptable))
	}
	return nil
}

// -----------------------------------------------------------------------------
// statutes_update
// -----------------------------------------------------------------------------

type StatutesUpdateBot struct {
	rpc    interfaces.ICircuitRPC
	logger *logger.Logger
}

func (b *StatutesUpdateBot) Name() string { return "statutes_update" }

func (b *StatutesUpdateBot) Step(ctx context.Context) error {
	if err := b.rpc.SetFeePerCost(ctx); err != nil {
		return fmt.Errorf("set fee per cost: %w", err)
	}
	b.logger.Info("Updating Statutes Price")
	if _, err := b.rpc.StatutesUpdate(ctx); err != nil {
		return fmt.Errorf("update statutes price: %w", err)
	}
	b.logger.Info("Updated Statutes Price")
	return nil
}
