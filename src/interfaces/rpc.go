package interfaces

import (
	"context"

	"keeper-oracle/src/models"
)

// -----------------------------------------------------------------------------
// ICircuitRPC is the subset of the protocol RPC server used by the keeper bots.
// -----------------------------------------------------------------------------

type ICircuitRPC interface {

	// SetFeePerCost refreshes the fee per cost attached to transactions.
	SetFeePerCost(ctx context.Context) error

	// Oracle and announcers
	OracleUpdate(ctx context.Context) (models.MTxResult, error)
	AnnouncerShow(ctx context.Context) ([]models.MAnnouncer, error)
	AnnouncerUpdate(ctx context.Context, name string, price int64) (models.MTxResult, error)
	AnnouncerConfigure(ctx context.Context, req models.MAnnouncerConfigure) (models.MTxResult, error)
	UpkeepAnnouncersList(ctx context.Context, penalizable bool) ([]models.MAnnouncer, error)
	UpkeepAnnouncersPenalize(ctx context.Context, name string) (models.MTxResult, error)
	AnnouncerRegister(ctx context.Context, name, targetPuzzleHash string) (models.MTxResult, error)
	UpkeepRegistryRewardInfo(ctx context.Context) (models.MRegistryRewardInfo, error)
	UpkeepRegistryReward(ctx context.Context, targetPuzzleHash string) (models.MTxResult, error)

	// -----------------------------------------------------------------------------

	// Governance
	StatutesList(ctx context.Context) (models.MStatutes, error)
	StatutesAnnounce(ctx context.Context) (models.MTxResult, error)
	StatutesUpdate(ctx context.Context) (models.MTxResult, error)
	// UpkeepBillsList lists bills matching filter (models.BillsEnacted or models.BillsVetoable).
	UpkeepBillsList(ctx context.Context, filter string) ([]models.MBillCoin, error)
	UpkeepBillsVeto(ctx context.Context, target, vetoingCoin string) (models.MTxResult, error)
	BillsList(ctx context.Context, implementable bool) ([]models.MBillCoin, error)
	BillsImplement(ctx context.Context, name string) (models.MTxResult, error)

	// -----------------------------------------------------------------------------

	// Vaults, treasury and wallet
	UpkeepState(ctx context.Context) (models.MUpkeepState, error)
	UpkeepVaultsList(ctx context.Context) ([]models.MVault, error)
	UpkeepVaultsLiquidate(ctx context.Context, name string) (models.MTxResult, error)
	UpkeepVaultsRecover(ctx context.Context, name string) (models.MTxResult, error)
	UpkeepVaultsTransfer(ctx context.Context, name string) (models.MTxResult, error)
	UpkeepTreasuryShow(ctx context.Context) (models.MTreasury, error)
	UpkeepTreasuryRebalance(ctx context.Context) (models.MTxResult, error)
	UpkeepSurplusStart(ctx context.Context) (models.MTxResult, error)
	UpkeepRechargeList(ctx context.Context) ([]models.MRechargeAuction, error)
	UpkeepRechargeSettle(ctx context.Context, name string) (models.MTxResult, error)
	UpkeepRechargeStart(ctx context.Context, name string) (models.MTxResult, error)
	SavingsShow(ctx context.Context) (models.MSavingsVault, error)
	SavingsWithdraw(ctx context.Context, amount int64) (models.MTxResult, error)
	WalletBalances(ctx context.Context) (models.MWalletBalances, error)
	WalletCoins(ctx context.Context, coinType string) ([]models.MWalletCoin, error)
}
