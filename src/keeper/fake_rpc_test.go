package keeper

import (
	"context"
	"sync"

	"keeper-oracle/src/models"
)

// fakeRPC records calls and answers from canned state.
type fakeRPC struct {
	mu    sync.Mutex
	calls []string

	announcers    []models.MAnnouncer
	penalizable   []models.MAnnouncer
	statutes      models.MStatutes
	enactedBills  []models.MBillCoin
	implementable []models.MBillCoin
	state         models.MUpkeepState
	vaults        []models.MVault
	treasury      models.MTreasury
	balances      models.MWalletBalances
	vetoable      []models.MBillCoin
	walletCoins   []models.MWalletCoin
	recharge      []models.MRechargeAuction
	savings       models.MSavingsVault
	rewardInfo    models.MRegistryRewardInfo
	// withdrawMessage is echoed back by savings_withdraw.
	withdrawMessage string

	updates    []int64
	configured []models.MAnnouncerConfigure
	targets    []string

	errs map[string]error
	// errOnce fails a method the first time it is called with the given name.
	errOnce map[string]error
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{errs: map[string]error{}, errOnce: map[string]error{}}
}

func (f *fakeRPC) record(call, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if target != "" {
		f.targets = append(f.targets, call+":"+target)
	}
	if err, ok := f.errOnce[call+":"+target]; ok {
		delete(f.errOnce, call+":"+target)
		return err
	}
	return f.errs[call]
}

func (f *fakeRPC) called(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

var okTx = models.MTxResult{Status: "SUCCESS", NewCoins: []string{"c0"}}

func (f *fakeRPC) SetFeePerCost(ctx context.Context) error {
	return f.record("set_fee_per_cost", "")
}

func (f *fakeRPC) OracleUpdate(ctx context.Context) (models.MTxResult, error) {
	return okTx, f.record("oracle_update", "")
}

func (f *fakeRPC) AnnouncerShow(ctx context.Context) ([]models.MAnnouncer, error) {
	return f.announcers, f.record("announcer_show", "")
}

func (f *fakeRPC) AnnouncerUpdate(ctx context.Context, name string, price int64) (models.MTxResult, error) {
	f.mu.Lock()
	f.updates = append(f.updates, price)
	f.mu.Unlock()
	return okTx, f.record("announcer_update", name)
}

func (f *fakeRPC) AnnouncerConfigure(ctx context.Context, req models.MAnnouncerConfigure) (models.MTxResult, error) {
	f.mu.Lock()
	f.configured = append(f.configured, req)
	f.mu.Unlock()
	return okTx, f.record("announcer_configure", req.Name)
}

func (f *fakeRPC) UpkeepAnnouncersList(ctx context.Context, penalizable bool) ([]models.MAnnouncer, error) {
	return f.penalizable, f.record("upkeep_announcers_list", "")
}

func (f *fakeRPC) UpkeepAnnouncersPenalize(ctx context.Context, name string) (models.MTxResult, error) {
	return okTx, f.record("upkeep_announcers_penalize", name)
}

func (f *fakeRPC) StatutesList(ctx context.Context) (models.MStatutes, error) {
	return f.statutes, f.record("statutes_list", "")
}

func (f *fakeRPC) StatutesAnnounce(ctx context.Context) (models.MTxResult, error) {
	return okTx, f.record("statutes_announce", "")
}

func (f *fakeRPC) StatutesUpdate(ctx context.Context) (models.MTxResult, error) {
	return okTx, f.record("statutes_update", "")
}

func (f *fakeRPC) UpkeepBillsList(ctx context.Context, filter string) ([]models.MBillCoin, error) {
	if filter == models.BillsVetoable {
		return f.vetoable, f.record("upkeep_bills_list", "")
	}
	return f.enactedBills, f.record("upkeep_bills_list", "")
}

func (f *fakeRPC) UpkeepBillsVeto(ctx context.Context, target, vetoingCoin string) (models.MTxResult, error) {
	return okTx, f.record("upkeep_bills_veto", target+"/"+vetoingCoin)
}

func (f *fakeRPC) BillsList(ctx context.Context, implementable bool) ([]models.MBillCoin, error) {
	return f.implementable, f.record("bills_list", "")
}

func (f *fakeRPC) BillsImplement(ctx context.Context, name string) (models.MTxResult, error) {
	return okTx, f.record("bills_implement", name)
}

func (f *fakeRPC) UpkeepState(ctx context.Context) (models.MUpkeepState, error) {
	return f.state, f.record("upkeep_state", "")
}

func (f *fakeRPC) UpkeepVaultsList(ctx context.Context) ([]models.MVault, error) {
	return f.vaults, f.record("upkeep_vaults_list", "")
}

func (f *fakeRPC) UpkeepVaultsLiquidate(ctx context.Context, name string) (models.MTxResult, error) {
	return okTx, f.record("upkeep_vaults_liquidate", name)
}

func (f *fakeRPC) UpkeepVaultsRecover(ctx context.Context, name string) (models.MTxResult, error) {
	return okTx, f.record("upkeep_vaults_recover", name)
}

func (f *fakeRPC) UpkeepVaultsTransfer(ctx context.Context, name string) (models.MTxResult, error) {
	return okTx, f.record("upkeep_vaults_transfer", name)
}

func (f *fakeRPC) UpkeepTreasuryShow(ctx context.Context) (models.MTreasury, error) {
	return f.treasury, f.record("upkeep_treasury_show", "")
}

func (f *fakeRPC) UpkeepTreasuryRebalance(ctx context.Context) (models.MTxResult, error) {
	return okTx, f.record("upkeep_treasury_rebalance", "")
}

func (f *fakeRPC) UpkeepSurplusStart(ctx context.Context) (models.MTxResult, error) {
	return okTx, f.record("upkeep_surplus_start", "")
}

func (f *fakeRPC) AnnouncerRegister(ctx context.Context, name, targetPuzzleHash string) (models.MTxResult, error) {
	return okTx, f.record("announcer_register", name)
}

func (f *fakeRPC) UpkeepRegistryRewardInfo(ctx context.Context) (models.MRegistryRewardInfo, error) {
	return f.rewardInfo, f.record("upkeep_registry_reward_info", "")
}

func (f *fakeRPC) UpkeepRegistryReward(ctx context.Context, targetPuzzleHash string) (models.MTxResult, error) {
	return okTx, f.record("upkeep_registry_reward", targetPuzzleHash)
}

func (f *fakeRPC) UpkeepRechargeList(ctx context.Context) ([]models.MRechargeAuction, error) {
	return f.recharge, f.record("upkeep_recharge_list", "")
}

func (f *fakeRPC) UpkeepRechargeSettle(ctx context.Context, name string) (models.MTxResult, error) {
	return okTx, f.record("upkeep_recharge_settle", name)
}

func (f *fakeRPC) UpkeepRechargeStart(ctx context.Context, name string) (models.MTxResult, error) {
	return okTx, f.record("upkeep_recharge_start", name)
}

func (f *fakeRPC) SavingsShow(ctx context.Context) (models.MSavingsVault, error) {
	return f.savings, f.record("savings_show", "")
}

func (f *fakeRPC) SavingsWithdraw(ctx context.Context, amount int64) (models.MTxResult, error) {
	res := okTx
	res.Message = f.withdrawMessage
	return res, f.record("savings_withdraw", "")
}

func (f *fakeRPC) WalletCoins(ctx context.Context, coinType string) ([]models.MWalletCoin, error) {
	return f.walletCoins, f.record("wallet_coins", coinType)
}

func (f *fakeRPC) WalletBalances(ctx context.Context) (models.MWalletBalances, error) {
	return f.balances, f.record("wallet_balances", "")
}

// fakePrices returns a fixed aggregated price.
type fakePrices struct {
	price float64
	err   error
}

func (p fakePrices) GetAggregatedPrice(ctx context.Context) (float64, error) {
	return p.price, p.err
}
