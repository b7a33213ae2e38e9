package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"keeper-oracle/src/helpers"
	"keeper-oracle/src/interfaces"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"
)

// -----------------------------------------------------------------------------
// CircuitRPCClient
// -----------------------------------------------------------------------------

// CircuitRPCClient talks JSON over HTTP to a protocol RPC server. Every call
// is a POST to <rpc_url>/<method with "_" replaced by "/">. The private key
// and fee per cost ride along in the body; signing happens server side.
type CircuitRPCClient struct {
	baseURL    string
	privateKey string
	network    interfaces.INetworkManager
	limiter    *rate.Limiter
	logger     *logger.Logger

	mu         sync.RWMutex
	feePerCost int64
	fixedFee   bool
	onCall     func(method string, err error)
}

var _ interfaces.ICircuitRPC = (*CircuitRPCClient)(nil)

func NewCircuitRPCClient(cfg models.MKeeperConfig, nm interfaces.INetworkManager, log *logger.Logger) (*CircuitRPCClient, error) {
	if cfg.RPCURL == "" {
		return nil, helpers.NewConfigurationError("no URL found at which the RPC server can be reached", nil)
	}
	if nm == nil {
		return nil, helpers.NewConfigurationError("rpc client needs a network manager", nil)
	}
	if log == nil {
		log = logger.NewLogger(nil, "CircuitRPC")
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &CircuitRPCClient{
		baseURL:    strings.TrimRight(cfg.RPCURL, "/"),
		privateKey: cfg.PrivateKey,
		network:    nm,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     log,
		feePerCost: cfg.FeePerCost,
		fixedFee:   cfg.FeePerCost > 0,
	}, nil
}

// OnCall registers a hook invoked after every request with its outcome.
func (c *CircuitRPCClient) OnCall(fn func(method string, err error)) {
	c.mu.Lock()
	c.onCall = fn
	c.mu.Unlock()
}

// FeePerCost returns the fee per cost attached to transactions.
func (c *CircuitRPCClient) FeePerCost() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feePerCost
}

// -----------------------------------------------------------------------------

func (c *CircuitRPCClient) call(ctx context.Context, method string, args map[string]interface{}) (body []byte, err error) {
	defer func() {
		c.mu.RLock()
		hook := c.onCall
		c.mu.RUnlock()
		if hook != nil {
			hook(method, err)
		}
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload := make(map[string]interface{}, len(args)+2)
	for k, v := range args {
		payload[k] = v
	}
	if c.privateKey != "" {
		payload["private_key"] = c.privateKey
	}
	if fee := c.FeePerCost(); fee > 0 {
		payload["fee_per_cost"] = fee
	}

	url := c.baseURL + "/" + strings.ReplaceAll(method, "_", "/")
	c.logger.Debug("POST %s", url)

	body, err = c.network.PostJSON(ctx, url, payload)
	if err != nil {
		return nil, helpers.NewRPCError(method, err)
	}
	if msg := gjson.GetBytes(body, "error"); msg.Exists() && msg.String() != "" {
		return nil, helpers.NewRPCError(method, fmt.Errorf("%s", msg.String()))
	}
	return body, nil
}

func decode[T any](method string, body []byte) (T, error) {
	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return out, helpers.NewRPCError(method+": decode response", err)
	}
	return out, nil
}

func (c *CircuitRPCClient) tx(ctx context.Context, method string, args map[string]interface{}) (models.MTxResult, error) {
	body, err := c.call(ctx, method, args)
	if err != nil {
		return models.MTxResult{}, err
	}
	res, err := decode[models.MTxResult](method, body)
	if err != nil {
		return res, err
	}
	if res.Message != "" {
		c.logger.Warning("%s not broadcast: %s", method, res.Message)
		return res, nil
	}
	c.logger.Info("%s broadcast status: %s", method, res.Status)
	return res, nil
}

// -----------------------------------------------------------------------------
// Fees
// -----------------------------------------------------------------------------

// SetFeePerCost refreshes the fee estimate unless a fixed fee was configured.
func (c *CircuitRPCClient) SetFeePerCost(ctx context.Context) error {
	if c.fixedFee {
		return nil
	}
	body, err := c.call(ctx, "fees_estimate", nil)
	if err != nil {
		return err
	}
	fee := gjson.GetBytes(body, "fee_per_cost")
	if !fee.Exists() || fee.Int() < 0 {
		return helpers.NewRPCError("fees_estimate: no fee_per_cost in response", nil)
	}

	c.mu.Lock()
	c.feePerCost = fee.Int()
	c.mu.Unlock()
	c.logger.Debug("fee per cost set to %d", fee.Int())
	return nil
}

// -----------------------------------------------------------------------------
// Oracle and announcers
// -----------------------------------------------------------------------------

func (c *CircuitRPCClient) OracleUpdate(ctx context.Context) (models.MTxResult, error) {
	return c.tx(ctx, "oracle_update", nil)
}

func (c *CircuitRPCClient) AnnouncerShow(ctx context.Context) ([]models.MAnnouncer, error) {
	body, err := c.call(ctx, "announcer_show", nil)
	if err != nil {
		return nil, err
	}
	return decode[[]models.MAnnouncer]("announcer_show", body)
}

// AnnouncerUpdate publishes price, expressed in hundredths of a dollar.
func (c *CircuitRPCClient) AnnouncerUpdate(ctx context.Context, name string, price int64) (models.MTxResult, error) {
	return c.tx(ctx, "announcer_update", map[string]interface{}{
		"coin_name": name,
		"price":     price,
	})
}

func (c *CircuitRPCClient) AnnouncerConfigure(ctx context.Context, req models.MAnnouncerConfigure) (models.MTxResult, error) {
	args := map[string]interface{}{"coin_name": req.Name, "units": true}
	if req.MinDeposit != nil {
		args["min_deposit"] = *req.MinDeposit
	}
	if req.Deposit != nil {
		args["deposit"] = *req.Deposit
	}
	if req.TTL != nil {
		args["ttl"] = *req.TTL
	}
	return c.tx(ctx, "announcer_configure", args)
}

func (c *CircuitRPCClient) UpkeepAnnouncersList(ctx context.Context, penalizable bool) ([]models.MAnnouncer, error) {
	body, err := c.call(ctx, "upkeep_announcers_list", map[string]interface{}{"penalizable": penalizable})
	if err != nil {
		return nil, err
	}
	return decode[[]models.MAnnouncer]("upkeep_announcers_list", body)
}

func (c *CircuitRPCClient) UpkeepAnnouncersPenalize(ctx context.Context, name string) (models.MTxResult, error) {
	return c.tx(ctx, "upkeep_announcers_penalize", map[string]interface{}{"coin_name": name})
}

// withTarget adds target_puzzle_hash when one is configured.
func withTarget(args map[string]interface{}, targetPuzzleHash string) map[string]interface{} {
	if targetPuzzleHash != "" {
		args["target_puzzle_hash"] = targetPuzzleHash
	}
	return args
}

func (c *CircuitRPCClient) AnnouncerRegister(ctx context.Context, name, targetPuzzleHash string) (models.MTxResult, error) {
	return c.tx(ctx, "announcer_register", withTarget(map[string]interface{}{"coin_name": name}, targetPuzzleHash))
}

func (c *CircuitRPCClient) UpkeepRegistryRewardInfo(ctx context.Context) (models.MRegistryRewardInfo, error) {
	body, err := c.call(ctx, "upkeep_registry_reward", map[string]interface{}{"info": true})
	if err != nil {
		return models.MRegistryRewardInfo{}, err
	}
	return decode[models.MRegistryRewardInfo]("upkeep_registry_reward", body)
}

func (c *CircuitRPCClient) UpkeepRegistryReward(ctx context.Context, targetPuzzleHash string) (models.MTxResult, error) {
	return c.tx(ctx, "upkeep_registry_reward", withTarget(map[string]interface{}{}, targetPuzzleHash))
}

// -----------------------------------------------------------------------------
// Governance
// -----------------------------------------------------------------------------

// StatutesList reads the implemented announcer statutes and, when present,
// the treasury minimum delta. Values may arrive as numbers or numeric strings.
func (c *CircuitRPCClient) StatutesList(ctx context.Context) (models.MStatutes, error) {
	body, err := c.call(ctx, "statutes_list", nil)
	if err != nil {
		return models.MStatutes{}, err
	}

	minDeposit := gjson.GetBytes(body, "implemented_statutes.ANNOUNCER_MINIMUM_DEPOSIT")
	ttl := gjson.GetBytes(body, "implemented_statutes.ANNOUNCER_VALUE_TTL")
	if !minDeposit.Exists() || !ttl.Exists() {
		return models.MStatutes{}, helpers.NewRPCError("statutes_list: announcer statutes missing", nil)
	}
	st := models.MStatutes{
		AnnouncerMinimumDeposit: minDeposit.Int(),
		AnnouncerValueTTL:       ttl.Int(),
	}
	if delta := gjson.GetBytes(body, "implemented_statutes.TREASURY_MINIMUM_DELTA"); delta.Exists() {
		v := delta.Int()
		st.TreasuryMinimumDelta = &v
	}
	return st, nil
}

func (c *CircuitRPCClient) StatutesAnnounce(ctx context.Context) (models.MTxResult, error) {
	return c.tx(ctx, "statutes_announce", nil)
}

// StatutesUpdate refreshes the Statutes price.
func (c *CircuitRPCClient) StatutesUpdate(ctx context.Context) (models.MTxResult, error) {
	return c.tx(ctx, "statutes_update", nil)
}

func (c *CircuitRPCClient) UpkeepBillsList(ctx context.Context, filter string) ([]models.MBillCoin, error) {
	body, err := c.call(ctx, "upkeep_bills_list", map[string]interface{}{filter: true})
	if err != nil {
		return nil, err
	}
	return decodeBillCoins("upkeep_bills_list", body)
}

func (c *CircuitRPCClient) UpkeepBillsVeto(ctx context.Context, target, vetoingCoin string) (models.MTxResult, error) {
	return c.tx(ctx, "upkeep_bills_veto", map[string]interface{}{
		"target_coin_name":  target,
		"vetoing_coin_name": vetoingCoin,
	})
}

func (c *CircuitRPCClient) BillsList(ctx context.Context, implementable bool) ([]models.MBillCoin, error) {
	body, err := c.call(ctx, "bills_list", map[string]interface{}{"implementable": implementable})
	if err != nil {
		return nil, err
	}
	return decodeBillCoins("bills_list", body)
}

func (c *CircuitRPCClient) BillsImplement(ctx context.Context, name string) (models.MTxResult, error) {
	return c.tx(ctx, "bills_implement", map[string]interface{}{"coin_name": name})
}

// decodeBillCoins flattens {name, amount, bill, status: {status, vetoable_until}} entries.
func decodeBillCoins(method string, body []byte) ([]models.MBillCoin, error) {
	res := gjson.ParseBytes(body)
	if !res.IsArray() {
		return nil, helpers.NewRPCError(method+": expected a list", nil)
	}

	out := make([]models.MBillCoin, 0, len(res.Array()))
	var err error
	res.ForEach(func(_, item gjson.Result) bool {
		coin := models.MBillCoin{
			Name:          item.Get("name").String(),
			Status:        item.Get("status.status").String(),
			Amount:        item.Get("amount").Int(),
			VetoableUntil: item.Get("status.vetoable_until").Int(),
		}
		if raw := item.Get("bill").Raw; raw != "" {
			if err = json.Unmarshal([]byte(raw), &coin.Bill); err != nil {
				err = helpers.NewRPCError(method+": decode bill", err)
				return false
			}
		}
		out = append(out, coin)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Vaults, treasury and wallet
// -----------------------------------------------------------------------------

func (c *CircuitRPCClient) UpkeepState(ctx context.Context) (models.MUpkeepState, error) {
	body, err := c.call(ctx, "upkeep_state", map[string]interface{}{"vaults": true})
	if err != nil {
		return models.MUpkeepState{}, err
	}
	return decode[models.MUpkeepState]("upkeep_state", body)
}

func (c *CircuitRPCClient) UpkeepVaultsList(ctx context.Context) ([]models.MVault, error) {
	body, err := c.call(ctx, "upkeep_vaults_list", nil)
	if err != nil {
		return nil, err
	}
	return decode[[]models.MVault]("upkeep_vaults_list", body)
}

func (c *CircuitRPCClient) UpkeepVaultsLiquidate(ctx context.Context, name string) (models.MTxResult, error) {
	return c.tx(ctx, "upkeep_vaults_liquidate", map[string]interface{}{"coin_name": name})
}

func (c *CircuitRPCClient) UpkeepVaultsRecover(ctx context.Context, name string) (models.MTxResult, error) {
	return c.tx(ctx, "upkeep_vaults_recover", map[string]interface{}{"coin_name": name})
}

func (c *CircuitRPCClient) UpkeepVaultsTransfer(ctx context.Context, name string) (models.MTxResult, error) {
	return c.tx(ctx, "upkeep_vaults_transfer", map[string]interface{}{"coin_name": name})
}

func (c *CircuitRPCClient) UpkeepTreasuryShow(ctx context.Context) (models.MTreasury, error) {
	body, err := c.call(ctx, "upkeep_treasury_show", nil)
	if err != nil {
		return models.MTreasury{}, err
	}
	return decode[models.MTreasury]("upkeep_treasury_show", body)
}

func (c *CircuitRPCClient) UpkeepTreasuryRebalance(ctx context.Context) (models.MTxResult, error) {
	return c.tx(ctx, "upkeep_treasury_rebalance", nil)
}

func (c *CircuitRPCClient) UpkeepSurplusStart(ctx context.Context) (models.MTxResult, error) {
	return c.tx(ctx, "upkeep_surplus_start", nil)
}

func (c *CircuitRPCClient) UpkeepRechargeList(ctx context.Context) ([]models.MRechargeAuction, error) {
	body, err := c.call(ctx, "upkeep_recharge_list", nil)
	if err != nil {
		return nil, err
	}
	return decode[[]models.MRechargeAuction]("upkeep_recharge_list", body)
}

func (c *CircuitRPCClient) UpkeepRechargeSettle(ctx context.Context, name string) (models.MTxResult, error) {
	return c.tx(ctx, "upkeep_recharge_settle", map[string]interface{}{"coin_name": name})
}

func (c *CircuitRPCClient) UpkeepRechargeStart(ctx context.Context, name string) (models.MTxResult, error) {
	return c.tx(ctx, "upkeep_recharge_start", map[string]interface{}{"coin_name": name})
}

func (c *CircuitRPCClient) SavingsShow(ctx context.Context) (models.MSavingsVault, error) {
	body, err := c.call(ctx, "savings_show", nil)
	if err != nil {
		return models.MSavingsVault{}, err
	}
	return decode[models.MSavingsVault]("savings_show", body)
}

// SavingsWithdraw withdraws amount from the savings vault. An amount of 0
// withdraws the accrued interest from the treasury.
func (c *CircuitRPCClient) SavingsWithdraw(ctx context.Context, amount int64) (models.MTxResult, error) {
	return c.tx(ctx, "savings_withdraw", map[string]interface{}{"amount": amount})
}

func (c *CircuitRPCClient) WalletBalances(ctx context.Context) (models.MWalletBalances, error) {
	body, err := c.call(ctx, "wallet_balances", nil)
	if err != nil {
		return models.MWalletBalances{}, err
	}
	xch := gjson.GetBytes(body, "xch")
	if !xch.Exists() {
		return models.MWalletBalances{}, helpers.NewRPCError("wallet_balances: no xch balance", nil)
	}
	return models.MWalletBalances{Xch: xch.Int()}, nil
}

// WalletCoins lists the wallet's coins of coinType, e.g. "all".
func (c *CircuitRPCClient) WalletCoins(ctx context.Context, coinType string) ([]models.MWalletCoin, error) {
	body, err := c.call(ctx, "wallet_coins", map[string]interface{}{"type": coinType})
	if err != nil {
		return nil, err
	}
	return decode[[]models.MWalletCoin]("wallet_coins", body)
}
