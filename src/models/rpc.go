package models

// -----------------------------------------------------------------------------
// Typed views of Circuit RPC responses consumed by the keeper bots
// -----------------------------------------------------------------------------

// Bill statuses that count towards announcer configuration.
const (
	BillStatusInImplementationDelay = "IN_IMPLEMENTATION_DELAY"
	BillStatusImplementable         = "IMPLEMENTABLE"
)

// Bill filters understood by upkeep_bills_list.
const (
	BillsEnacted  = "enacted"
	BillsVetoable = "vetoable"
)

// RechargeStatusStandby marks a recharge auction coin ready to be started.
const RechargeStatusStandby = "STANDBY"

// Statute indices used by the announcer configure bot.
const (
	StatuteAnnouncerMinimumDeposit = 31
	StatuteAnnouncerValueTTL       = 32
)

type MAnnouncer struct {
	Name       string `json:"name"`
	LauncherID string `json:"launcher_id"`
	Approved   bool   `json:"approved"`
	Registered bool   `json:"registered"`
	Price      int64  `json:"price"` // price * 10^2
	Deposit    int64  `json:"deposit"`
	MinDeposit int64  `json:"min_deposit"`
	PriceTTL   int64  `json:"price_ttl"`
}

// MStatutes holds the implemented statutes the bots read. TreasuryMinimumDelta
// is nil when the server did not report it.
type MStatutes struct {
	AnnouncerMinimumDeposit int64  `json:"announcer_minimum_deposit"`
	AnnouncerValueTTL       int64  `json:"announcer_value_ttl"`
	TreasuryMinimumDelta    *int64 `json:"treasury_minimum_delta,omitempty"`
}

type MBill struct {
	StatuteIndex             int    `json:"statute_index"`
	StatuteName              string `json:"statute_name"`
	Value                    int64  `json:"value"`
	ThresholdAmountToPropose int64  `json:"threshold_amount_to_propose"`
	VetoInterval             int64  `json:"veto_interval"`
	ImplementationDelay      int64  `json:"implementation_delay"`
	MaxDelta                 int64  `json:"max_delta"`
}

// MBillCoin is a governance coin carrying a bill.
type MBillCoin struct {
	Name          string `json:"name"`
	Bill          MBill  `json:"bill"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	VetoableUntil int64  `json:"vetoable_until"`
}

// MWalletCoin is a governance coin of the keeper's wallet. BillHash is empty
// when the coin carries no proposal.
type MWalletCoin struct {
	Name     string `json:"name"`
	Amount   int64  `json:"amount"`
	BillHash string `json:"bill_hash"`
}

type MVault struct {
	Name          string `json:"name"`
	InLiquidation bool   `json:"in_liquidation"`
	InBadDebt     bool   `json:"in_bad_debt"`
}

type MUpkeepState struct {
	VaultsPendingLiquidation []MVault `json:"vaults_pending_liquidation"`
	VaultsWithBadDebt        []MVault `json:"vaults_with_bad_debt"`
}

type MTreasury struct {
	CanStartSurplusAuction  bool `json:"can_start_surplus_auction"`
	CanStartRechargeAuction bool `json:"can_start_recharge_auction"`
	CanRebalance            bool `json:"can_rebalance"`
}

type MRechargeAuction struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	IsExpired bool   `json:"is_expired"`
}

type MSavingsVault struct {
	Name            string `json:"name"`
	AccruedInterest int64  `json:"accrued_interest"`
}

// MRegistryRewardInfo tells whether announcer rewards can be distributed.
type MRegistryRewardInfo struct {
	ActionExecutable          bool  `json:"action_executable"`
	UpdatesUntilDistributable int64 `json:"statutes_price_updates_until_distributable"`
}

type MWalletBalances struct {
	Xch int64 `json:"xch"`
}

// MTxResult is the broadcast outcome of a submitted transaction. Message is
// set instead when the server declined the operation, e.g. for lack of a
// large enough treasury coin.
type MTxResult struct {
	Status   string   `json:"status"`
	NewCoins []string `json:"new_coins"`
	Message  string   `json:"message,omitempty"`
}

// MAnnouncerConfigure holds the optional announcer settings to change.
type MAnnouncerConfigure struct {
	Name       string `json:"coin_name"`
	MinDeposit *int64 `json:"min_deposit,omitempty"`
	Deposit    *int64 `json:"deposit,omitempty"`
	TTL        *int64 `json:"ttl,omitempty"`
}
