package subswap

import (
	"errors"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/subswap/swapdb"
	"github.com/lightninglabs/subswap/swapserver"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// MaxForwardLocktimeDelta bounds how long our funds may be locked
	// up in a forward swap.
	MaxForwardLocktimeDelta = 144

	// MinReverseLocktimeDelta is the minimum number of blocks we need
	// to get a reverse swap claim confirmed.
	MinReverseLocktimeDelta = 60

	// RedeemAfterDoubleSpentDelay is the depth after which a spent
	// lockup output is considered final.
	RedeemAfterDoubleSpentDelay = 30

	// DefaultPaymentAttempts is the number of attempts made to pay a
	// reverse swap invoice.
	DefaultPaymentAttempts = 10

	// DefaultClaimConfTarget is the confirmation target of claims and
	// refunds.
	DefaultClaimConfTarget = 6

	// DefaultFundingConfTarget is the confirmation target of forward
	// swap funding transactions.
	DefaultFundingConfTarget = 6

	// DefaultFundingPollInterval is the interval at which a reverse
	// swap checks whether its lockup output was claimed.
	DefaultFundingPollInterval = time.Second

	// DefaultPairsRefreshInterval is the interval at which the fee
	// schedule is refreshed.
	DefaultPairsRefreshInterval = 10 * time.Minute

	// pairsFileName is the name of the fee schedule cache file.
	pairsFileName = "swap_pairs"
)

// Config holds the collaborators and settings of the swap manager.
type Config struct {
	ChainView    ChainView
	Wallet       Wallet
	Lightning    Lightning
	Server       SwapServer
	Broadcaster  Broadcaster
	FeeEstimator FeeEstimator
	Watcher      Watcher
	Store        swapdb.Store

	// ChainParams are the parameters of the chain we swap on.
	ChainParams *chaincfg.Params

	// DataDir holds the fee schedule cache.
	DataDir string

	// PairID is the pair swaps are requested for.
	PairID string

	// AllowInstantSwaps allows broadcasting reverse swap claims of
	// unconfirmed lockup outputs.
	AllowInstantSwaps bool

	// PairsRefreshInterval is the interval of fee schedule refreshes.
	PairsRefreshInterval time.Duration

	// FundingPollInterval is the interval of the claim check of reverse
	// swaps.
	FundingPollInterval time.Duration

	// ClaimConfTarget is the confirmation target of claims and refunds.
	ClaimConfTarget int32

	// FundingConfTarget is the confirmation target of forward swap
	// funding transactions.
	FundingConfTarget int32

	// PaymentAttempts bounds the attempts to pay reverse swap invoices.
	PaymentAttempts int

	// Clock is used for timestamps.
	Clock clock.Clock
}

// validate checks the config and fills in defaults.
func (c *Config) validate() error {
	if c.ChainParams == nil {
		return errors.New("chain params required")
	}

	if c.PairID == "" {
		c.PairID = swapserver.DefaultPairID
	}
	if c.PairsRefreshInterval <= 0 {
		c.PairsRefreshInterval = DefaultPairsRefreshInterval
	}
	if c.FundingPollInterval <= 0 {
		c.FundingPollInterval = DefaultFundingPollInterval
	}
	if c.ClaimConfTarget <= 0 {
		c.ClaimConfTarget = DefaultClaimConfTarget
	}
	if c.FundingConfTarget <= 0 {
		c.FundingConfTarget = DefaultFundingConfTarget
	}
	if c.PaymentAttempts <= 0 {
		c.PaymentAttempts = DefaultPaymentAttempts
	}
	if c.Clock == nil {
		c.Clock = clock.NewDefaultClock()
	}

	return nil
}

// validateRunning checks the collaborators needed to run swaps.
func (c *Config) validateRunning() error {
	switch {
	case c.ChainView == nil:
		return errors.New("chain view required")

	case c.Wallet == nil:
		return errors.New("wallet required")

	case c.Lightning == nil:
		return errors.New("lightning required")

	case c.Server == nil:
		return errors.New("swap server required")

	case c.Broadcaster == nil:
		return errors.New("broadcaster required")

	case c.FeeEstimator == nil:
		return errors.New("fee estimator required")

	case c.Watcher == nil:
		return errors.New("watcher required")

	case c.Store == nil:
		return errors.New("store required")
	}

	return nil
}
