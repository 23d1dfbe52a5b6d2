package subswap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightninglabs/subswap/swap"
	"github.com/lightninglabs/subswap/swapserver"
	"github.com/lightninglabs/subswap/sweep"
	"github.com/lightningnetwork/lnd/ticker"
)

// PairsConfig is the fee schedule and limits of the swap server.
type PairsConfig struct {
	// FeeRate is the proportional fee in parts per million.
	FeeRate int64

	// NormalFee is the miner fee charged on forward swaps.
	NormalFee btcutil.Amount

	// LockupFee is the miner fee charged for reverse swap lockups.
	LockupFee btcutil.Amount

	// MinAmount and MaxAmount are the swap limits.
	MinAmount btcutil.Amount
	MaxAmount btcutil.Amount
}

// defaultPairs is used until the server was asked for the first time.
func defaultPairs() PairsConfig {
	return PairsConfig{
		MinAmount: swap.DefaultMinAmount,
		MaxAmount: swap.DefaultMaxAmount,
	}
}

func pairsFromServer(pair *swapserver.Pair) PairsConfig {
	fees := pair.Fees.MinerFees.BaseAsset

	return PairsConfig{
		FeeRate:   swap.FeeRateFromPercentage(pair.Fees.Percentage),
		NormalFee: btcutil.Amount(fees.Normal),
		LockupFee: btcutil.Amount(fees.Reverse.Lockup),
		MinAmount: btcutil.Amount(pair.Limits.Minimal),
		MaxAmount: btcutil.Amount(pair.Limits.Maximal),
	}
}

func (m *Manager) pairsFile() string {
	return filepath.Join(m.cfg.DataDir, pairsFileName)
}

// RefreshPairs fetches the fee schedule from the server and caches it on
// disk.
func (m *Manager) RefreshPairs(ctx context.Context) error {
	raw, err := m.cfg.Server.GetPairs(ctx)
	if err != nil {
		return err
	}

	pair, err := swapserver.ParsePairs(raw, m.cfg.PairID)
	if err != nil {
		return err
	}

	if m.cfg.DataDir != "" {
		err := os.WriteFile(m.pairsFile(), raw, 0600)
		if err != nil {
			return fmt.Errorf("unable to cache pairs: %w", err)
		}
	}

	pairs := pairsFromServer(pair)

	m.mu.Lock()
	m.pairs = pairs
	m.mu.Unlock()

	log.Debugf("Refreshed pairs: fee %v%%, limits [%v, %v]",
		swap.FeeRateAsPercentage(pairs.FeeRate), pairs.MinAmount,
		pairs.MaxAmount)

	return nil
}

// LoadPairsCache loads the fee schedule cached by the last refresh. The
// defaults stay in place if there is no usable cache.
func (m *Manager) LoadPairsCache() {
	pairs := defaultPairs()
	defer func() {
		m.mu.Lock()
		m.pairs = pairs
		m.mu.Unlock()
	}()

	if m.cfg.DataDir == "" {
		return
	}

	raw, err := os.ReadFile(m.pairsFile())
	if err != nil {
		log.Debugf("No pairs cache, using default limits: %v", err)
		return
	}

	pair, err := swapserver.ParsePairs(raw, m.cfg.PairID)
	if err != nil {
		log.Warnf("Ignoring pairs cache: %v", err)
		return
	}

	pairs = pairsFromServer(pair)
}

// Pairs returns the current fee schedule.
func (m *Manager) Pairs() PairsConfig {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.pairs
}

// Calculator returns a fee calculator for the current fee schedule and
// claim fee estimate.
func (m *Manager) Calculator(ctx context.Context) (*swap.Calculator,
	error) {

	feeRate, err := m.cfg.FeeEstimator.EstimateFeeRate(
		ctx, m.cfg.ClaimConfTarget,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to estimate claim fee: %w", err)
	}

	pairs := m.Pairs()
	calc := &swap.Calculator{
		FeeRate:   pairs.FeeRate,
		NormalFee: pairs.NormalFee,
		LockupFee: pairs.LockupFee,
		MinAmount: pairs.MinAmount,
		MaxAmount: pairs.MaxAmount,
		ClaimFee:  sweep.ClaimFee(feeRate),
		DustLimit: swap.DefaultDustLimit,
	}
	if err := calc.Validate(); err != nil {
		return nil, err
	}

	return calc, nil
}

// GetRecvAmount returns what we receive when sending send. Reverse swap
// amounts are net of the claim fee.
func (m *Manager) GetRecvAmount(ctx context.Context, send btcutil.Amount,
	isReverse bool) (btcutil.Amount, error) {

	calc, err := m.Calculator(ctx)
	if err != nil {
		return 0, err
	}

	return calc.RecvAmount(send, isReverse)
}

// GetSendAmount returns what we need to send to receive recv.
func (m *Manager) GetSendAmount(ctx context.Context, recv btcutil.Amount,
	isReverse bool) (btcutil.Amount, error) {

	calc, err := m.Calculator(ctx)
	if err != nil {
		return 0, err
	}

	return calc.SendAmount(recv, isReverse)
}

// MaxForwardSendAmount returns the largest forward swap we can do given
// how much we can receive off-chain. False is returned if no forward swap
// is possible.
func (m *Manager) MaxForwardSendAmount(ctx context.Context,
	canReceive btcutil.Amount) (btcutil.Amount, bool, error) {

	calc, err := m.Calculator(ctx)
	if err != nil {
		return 0, false, err
	}

	amt, ok := calc.MaxForwardSendAmount(canReceive)

	return amt, ok, nil
}

func (m *Manager) refreshPairsLoop(ctx context.Context) {
	defer m.wg.Done()

	t := ticker.New(m.cfg.PairsRefreshInterval)
	t.Resume()
	defer t.Stop()

	for {
		select {
		case <-t.Ticks():
			if err := m.RefreshPairs(ctx); err != nil {
				log.Warnf("Unable to refresh pairs: %v", err)
			}

		case <-ctx.Done():
			return
		}
	}
}
