package swap

import (
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// FeeRateTotalParts defines the granularity of the fee rate.
	// Throughout the codebase, we'll use fix based arithmetic to compute
	// fees.
	FeeRateTotalParts = 1e6

	// ClaimTxVSize is the virtual size we budget for both reverse swap
	// claims and forward swap refunds.
	ClaimTxVSize = 136

	// DefaultMinAmount is the lower provider limit used until limits are
	// fetched from the server.
	DefaultMinAmount btcutil.Amount = 10_000

	// DefaultMaxAmount is the upper provider limit used until limits are
	// fetched from the server.
	DefaultMaxAmount btcutil.Amount = 10_000_000

	// DefaultDustLimit is the smallest reverse swap lockup amount left
	// after fees that we accept.
	DefaultDustLimit btcutil.Amount = 546
)

var (
	// ErrAmountOutOfRange is returned when an amount falls outside the
	// provider limits or nets less than dust.
	ErrAmountOutOfRange = errors.New("amount out of range")

	// ErrFeeCalcInvariant signals that converting an amount and back
	// did not reproduce it. This is a bug, never a user error.
	ErrFeeCalcInvariant = errors.New("fee calculation invariant violated")
)

// FeeRateFromPercentage converts a percentage as quoted by the server to
// parts per million.
func FeeRateFromPercentage(percentage float64) int64 {
	return int64(math.Round(percentage * FeeRateTotalParts / 100))
}

// FeeRateAsPercentage converts a feerate to a percentage.
func FeeRateAsPercentage(feeRate int64) float64 {
	return float64(feeRate) / (FeeRateTotalParts / 100)
}

// Calculator converts between the amount we send and the amount we receive
// for both swap directions given the server's fee schedule. Fees charged to
// us round up, amounts we net round down.
type Calculator struct {
	// FeeRate is the proportional server fee in parts per million.
	FeeRate int64

	// NormalFee is the miner fee the server charges on forward swaps.
	NormalFee btcutil.Amount

	// LockupFee is the miner fee the server charges for the reverse swap
	// lockup.
	LockupFee btcutil.Amount

	// MinAmount and MaxAmount are the provider limits.
	MinAmount btcutil.Amount
	MaxAmount btcutil.Amount

	// ClaimFee is what our own reverse swap claim transaction costs.
	ClaimFee btcutil.Amount

	// DustLimit is the smallest reverse swap lockup we accept.
	DustLimit btcutil.Amount
}

// Validate checks that the calculator can be used.
func (c *Calculator) Validate() error {
	if c.FeeRate < 0 || c.FeeRate >= FeeRateTotalParts {
		return fmt.Errorf("invalid fee rate %v ppm", c.FeeRate)
	}

	if c.MinAmount > c.MaxAmount {
		return fmt.Errorf("min amount %v above max amount %v",
			c.MinAmount, c.MaxAmount)
	}

	return nil
}

// RecvAmount returns the amount we receive when sending the given amount.
// For reverse swaps the result is net of our claim transaction fee.
func (c *Calculator) RecvAmount(send btcutil.Amount,
	isReverse bool) (btcutil.Amount, error) {

	recv, err := c.recvAmount(send, isReverse)
	if err != nil {
		return 0, err
	}

	inverted := c.sendForRecv(recv, isReverse)
	if absDiff(send, inverted) > 1 {
		return 0, fmt.Errorf("%w: send %v -> recv %v -> send %v",
			ErrFeeCalcInvariant, send, recv, inverted)
	}

	if isReverse {
		recv -= c.ClaimFee
		if recv <= 0 {
			return 0, fmt.Errorf("%w: claim fee %v exceeds "+
				"lockup amount", ErrAmountOutOfRange,
				c.ClaimFee)
		}
	}

	return recv, nil
}

// SendAmount returns the amount we need to send to receive the given amount.
// For reverse swaps the receive amount is taken net of our claim transaction
// fee.
func (c *Calculator) SendAmount(recv btcutil.Amount,
	isReverse bool) (btcutil.Amount, error) {

	if isReverse {
		recv += c.ClaimFee
	}

	send, err := c.sendAmount(recv, isReverse)
	if err != nil {
		return 0, err
	}

	inverted := c.recvForSend(send, isReverse)
	if absDiff(recv, inverted) > 1 {
		return 0, fmt.Errorf("%w: recv %v -> send %v -> recv %v",
			ErrFeeCalcInvariant, recv, send, inverted)
	}

	return send, nil
}

// MaxForwardSendAmount returns the largest on-chain amount a forward swap
// can lock up given how much we are able to receive off-chain. False is
// returned if no forward swap fits.
func (c *Calculator) MaxForwardSendAmount(
	canReceive btcutil.Amount) (btcutil.Amount, bool) {

	maxRecv := c.MaxAmount
	if canReceive < maxRecv {
		maxRecv = canReceive
	}

	maxSend, err := c.SendAmount(maxRecv, false)
	if err != nil {
		return 0, false
	}

	minSend, err := c.SendAmount(c.MinAmount, false)
	if err != nil || maxSend < minSend {
		return 0, false
	}

	return maxSend, true
}

// recvAmount applies the provider limits around recvForSend. Reverse swaps
// are checked before fees are deducted, forward swaps after.
func (c *Calculator) recvAmount(send btcutil.Amount,
	isReverse bool) (btcutil.Amount, error) {

	if isReverse {
		if err := c.checkLimits(send); err != nil {
			return 0, err
		}

		recv := c.recvForSend(send, true)
		if recv < c.DustLimit {
			return 0, fmt.Errorf("%w: %v below dust limit %v",
				ErrAmountOutOfRange, recv, c.DustLimit)
		}

		return recv, nil
	}

	recv := c.recvForSend(send, false)
	if err := c.checkLimits(recv); err != nil {
		return 0, err
	}

	return recv, nil
}

// sendAmount applies the provider limits around sendForRecv.
func (c *Calculator) sendAmount(recv btcutil.Amount,
	isReverse bool) (btcutil.Amount, error) {

	if isReverse {
		send := c.sendForRecv(recv, true)
		if err := c.checkLimits(send); err != nil {
			return 0, err
		}

		return send, nil
	}

	if err := c.checkLimits(recv); err != nil {
		return 0, err
	}

	return c.sendForRecv(recv, false), nil
}

// recvForSend is the unbounded fee deduction.
func (c *Calculator) recvForSend(send btcutil.Amount,
	isReverse bool) btcutil.Amount {

	rate := uint64(c.FeeRate)

	if isReverse {
		fee := mulDiv(send, rate, FeeRateTotalParts, true)
		return send - fee - c.LockupFee
	}

	// The proportional fee is taken from the remainder such that adding
	// it back on the send side lands on the same amount.
	x := send - c.NormalFee
	fee := mulDiv(x, rate, FeeRateTotalParts+rate, true)

	return x - fee
}

// sendForRecv is the unbounded inverse of recvForSend.
func (c *Calculator) sendForRecv(recv btcutil.Amount,
	isReverse bool) btcutil.Amount {

	rate := uint64(c.FeeRate)

	if isReverse {
		x := recv + c.LockupFee
		return mulDiv(x, FeeRateTotalParts, FeeRateTotalParts-rate, true)
	}

	fee := mulDiv(recv, rate, FeeRateTotalParts, true)

	return recv + fee + c.NormalFee
}

func (c *Calculator) checkLimits(amt btcutil.Amount) error {
	if amt < c.MinAmount || amt > c.MaxAmount {
		return fmt.Errorf("%w: %v not within [%v, %v]",
			ErrAmountOutOfRange, amt, c.MinAmount, c.MaxAmount)
	}

	return nil
}

// mulDiv returns x*num/den rounded up or down. The product is computed in
// 128 bits. Results that do not fit an amount saturate.
func mulDiv(x btcutil.Amount, num, den uint64, roundUp bool) btcutil.Amount {
	negative := x < 0
	if negative {
		x = -x
		roundUp = !roundUp
	}

	hi, lo := bits.Mul64(uint64(x), num)
	if hi >= den {
		return saturate(negative)
	}

	quo, rem := bits.Div64(hi, lo, den)
	if roundUp && rem != 0 {
		quo++
	}
	if quo > math.MaxInt64 {
		return saturate(negative)
	}

	if negative {
		return -btcutil.Amount(quo)
	}

	return btcutil.Amount(quo)
}

func saturate(negative bool) btcutil.Amount {
	if negative {
		return math.MinInt64 + 1
	}

	return math.MaxInt64
}

func absDiff(a, b btcutil.Amount) btcutil.Amount {
	if a > b {
		return a - b
	}

	return b - a
}
