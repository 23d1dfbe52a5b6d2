package labels

import "fmt"

const (
	// txLabelPattern is the pattern used to label on-chain transactions
	// in the wallet backend.
	txLabelPattern = "subswap -- %s(swap=%s)"

	// forwardFunding labels the lockup transaction of a forward swap.
	forwardFunding = "ForwardFunding"

	// forwardRefund labels the timeout spend of a forward swap.
	forwardRefund = "ForwardRefund"

	// reverseClaim labels the preimage spend of a reverse swap.
	reverseClaim = "ReverseClaim"
)

// ForwardFunding returns the label of the lockup transaction of a forward
// swap.
func ForwardFunding(swapHash string) string {
	return fmt.Sprintf(txLabelPattern, forwardFunding, swapHash)
}

// ForwardRefund returns the label of the refund of a timed out forward
// swap.
func ForwardRefund(swapHash string) string {
	return fmt.Sprintf(txLabelPattern, forwardRefund, swapHash)
}

// ReverseClaim returns the label of the claim of a reverse swap.
func ReverseClaim(swapHash string) string {
	return fmt.Sprintf(txLabelPattern, reverseClaim, swapHash)
}

// Spend returns the claim or refund label for the given direction.
func Spend(isReverse bool, swapHash string) string {
	if isReverse {
		return ReverseClaim(swapHash)
	}

	return ForwardRefund(swapHash)
}
