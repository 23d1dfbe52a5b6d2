package labels

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lightninglabs/subswap/swap"
)

const (
	// MaxLength is the maximum length we allow for labels.
	MaxLength = 500

	// Reserved is used as a prefix to separate labels that are created by
	// the swap manager from those created by users.
	Reserved = "[reserved]"
)

var (
	// ErrLabelTooLong is returned when a label exceeds our length limit.
	ErrLabelTooLong = errors.New("label exceeds maximum length")

	// ErrReservedPrefix is returned when a label contains the prefix
	// which is reserved for internally produced labels.
	ErrReservedPrefix = errors.New("label contains reserved prefix")
)

// Validate checks that a user supplied label is of appropriate length and
// does not claim the reserved prefix.
func Validate(label string) error {
	if len(label) > MaxLength {
		return ErrLabelTooLong
	}

	// Only the prefix is reserved, the same string elsewhere in a label
	// is fine.
	if strings.HasPrefix(label, Reserved) {
		return ErrReservedPrefix
	}

	return nil
}

// SwapLabel returns the reserved label of a swap initiated with an
// optional user label.
func SwapLabel(swapType swap.Type, userLabel string) string {
	if userLabel == "" {
		return fmt.Sprintf("%v: %v swap", Reserved, swapType)
	}

	return fmt.Sprintf("%v: %v swap %v", Reserved, swapType, userLabel)
}
