package swap

// Type indicates the direction of a swap.
type Type uint8

const (
	// TypeForward is a swap where we pay on-chain and receive off-chain.
	TypeForward Type = iota

	// TypeReverse is a swap where we pay off-chain and receive on-chain.
	TypeReverse
)

// TypeFromReverse maps the persisted reverse flag to a swap type.
func TypeFromReverse(isReverse bool) Type {
	if isReverse {
		return TypeReverse
	}

	return TypeForward
}

// IsReverse returns true for reverse swaps.
func (t Type) IsReverse() bool {
	return t == TypeReverse
}

func (t Type) String() string {
	switch t {
	case TypeForward:
		return "Forward"
	case TypeReverse:
		return "Reverse"
	default:
		return "Unknown"
	}
}
