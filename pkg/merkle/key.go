package merkle

// Key selects which domain-separation tag a compression function call uses,
// per spec §3/§4.2.
type Key byte

const (
	// KeyNone is used for ordinary pairs above layer 0.
	KeyNone Key = iota
	// KeyBottomLayer is used for ordinary pairs at layer 0.
	KeyBottomLayer
	// KeyOdd is used for an unpaired last node above layer 0.
	KeyOdd
	// KeyOddAndBottomLayer is used for an unpaired last node at layer 0.
	KeyOddAndBottomLayer
)

func (k Key) String() string {
	switch k {
	case KeyNone:
		return "None"
	case KeyBottomLayer:
		return "BottomLayer"
	case KeyOdd:
		return "Odd"
	case KeyOddAndBottomLayer:
		return "OddAndBottomLayer"
	default:
		return "Invalid"
	}
}
