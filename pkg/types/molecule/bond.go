package molecule

import "fmt"

// BondType is the order of a bond. It is persisted as one signed byte.
type BondType int8

const (
	BondUnknown         BondType = -1
	BondSingle          BondType = 0
	BondDouble          BondType = 1
	BondTriple          BondType = 2
	BondQuadruple       BondType = 3
	BondDashed          BondType = 4
	BondSingleAndDashed BondType = 5
	BondDashedAndSingle BondType = 6
)

var bondNames = map[BondType]string{
	BondUnknown:         "unknown",
	BondSingle:          "single",
	BondDouble:          "double",
	BondTriple:          "triple",
	BondQuadruple:       "quadruple",
	BondDashed:          "dashed",
	BondSingleAndDashed: "single_and_dashed",
	BondDashedAndSingle: "dashed_and_single",
}

func (b BondType) String() string {
	if n, ok := bondNames[b]; ok {
		return n
	}
	return fmt.Sprintf("BondType(%d)", int8(b))
}

// Valid reports whether b is one of the declared bond types.
func (b BondType) Valid() bool {
	_, ok := bondNames[b]
	return ok
}

// Order is the bond's contribution to atom valence. Aromatic-like
// single-and-dashed bonds count as 1.5, rounded down by callers that need
// integers; unknown counts as 1.
func (b BondType) Order() float64 {
	switch b {
	case BondDouble:
		return 2
	case BondTriple:
		return 3
	case BondQuadruple:
		return 4
	case BondDashed:
		return 0.5
	case BondSingleAndDashed, BondDashedAndSingle:
		return 1.5
	default:
		return 1
	}
}
