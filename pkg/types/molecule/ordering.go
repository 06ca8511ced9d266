package molecule

import (
	"sort"
	"strings"
)

// electronegativityOrder lists every element by increasing Pauling
// electronegativity. Elements without a measured value are placed by their
// group neighbours; noble gases He, Ne, Ar close the list.
var electronegativityOrder = mustParseOrder(`
Fr Cs K Rb Ba Ra Na Sr Li Ca Ac La Tb Yb Ce Am Pm Pr Nd Sm Eu Gd Dy Y Ho Er
Tm Lu Cm Pu Bk Cf Es Fm Hf Rf Lr Md No Th Mg Zr Np Sc U Pa Ta Db Ti Mn Be Nb
Al Tl Nh V Zn Cr Cd In Ga Fe Pb Fl Co Cu Re Bh Si Tc Ni Ag Sn Hg Cn Po Lv Ge
Bi Mc B Sb Te Mo As P At Ts H Ir Mt Os Og Hs Pd Rn Ru Pt Ds Rh W Sg Au Rg C
Se S Xe I Br Kr N Cl O F Ar Ne He`)

var orderings = func() map[FormulaOrdering][]Element {
	alpha := make([]Element, 0, ElementMax-1)
	for e := H; e < ElementMax; e++ {
		alpha = append(alpha, e)
	}
	sort.Slice(alpha, func(i, j int) bool { return alpha[i].Symbol() < alpha[j].Symbol() })

	hill := []Element{C, H}
	hydro := []Element{H}
	for _, e := range alpha {
		if e != C && e != H {
			hill = append(hill, e)
		}
		if e != H && e != O {
			hydro = append(hydro, e)
		}
	}
	hydro = append(hydro, O)

	reversed := make([]Element, len(electronegativityOrder))
	for i, e := range electronegativityOrder {
		reversed[len(reversed)-1-i] = e
	}

	return map[FormulaOrdering][]Element{
		OrderingHill:                      hill,
		OrderingHydrogenFirstOxygenLast:   hydro,
		OrderingElectronegativity:         electronegativityOrder,
		OrderingElectronegativityReversed: reversed,
	}
}()

// Elements returns the element sequence for o. The slice is shared and must
// not be modified.
func (o FormulaOrdering) Elements() []Element {
	if seq, ok := orderings[o]; ok {
		return seq
	}
	return orderings[OrderingHill]
}

func mustParseOrder(s string) []Element {
	fields := strings.Fields(s)
	out := make([]Element, 0, len(fields))
	for _, f := range fields {
		e, ok := ParseElement(f)
		if !ok {
			panic("molecule: unknown element in ordering table: " + f)
		}
		out = append(out, e)
	}
	return out
}
