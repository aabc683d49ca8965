package worldgen

const (
	lcgMultiplier = int64(1103515245)
	lcgIncrement  = int64(12345)
	lcgModulus    = int64(1) << 31
)

// LCG is the pseudo-random sequence behind all world content. The
// constants and reduction rules are a public contract shared with every
// client implementation; changing them re-rolls the entire universe.
type LCG struct {
	state int64
}

func NewLCG(seed int64) *LCG {
	return &LCG{state: seed}
}

// Next advances the generator and returns a value in [0, 2^31). The
// multiply may wrap 64-bit state; masking the low 31 bits afterwards is
// exactly the mod-2^31 reduction, so seeding from any 64-bit value is
// well defined.
func (g *LCG) Next() int64 {
	g.state = (g.state*lcgMultiplier + lcgIncrement) & (lcgModulus - 1)
	return g.state
}

// Intn reduces the next draw modulo n.
func (g *LCG) Intn(n int) int {
	return int(g.Next() % int64(n))
}

// Float64 scales the next draw to [0, 1).
func (g *LCG) Float64() float64 {
	return float64(g.Next()) / float64(lcgModulus)
}
