package engine

// Draw returns a reproducible uniform value in [0,1) for a per-tick seed and
// a string modifier. The algorithm is fixed and must stay bit-for-bit stable
// across implementations: the modifier is folded into a bounded hash, mixed
// with the seed through an LCG step on wrapping 64-bit arithmetic, then
// reduced to a fixed range.
func Draw(seed int64, modifier string) float64 {
	const (
		hashMod   = 1_000_000_007
		mixMul    = 6364136223846793005
		mixInc    = 1442695040888963407
		drawRange = 1_000_000
	)

	var h uint64
	for _, c := range modifier {
		h = (h*31 + uint64(c)) % hashMod
	}

	combined := (uint64(seed)^h)*mixMul + mixInc
	return float64(combined%drawRange) / drawRange
}

// TickSeed derives the per-tick seed from the world seed. Kept here so every
// process (engine, tests, replays) agrees on the derivation.
func TickSeed(worldSeed int64, tick uint64) int64 {
	return worldSeed + int64(tick)
}
