package engine

import (
	"math/big"
	"strings"

	"github.com/stepmesh/proof-engine/internal/mesh"
)

// Reward halves per level: reward(level) = 1 / 2^(level-1) STEP, stored as
// integer micro-STEP (6 decimals). Division by a power of two floors
// exactly, so levels 1..20 are 1000000 >> (level-1). That formula rounds
// level 21 to zero; the engine mints one micro-STEP there instead so the
// deepest cells are never free to farm against the audit log.
const microPerStep = 1_000_000

// RewardMicro returns the micro-STEP reward for a click at a level.
func RewardMicro(level int) int64 {
	if level < 1 || level > mesh.MaxLevel {
		return 0
	}
	if micro := int64(microPerStep) >> (level - 1); micro > 0 {
		return micro
	}
	return 1
}

// FormatStep renders a micro-STEP amount as a decimal STEP string with
// trailing zeros trimmed ("976" micro -> "0.000976", 1500000 -> "1.5").
func FormatStep(micro *big.Int) string {
	q, r := new(big.Int).QuoRem(micro, big.NewInt(microPerStep), new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	frac := strings.TrimRight(r.Add(r, big.NewInt(microPerStep)).String()[1:], "0")
	return q.String() + "." + frac
}
