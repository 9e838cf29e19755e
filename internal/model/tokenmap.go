package model

import "time"

// TokenMap is the bijective pairing between source-side and target-side
// asset identities (spec §3).
type TokenMap struct {
	SourceToken string
	TargetToken string
	Symbol      string

	SourceDecimals int
	TargetDecimals int

	DepositEnabled    bool
	WithdrawalEnabled bool

	MinPerTx string
	MaxPerTx string
	// DailyCap is the rolling per-day cap; enforced only when
	// safety.daily_cap_enabled is set (spec §6).
	DailyCap string

	// Running totals, statistics columns mutable after creation (spec §3
	// lifecycle: "read-only after creation except for statistics columns").
	TotalDeposited string
	TotalWithdrawn string
	DailyDeposited string
	DailyWithdrawn string
	DailyResetAt   time.Time
}
