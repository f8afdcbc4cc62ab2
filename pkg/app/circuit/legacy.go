package circuit

// LegacyOrder is one side of the single-payload variant, where the caller
// already knows which order buys and which sells.
type LegacyOrder struct {
	Price    uint64
	Volume   uint64
	TraderID uint64
}

// MatchBatch carries both sides in one encrypted payload.
type MatchBatch struct {
	Buy  LegacyOrder
	Sell LegacyOrder
}

type LegacyResult struct {
	IsMatched  uint64 // 1 matched, 0 not
	ExecPrice  uint64
	ExecVolume uint64
	WinnerID   uint64 // buyer's trader id when matched
}

// MatchLegacy is the simplified single-payload mode: sides are fixed by
// position, there is no minimum fill, and both volumes must be non-zero.
// New flows use Match.
func MatchLegacy(b MatchBatch) LegacyResult {
	canMatch := geBit(b.Buy.Price, b.Sell.Price) &
		(eqBit(b.Buy.Volume, 0) ^ 1) &
		(eqBit(b.Sell.Volume, 0) ^ 1)

	mid := midpoint(b.Buy.Price, b.Sell.Price)
	vol := minU64(b.Buy.Volume, b.Sell.Volume)

	return LegacyResult{
		IsMatched:  canMatch,
		ExecPrice:  selectU64(canMatch, mid, 0),
		ExecVolume: selectU64(canMatch, vol, 0),
		WinnerID:   selectU64(canMatch, b.Buy.TraderID, 0),
	}
}
