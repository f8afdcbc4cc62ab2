package circuit

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

// reference is the same decision written with ordinary branches.
func reference(maker, taker OrderData) TradeResult {
	if maker.Side > 1 || taker.Side > 1 || maker.Side+taker.Side != 1 {
		return TradeResult{}
	}
	buy, sell := maker, taker
	if maker.Side == SideSell {
		buy, sell = taker, maker
	}
	if buy.Price < sell.Price {
		return TradeResult{}
	}
	vol := maker.Volume
	if taker.Volume < vol {
		vol = taker.Volume
	}
	if vol < maker.MinExecQty || vol < taker.MinExecQty {
		return TradeResult{}
	}
	mid := (buy.Price/2 + sell.Price/2) + (buy.Price & sell.Price & 1)
	return TradeResult{IsExecuted: true, ExecPrice: mid, ExecVolume: vol}
}

func TestMatchScenarios(t *testing.T) {
	tests := []struct {
		name         string
		maker, taker OrderData
		want         TradeResult
	}{
		{
			name:  "A: buy maker crosses sell taker at midpoint",
			maker: OrderData{Price: 100, Volume: 50, Side: SideBuy, MinExecQty: 10},
			taker: OrderData{Price: 90, Volume: 30, Side: SideSell, MinExecQty: 10},
			want:  TradeResult{IsExecuted: true, ExecPrice: 95, ExecVolume: 30},
		},
		{
			name:  "B: buy below sell",
			maker: OrderData{Price: 80, Volume: 10, Side: SideBuy},
			taker: OrderData{Price: 90, Volume: 10, Side: SideSell},
			want:  TradeResult{},
		},
		{
			name:  "C: fill below maker minimum",
			maker: OrderData{Price: 100, Volume: 5, Side: SideBuy, MinExecQty: 10},
			taker: OrderData{Price: 90, Volume: 20, Side: SideSell, MinExecQty: 1},
			want:  TradeResult{},
		},
		{
			name:  "D: two sells",
			maker: OrderData{Price: 100, Volume: 50, Side: SideSell},
			taker: OrderData{Price: 10, Volume: 50, Side: SideSell},
			want:  TradeResult{},
		},
		{
			name:  "sell maker, buy taker",
			maker: OrderData{Price: 90, Volume: 30, Side: SideSell, MinExecQty: 30},
			taker: OrderData{Price: 101, Volume: 70, Side: SideBuy},
			want:  TradeResult{IsExecuted: true, ExecPrice: 95, ExecVolume: 30},
		},
		{
			name:  "equal limits trade at the limit",
			maker: OrderData{Price: 7, Volume: 1, Side: SideBuy},
			taker: OrderData{Price: 7, Volume: 1, Side: SideSell},
			want:  TradeResult{IsExecuted: true, ExecPrice: 7, ExecVolume: 1},
		},
		{
			name:  "two buys",
			maker: OrderData{Price: 100, Volume: 50, Side: SideBuy},
			taker: OrderData{Price: 90, Volume: 50, Side: SideBuy},
			want:  TradeResult{},
		},
		{
			name:  "out of range sides that wrap to one",
			maker: OrderData{Price: 100, Volume: 50, Side: math.MaxUint64},
			taker: OrderData{Price: 90, Volume: 50, Side: 2},
			want:  TradeResult{},
		},
		{
			name:  "midpoint does not overflow",
			maker: OrderData{Price: math.MaxUint64, Volume: 1, Side: SideBuy},
			taker: OrderData{Price: math.MaxUint64 - 2, Volume: 1, Side: SideSell},
			want:  TradeResult{IsExecuted: true, ExecPrice: math.MaxUint64 - 1, ExecVolume: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Match(tt.maker, tt.taker))
		})
	}
}

func TestMatchAgreesWithReference(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	small := func() uint64 { return rng.Uint64N(200) }

	for i := 0; i < 20000; i++ {
		maker := OrderData{Price: small(), Volume: small(), Side: rng.Uint64N(3), MinExecQty: small()}
		taker := OrderData{Price: small(), Volume: small(), Side: rng.Uint64N(3), MinExecQty: small()}
		got := Match(maker, taker)
		require.Equal(t, reference(maker, taker), got, "maker=%+v taker=%+v", maker, taker)
	}
}

func TestMatchProperties(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for i := 0; i < 5000; i++ {
		a := OrderData{Price: rng.Uint64(), Volume: rng.Uint64N(1000), Side: rng.Uint64N(2), MinExecQty: rng.Uint64N(500)}
		b := OrderData{Price: rng.Uint64(), Volume: rng.Uint64N(1000), Side: rng.Uint64N(2), MinExecQty: rng.Uint64N(500)}
		r := Match(a, b)

		if a.Side == b.Side {
			require.False(t, r.IsExecuted, "equal sides must never trade")
		}
		if !r.IsExecuted {
			require.Zero(t, r.ExecPrice)
			require.Zero(t, r.ExecVolume)
			continue
		}

		buy, sell := a, b
		if a.Side == SideSell {
			buy, sell = b, a
		}
		require.GreaterOrEqual(t, buy.Price, sell.Price)
		require.Equal(t, min(a.Volume, b.Volume), r.ExecVolume)
		require.GreaterOrEqual(t, r.ExecVolume, max(a.MinExecQty, b.MinExecQty))
		require.GreaterOrEqual(t, r.ExecPrice, sell.Price)
		require.LessOrEqual(t, r.ExecPrice, buy.Price)
	}
}

func TestMatchIsSymmetricInRoles(t *testing.T) {
	buy := OrderData{Price: 120, Volume: 40, Side: SideBuy, MinExecQty: 5}
	sell := OrderData{Price: 111, Volume: 25, Side: SideSell, MinExecQty: 25}
	require.Equal(t, Match(buy, sell), Match(sell, buy))
}

func TestWords(t *testing.T) {
	r := TradeResult{IsExecuted: true, ExecPrice: 95, ExecVolume: 30}
	require.Equal(t, [3]uint64{1, 95, 30}, r.Words())
	require.Equal(t, [3]uint64{0, 0, 0}, TradeResult{}.Words())
}

func TestFieldsRoundTrip(t *testing.T) {
	o := OrderData{Price: 1, Volume: 2, Side: SideSell, MinExecQty: 4}
	require.Equal(t, [4]uint64{1, 2, 1, 4}, o.Fields())
	require.Equal(t, o, OrderDataFromFields(o.Fields()))
}

func TestMatchLegacy(t *testing.T) {
	r := MatchLegacy(MatchBatch{
		Buy:  LegacyOrder{Price: 100, Volume: 50, TraderID: 7},
		Sell: LegacyOrder{Price: 90, Volume: 30, TraderID: 9},
	})
	require.Equal(t, LegacyResult{IsMatched: 1, ExecPrice: 95, ExecVolume: 30, WinnerID: 7}, r)

	r = MatchLegacy(MatchBatch{
		Buy:  LegacyOrder{Price: 100, Volume: 0, TraderID: 7},
		Sell: LegacyOrder{Price: 90, Volume: 30, TraderID: 9},
	})
	require.Equal(t, LegacyResult{}, r)

	r = MatchLegacy(MatchBatch{
		Buy:  LegacyOrder{Price: 80, Volume: 10, TraderID: 7},
		Sell: LegacyOrder{Price: 90, Volume: 30, TraderID: 9},
	})
	require.Equal(t, LegacyResult{}, r)
}
