// Package circuit holds the matching decision evaluated inside the
// confidential-compute cluster.
//
// Every intermediate value is computed on every call and the outcome is
// picked with mask selection, never with a data-dependent branch. The
// deployed circuit has that shape, so this package keeps it too: price,
// volume, side and minimum fill must not influence the instruction trace.
package circuit

import "math/bits"

const (
	SideBuy  uint64 = 0
	SideSell uint64 = 1
)

// OrderData is the plaintext of one order's four shards, in shard order.
type OrderData struct {
	Price      uint64
	Volume     uint64
	Side       uint64
	MinExecQty uint64
}

// Fields returns the values in shard order: price, volume, side, minExecQty.
func (o OrderData) Fields() [4]uint64 {
	return [4]uint64{o.Price, o.Volume, o.Side, o.MinExecQty}
}

func OrderDataFromFields(f [4]uint64) OrderData {
	return OrderData{Price: f[0], Volume: f[1], Side: f[2], MinExecQty: f[3]}
}

// TradeResult is the circuit output. When IsExecuted is false both
// ExecPrice and ExecVolume are zero.
type TradeResult struct {
	IsExecuted bool
	ExecPrice  uint64
	ExecVolume uint64
}

// Match decides whether maker and taker cross. Neither side is assumed to be
// the buyer; the sides must be exactly one buy and one sell.
//
// Execution price is the truncated midpoint of the two limits and execution
// volume the smaller of the two volumes, provided that volume satisfies both
// parties' minimum fill.
func Match(maker, taker OrderData) TradeResult {
	validSides := eqBit(maker.Side+taker.Side, 1) & leBit(maker.Side, SideSell) & leBit(taker.Side, SideSell)
	isMakerBuy := eqBit(maker.Side, SideBuy)

	buyPrice := selectU64(isMakerBuy, maker.Price, taker.Price)
	sellPrice := selectU64(isMakerBuy, taker.Price, maker.Price)
	priceMatch := geBit(buyPrice, sellPrice)

	execVol := minU64(maker.Volume, taker.Volume)
	minFillSatisfied := geBit(execVol, maker.MinExecQty) & geBit(execVol, taker.MinExecQty)

	canTrade := validSides & priceMatch & minFillSatisfied
	mid := midpoint(buyPrice, sellPrice)

	return TradeResult{
		IsExecuted: canTrade == 1,
		ExecPrice:  selectU64(canTrade, mid, 0),
		ExecVolume: selectU64(canTrade, execVol, 0),
	}
}

// Words lays the result out as the three little-endian words the cluster
// emits: isExecuted (0/1), execPrice, execVolume.
func (r TradeResult) Words() [3]uint64 {
	var flag uint64
	if r.IsExecuted {
		flag = 1
	}
	return [3]uint64{flag, r.ExecPrice, r.ExecVolume}
}

// midpoint is floor((a+b)/2) without the a+b overflow.
func midpoint(a, b uint64) uint64 {
	return a>>1 + b>>1 + a&b&1
}

// selectU64 returns x when bit is 1 and y when bit is 0.
func selectU64(bit, x, y uint64) uint64 {
	mask := -bit
	return x&mask | y&^mask
}

func minU64(a, b uint64) uint64 {
	return selectU64(ltBit(a, b), a, b)
}

// ltBit is 1 when a < b, computed from the subtraction borrow.
func ltBit(a, b uint64) uint64 {
	_, borrow := bits.Sub64(a, b, 0)
	return borrow
}

func geBit(a, b uint64) uint64 { return ltBit(a, b) ^ 1 }

func leBit(a, b uint64) uint64 { return ltBit(b, a) ^ 1 }

func eqBit(a, b uint64) uint64 {
	x := a ^ b
	return ((x | -x) >> 63) ^ 1
}
