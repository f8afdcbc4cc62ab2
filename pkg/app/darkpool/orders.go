package darkpool

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DeriveOrderRef hashes the owner with a creation salt made of the low four
// bytes of the unix time and a store sequence number.
func DeriveOrderRef(owner common.Address, unix int64, seq uint64) OrderRef {
	var salt [12]byte
	binary.LittleEndian.PutUint32(salt[:4], uint32(unix))
	binary.LittleEndian.PutUint64(salt[4:], seq)
	var ref OrderRef
	copy(ref[:], crypto.Keccak256([]byte("order"), owner.Bytes(), salt[:]))
	return ref
}

// ShardsFromBytes checks the bundle shape: exactly four 32-byte blocks.
func ShardsFromBytes(raw [][]byte) ([ShardCount]Shard, error) {
	var shards [ShardCount]Shard
	if len(raw) != ShardCount {
		return shards, fmt.Errorf("%w: got %d shards", ErrInvalidShardCount, len(raw))
	}
	for i, b := range raw {
		if len(b) != ShardSize {
			return shards, fmt.Errorf("%w: shard %d is %d bytes", ErrInvalidShardCount, i, len(b))
		}
		copy(shards[i][:], b)
	}
	return shards, nil
}

// PlaceOrder stores a new active order. The shards are opaque here; whether
// they decode to a sensible order is only known inside the cluster.
func (s *Service) PlaceOrder(ctx context.Context, owner common.Address, raw [][]byte, env Envelope) (OrderRef, error) {
	shards, err := ShardsFromBytes(raw)
	if err != nil {
		return OrderRef{}, opErr("place_order", owner.Hex(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.store.NextOrderSeq(ctx)
	if err != nil {
		return OrderRef{}, opErr("place_order", owner.Hex(), err)
	}
	now := s.now()
	o := &EncryptedOrder{
		Ref:       DeriveOrderRef(owner, now.Unix(), seq),
		Owner:     owner,
		Shards:    shards,
		Envelope:  env,
		IsActive:  true,
		CreatedAt: now,
	}
	if err := s.store.InsertOrder(ctx, o); err != nil {
		return OrderRef{}, opErr("place_order", owner.Hex(), err)
	}

	s.opts.Metrics.OrderPlaced()
	s.opts.Audit.Append(fmt.Sprintf("order_placed ref=%s owner=%s", o.Ref.Hex(), owner.Hex()))
	s.log.Infow("order_placed", "ref", o.Ref.Hex(), "owner", owner.Hex())
	return o.Ref, nil
}

func (s *Service) GetOrder(ctx context.Context, ref OrderRef) (*EncryptedOrder, error) {
	o, err := s.store.GetOrder(ctx, ref)
	if err != nil {
		return nil, opErr("get_order", ref.Hex(), err)
	}
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, owner common.Address) ([]*EncryptedOrder, error) {
	return s.store.OrdersByOwner(ctx, owner)
}

// Deactivate switches an order off. It is idempotent and does not touch
// jobs already running against the order.
func (s *Service) Deactivate(ctx context.Context, ref OrderRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.deactivateLocked(ctx, ref)
	return err
}

func (s *Service) deactivateLocked(ctx context.Context, ref OrderRef) (bool, error) {
	o, err := s.store.GetOrder(ctx, ref)
	if err != nil {
		return false, opErr("deactivate", ref.Hex(), err)
	}
	if !o.IsActive {
		return false, nil
	}
	if err := s.store.SetOrderActive(ctx, ref, false); err != nil {
		return false, opErr("deactivate", ref.Hex(), err)
	}
	s.opts.Metrics.OrderDeactivated()
	s.opts.Audit.Append(fmt.Sprintf("order_deactivated ref=%s", ref.Hex()))
	s.log.Infow("order_deactivated", "ref", ref.Hex())
	return true, nil
}
