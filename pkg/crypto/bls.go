package crypto

import (
	"errors"
	"fmt"

	bls "github.com/cloudflare/circl/sign/bls"
	"github.com/ethereum/go-ethereum/crypto"
)

type scheme = bls.KeyG1SigG2

type BLSPubKey = bls.PublicKey[scheme]
type BLSSignature = []byte

// BLSSigner holds one cluster node's signing key.
type BLSSigner struct {
	sk *bls.PrivateKey[scheme]
	pk *BLSPubKey
}

// NewBLSSignerFromSeed derives a key deterministically. The seed is hashed
// first, so any length works.
func NewBLSSignerFromSeed(seed []byte) (*BLSSigner, error) {
	ikm := crypto.Keccak256(seed)
	sk, err := bls.KeyGen[scheme](ikm, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("bls keygen: %w", err)
	}
	return &BLSSigner{sk: sk, pk: sk.PublicKey()}, nil
}

func (s *BLSSigner) Pubkey() *BLSPubKey { return s.pk }

func (s *BLSSigner) Sign(msg []byte) []byte {
	return bls.Sign(s.sk, msg)
}

func Verify(pk *BLSPubKey, sigBytes, msg []byte) bool {
	return bls.Verify(pk, msg, bls.Signature(sigBytes))
}

// Aggregate combines signature shares over the same message into one
// compact proof. Empty shares are skipped.
func Aggregate(sigBytesList [][]byte) []byte {
	sigs := make([]bls.Signature, 0, len(sigBytesList))
	for _, sb := range sigBytesList {
		if len(sb) == 0 {
			continue
		}
		sigs = append(sigs, bls.Signature(sb))
	}
	if len(sigs) == 0 {
		return nil
	}
	agg, err := bls.Aggregate(bls.G1{}, sigs)
	if err != nil {
		return nil
	}
	return agg
}

func MarshalBLSPubKey(pk *BLSPubKey) ([]byte, error) {
	return pk.MarshalBinary()
}

func UnmarshalBLSPubKey(b []byte) (*BLSPubKey, error) {
	pk := new(BLSPubKey)
	if err := pk.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("bls pubkey: %w", err)
	}
	return pk, nil
}

// SignatureShare is one node's signature over a result message.
type SignatureShare struct {
	Node uint16
	Sig  []byte
}

var ErrQuorumNotReached = errors.New("signature quorum not reached")

// VerifyQuorum checks that at least threshold distinct nodes from keys signed
// msg. Shares from unknown nodes, repeated nodes and bad signatures are not
// counted. It returns the shares that verified.
func VerifyQuorum(keys map[uint16]*BLSPubKey, threshold int, msg []byte, shares []SignatureShare) ([]SignatureShare, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("invalid threshold %d", threshold)
	}
	seen := make(map[uint16]bool, len(shares))
	valid := make([]SignatureShare, 0, len(shares))
	for _, sh := range shares {
		if seen[sh.Node] {
			continue
		}
		pk, ok := keys[sh.Node]
		if !ok || pk == nil {
			continue
		}
		if !Verify(pk, sh.Sig, msg) {
			continue
		}
		seen[sh.Node] = true
		valid = append(valid, sh)
	}
	if len(valid) < threshold {
		return valid, fmt.Errorf("%w: %d of %d", ErrQuorumNotReached, len(valid), threshold)
	}
	return valid, nil
}
