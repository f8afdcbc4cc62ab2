package crypto

import (
	"errors"
	"fmt"
	"testing"
)

func testCommittee(t *testing.T, n int) ([]*BLSSigner, map[uint16]*BLSPubKey) {
	t.Helper()
	signers := make([]*BLSSigner, n)
	keys := make(map[uint16]*BLSPubKey, n)
	for i := range signers {
		s, err := NewBLSSignerFromSeed([]byte(fmt.Sprintf("node-%d", i)))
		if err != nil {
			t.Fatalf("keygen: %v", err)
		}
		signers[i] = s
		keys[uint16(i)] = s.Pubkey()
	}
	return signers, keys
}

func TestVerifyQuorum(t *testing.T) {
	signers, keys := testCommittee(t, 4)
	msg := []byte("result")

	var shares []SignatureShare
	for i := 0; i < 3; i++ {
		shares = append(shares, SignatureShare{Node: uint16(i), Sig: signers[i].Sign(msg)})
	}

	valid, err := VerifyQuorum(keys, 3, msg, shares)
	if err != nil {
		t.Fatalf("quorum: %v", err)
	}
	if len(valid) != 3 {
		t.Errorf("valid shares = %d, want 3", len(valid))
	}

	if _, err := VerifyQuorum(keys, 3, []byte("other"), shares); !errors.Is(err, ErrQuorumNotReached) {
		t.Errorf("wrong message: err = %v, want ErrQuorumNotReached", err)
	}
}

func TestVerifyQuorumIgnoresDuplicatesAndStrangers(t *testing.T) {
	signers, keys := testCommittee(t, 4)
	msg := []byte("result")

	stranger, _ := NewBLSSignerFromSeed([]byte("stranger"))
	shares := []SignatureShare{
		{Node: 0, Sig: signers[0].Sign(msg)},
		{Node: 0, Sig: signers[0].Sign(msg)},
		{Node: 1, Sig: stranger.Sign(msg)}, // claims to be node 1
		{Node: 9, Sig: signers[2].Sign(msg)},
		{Node: 3, Sig: signers[3].Sign(msg)},
	}

	valid, err := VerifyQuorum(keys, 3, msg, shares)
	if !errors.Is(err, ErrQuorumNotReached) {
		t.Fatalf("err = %v, want ErrQuorumNotReached", err)
	}
	if len(valid) != 2 {
		t.Errorf("valid shares = %d, want 2", len(valid))
	}
}

func TestBLSPubKeyRoundTrip(t *testing.T) {
	signers, _ := testCommittee(t, 1)
	raw, err := MarshalBLSPubKey(signers[0].Pubkey())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	pk, err := UnmarshalBLSPubKey(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	msg := []byte("m")
	if !Verify(pk, signers[0].Sign(msg), msg) {
		t.Error("decoded key does not verify")
	}
}

func TestAggregateSkipsEmpty(t *testing.T) {
	if Aggregate(nil) != nil {
		t.Error("aggregate of nothing should be nil")
	}
	signers, _ := testCommittee(t, 2)
	msg := []byte("m")
	agg := Aggregate([][]byte{signers[0].Sign(msg), nil, signers[1].Sign(msg)})
	if len(agg) == 0 {
		t.Error("expected aggregate signature")
	}
}
