package crypto

import (
	"errors"
	"math"
	"testing"
)

func TestSharedKeyAgreement(t *testing.T) {
	a, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	b, err := KeyPairFromSeed([]byte("cluster"))
	if err != nil {
		t.Fatal(err)
	}

	k1, err := SharedKey(a.Private, b.Public, InfoOrder)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := SharedKey(b.Private, a.Public, InfoOrder)
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Fatal("both sides must derive the same key")
	}

	k3, _ := SharedKey(a.Private, b.Public, InfoResult)
	if k3 == k1 {
		t.Error("different info strings must give different keys")
	}
}

func TestSealOpenFields(t *testing.T) {
	var key [32]byte
	key[5] = 7
	nonce, err := GenerateNonce()
	if err != nil {
		t.Fatal(err)
	}

	values := []uint64{100, 50, 0, math.MaxUint64}
	blocks, err := SealFields(key, nonce, 0, values...)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 4 {
		t.Fatalf("blocks = %d", len(blocks))
	}

	got, err := OpenFields(key, nonce, 0, blocks...)
	if err != nil {
		t.Fatal(err)
	}
	for i := range values {
		if got[i] != values[i] {
			t.Errorf("field %d = %d, want %d", i, got[i], values[i])
		}
	}
}

func TestOpenRejectsSwappedBlocks(t *testing.T) {
	var key [32]byte
	var nonce [NonceSize]byte
	blocks, _ := SealFields(key, nonce, 0, 1, 2)

	if _, err := OpenU64(key, nonce, 0, blocks[1]); !errors.Is(err, ErrOpen) {
		t.Errorf("swapped block: err = %v, want ErrOpen", err)
	}

	tampered := blocks[0]
	tampered[3] ^= 1
	if _, err := OpenU64(key, nonce, 0, tampered); !errors.Is(err, ErrOpen) {
		t.Errorf("tampered block: err = %v, want ErrOpen", err)
	}
}
