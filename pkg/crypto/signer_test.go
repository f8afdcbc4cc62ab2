package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	signer2, err := FromPrivateKeyHex(signer1.PrivateKeyHex())
	if err != nil {
		t.Fatalf("failed to load key: %v", err)
	}

	if signer2.Address() != signer1.Address() {
		t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
	}
}

func TestSignAndVerify(t *testing.T) {
	signer, _ := GenerateKey()

	message := []byte("dark order")
	signature, err := signer.SignMessage(message)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(signature) != 65 {
		t.Errorf("signature length = %d, want 65", len(signature))
	}

	hash := eth_crypto.Keccak256Hash(message).Bytes()
	if !VerifySignature(signer.Address(), hash, signature) {
		t.Error("signature verification failed")
	}

	wrongAddr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if VerifySignature(wrongAddr, hash, signature) {
		t.Error("signature should not verify with wrong address")
	}
}

func TestInvalidSignature(t *testing.T) {
	signer, _ := GenerateKey()
	hash := common.BytesToHash([]byte("test")).Bytes()

	if VerifySignature(signer.Address(), hash, []byte{1, 2, 3}) {
		t.Error("short signature should not verify")
	}
	if VerifySignature(signer.Address(), []byte("short"), make([]byte, 65)) {
		t.Error("short hash should not verify")
	}
}

func TestPlaceOrderSignature(t *testing.T) {
	owner, _ := GenerateKey()
	signer := NewEIP712Signer(DefaultDomain())

	var encKey [32]byte
	var nonce [NonceSize]byte
	encKey[0], nonce[0] = 1, 2
	shards := [][]byte{make([]byte, 32), make([]byte, 32), make([]byte, 32), make([]byte, 32)}

	req := &PlaceOrderEIP712{
		Owner:      owner.Address(),
		BundleHash: BundleHash(shards, encKey, nonce),
		Nonce:      big.NewInt(1),
	}
	sig, err := signer.SignPlaceOrder(owner, req)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	ok, err := signer.VerifyPlaceOrder(req, sig)
	if err != nil || !ok {
		t.Fatalf("verify = %v, %v; want true", ok, err)
	}

	// Any change to the ciphertext bundle invalidates the signature
	shards[3][31] = 0xff
	tampered := *req
	tampered.BundleHash = BundleHash(shards, encKey, nonce)
	ok, err = signer.VerifyPlaceOrder(&tampered, sig)
	if err != nil {
		t.Fatalf("verify tampered: %v", err)
	}
	if ok {
		t.Error("tampered bundle should not verify")
	}
}

func TestCancelOrderSignatureBoundToDomain(t *testing.T) {
	owner, _ := GenerateKey()
	req := &CancelOrderEIP712{
		Owner:    owner.Address(),
		OrderRef: common.HexToHash("0xabcdef"),
		Nonce:    big.NewInt(9),
	}

	sig, err := NewEIP712Signer(DefaultDomain()).SignCancelOrder(owner, req)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	other := DefaultDomain()
	other.ChainID = big.NewInt(1)
	ok, err := NewEIP712Signer(other).VerifyCancelOrder(req, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Error("signature from another domain should not verify")
	}
}
