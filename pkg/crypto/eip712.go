package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different deployments
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain returns the devnet domain
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "ArcDark",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

// PlaceOrderEIP712 is what an owner signs to place an encrypted order. The
// shards themselves are committed to through BundleHash, so the signature
// covers ciphertext only.
type PlaceOrderEIP712 struct {
	Owner      common.Address
	BundleHash common.Hash // keccak256(shards || encryptionKey || nonce)
	Nonce      *big.Int    // request nonce for replay protection
}

// CancelOrderEIP712 is what an owner signs to deactivate one of their orders.
type CancelOrderEIP712 struct {
	Owner    common.Address
	OrderRef common.Hash
	Nonce    *big.Int
}

// EIP712Signer hashes and verifies typed owner requests
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// BundleHash commits to an encrypted order bundle.
func BundleHash(shards [][]byte, encryptionKey [32]byte, nonce [NonceSize]byte) common.Hash {
	parts := make([][]byte, 0, len(shards)+2)
	parts = append(parts, shards...)
	parts = append(parts, encryptionKey[:], nonce[:])
	return crypto.Keccak256Hash(parts...)
}

func (e *EIP712Signer) hashTyped(primary string, fields []apitypes.Type, msg apitypes.TypedDataMessage) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primary:        fields,
		},
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: msg,
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// Final digest: keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256(rawData), nil
}

// HashPlaceOrder returns the digest the owner signs
func (e *EIP712Signer) HashPlaceOrder(req *PlaceOrderEIP712) ([]byte, error) {
	return e.hashTyped("PlaceOrder", []apitypes.Type{
		{Name: "owner", Type: "address"},
		{Name: "bundleHash", Type: "bytes32"},
		{Name: "nonce", Type: "uint256"},
	}, apitypes.TypedDataMessage{
		"owner":      req.Owner.Hex(),
		"bundleHash": hexutil.Encode(req.BundleHash[:]),
		"nonce":      req.Nonce.String(),
	})
}

func (e *EIP712Signer) HashCancelOrder(req *CancelOrderEIP712) ([]byte, error) {
	return e.hashTyped("CancelOrder", []apitypes.Type{
		{Name: "owner", Type: "address"},
		{Name: "orderRef", Type: "bytes32"},
		{Name: "nonce", Type: "uint256"},
	}, apitypes.TypedDataMessage{
		"owner":    req.Owner.Hex(),
		"orderRef": hexutil.Encode(req.OrderRef[:]),
		"nonce":    req.Nonce.String(),
	})
}

func (e *EIP712Signer) SignPlaceOrder(signer *Signer, req *PlaceOrderEIP712) ([]byte, error) {
	hash, err := e.HashPlaceOrder(req)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order: %w", err)
	}
	return signer.Sign(hash)
}

func (e *EIP712Signer) SignCancelOrder(signer *Signer, req *CancelOrderEIP712) ([]byte, error) {
	hash, err := e.HashCancelOrder(req)
	if err != nil {
		return nil, fmt.Errorf("failed to hash cancel: %w", err)
	}
	return signer.Sign(hash)
}

// VerifyPlaceOrder reports whether signature was produced by req.Owner
func (e *EIP712Signer) VerifyPlaceOrder(req *PlaceOrderEIP712, signature []byte) (bool, error) {
	hash, err := e.HashPlaceOrder(req)
	if err != nil {
		return false, fmt.Errorf("failed to hash order: %w", err)
	}
	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return recovered == req.Owner, nil
}

func (e *EIP712Signer) VerifyCancelOrder(req *CancelOrderEIP712, signature []byte) (bool, error) {
	hash, err := e.HashCancelOrder(req)
	if err != nil {
		return false, fmt.Errorf("failed to hash cancel: %w", err)
	}
	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return recovered == req.Owner, nil
}
