package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/uhyunpark/arcdark/params"
	"github.com/uhyunpark/arcdark/pkg/api"
	"github.com/uhyunpark/arcdark/pkg/app/circuit"
	"github.com/uhyunpark/arcdark/pkg/app/darkpool"
	"github.com/uhyunpark/arcdark/pkg/cluster"
	"github.com/uhyunpark/arcdark/pkg/crypto"
)

// place-order seals an order to the devnet cluster key, signs it with EIP-712
// and prints the body for POST /api/v1/orders.
func main() {
	price := flag.Uint64("price", 100, "limit price")
	volume := flag.Uint64("volume", 10, "volume")
	side := flag.String("side", "buy", "buy or sell")
	minExec := flag.Uint64("min", 1, "minimum execution quantity")
	nonce := flag.Uint64("nonce", 1, "replay nonce")
	keyHex := flag.String("key", "", "owner private key (hex); generated when empty")
	flag.Parse()

	signer, err := ownerKey(*keyHex)
	if err != nil {
		fail("key", err)
	}

	order := circuit.OrderData{Price: *price, Volume: *volume, MinExecQty: *minExec}
	switch *side {
	case "buy":
		order.Side = circuit.SideBuy
	case "sell":
		order.Side = circuit.SideSell
	default:
		fail("side", fmt.Errorf("unknown side %q", *side))
	}

	cfg := params.LoadFromEnv("")
	_, keys, err := cluster.Devnet(cfg.Cluster.Seed, cfg.Cluster.ID, cfg.Cluster.Nodes, cfg.Cluster.Threshold)
	if err != nil {
		fail("cluster keys", err)
	}

	// Step 1: seal the order to the cluster with a one-time key
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		fail("keypair", err)
	}
	sealNonce, err := crypto.GenerateNonce()
	if err != nil {
		fail("nonce", err)
	}
	shards, err := darkpool.SealOrder(order, kp.Private, keys.EncryptionKey, sealNonce)
	if err != nil {
		fail("seal", err)
	}

	raw := make([][]byte, len(shards))
	hexShards := make([]string, len(shards))
	for i := range shards {
		raw[i] = shards[i][:]
		hexShards[i] = "0x" + hex.EncodeToString(shards[i][:])
	}

	// Step 2: sign the bundle
	sig, err := crypto.NewEIP712Signer(crypto.DefaultDomain()).SignPlaceOrder(signer, &crypto.PlaceOrderEIP712{
		Owner:      signer.Address(),
		BundleHash: crypto.BundleHash(raw, kp.Public, sealNonce),
		Nonce:      new(big.Int).SetUint64(*nonce),
	})
	if err != nil {
		fail("sign", err)
	}

	req := api.PlaceOrderRequest{
		Owner:         signer.Address().Hex(),
		Shards:        hexShards,
		EncryptionKey: "0x" + hex.EncodeToString(kp.Public[:]),
		SealNonce:     "0x" + hex.EncodeToString(sealNonce[:]),
		Nonce:         *nonce,
		Signature:     "0x" + hex.EncodeToString(sig),
	}
	out, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		fail("json", err)
	}

	fmt.Fprintf(os.Stderr, "Address: %s\n", signer.Address().Hex())
	if *keyHex == "" {
		fmt.Fprintf(os.Stderr, "Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	}
	fmt.Println(string(out))
}

func ownerKey(keyHex string) (*crypto.Signer, error) {
	if keyHex == "" {
		return crypto.GenerateKey()
	}
	return crypto.FromPrivateKeyHex(keyHex)
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "Error (%s): %v\n", step, err)
	os.Exit(1)
}
