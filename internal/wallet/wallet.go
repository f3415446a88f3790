// Package wallet implements Stage A's signing step: turning a TradeSignal
// into an EIP-712-signed order ready for submission to Venue-T.
//
// Grounded on the teacher's internal/exchange/auth.go SignTypedData: the
// same ecdsa.PrivateKey-backed typed-data signature used there to derive
// L2 API keys is reused here to sign the order itself, since SPEC_FULL's
// abstract Venue-T is taken to authenticate orders the same way the
// teacher's concrete CLOB does (typed-data over an EOA key), rather than
// inventing a second signing scheme with no grounding anywhere in the pack.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"refmaker/internal/execution"
	"refmaker/internal/types"
)

// gtcExpiration is the wire value meaning "good till cancelled" per
// spec.md §9's open-question resolution: the pipeline always emits 0 and
// never reads a venue-returned expiration back.
const gtcExpiration = 0

// signedOrder is the venue-facing order payload. Field names mirror what
// the teacher's exchange/client.go posts to Venue-T's /orders endpoint,
// generalized from Polymarket's maker/taker-amount fields to a plain
// price/size representation since SPEC_FULL's Venue-T is abstract.
type signedOrder struct {
	Maker        string `json:"maker"`
	TargetMarket uint64 `json:"target_market_id"`
	SymbolID     uint64 `json:"symbol_id"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	SizeUSD      string `json:"size_usd"`
	Expiration   int64  `json:"expiration"`
	Salt         string `json:"salt"`
	Signature    string `json:"signature"`
}

// Signer implements execution.Signer using an EOA private key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// New builds a Signer from a hex-encoded private key (with or without a
// leading 0x), matching the teacher's key-parsing convention in
// NewAuth.
func New(privateKeyHex string, chainID int64) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:    big.NewInt(chainID),
	}, nil
}

// Address returns the signer's Ethereum address.
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign builds the venue order struct for sig, EIP-712-signs it, and
// returns it JSON-encoded as an opaque execution.SignedOrder payload.
// Sig is never the cancel-all sentinel: the pipeline routes that case to
// Submitter.CancelAll directly, bypassing Sign entirely.
func (s *Signer) Sign(_ context.Context, sig types.TradeSignal) (execution.SignedOrder, error) {
	salt := fmt.Sprintf("%d", sig.CreatedAtNanos)

	signature, err := s.signOrder(sig, salt)
	if err != nil {
		return execution.SignedOrder{}, fmt.Errorf("sign order: %w", err)
	}

	order := signedOrder{
		Maker:        s.address.Hex(),
		TargetMarket: 0,
		SymbolID:     sig.SymbolID,
		Side:         sig.Side.String(),
		Price:        sig.Price.StringFixed(4),
		SizeUSD:      sig.SizeUSD.StringFixed(4),
		Expiration:   gtcExpiration,
		Salt:         salt,
		Signature:    "0x" + common.Bytes2Hex(signature),
	}

	payload, err := json.Marshal(order)
	if err != nil {
		return execution.SignedOrder{}, fmt.Errorf("marshal signed order: %w", err)
	}

	return execution.SignedOrder{Original: sig, Payload: payload}, nil
}

// signOrder produces an EIP-712 signature over the order fields, the same
// TypedDataAndHash + crypto.Sign + V-normalization sequence as the
// teacher's SignTypedData.
func (s *Signer) signOrder(sig types.TradeSignal, salt string) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"Order": {
				{Name: "maker", Type: "address"},
				{Name: "symbolId", Type: "uint256"},
				{Name: "side", Type: "string"},
				{Name: "price", Type: "string"},
				{Name: "sizeUsd", Type: "string"},
				{Name: "expiration", Type: "uint256"},
				{Name: "salt", Type: "string"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:    "RefmakerExchange",
			Version: "1",
			ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(s.chainID)),
		},
		Message: apitypes.TypedDataMessage{
			"maker":      s.address.Hex(),
			"symbolId":   fmt.Sprintf("%d", sig.SymbolID),
			"side":       sig.Side.String(),
			"price":      sig.Price.StringFixed(4),
			"sizeUsd":    sig.SizeUSD.StringFixed(4),
			"expiration": fmt.Sprintf("%d", gtcExpiration),
			"salt":       salt,
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("typed data hash: %w", err)
	}

	signature, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}
	if signature[64] < 27 {
		signature[64] += 27
	}
	return signature, nil
}
