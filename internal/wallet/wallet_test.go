package wallet

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"refmaker/internal/types"
)

const testPrivateKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestNewParsesKeyWithAndWithoutPrefix(t *testing.T) {
	t.Parallel()

	withoutPrefix, err := New(testPrivateKeyHex, 137)
	if err != nil {
		t.Fatalf("New without 0x prefix: %v", err)
	}

	withPrefix, err := New("0x"+testPrivateKeyHex, 137)
	if err != nil {
		t.Fatalf("New with 0x prefix: %v", err)
	}

	if withoutPrefix.Address() != withPrefix.Address() {
		t.Errorf("address mismatch: %s vs %s", withoutPrefix.Address(), withPrefix.Address())
	}
}

func TestNewRejectsMalformedKey(t *testing.T) {
	t.Parallel()

	if _, err := New("not-hex", 137); err == nil {
		t.Fatal("expected error for malformed private key")
	}
}

func TestSignProducesValidSignature(t *testing.T) {
	t.Parallel()

	signer, err := New(testPrivateKeyHex, 137)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sig := types.TradeSignal{
		StrategyID:     1,
		TargetExchange: types.ExchangeT,
		SymbolID:       42,
		Side:           types.Buy,
		Price:          decimal.NewFromFloat(0.55),
		SizeUSD:        decimal.NewFromInt(100),
		LogicTag:       types.LogicTagQuote,
		CreatedAtNanos: time.Now().UnixNano(),
	}

	signed, err := signer.Sign(context.Background(), sig)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	var order signedOrder
	if err := json.Unmarshal(signed.Payload, &order); err != nil {
		t.Fatalf("unmarshal signed payload: %v", err)
	}

	if order.Maker != signer.Address().Hex() {
		t.Errorf("maker = %s, want %s", order.Maker, signer.Address().Hex())
	}
	if order.SymbolID != sig.SymbolID {
		t.Errorf("symbol_id = %d, want %d", order.SymbolID, sig.SymbolID)
	}
	if order.Side != "Buy" {
		t.Errorf("side = %s, want Buy", order.Side)
	}
	if order.Expiration != gtcExpiration {
		t.Errorf("expiration = %d, want %d (GTC)", order.Expiration, gtcExpiration)
	}

	signatureHex := order.Signature
	if len(signatureHex) < 4 || signatureHex[:2] != "0x" {
		t.Fatalf("signature not 0x-prefixed: %s", signatureHex)
	}
	sigBytes := common.FromHex(signatureHex)
	if len(sigBytes) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sigBytes))
	}
	if v := sigBytes[64]; v != 27 && v != 28 {
		t.Errorf("signature V = %d, want 27 or 28", v)
	}
}

func TestSignIsDeterministicForSameSalt(t *testing.T) {
	t.Parallel()

	signer, err := New(testPrivateKeyHex, 137)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sig := types.TradeSignal{
		SymbolID:       7,
		Side:           types.Sell,
		Price:          decimal.NewFromFloat(0.40),
		SizeUSD:        decimal.NewFromInt(50),
		CreatedAtNanos: 1_700_000_000_000_000_000,
	}

	first, err := signer.Sign(context.Background(), sig)
	if err != nil {
		t.Fatalf("first Sign: %v", err)
	}
	second, err := signer.Sign(context.Background(), sig)
	if err != nil {
		t.Fatalf("second Sign: %v", err)
	}

	if string(first.Payload) != string(second.Payload) {
		t.Errorf("signing the same signal twice produced different payloads:\n%s\n%s", first.Payload, second.Payload)
	}
}
