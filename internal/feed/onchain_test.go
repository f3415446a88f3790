package feed

import (
	"math"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

func TestFillDeltasBuy(t *testing.T) {
	t.Parallel()

	// side=0 (buy): maker paid 50 USDC (6 decimals), received 100 shares (6 decimals).
	shareChange, netCashFlow := fillDeltas(0, big.NewInt(50_000_000), big.NewInt(100_000_000))

	if math.Abs(shareChange-100) > 1e-9 {
		t.Errorf("shareChange = %v, want 100", shareChange)
	}
	if math.Abs(netCashFlow-(-50)) > 1e-9 {
		t.Errorf("netCashFlow = %v, want -50", netCashFlow)
	}
}

func TestFillDeltasSell(t *testing.T) {
	t.Parallel()

	// side=1 (sell): maker gave 100 shares, received 50 USDC.
	shareChange, netCashFlow := fillDeltas(1, big.NewInt(100_000_000), big.NewInt(50_000_000))

	if math.Abs(shareChange-(-100)) > 1e-9 {
		t.Errorf("shareChange = %v, want -100", shareChange)
	}
	if math.Abs(netCashFlow-50) > 1e-9 {
		t.Errorf("netCashFlow = %v, want 50", netCashFlow)
	}
}

func TestFillDeltasBuySellAreMirrored(t *testing.T) {
	t.Parallel()

	buyShare, buyCash := fillDeltas(0, big.NewInt(7_500_000), big.NewInt(10_000_000))
	sellShare, sellCash := fillDeltas(1, big.NewInt(7_500_000), big.NewInt(10_000_000))

	if buyShare != -sellShare {
		t.Errorf("buy shareChange (%v) should be the negation of sell's (%v)", buyShare, sellShare)
	}
	if buyCash != -sellCash {
		t.Errorf("buy netCashFlow (%v) should be the negation of sell's (%v)", buyCash, sellCash)
	}
}

func TestOrderFilledABIParses(t *testing.T) {
	t.Parallel()

	parsed, err := abi.JSON(strings.NewReader(orderFilledABI))
	if err != nil {
		t.Fatalf("parse event abi: %v", err)
	}

	event, ok := parsed.Events["OrderFilled"]
	if !ok {
		t.Fatal("expected an OrderFilled event in the parsed ABI")
	}

	wantIndexed := map[string]bool{"orderHash": true, "maker": true}
	for _, input := range event.Inputs {
		if wantIndexed[input.Name] && !input.Indexed {
			t.Errorf("expected %s to be indexed", input.Name)
		}
	}
}

func TestOrderFilledABIUnpacksNonIndexedFields(t *testing.T) {
	t.Parallel()

	parsed, err := abi.JSON(strings.NewReader(orderFilledABI))
	if err != nil {
		t.Fatalf("parse event abi: %v", err)
	}
	event := parsed.Events["OrderFilled"]

	packed, err := event.Inputs.NonIndexed().Pack(
		big.NewInt(42),         // makerAssetId
		big.NewInt(50_000_000), // makerAmountFilled
		big.NewInt(100_000_000), // takerAmountFilled
		uint8(0),               // side
	)
	if err != nil {
		t.Fatalf("pack non-indexed fields: %v", err)
	}

	var decoded struct {
		MakerAssetID      *big.Int
		MakerAmountFilled *big.Int
		TakerAmountFilled *big.Int
		Side              uint8
	}
	if err := parsed.UnpackIntoInterface(&decoded, "OrderFilled", packed); err != nil {
		t.Fatalf("unpack: %v", err)
	}

	if decoded.MakerAssetID.Uint64() != 42 {
		t.Errorf("MakerAssetID = %v, want 42", decoded.MakerAssetID)
	}
	if decoded.MakerAmountFilled.Uint64() != 50_000_000 {
		t.Errorf("MakerAmountFilled = %v, want 50000000", decoded.MakerAmountFilled)
	}
	if decoded.TakerAmountFilled.Uint64() != 100_000_000 {
		t.Errorf("TakerAmountFilled = %v, want 100000000", decoded.TakerAmountFilled)
	}
	if decoded.Side != 0 {
		t.Errorf("Side = %d, want 0", decoded.Side)
	}
}
