package feed

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"refmaker/internal/fabric"
	"refmaker/internal/types"
	"refmaker/internal/wire"
)

// orderFilledABI declares the single event this listener cares about: the
// CTF exchange's OrderFilled, emitted once per confirmed fill against the
// maker's own address. Only the fields needed to build an InventoryUpdate
// are declared — accounts/abi happily unpacks a subset of a real event's
// fields as long as they're declared in order.
const orderFilledABI = `[{
	"anonymous": false,
	"inputs": [
		{"indexed": true, "name": "orderHash", "type": "bytes32"},
		{"indexed": true, "name": "maker", "type": "address"},
		{"indexed": false, "name": "makerAssetId", "type": "uint256"},
		{"indexed": false, "name": "makerAmountFilled", "type": "uint256"},
		{"indexed": false, "name": "takerAmountFilled", "type": "uint256"},
		{"indexed": false, "name": "side", "type": "uint8"}
	],
	"name": "OrderFilled",
	"type": "event"
}]`

// usdcScale converts the 6-decimal fixed-point USDC amounts the contract
// emits into whole-dollar floats for InventoryUpdate.net_cash_flow.
var usdcScale = new(big.Float).SetFloat64(1e6)

// FillListener subscribes to the CTF exchange contract's OrderFilled logs
// for a single maker address and republishes each fill as an
// InventoryUpdate on the fabric's IV topic.
//
// Supplements a collaborator spec.md names (§2: "the on-chain event
// listener") that the teacher never implements — grounded directly on
// go-ethereum's own ethclient/accounts-abi packages, which are already a
// teacher dependency for EIP-712 signing (see internal/wallet), rather
// than inventing an unrelated library for contract-log decoding.
type FillListener struct {
	client       *ethclient.Client
	contractAddr common.Address
	maker        common.Address
	parsedABI    abi.ABI
	pub          *fabric.Publisher
	logger       *slog.Logger
}

// NewFillListener dials rpcURL and prepares a listener for fills made by
// maker against the contract at contractAddr.
func NewFillListener(rpcURL string, contractAddr, maker common.Address, pub *fabric.Publisher, logger *slog.Logger) (*FillListener, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(orderFilledABI))
	if err != nil {
		return nil, fmt.Errorf("parse event abi: %w", err)
	}

	return &FillListener{
		client:       client,
		contractAddr: contractAddr,
		maker:        maker,
		parsedABI:    parsed,
		pub:          pub,
		logger:       logger.With("component", "feed.onchain"),
	}, nil
}

// Run subscribes to OrderFilled logs and republishes each one as an
// InventoryUpdate until ctx is cancelled. On a dropped subscription it
// re-subscribes rather than returning, mirroring the book ingestor's
// reconnect behavior.
func (f *FillListener) Run(ctx context.Context) error {
	event := f.parsedABI.Events["OrderFilled"]
	makerTopic := common.BytesToHash(common.LeftPadBytes(f.maker.Bytes(), 32))

	query := ethereum.FilterQuery{
		Addresses: []common.Address{f.contractAddr},
		Topics:    [][]common.Hash{{event.ID}, nil, {makerTopic}},
	}

	for {
		if err := f.subscribeAndRead(ctx, query); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("on-chain subscription dropped, resubscribing", "error", err)
			continue
		}
		return nil
	}
}

func (f *FillListener) subscribeAndRead(ctx context.Context, query ethereum.FilterQuery) error {
	logs := make(chan gethtypes.Log, 256)
	sub, err := f.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return fmt.Errorf("subscribe filter logs: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return err
		case vLog := <-logs:
			f.handleLog(vLog)
		}
	}
}

func (f *FillListener) handleLog(vLog gethtypes.Log) {
	var decoded struct {
		MakerAssetID      *big.Int
		MakerAmountFilled *big.Int
		TakerAmountFilled *big.Int
		Side              uint8
	}
	if err := f.parsedABI.UnpackIntoInterface(&decoded, "OrderFilled", vLog.Data); err != nil {
		f.logger.Error("unpack OrderFilled log failed", "error", err, "tx", vLog.TxHash)
		return
	}

	shareChange, netCashFlow := fillDeltas(decoded.Side, decoded.MakerAmountFilled, decoded.TakerAmountFilled)

	update := types.InventoryUpdate{
		SymbolID:    decoded.MakerAssetID.Uint64(),
		ShareChange: shareChange,
		NetCashFlow: netCashFlow,
	}
	f.pub.Publish(wire.TopicIV, wire.EncodeInventoryUpdate(update))
}

// fillDeltas converts the contract's raw maker/taker amounts into the
// (share_change, net_cash_flow) pair I1/I2 demand: side=0 (buy) means the
// maker received shares and paid USDC; side=1 (sell) means the reverse.
func fillDeltas(side uint8, makerAmount, takerAmount *big.Int) (shareChange, netCashFlow float64) {
	makerF, _ := new(big.Float).Quo(new(big.Float).SetInt(makerAmount), usdcScale).Float64()
	takerF, _ := new(big.Float).Quo(new(big.Float).SetInt(takerAmount), usdcScale).Float64()

	if side == 0 {
		// buy: maker paid makerAmount USDC, received takerAmount shares.
		return takerF, -makerF
	}
	// sell: maker gave makerAmount shares, received takerAmount USDC.
	return -makerF, takerF
}
