// Package wire implements the binary payload format carried on the
// messaging fabric, paired with its topic in a Frame: field order as
// declared in internal/types, integers little-endian,
// decimals as sign+exponent+coefficient-bytes.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"refmaker/internal/types"
)

// Topic names the three fabric channels.
type Topic string

const (
	TopicMD Topic = "MD"
	TopicIV Topic = "IV"
	TopicSG Topic = "SG"
)

// Frame is a decoded (topic, payload) pair as it travels on the fabric.
type Frame struct {
	Topic   Topic
	Payload []byte
}

func putDecimal(buf *bytes.Buffer, d decimal.Decimal) {
	coeff := d.Coefficient()
	sign := byte(0)
	if coeff.Sign() < 0 {
		sign = 1
		coeff = new(big.Int).Abs(coeff)
	}
	buf.WriteByte(sign)
	var expBuf [4]byte
	binary.LittleEndian.PutUint32(expBuf[:], uint32(int32(d.Exponent())))
	buf.Write(expBuf[:])
	mag := coeff.Bytes()
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(mag)))
	buf.Write(lenBuf[:])
	buf.Write(mag)
}

func getDecimal(r *bytes.Reader) (decimal.Decimal, error) {
	sign, err := r.ReadByte()
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("read decimal sign: %w", err)
	}
	var expBuf [4]byte
	if _, err := r.Read(expBuf[:]); err != nil {
		return decimal.Decimal{}, fmt.Errorf("read decimal exponent: %w", err)
	}
	exp := int32(binary.LittleEndian.Uint32(expBuf[:]))
	var lenBuf [4]byte
	if _, err := r.Read(lenBuf[:]); err != nil {
		return decimal.Decimal{}, fmt.Errorf("read decimal coeff length: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	mag := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(mag); err != nil {
			return decimal.Decimal{}, fmt.Errorf("read decimal coeff: %w", err)
		}
	}
	coeff := new(big.Int).SetBytes(mag)
	if sign == 1 {
		coeff.Neg(coeff)
	}
	return decimal.NewFromBigInt(coeff, exp), nil
}

// EncodeBookSnapshot serializes a BookSnapshot payload.
func EncodeBookSnapshot(b types.BookSnapshot) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(b.Exchange))
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], b.SymbolID)
	buf.Write(u64[:])
	var i64 [8]byte
	binary.LittleEndian.PutUint64(i64[:], uint64(b.TSNanos))
	buf.Write(i64[:])

	writeLevels := func(levels []types.PriceLevel) {
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(levels)))
		buf.Write(n[:])
		for _, lvl := range levels {
			putDecimal(&buf, lvl.Price)
			putDecimal(&buf, lvl.Qty)
		}
	}
	writeLevels(b.Bids)
	writeLevels(b.Asks)
	return buf.Bytes()
}

// DecodeBookSnapshot deserializes a BookSnapshot payload.
func DecodeBookSnapshot(payload []byte) (types.BookSnapshot, error) {
	r := bytes.NewReader(payload)
	exch, err := r.ReadByte()
	if err != nil {
		return types.BookSnapshot{}, fmt.Errorf("read exchange: %w", err)
	}
	var u64 [8]byte
	if _, err := r.Read(u64[:]); err != nil {
		return types.BookSnapshot{}, fmt.Errorf("read symbol id: %w", err)
	}
	symbolID := binary.LittleEndian.Uint64(u64[:])
	if _, err := r.Read(u64[:]); err != nil {
		return types.BookSnapshot{}, fmt.Errorf("read ts: %w", err)
	}
	tsNanos := int64(binary.LittleEndian.Uint64(u64[:]))

	readLevels := func() ([]types.PriceLevel, error) {
		var n [4]byte
		if _, err := r.Read(n[:]); err != nil {
			return nil, fmt.Errorf("read level count: %w", err)
		}
		count := binary.LittleEndian.Uint32(n[:])
		out := make([]types.PriceLevel, 0, count)
		for i := uint32(0); i < count; i++ {
			price, err := getDecimal(r)
			if err != nil {
				return nil, err
			}
			qty, err := getDecimal(r)
			if err != nil {
				return nil, err
			}
			out = append(out, types.PriceLevel{Price: price, Qty: qty})
		}
		return out, nil
	}

	bids, err := readLevels()
	if err != nil {
		return types.BookSnapshot{}, err
	}
	asks, err := readLevels()
	if err != nil {
		return types.BookSnapshot{}, err
	}

	return types.BookSnapshot{
		Exchange: types.Exchange(exch),
		SymbolID: symbolID,
		TSNanos:  tsNanos,
		Bids:     bids,
		Asks:     asks,
	}, nil
}

// EncodeInventoryUpdate serializes an InventoryUpdate payload.
func EncodeInventoryUpdate(iv types.InventoryUpdate) []byte {
	var buf bytes.Buffer
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], iv.SymbolID)
	buf.Write(u64[:])
	var f64 [8]byte
	binary.LittleEndian.PutUint64(f64[:], math.Float64bits(iv.ShareChange))
	buf.Write(f64[:])
	binary.LittleEndian.PutUint64(f64[:], math.Float64bits(iv.NetCashFlow))
	buf.Write(f64[:])
	return buf.Bytes()
}

// DecodeInventoryUpdate deserializes an InventoryUpdate payload.
func DecodeInventoryUpdate(payload []byte) (types.InventoryUpdate, error) {
	if len(payload) != 24 {
		return types.InventoryUpdate{}, fmt.Errorf("inventory update: want 24 bytes, got %d", len(payload))
	}
	symbolID := binary.LittleEndian.Uint64(payload[0:8])
	shareChange := math.Float64frombits(binary.LittleEndian.Uint64(payload[8:16]))
	netCashFlow := math.Float64frombits(binary.LittleEndian.Uint64(payload[16:24]))
	return types.InventoryUpdate{
		SymbolID:    symbolID,
		ShareChange: shareChange,
		NetCashFlow: netCashFlow,
	}, nil
}

// EncodeTradeSignal serializes a TradeSignal payload.
func EncodeTradeSignal(sig types.TradeSignal) []byte {
	var buf bytes.Buffer
	buf.WriteByte(sig.StrategyID)
	buf.WriteByte(byte(sig.TargetExchange))
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], sig.SymbolID)
	buf.Write(u64[:])
	buf.WriteByte(byte(sig.Side))
	putDecimal(&buf, sig.Price)
	putDecimal(&buf, sig.SizeUSD)
	buf.WriteByte(sig.LogicTag)
	binary.LittleEndian.PutUint64(u64[:], uint64(sig.CreatedAtNanos))
	buf.Write(u64[:])
	return buf.Bytes()
}

// DecodeTradeSignal deserializes a TradeSignal payload.
func DecodeTradeSignal(payload []byte) (types.TradeSignal, error) {
	r := bytes.NewReader(payload)
	strategyID, err := r.ReadByte()
	if err != nil {
		return types.TradeSignal{}, fmt.Errorf("read strategy id: %w", err)
	}
	exch, err := r.ReadByte()
	if err != nil {
		return types.TradeSignal{}, fmt.Errorf("read target exchange: %w", err)
	}
	var u64 [8]byte
	if _, err := r.Read(u64[:]); err != nil {
		return types.TradeSignal{}, fmt.Errorf("read symbol id: %w", err)
	}
	symbolID := binary.LittleEndian.Uint64(u64[:])
	side, err := r.ReadByte()
	if err != nil {
		return types.TradeSignal{}, fmt.Errorf("read side: %w", err)
	}
	price, err := getDecimal(r)
	if err != nil {
		return types.TradeSignal{}, err
	}
	sizeUSD, err := getDecimal(r)
	if err != nil {
		return types.TradeSignal{}, err
	}
	logicTag, err := r.ReadByte()
	if err != nil {
		return types.TradeSignal{}, fmt.Errorf("read logic tag: %w", err)
	}
	if _, err := r.Read(u64[:]); err != nil {
		return types.TradeSignal{}, fmt.Errorf("read created_at: %w", err)
	}
	createdAt := int64(binary.LittleEndian.Uint64(u64[:]))

	return types.TradeSignal{
		StrategyID:     strategyID,
		TargetExchange: types.Exchange(exch),
		SymbolID:       symbolID,
		Side:           types.Side(side),
		Price:          price,
		SizeUSD:        sizeUSD,
		LogicTag:       logicTag,
		CreatedAtNanos: createdAt,
	}, nil
}
