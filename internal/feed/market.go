// Package feed implements the two out-of-core market-data collaborators
// spec.md names at their interfaces: a reference-venue book ingestor that
// publishes BookSnapshot frames on the MD topic, and an on-chain fill
// listener that publishes InventoryUpdate frames on the IV topic.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"refmaker/internal/fabric"
	"refmaker/internal/types"
	"refmaker/internal/wire"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	writeTimeout     = 10 * time.Second
	maxReconnectWait = 30 * time.Second
)

// quote mirrors the reference venue's (price, size) wire shape: strings,
// so decimal precision survives JSON round-tripping untouched.
type quote struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// bookMessage is the subset of the reference venue's order_book_update
// event this ingestor cares about.
type bookMessage struct {
	EventType string  `json:"event_type"`
	AssetID   string  `json:"asset_id"`
	Timestamp int64   `json:"timestamp"`
	Bids      []quote `json:"bids"`
	Asks      []quote `json:"asks"`
}

// BookIngestor connects to Venue-R's public WebSocket feed and republishes
// every order_book_update as a BookSnapshot on the fabric's MD topic.
// Grounded on the teacher's exchange/ws.go WSFeed: same reconnect with
// exponential backoff, read deadline, and ping loop, trimmed to the
// market-channel-only, single-topic shape this collaborator needs.
type BookIngestor struct {
	url       string
	symbolIDs map[string]uint64 // asset id string -> numeric symbol_id
	pub       *fabric.Publisher
	logger    *slog.Logger
}

// NewBookIngestor creates an ingestor that republishes book updates for
// the given reference-venue asset ids. symbolIDs maps each asset id
// string to the numeric symbol_id used on the wire — per SPEC_FULL's
// symbol_id passthrough policy, this is normally just the asset id's own
// numeric form, built by cmd/refmaker from the configured reference ids.
func NewBookIngestor(url string, symbolIDs map[string]uint64, pub *fabric.Publisher, logger *slog.Logger) *BookIngestor {
	return &BookIngestor{
		url:       url,
		symbolIDs: symbolIDs,
		pub:       pub,
		logger:    logger.With("component", "feed.market"),
	}
}

// Run connects and maintains the WebSocket connection with auto-reconnect
// until ctx is cancelled.
func (b *BookIngestor) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := b.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		b.logger.Warn("reference feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (b *BookIngestor) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	assetIDs := make([]string, 0, len(b.symbolIDs))
	for id := range b.symbolIDs {
		assetIDs = append(assetIDs, id)
	}
	sub := map[string]interface{}{
		"type":       "Market",
		"assets_ids": assetIDs,
		"events":     []string{"price_change", "order_book_update"},
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	b.logger.Info("reference feed connected", "markets", len(assetIDs))

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go b.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		b.dispatch(raw)
	}
}

func (b *BookIngestor) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				b.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (b *BookIngestor) dispatch(raw []byte) {
	var msg bookMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		b.logger.Debug("ignoring non-json feed message")
		return
	}
	if msg.EventType != "order_book_update" && msg.EventType != "book" {
		return
	}

	symbolID, ok := b.symbolIDs[msg.AssetID]
	if !ok {
		return
	}

	snap := types.BookSnapshot{
		Exchange: types.ExchangeR,
		SymbolID: symbolID,
		TSNanos:  msg.Timestamp * int64(time.Millisecond),
		Bids:     toLevels(msg.Bids),
		Asks:     toLevels(msg.Asks),
	}

	b.pub.Publish(wire.TopicMD, wire.EncodeBookSnapshot(snap))
}

func toLevels(qs []quote) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(qs))
	for _, q := range qs {
		price, err := decimal.NewFromString(q.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(q.Size)
		if err != nil {
			continue
		}
		out = append(out, types.PriceLevel{Price: price, Qty: size})
	}
	return out
}

// assetIDToSymbolID is the passthrough for operators that name reference
// ids as decimal strings: it parses the id as a base-10 uint64 and returns
// an error for any id that isn't one (non-numeric or negative); no other
// mapping is applied. Exposed so cmd/refmaker can build the symbolIDs map
// without duplicating this parsing.
func assetIDToSymbolID(assetID string) (uint64, error) {
	return strconv.ParseUint(assetID, 10, 64)
}

// AssetIDToSymbolID is the exported form of assetIDToSymbolID.
func AssetIDToSymbolID(assetID string) (uint64, error) {
	return assetIDToSymbolID(assetID)
}
