package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prophet/market-engine/internal/market"
	"github.com/prophet/market-engine/internal/model"
)

func TestWSHub_BroadcastsEvents(t *testing.T) {
	hub := NewWSHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(market.Event{
		Type:       market.EventBuyExecuted,
		MarketID:   "m-1",
		ClaimID:    7,
		TruePrice:  "1.1",
		FalsePrice: "1",
		Side:       model.SideTrue,
		Amount:     "10",
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "buy_executed", got["type"])
	assert.Equal(t, "1.1", got["current_true_price"])
	assert.Equal(t, "TRUE", got["side"])

	// Disconnecting unregisters the client.
	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestWSHub_PublishNeverBlocks(t *testing.T) {
	hub := NewWSHub(nil) // not running
	finished := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(market.Event{Type: market.EventMarketCreated})
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked with no hub loop running")
	}
}
