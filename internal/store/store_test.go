package store

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Joe-Swanson828/prediction-bot/internal/book"
	"github.com/Joe-Swanson828/prediction-bot/internal/composite"
	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestTradeRoundTrip(t *testing.T) {
	s := openTestStore(t)

	trade := book.Trade{
		ID:         "t1",
		Market:     "poly:BTC-100K",
		Category:   signal.CategoryCrypto,
		Side:       book.SideYes,
		Quantity:   10,
		EntryPrice: 0.50,
		ExitPrice:  0.65,
		PnL:        1.5,
		Reason:     book.ReasonTakeProfit,
		Opened:     time.Unix(100, 0).UTC(),
		Closed:     time.Unix(200, 0).UTC(),
	}
	s.RecordTrade(trade)
	s.Sync()

	trades, err := s.Trades()
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, trade, trades[0])
}

func TestCompositesScanIsPerMarket(t *testing.T) {
	s := openTestStore(t)

	for i, market := range []string{"a", "a", "b"} {
		s.RecordComposite(signal.Composite{
			Market: market,
			Final:  float64(50 + i),
			Ts:     time.Unix(int64(i), 0).UTC(),
		})
	}
	s.Sync()

	got, err := s.Composites("a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, c := range got {
		require.Equal(t, "a", c.Market)
	}
}

func TestWeightsPersistAcrossLoad(t *testing.T) {
	s := openTestStore(t)

	missing, err := s.LoadWeights()
	require.NoError(t, err)
	require.Nil(t, missing)

	saved := map[signal.Category]composite.Triple{
		signal.CategoryCrypto: {TA: 0.45, Sentiment: 0.30, Speed: 0.25},
	}
	require.NoError(t, s.SaveWeights(saved))

	loaded, err := s.LoadWeights()
	require.NoError(t, err)
	require.Equal(t, saved, loaded)
}

func TestBalancePersistAcrossLoad(t *testing.T) {
	s := openTestStore(t)

	_, found, err := s.LoadBalance()
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.SaveBalance(123.45))

	cash, found, err := s.LoadBalance()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 123.45, cash)
}

func TestQueueOverflowBuffersInsteadOfDropping(t *testing.T) {
	s := openTestStore(t)

	// Push well past the channel capacity; everything must survive in
	// either the queue or the pending buffer.
	total := queueSize + 100
	for i := 0; i < total; i++ {
		s.RecordScore(signal.Score{
			Market: "a",
			Type:   signal.TypeTA,
			Value:  float64(i % 100),
			Ts:     time.Unix(int64(i), 0).UTC(),
		})
	}
	s.Sync()

	count := 0
	err := s.scan(prefixScore, func([]byte) error {
		count++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, total, count)
}
