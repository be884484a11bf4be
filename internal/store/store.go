// Package store persists the audit trail: scores, composites, trades,
// tuning entries, plus the latest weights and balance for restart
// recovery. Writes are asynchronous so a slow disk never stalls an
// evaluation cycle.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/rs/zerolog"

	"github.com/Joe-Swanson828/prediction-bot/internal/agent"
	"github.com/Joe-Swanson828/prediction-bot/internal/book"
	"github.com/Joe-Swanson828/prediction-bot/internal/composite"
	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
)

// Key prefixes group records by kind for prefix scans.
const (
	prefixScore     = "score/"
	prefixComposite = "composite/"
	prefixTrade     = "trade/"
	prefixTuning    = "tuning/"

	keyWeights = "weights"
	keyBalance = "balance"
)

const (
	queueSize  = 1024
	maxPending = 4096
)

type entry struct {
	key   []byte
	value []byte
	done  chan struct{} // non-nil for sync barriers, no write performed
}

// Store is a badger-backed append log with an async writer. When the
// database errors, records buffer in memory and drain on the next
// successful write instead of being lost.
type Store struct {
	db      *badger.DB
	log     zerolog.Logger
	entries chan entry
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending []entry
	dropped int
}

// Open opens or creates the database at path. An empty path opens an
// in-memory database, used by tests.
func Open(path string, log zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	// Badger's own logger is noisy; errors still surface from calls.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store at %q: %w", path, err)
	}

	s := &Store{
		db:      db,
		log:     log,
		entries: make(chan entry, queueSize),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

// Close drains queued writes and closes the database.
func (s *Store) Close() error {
	close(s.entries)
	s.wg.Wait()
	s.flushPending()
	return s.db.Close()
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for e := range s.entries {
		s.flushPending()
		if e.done != nil {
			close(e.done)
			continue
		}
		if err := s.set(e); err != nil {
			s.buffer(e, err)
		}
	}
}

func (s *Store) set(e entry) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(e.key, e.value)
	})
}

func (s *Store) buffer(e entry, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= maxPending {
		s.pending = s.pending[1:]
		s.dropped++
	}
	s.pending = append(s.pending, e)
	s.log.Warn().Err(cause).Int("pending", len(s.pending)).Msg("store write buffered")
}

func (s *Store) flushPending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for i, e := range pending {
		if err := s.set(e); err != nil {
			s.mu.Lock()
			s.pending = append(pending[i:], s.pending...)
			s.mu.Unlock()
			return
		}
	}
}

// append marshals and enqueues without blocking. A full queue spills
// into the pending buffer.
func (s *Store) append(key string, v any) {
	value, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("store marshal failed")
		return
	}
	e := entry{key: []byte(key), value: value}
	select {
	case s.entries <- e:
	default:
		s.buffer(e, errors.New("write queue full"))
	}
}

// RecordScore appends one engine score.
func (s *Store) RecordScore(score signal.Score) {
	s.append(fmt.Sprintf("%s%s/%s/%d", prefixScore, score.Market, score.Type, score.Ts.UnixNano()), score)
}

// RecordComposite appends one aggregated decision.
func (s *Store) RecordComposite(c signal.Composite) {
	s.append(fmt.Sprintf("%s%s/%d", prefixComposite, c.Market, c.Ts.UnixNano()), c)
}

// RecordTrade appends a closed trade.
func (s *Store) RecordTrade(t book.Trade) {
	s.append(prefixTrade+t.ID, t)
}

// RecordTuning appends one weight-review entry.
func (s *Store) RecordTuning(e agent.LogEntry) {
	s.append(fmt.Sprintf("%s%s/%d", prefixTuning, e.Category, e.Ts.UnixNano()), e)
}

// SaveWeights persists the current weight triples, synchronously, so a
// retune survives an immediate crash.
func (s *Store) SaveWeights(triples map[signal.Category]composite.Triple) error {
	value, err := json.Marshal(triples)
	if err != nil {
		return err
	}
	return s.set(entry{key: []byte(keyWeights), value: value})
}

// LoadWeights restores persisted triples. Missing state returns nil.
func (s *Store) LoadWeights() (map[signal.Category]composite.Triple, error) {
	var triples map[signal.Category]composite.Triple
	found, err := s.get(keyWeights, &triples)
	if err != nil || !found {
		return nil, err
	}
	return triples, nil
}

// balanceState is the restart snapshot of the cash position.
type balanceState struct {
	Cash float64   `json:"cash"`
	Ts   time.Time `json:"ts"`
}

// SaveBalance persists the cash balance synchronously.
func (s *Store) SaveBalance(cash float64) error {
	value, err := json.Marshal(balanceState{Cash: cash, Ts: time.Now()})
	if err != nil {
		return err
	}
	return s.set(entry{key: []byte(keyBalance), value: value})
}

// LoadBalance restores the persisted cash balance. The boolean reports
// whether a balance had been saved.
func (s *Store) LoadBalance() (float64, bool, error) {
	var state balanceState
	found, err := s.get(keyBalance, &state)
	return state.Cash, found, err
}

func (s *Store) get(key string, v any) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Trades scans every persisted trade.
func (s *Store) Trades() ([]book.Trade, error) {
	var trades []book.Trade
	err := s.scan(prefixTrade, func(val []byte) error {
		var t book.Trade
		if err := json.Unmarshal(val, &t); err != nil {
			return err
		}
		trades = append(trades, t)
		return nil
	})
	return trades, err
}

// Composites scans persisted decisions for one market, oldest first.
func (s *Store) Composites(marketID string) ([]signal.Composite, error) {
	var out []signal.Composite
	err := s.scan(prefixComposite+marketID+"/", func(val []byte) error {
		var c signal.Composite
		if err := json.Unmarshal(val, &c); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

func (s *Store) scan(prefix string, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// Sync blocks until every record queued before the call has been
// written. Tests use it to avoid sleeping.
func (s *Store) Sync() {
	done := make(chan struct{})
	s.entries <- entry{done: done}
	<-done
}
