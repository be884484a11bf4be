// Package notify pushes trade and lifecycle events to an operator
// webhook. Delivery is fire and forget; a bounded queue drops the
// oldest events under pressure rather than stalling the engine.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is one operator notification.
type Event struct {
	Kind   string    `json:"kind"` // trade_opened, trade_closed, retune, halt
	Market string    `json:"market,omitempty"`
	Detail string    `json:"detail"`
	Ts     time.Time `json:"ts"`
}

const (
	defaultQueueSize = 64
	requestTimeout   = 5 * time.Second
)

// Notifier posts events to a webhook from a single background worker.
type Notifier struct {
	url    string
	client *http.Client
	log    zerolog.Logger
	queue  chan Event
	wg     sync.WaitGroup

	mu      sync.Mutex
	dropped int
}

// New starts a notifier for the webhook URL. An empty URL yields a
// disabled notifier whose Publish is a no-op.
func New(url string, queueSize int, log zerolog.Logger) *Notifier {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	n := &Notifier{
		url:    url,
		client: &http.Client{Timeout: requestTimeout},
		log:    log,
		queue:  make(chan Event, queueSize),
	}
	if url != "" {
		n.wg.Add(1)
		go n.deliverLoop()
	}
	return n
}

// Publish enqueues an event without blocking. When the queue is full
// the event is dropped and counted.
func (n *Notifier) Publish(e Event) {
	if n.url == "" {
		return
	}
	if e.Ts.IsZero() {
		e.Ts = time.Now()
	}
	select {
	case n.queue <- e:
	default:
		n.mu.Lock()
		n.dropped++
		dropped := n.dropped
		n.mu.Unlock()
		n.log.Warn().Int("dropped", dropped).Str("kind", e.Kind).Msg("notification dropped, queue full")
	}
}

// Dropped reports how many events overflowed the queue.
func (n *Notifier) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// Close drains the queue and stops the worker.
func (n *Notifier) Close() {
	if n.url == "" {
		return
	}
	close(n.queue)
	n.wg.Wait()
}

func (n *Notifier) deliverLoop() {
	defer n.wg.Done()
	for e := range n.queue {
		if err := n.post(e); err != nil {
			n.log.Warn().Err(err).Str("kind", e.Kind).Msg("notification delivery failed")
		}
	}
}

func (n *Notifier) post(e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
