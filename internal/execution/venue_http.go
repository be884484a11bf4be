package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// venueError wraps an HTTP failure with retry classification.
type venueError struct {
	msg       string
	transient bool
}

func (e *venueError) Error() string   { return e.msg }
func (e *venueError) Transient() bool { return e.transient }

// HTTPVenue places orders against a venue's REST order endpoint.
type HTTPVenue struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPVenue builds a venue client. The API key is sent as a bearer
// token on every request.
func NewHTTPVenue(name, baseURL, apiKey string) *HTTPVenue {
	return &HTTPVenue{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Name identifies the venue in logs and breaker state.
func (v *HTTPVenue) Name() string { return v.name }

type orderRequest struct {
	Market     string  `json:"market"`
	Side       string  `json:"side"`
	Kind       string  `json:"kind"`
	Quantity   float64 `json:"quantity"`
	LimitPrice float64 `json:"limit_price"`
}

type orderResponse struct {
	Price float64 `json:"price"`
	Ts    int64   `json:"ts"`
}

// PlaceOrder submits the order and maps failures onto the retry
// contract: refused connections and 5xx/429 responses are transient,
// a timeout after the request left is ambiguous, other 4xx are final.
func (v *HTTPVenue) PlaceOrder(ctx context.Context, order Order) (Fill, error) {
	body, err := json.Marshal(orderRequest{
		Market:     order.Market,
		Side:       string(order.Side),
		Kind:       string(order.Kind),
		Quantity:   order.Quantity,
		LimitPrice: order.LimitPrice,
	})
	if err != nil {
		return Fill{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return Fill{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		// Once the request may have reached the venue, a timeout means
		// we cannot know whether it filled.
		if errors.Is(err, context.DeadlineExceeded) {
			return Fill{}, fmt.Errorf("%w: %s", ErrAmbiguous, err)
		}
		return Fill{}, &venueError{msg: fmt.Sprintf("venue request: %v", err), transient: true}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Fill{}, &venueError{msg: fmt.Sprintf("venue returned %s", resp.Status), transient: true}
	default:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Fill{}, fmt.Errorf("venue rejected order: %s %s", resp.Status, payload)
	}

	var out orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// The order was accepted but the fill price is unknown.
		return Fill{}, fmt.Errorf("%w: decode response: %v", ErrAmbiguous, err)
	}
	return Fill{
		Order: order,
		Price: out.Price,
		Ts:    time.UnixMilli(out.Ts),
	}, nil
}
