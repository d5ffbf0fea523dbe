package sdk

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ChannelState is the realtime channel lifecycle state
type ChannelState int32

const (
	ChannelDisconnected ChannelState = iota
	ChannelConnecting
	ChannelOpen
	ChannelClosed
	ChannelError
)

func (s ChannelState) String() string {
	switch s {
	case ChannelDisconnected:
		return "disconnected"
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	case ChannelClosed:
		return "closed"
	case ChannelError:
		return "error"
	default:
		return "unknown"
	}
}

// logoutEvent is the only recognized control payload on the listen stream
const logoutEvent = "logout"

// BackoffConfig bounds the reconnect schedule. The original behavior was an
// unconditional retry-forever; a bounded exponential backoff with jitter
// avoids a reconnect storm against the server, and MaxAttempts failures in a
// row surface a give-up signal to the host.
type BackoffConfig struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff is used when the host does not override the schedule
var DefaultBackoff = BackoffConfig{
	Initial:     time.Second,
	Max:         30 * time.Second,
	MaxAttempts: 10,
}

// RealtimeChannel owns the long-lived server-push connection keyed by this
// device's id. Each inbound "logout" payload is dispatched through onEvent;
// unknown payloads and comment frames are ignored. At most one connection is
// open at a time.
//
// Callbacks run on a dedicated dispatch goroutine, never on the connection
// goroutine, so a callback may call Stop without deadlocking.
type RealtimeChannel struct {
	baseURL    string
	credential Credential
	httpClient *http.Client
	logger     *log.Logger
	backoff    BackoffConfig

	onEvent func(payload string)
	onDown  func(err error)

	state atomic.Int32

	mu       sync.Mutex
	deviceID string
	cancel   context.CancelFunc
	done     chan struct{}
}

func newRealtimeChannel(baseURL string, credential Credential, httpClient *http.Client, logger *log.Logger, backoff BackoffConfig, onEvent func(string), onDown func(error)) *RealtimeChannel {
	if httpClient == nil {
		// No overall timeout here: the stream is long-lived by design.
		httpClient = &http.Client{}
	}
	if backoff.Initial <= 0 {
		backoff = DefaultBackoff
	}
	return &RealtimeChannel{
		baseURL:    strings.TrimRight(baseURL, "/"),
		credential: credential,
		httpClient: httpClient,
		logger:     logger,
		backoff:    backoff,
		onEvent:    onEvent,
		onDown:     onDown,
	}
}

// State returns the current lifecycle state
func (c *RealtimeChannel) State() ChannelState {
	return ChannelState(c.state.Load())
}

func (c *RealtimeChannel) setState(s ChannelState) {
	c.state.Store(int32(s))
}

// Start opens the stream for the given device id, tearing down any existing
// connection first. It returns immediately; connection management runs in a
// background goroutine until Stop is called or the backoff budget runs out.
func (c *RealtimeChannel) Start(deviceID string) error {
	if c.credential.ClientID == "" {
		return &ConfigurationError{Reason: "client credential is not set"}
	}
	if deviceID == "" {
		return &ConfigurationError{Reason: "deviceID must not be empty"}
	}

	c.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	events := make(chan rtEvent, 8)

	c.mu.Lock()
	c.deviceID = deviceID
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.run(ctx, deviceID, done, events)
	go c.dispatchLoop(ctx, events)
	return nil
}

// Stop tears down the connection and waits for the connection goroutine to
// exit. Safe to call from inside an event callback: the connection goroutine
// never runs host callbacks, so it is free to exit while a callback blocks
// here.
func (c *RealtimeChannel) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.setState(ChannelDisconnected)
}

// rtEvent is one item on the dispatch queue: a control payload, or the
// terminal give-up error.
type rtEvent struct {
	payload string
	err     error
}

func (c *RealtimeChannel) run(ctx context.Context, deviceID string, done chan struct{}, events chan<- rtEvent) {
	defer close(done)
	defer close(events)

	attempts := 0
	for {
		c.setState(ChannelConnecting)
		err := c.listen(ctx, deviceID, &attempts, events)
		if ctx.Err() != nil {
			c.setState(ChannelClosed)
			return
		}
		c.setState(ChannelClosed)

		attempts++
		if attempts >= c.backoff.MaxAttempts {
			c.setState(ChannelError)
			c.logger.Printf("realtime stream down after %d attempts: %v", attempts, err)
			c.emit(ctx, events, rtEvent{err: fmt.Errorf("devicegate: realtime stream gave up after %d attempts: %w", attempts, err)})
			return
		}

		delay := c.delayFor(attempts)
		c.logger.Printf("realtime stream lost (%v), reconnecting in %s", err, delay.Round(time.Millisecond))
		select {
		case <-ctx.Done():
			c.setState(ChannelClosed)
			return
		case <-time.After(delay):
		}
	}
}

// delayFor computes the exponential backoff delay with +/-50% jitter
func (c *RealtimeChannel) delayFor(attempt int) time.Duration {
	delay := c.backoff.Initial
	for i := 1; i < attempt && delay < c.backoff.Max; i++ {
		delay *= 2
	}
	if delay > c.backoff.Max {
		delay = c.backoff.Max
	}
	jitter := time.Duration(rand.Int63n(int64(delay)))
	return delay/2 + jitter/2
}

// emit queues an event for the dispatch goroutine. It never blocks the
// connection goroutine behind a host callback: cancellation wins over
// delivery.
func (c *RealtimeChannel) emit(ctx context.Context, events chan<- rtEvent, ev rtEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

// dispatchLoop delivers queued events to the host callbacks. It runs on its
// own goroutine so a callback can tear the channel down without waiting on
// itself; once the context is cancelled remaining events are dropped.
func (c *RealtimeChannel) dispatchLoop(ctx context.Context, events <-chan rtEvent) {
	for ev := range events {
		if ctx.Err() != nil {
			return
		}
		if ev.err != nil {
			if c.onDown != nil {
				c.onDown(ev.err)
			}
			continue
		}
		c.dispatch(ev.payload)
	}
}

// listen performs one connection attempt and consumes the stream until it
// breaks. A successful handshake resets the attempt counter.
func (c *RealtimeChannel) listen(ctx context.Context, deviceID string, attempts *int, events chan<- rtEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/access/device/"+deviceID+"/listen", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Client-Id", c.credential.ClientID)
	req.SetBasicAuth(c.credential.ClientID, c.credential.Secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	c.setState(ChannelOpen)
	*attempts = 0

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "" || strings.HasPrefix(line, ":"):
			// Heartbeats and comment frames carry no payload.
		case strings.HasPrefix(line, "data:"):
			c.emit(ctx, events, rtEvent{payload: strings.TrimSpace(strings.TrimPrefix(line, "data:"))})
		default:
			// event:/id:/retry: fields are not part of the protocol; skip.
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("stream closed by server")
}

// dispatch matches the payload against the closed set of control events.
// Anything unrecognized is dropped without error.
func (c *RealtimeChannel) dispatch(payload string) {
	if payload != logoutEvent {
		return
	}
	if c.onEvent != nil {
		c.onEvent(payload)
	}
}
