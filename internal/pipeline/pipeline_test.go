package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tradeflow/config"
	"tradeflow/internal/bus"
	"tradeflow/internal/health"
	"tradeflow/internal/model"
	"tradeflow/internal/venue"
	"tradeflow/logger"
)

type fakeSink struct {
	mu        sync.Mutex
	trades    []*model.Trade
	candles   []*model.Candle
	tradeErr  error
	candleErr error
}

func (s *fakeSink) UpsertTrade(ctx context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tradeErr != nil {
		return s.tradeErr
	}
	cp := *t
	s.trades = append(s.trades, &cp)
	return nil
}

func (s *fakeSink) UpsertCandle(ctx context.Context, c *model.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.candleErr != nil {
		return s.candleErr
	}
	cp := *c
	s.candles = append(s.candles, &cp)
	return nil
}

func (s *fakeSink) tradeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

func (s *fakeSink) candleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.candles)
}

type published struct {
	subject string
	payload interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *fakePublisher) Publish(ctx context.Context, subject string, payload interface{}) {
	p.mu.Lock()
	p.events = append(p.events, published{subject: subject, payload: payload})
	p.mu.Unlock()
}

func (p *fakePublisher) bySubject(subject string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.subject == subject {
			out = append(out, e)
		}
	}
	return out
}

// fakeConn feeds scripted frames to the read loop and unblocks it on Close.
type fakeConn struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case payload := <-c.frames:
		return websocket.TextMessage, payload, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	c.written = append(c.written, data)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func newTestPipeline(sink Sink, pub Publisher, whaleThreshold float64) (*Pipeline, Trackers) {
	v := &venue.Venue{
		Name:     "binance",
		Category: venue.CategoryCEX,
		Settings: venue.Settings{
			WhaleThreshold: whaleThreshold,
			Symbols:        []string{"BTCUSDT"},
			CandleInterval: time.Minute,
			URLs:           []string{"ws://primary.invalid/ws", "ws://backup.invalid/ws"},
		},
	}
	adapter, err := venue.NewAdapter("binance")
	if err != nil {
		panic(err)
	}
	trackers := Trackers{
		Staleness:  health.NewStalenessTracker(time.Minute),
		Reconnects: health.NewReconnectTracker(time.Hour),
		Breakers:   health.NewCircuitBreakerStore(),
	}
	trackers.Breakers.Configure("binance", 5, 30)

	rc := config.ReconnectConfig{BaseDelay: time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 10}
	p := New(v, adapter, sink, pub, bus.Subjects{Root: "tradeflow"}, trackers, rc, 20*time.Second)
	return p, trackers
}

func binanceFrame(price, qty string, at time.Time) []byte {
	return []byte(fmt.Sprintf(
		`{"e":"trade","s":"BTCUSDT","t":12345,"p":"%s","q":"%s","T":%d,"m":false}`,
		price, qty, at.UnixMilli(),
	))
}

func TestNewUsesGlobalLogger(t *testing.T) {
	p, _ := newTestPipeline(&fakeSink{}, &fakePublisher{}, 1_000_000)
	m := NewManager(venue.NewRegistry())

	// Both must log through the shared global instance so Configure in
	// main applies to them.
	if p.log.Logger != logger.GetLogger().Logger {
		t.Fatal("pipeline entry not backed by the global logger")
	}
	if m.log.Logger != logger.GetLogger().Logger {
		t.Fatal("manager entry not backed by the global logger")
	}
}

func TestNewDefaultsKeepalive(t *testing.T) {
	sink := &fakeSink{}
	pub := &fakePublisher{}
	p, _ := newTestPipeline(sink, pub, 1_000_000)
	v := p.venue
	adapter := p.adapter
	rc := config.ReconnectConfig{BaseDelay: time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 10}

	zero := New(v, adapter, sink, pub, bus.Subjects{Root: "tradeflow"}, Trackers{}, rc, 0)
	if zero.keepalive != 20*time.Second {
		t.Fatalf("keepalive = %v, want 20s default", zero.keepalive)
	}

	// The ping ticker must come up even on a zero-valued config.
	conn := newFakeConn()
	stop := zero.startPingLoop(conn)
	stop()
}

func TestHandleFrameProcessesTrade(t *testing.T) {
	sink := &fakeSink{}
	pub := &fakePublisher{}
	p, trackers := newTestPipeline(sink, pub, 1_000_000)

	at := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)
	p.handleFrame(binanceFrame("50000", "0.5", at))

	if sink.tradeCount() != 1 {
		t.Fatalf("persisted trades = %d, want 1", sink.tradeCount())
	}
	trade := sink.trades[0]
	if trade.Notional != 25000 {
		t.Fatalf("notional = %v, want 25000", trade.Notional)
	}
	if trade.IsWhale {
		t.Fatal("trade below threshold flagged as whale")
	}
	if trade.ID == "" {
		t.Fatal("trade ID not assigned")
	}

	events := pub.bySubject("tradeflow.binance.tradeExecuted")
	if len(events) != 1 {
		t.Fatalf("trade events = %d, want 1", len(events))
	}
	ev, ok := events[0].payload.(model.TradeEvent)
	if !ok {
		t.Fatalf("payload type %T", events[0].payload)
	}
	if ev.TradeID != trade.ID || ev.Notional != 25000 {
		t.Fatalf("unexpected event %+v", ev)
	}

	if _, seen := trackers.Staleness.LastSeen("binance"); !seen {
		t.Fatal("staleness tracker not updated")
	}
}

func TestWhaleThresholdInclusive(t *testing.T) {
	sink := &fakeSink{}
	pub := &fakePublisher{}
	p, _ := newTestPipeline(sink, pub, 25000)

	at := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)

	// Exactly at the threshold: 50000 * 0.5 = 25000.
	p.handleFrame(binanceFrame("50000", "0.5", at))
	if got := len(pub.bySubject("tradeflow.binance.messageCreated")); got != 1 {
		t.Fatalf("messages at threshold = %d, want 1", got)
	}
	msg, ok := pub.bySubject("tradeflow.binance.messageCreated")[0].payload.(model.MessageEvent)
	if !ok || msg.Tags.Notional != 25000 || msg.Tags.Symbol != "BTCUSDT" {
		t.Fatalf("unexpected message %+v", msg)
	}

	// Just below: no message, trade event still published.
	p.handleFrame(binanceFrame("49999", "0.5", at))
	if got := len(pub.bySubject("tradeflow.binance.messageCreated")); got != 1 {
		t.Fatalf("messages below threshold = %d, want still 1", got)
	}
	if got := len(pub.bySubject("tradeflow.binance.tradeExecuted")); got != 2 {
		t.Fatalf("trade events = %d, want 2", got)
	}
}

func TestHandleFrameDropsGarbage(t *testing.T) {
	sink := &fakeSink{}
	pub := &fakePublisher{}
	p, _ := newTestPipeline(sink, pub, 1_000_000)

	// Subscription ack: ignored without parsing.
	p.handleFrame([]byte(`{"result":null,"id":1}`))
	// Undecodable payload: dropped.
	p.handleFrame([]byte(`not json`))
	// Malformed trade: parses but fails normalization.
	p.handleFrame([]byte(`{"e":"trade","s":"BTCUSDT","t":1,"p":"abc","q":"0.5","T":1767225600000,"m":false}`))

	if sink.tradeCount() != 0 {
		t.Fatalf("persisted trades = %d, want 0", sink.tradeCount())
	}
	if len(pub.bySubject("tradeflow.binance.tradeExecuted")) != 0 {
		t.Fatal("dropped frames must not publish events")
	}

	// The feed keeps working afterwards.
	p.handleFrame(binanceFrame("50000", "0.5", time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)))
	if sink.tradeCount() != 1 {
		t.Fatalf("persisted trades = %d, want 1", sink.tradeCount())
	}
}

func TestPersistFailureDoesNotStopPublishing(t *testing.T) {
	sink := &fakeSink{tradeErr: errors.New("db down")}
	pub := &fakePublisher{}
	p, _ := newTestPipeline(sink, pub, 1_000_000)

	p.handleFrame(binanceFrame("50000", "0.5", time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)))

	if got := len(pub.bySubject("tradeflow.binance.tradeExecuted")); got != 1 {
		t.Fatalf("trade events = %d, want 1 despite persist failure", got)
	}
}

func TestFlushOpenCandles(t *testing.T) {
	sink := &fakeSink{}
	pub := &fakePublisher{}
	p, _ := newTestPipeline(sink, pub, 1_000_000)

	at := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)
	p.handleFrame(binanceFrame("50000", "0.5", at))
	p.handleFrame(binanceFrame("51000", "0.25", at.Add(5*time.Second)))

	if sink.candleCount() != 0 {
		t.Fatalf("candles before flush = %d, want 0", sink.candleCount())
	}

	p.flushOpenCandles()

	if sink.candleCount() != 1 {
		t.Fatalf("candles after flush = %d, want 1", sink.candleCount())
	}
	c := sink.candles[0]
	if c.TradeCount != 2 || c.High != 51000 || c.Low != 50000 {
		t.Fatalf("unexpected candle %+v", c)
	}
}

func TestLifecycle(t *testing.T) {
	sink := &fakeSink{}
	pub := &fakePublisher{}
	p, _ := newTestPipeline(sink, pub, 1_000_000)

	conn := newFakeConn()
	dialed := make(chan string, 4)
	p.dial = func(ctx context.Context, url string) (wsConn, error) {
		dialed <- url
		return conn, nil
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	select {
	case url := <-dialed:
		if url != "ws://primary.invalid/ws" {
			t.Fatalf("dialed %s, want first configured URL", url)
		}
	case <-time.After(time.Second):
		t.Fatal("pipeline never dialed")
	}

	// The subscribe frame goes out before any reads.
	deadline := time.Now().Add(time.Second)
	for {
		conn.mu.Lock()
		n := len(conn.written)
		conn.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscribe frame never written")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.frames <- binanceFrame("50000", "0.5", time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC))

	deadline = time.Now().Add(time.Second)
	for sink.tradeCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("frame never processed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.Stop()
	if p.Running() {
		t.Fatal("pipeline still running after stop")
	}
	if sink.candleCount() != 1 {
		t.Fatalf("candles flushed on stop = %d, want 1", sink.candleCount())
	}
}

func TestReconnectAndTrip(t *testing.T) {
	sink := &fakeSink{}
	pub := &fakePublisher{}
	p, trackers := newTestPipeline(sink, pub, 1_000_000)

	p.sched = NewScheduler(time.Millisecond, 4*time.Millisecond, 3)
	p.dial = func(ctx context.Context, url string) (wsConn, error) {
		return nil, errors.New("refused")
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.Running() {
		if time.Now().After(deadline) {
			t.Fatal("pipeline never tripped")
		}
		time.Sleep(5 * time.Millisecond)
	}

	retries := pub.bySubject("tradeflow.binance.reconnecting")
	if len(retries) != 3 {
		t.Fatalf("reconnecting events = %d, want 3", len(retries))
	}
	first, ok := retries[0].payload.(model.ReconnectingEvent)
	if !ok || first.Attempt != 1 || first.DelayMs != 1 {
		t.Fatalf("unexpected first retry event %+v", retries[0].payload)
	}

	dead := pub.bySubject("tradeflow.module.dead.binance")
	if len(dead) != 1 {
		t.Fatalf("dead events = %d, want 1", len(dead))
	}
	de, ok := dead[0].payload.(model.DeadModuleEvent)
	if !ok || de.Module != "binance" || de.Attempts != 3 {
		t.Fatalf("unexpected dead event %+v", dead[0].payload)
	}

	if got := trackers.Reconnects.Count("binance"); got != 3 {
		t.Fatalf("recorded reconnects = %d, want 3", got)
	}
	b := trackers.Breakers.Get("binance")
	if b == nil || b.State != health.BreakerOpen {
		t.Fatalf("breaker not open after trip: %+v", b)
	}
}

func TestForceReconnectDropsConnection(t *testing.T) {
	sink := &fakeSink{}
	pub := &fakePublisher{}
	p, _ := newTestPipeline(sink, pub, 1_000_000)

	dialed := make(chan *fakeConn, 4)
	p.dial = func(ctx context.Context, url string) (wsConn, error) {
		c := newFakeConn()
		dialed <- c
		return c, nil
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	var first *fakeConn
	select {
	case first = <-dialed:
	case <-time.After(time.Second):
		t.Fatal("pipeline never dialed")
	}

	// Wait for the session to register before forcing.
	deadline := time.Now().Add(time.Second)
	for {
		p.mu.Lock()
		registered := p.conn != nil
		p.mu.Unlock()
		if registered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.ForceReconnect()

	select {
	case <-first.closed:
	case <-time.After(time.Second):
		t.Fatal("forced reconnect did not drop the connection")
	}
	select {
	case <-dialed:
		// Fresh session established without waiting out a backoff.
	case <-time.After(time.Second):
		t.Fatal("forced reconnect never redialed")
	}

	// No retry event: a forced reconnect is not a failure.
	if got := len(pub.bySubject("tradeflow.binance.reconnecting")); got != 0 {
		t.Fatalf("reconnecting events = %d, want 0", got)
	}
}

func TestManagerControlCommands(t *testing.T) {
	sink := &fakeSink{}
	pub := &fakePublisher{}
	p, _ := newTestPipeline(sink, pub, 1_000_000)
	p.dial = func(ctx context.Context, url string) (wsConn, error) {
		return newFakeConn(), nil
	}

	registry := venue.NewRegistry()
	registry.Add(p.venue, true)
	m := NewManager(registry)
	m.Add(p)

	m.StartAll(context.Background())
	deadline := time.Now().Add(time.Second)
	for !p.Running() {
		if time.Now().After(deadline) {
			t.Fatal("pipeline never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	m.HandleControl("disable", "binance")
	if p.Running() {
		t.Fatal("pipeline running after disable")
	}
	if !registry.IsDisabled("binance") {
		t.Fatal("registry not flagged disabled")
	}

	m.HandleControl("enable", "binance")
	if !p.Running() {
		t.Fatal("pipeline not running after enable")
	}
	if registry.IsDisabled("binance") {
		t.Fatal("registry still flagged disabled")
	}

	// Unknown venue and unknown action are ignored.
	m.HandleControl("reconnect", "nope")
	m.HandleControl("selfdestruct", "binance")
	if !p.Running() {
		t.Fatal("pipeline state changed by ignored commands")
	}

	m.StopAll()
	if p.Running() {
		t.Fatal("pipeline running after stop all")
	}
}
