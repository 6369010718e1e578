package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradeflow/config"
	"tradeflow/internal/bus"
	"tradeflow/internal/candle"
	"tradeflow/internal/health"
	"tradeflow/internal/metrics"
	"tradeflow/internal/model"
	"tradeflow/internal/norm"
	"tradeflow/internal/venue"
	"tradeflow/logger"
)

const (
	writeWait    = 10 * time.Second
	dialTimeout  = 15 * time.Second
	flushTimeout = 5 * time.Second
)

// Sink persists normalized output. *store.Store satisfies it; tests swap in
// a recorder.
type Sink interface {
	UpsertTrade(ctx context.Context, t *model.Trade) error
	UpsertCandle(ctx context.Context, c *model.Candle) error
}

// Publisher emits events without delivery guarantees.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload interface{})
}

// Trackers bundles the health stores a pipeline reports into. The stores are
// shared across all pipelines and owned by the health aggregator's caller.
type Trackers struct {
	Staleness  *health.StalenessTracker
	Reconnects *health.ReconnectTracker
	Breakers   *health.CircuitBreakerStore
}

// wsConn is the slice of *websocket.Conn the pipeline uses. Narrowed so
// tests can feed scripted frames without a live endpoint.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

func dialWebsocket(ctx context.Context, url string) (wsConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Pipeline drives one venue end to end: dial, subscribe, read, normalize,
// aggregate, persist, publish. Connection failures are retried with backoff
// until the attempt ceiling trips the venue's breaker and the pipeline
// reports itself dead.
type Pipeline struct {
	venue    *venue.Venue
	adapter  venue.Adapter
	sink     Sink
	pub      Publisher
	subjects bus.Subjects
	trackers Trackers

	sched     *Scheduler
	keepalive time.Duration
	dial      func(ctx context.Context, url string) (wsConn, error)
	log       *logger.Entry

	aggMu sync.Mutex
	agg   *candle.Aggregator

	mu        sync.Mutex
	running   bool
	forced    bool
	conn      wsConn
	activeURL string
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(v *venue.Venue, a venue.Adapter, sink Sink, pub Publisher, subjects bus.Subjects, trackers Trackers, rc config.ReconnectConfig, keepalive time.Duration) *Pipeline {
	if keepalive <= 0 {
		keepalive = 20 * time.Second
	}
	return &Pipeline{
		venue:     v,
		adapter:   a,
		sink:      sink,
		pub:       pub,
		subjects:  subjects,
		trackers:  trackers,
		sched:     NewScheduler(rc.BaseDelay, rc.MaxDelay, rc.MaxAttempts),
		keepalive: keepalive,
		dial:      dialWebsocket,
		log:       logger.GetLogger().WithComponent("pipeline").WithFields(logger.Fields{"venue": v.Name}),
		agg:       candle.New(v.Name, v.Settings.CandleInterval),
		ctx:       context.Background(),
	}
}

// Start brings the pipeline up. The first connect happens on a background
// goroutine; Start itself never blocks on the network.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("pipeline %s already running", p.venue.Name)
	}
	p.running = true
	p.forced = false
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	p.mu.Unlock()

	p.sched.Reset()
	p.log.Info("starting pipeline")
	go func() {
		defer p.wg.Done()
		p.connect()
	}()
	return nil
}

// Stop tears the pipeline down and synchronously flushes every open candle
// so in-progress buckets survive a restart.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	conn := p.conn
	cancel := p.cancel
	p.mu.Unlock()

	p.sched.Cancel()
	if conn != nil {
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.flushOpenCandles()
	p.log.Info("pipeline stopped")
}

// Running reports whether the pipeline is live or mid-backoff. A tripped
// pipeline is not running until an operator starts it again.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// ForceReconnect drops the current connection, or cancels a pending backoff
// task, and attempts a fresh connect immediately.
func (p *Pipeline) ForceReconnect() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	conn := p.conn
	if conn != nil {
		p.forced = true
	}
	p.mu.Unlock()

	pending := p.sched.Cancel()
	p.sched.Reset()
	p.log.Info("reconnect forced by operator")
	if conn != nil {
		// The read loop exits on close and the forced flag routes it
		// straight back into connect.
		conn.Close()
		return
	}
	if pending {
		// Mid-backoff: replace the cancelled task with an immediate one.
		// A dial already in flight needs no help; the reset backoff
		// covers it.
		p.fire()
	}
}

// fire is the scheduler's callback. It spawns a connect attempt unless the
// pipeline was stopped while the timer was pending.
func (p *Pipeline) fire() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		p.connect()
	}()
}

// connect performs one full session: dial, subscribe, keepalive, read until
// the connection dies, then hand the failure to the scheduler.
func (p *Pipeline) connect() {
	p.mu.Lock()
	running := p.running
	ctx := p.ctx
	p.mu.Unlock()
	if !running || ctx.Err() != nil {
		return
	}

	conn, url, err := p.dialCandidates(ctx)
	if err != nil {
		p.log.WithError(err).Warn("all endpoints unreachable")
		p.onFailure()
		return
	}

	frame, err := p.adapter.SubscribeFrame(p.venue.Settings.Symbols)
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, frame)
	}
	if err != nil {
		p.log.WithError(err).Warn("subscribe failed")
		conn.Close()
		p.onFailure()
		return
	}

	p.mu.Lock()
	if !p.running {
		// Stopped while dialing; nobody else holds this conn.
		p.mu.Unlock()
		conn.Close()
		return
	}
	p.conn = conn
	p.activeURL = url
	p.mu.Unlock()

	p.sched.Reset()
	p.log.WithFields(logger.Fields{"url": url, "symbols": len(p.venue.Settings.Symbols)}).Info("connected")

	stopPing := p.startPingLoop(conn)
	readErr := p.readLoop(ctx, conn)
	stopPing()
	conn.Close()

	p.mu.Lock()
	p.conn = nil
	running = p.running
	forced := p.forced
	p.forced = false
	p.mu.Unlock()

	if !running || ctx.Err() != nil {
		return
	}
	if forced {
		p.fire()
		return
	}
	if readErr != nil {
		p.log.WithError(readErr).Warn("connection lost")
	}
	p.onFailure()
}

// dialCandidates tries the last known good endpoint first, then every
// configured URL in order.
func (p *Pipeline) dialCandidates(ctx context.Context) (wsConn, string, error) {
	p.mu.Lock()
	active := p.activeURL
	p.mu.Unlock()

	urls := p.venue.Settings.URLs
	if active != "" {
		ordered := make([]string, 0, len(urls)+1)
		ordered = append(ordered, active)
		for _, u := range urls {
			if u != active {
				ordered = append(ordered, u)
			}
		}
		urls = ordered
	}

	var lastErr error
	for _, u := range urls {
		conn, err := p.dial(ctx, u)
		if err == nil {
			return conn, u, nil
		}
		lastErr = err
		p.log.WithError(err).WithFields(logger.Fields{"url": u}).Warn("dial failed")
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no endpoints configured for %s", p.venue.Name)
	}
	return nil, "", lastErr
}

// onFailure records the failure and either schedules the next attempt or
// declares the venue dead once attempts are exhausted.
func (p *Pipeline) onFailure() {
	p.mu.Lock()
	running := p.running
	ctx := p.ctx
	p.mu.Unlock()
	if !running || ctx.Err() != nil {
		return
	}

	attempt, delay, tripped := p.sched.Fail(p.fire)
	if tripped {
		p.markDead(attempt)
		return
	}

	p.trackers.Reconnects.Record(p.venue.Name)
	metrics.IncReconnect(p.venue.Name)
	p.pub.Publish(ctx, p.subjects.Reconnecting(p.venue.Name), model.ReconnectingEvent{
		Module:  p.venue.Name,
		Attempt: attempt,
		DelayMs: delay.Milliseconds(),
	})
	p.log.WithFields(logger.Fields{"attempt": attempt, "delay": delay.String()}).Warn("reconnect scheduled")
}

// markDead trips the venue's breaker, announces the death, and leaves the
// pipeline stopped until an operator intervenes.
func (p *Pipeline) markDead(attempts int) {
	p.mu.Lock()
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	now := time.Now().UTC()
	p.trackers.Breakers.Trip(p.venue.Name, now)
	p.pub.Publish(context.Background(), p.subjects.ModuleDead(p.venue.Name), model.DeadModuleEvent{
		Module:   p.venue.Name,
		Attempts: attempts,
		At:       now,
	})
	p.log.WithFields(logger.Fields{"attempts": attempts}).Error("reconnect attempts exhausted, marking venue dead")
	if cancel != nil {
		cancel()
	}
	p.flushOpenCandles()
}

// startPingLoop keeps the connection alive with protocol-level pings. A
// write failure is left for the read loop to surface.
func (p *Pipeline) startPingLoop(conn wsConn) func() {
	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }

	go func() {
		ticker := time.NewTicker(p.keepalive)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					p.log.WithError(err).Debug("ping failed")
					return
				}
			}
		}
	}()
	return stop
}

func (p *Pipeline) readLoop(ctx context.Context, conn wsConn) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		p.handleFrame(payload)
	}
}

// handleFrame runs one inbound frame through the full processing chain.
// Malformed frames and trades are counted, logged, and dropped; one bad
// record never takes the feed down.
func (p *Pipeline) handleFrame(payload []byte) {
	logger.RecordStreamMessage("venue_"+p.venue.Name, len(payload))

	if p.adapter.IsControlFrame(payload) {
		return
	}

	raws, err := p.adapter.ParseFrames(payload)
	if err != nil {
		metrics.IncMessageDropped(p.venue.Name, "parse")
		p.log.WithError(err).Warn("dropping undecodable frame")
		return
	}

	for _, raw := range raws {
		trade, err := norm.Normalize(raw, p.venue.Name)
		if err != nil {
			metrics.IncMessageDropped(p.venue.Name, "normalize")
			p.log.WithError(err).Warn("dropping malformed trade")
			continue
		}
		p.processTrade(&trade)
	}
}

func (p *Pipeline) processTrade(t *model.Trade) {
	t.IsWhale = t.Notional >= p.venue.Settings.WhaleThreshold

	p.trackers.Staleness.UpdateSeen(p.venue.Name)
	metrics.IncTradeIngested(p.venue.Name)

	p.aggMu.Lock()
	flushed := p.agg.OnTrade(t)
	p.aggMu.Unlock()

	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()

	if flushed != nil {
		if err := p.sink.UpsertCandle(ctx, flushed); err != nil {
			metrics.IncPersistFailure(p.venue.Name, "candle")
			p.log.WithError(err).WithFields(logger.Fields{"candle": flushed.ID}).Warn("candle persist failed")
		}
	}
	if err := p.sink.UpsertTrade(ctx, t); err != nil {
		metrics.IncPersistFailure(p.venue.Name, "trade")
		p.log.WithError(err).WithFields(logger.Fields{"trade": t.ID}).Warn("trade persist failed")
	}

	p.pub.Publish(ctx, p.subjects.TradeExecuted(p.venue.Name), model.TradeEvent{
		Venue:     t.Venue,
		Symbol:    t.Symbol,
		TradeID:   t.ID,
		Price:     t.Price,
		Size:      t.Size,
		Side:      t.Side,
		Notional:  t.Notional,
		IsWhale:   t.IsWhale,
		Timestamp: t.CreatedAt,
	})

	if t.IsWhale {
		p.pub.Publish(ctx, p.subjects.MessageCreated(p.venue.Name), model.MessageEvent{
			Module:  p.venue.Name,
			Summary: fmt.Sprintf("whale trade on %s: %s %s %.4f @ %.4f (notional %.2f)", p.venue.Name, t.Side, t.Symbol, t.Size, t.Price, t.Notional),
			Tags: model.MessageTags{
				Symbol:   t.Symbol,
				Side:     t.Side,
				Notional: t.Notional,
				TradeID:  t.ID,
			},
			Timestamp: t.CreatedAt,
		})
	}
}

// flushOpenCandles persists every open bucket with a short deadline of its
// own, since the pipeline context is already cancelled at this point.
func (p *Pipeline) flushOpenCandles() {
	p.aggMu.Lock()
	candles := p.agg.FlushAll()
	p.aggMu.Unlock()
	if len(candles) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for _, c := range candles {
		if err := p.sink.UpsertCandle(ctx, c); err != nil {
			metrics.IncPersistFailure(p.venue.Name, "candle")
			p.log.WithError(err).WithFields(logger.Fields{"candle": c.ID}).Warn("candle flush failed")
		}
	}
	p.log.WithFields(logger.Fields{"candles": len(candles)}).Info("flushed open candles")
}
