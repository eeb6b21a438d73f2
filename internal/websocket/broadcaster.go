package websocket

import (
	"errors"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"dexarb/internal/config"
	"dexarb/internal/models"
	"dexarb/pkg/crypto"
	"dexarb/pkg/utils"
)

// Config - параметры Broadcaster
type Config struct {
	Path           string
	BucketCapacity int
	RefillPerSec   int
	QueueCap       int
	PingInterval   time.Duration
	WriteWait      time.Duration
	AllowedOrigins []string

	// Now - источник времени для token bucket, nil = time.Now
	Now func() time.Time
}

// DefaultConfig - ведро 50, пополнение 50/с, очередь 100, ping каждые 30s
func DefaultConfig() Config {
	return Config{
		Path:           "/ws",
		BucketCapacity: 50,
		RefillPerSec:   50,
		QueueCap:       100,
		PingInterval:   30 * time.Second,
		WriteWait:      10 * time.Second,
	}
}

// NewConfig собирает Config из конфигурации приложения
func NewConfig(cfg config.WebSocketConfig) Config {
	return Config{
		Path:           cfg.Path,
		BucketCapacity: cfg.BucketCapacity,
		RefillPerSec:   cfg.RefillPerSec,
		QueueCap:       cfg.QueueCap,
		PingInterval:   cfg.PingInterval,
		WriteWait:      cfg.WriteWait,
		AllowedOrigins: cfg.AllowedOrigins,
	}
}

func (c *Config) normalize() {
	def := DefaultConfig()
	if c.Path == "" {
		c.Path = def.Path
	}
	if c.BucketCapacity <= 0 {
		c.BucketCapacity = def.BucketCapacity
	}
	if c.RefillPerSec < 0 {
		c.RefillPerSec = 0
	}
	if c.QueueCap <= 0 {
		c.QueueCap = def.QueueCap
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.WriteWait <= 0 {
		c.WriteWait = def.WriteWait
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Broadcaster рассылает состояние пулов и решения WebSocket клиентам
//
// Назначение:
// - Snapshot: последнее состояние каждой пары, проигрывается новому
//   клиенту (по символу) до live-обновлений
// - BroadcastUpdate: валидация tokenMeta.update, постановка в очереди
//   всех open клиентов, flush
// - Backpressure: ограниченная очередь + token bucket на клиента,
//   при полной очереди новый кадр отбрасывается
// - Heartbeat: мёртвые клиенты удаляются, живым отправляется ping
//   и выполняется flush
// - Admission: Bearer токен проверяется до upgrade (401 без состояния)
//
// Использование:
// 1. b := NewBroadcaster(cfg, verifier, logger)
// 2. b.Start(addr) или router.HandleFunc(path, b.ServeWS) + b.StartHeartbeat()
// 3. b.Stop() при shutdown
type Broadcaster struct {
	cfg      Config
	verifier *crypto.TokenVerifier
	origins  *OriginChecker
	upgrader websocket.Upgrader
	logger   *utils.Logger

	snapMu   sync.RWMutex
	snapshot map[string]models.TokenMetaPayload

	clientsMu sync.RWMutex
	clients   map[*Client]struct{}

	dropped atomic.Uint64

	// жизненный цикл
	lifeMu        sync.Mutex
	server        *http.Server
	listener      net.Listener
	heartbeatStop chan struct{}
	heartbeatDone chan struct{}
}

// NewBroadcaster создаёт Broadcaster; nil verifier пропускает всех
func NewBroadcaster(cfg Config, verifier *crypto.TokenVerifier, logger *utils.Logger) *Broadcaster {
	cfg.normalize()
	if verifier == nil {
		verifier = crypto.NewTokenVerifier("")
	}
	if logger == nil {
		logger = utils.NewNop()
	}

	b := &Broadcaster{
		cfg:      cfg,
		verifier: verifier,
		origins:  NewOriginChecker(cfg.AllowedOrigins),
		logger:   logger.WithComponent("broadcaster"),
		snapshot: make(map[string]models.TokenMetaPayload),
		clients:  make(map[*Client]struct{}),
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if b.origins.Check(r.Header.Get("Origin")) {
				return true
			}
			AuthRejected.WithLabelValues("origin").Inc()
			return false
		},
		EnableCompression: true,
	}
	return b
}

// ============================================================
// Жизненный цикл
// ============================================================

// Start поднимает HTTP сервер с WebSocket endpoint на addr и heartbeat
//
// Повторный вызов без Stop ничего не делает. addr ":0" выбирает свободный
// порт, фактический адрес возвращает Addr().
func (b *Broadcaster) Start(addr string) error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	if b.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc(b.cfg.Path, b.ServeWS)
	b.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	b.listener = ln

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("websocket server failed", utils.Err(err))
		}
	}(b.server)

	b.startHeartbeatLocked()
	b.logger.Info("websocket server listening", utils.String("addr", ln.Addr().String()), utils.String("path", b.cfg.Path))
	return nil
}

// StartHeartbeat запускает только heartbeat (ServeWS смонтирован в чужой роутер)
func (b *Broadcaster) StartHeartbeat() {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	b.startHeartbeatLocked()
}

// startHeartbeatLocked - ВАЖНО: вызывается под lifeMu
func (b *Broadcaster) startHeartbeatLocked() {
	if b.heartbeatStop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	b.heartbeatStop, b.heartbeatDone = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(b.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				b.heartbeat()
			}
		}
	}()
}

// Stop закрывает все соединения, очищает состояние клиентов, сбрасывает
// метрики и освобождает listener. Идемпотентен.
func (b *Broadcaster) Stop() {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	if b.heartbeatStop != nil {
		close(b.heartbeatStop)
		<-b.heartbeatDone
		b.heartbeatStop, b.heartbeatDone = nil, nil
	}

	b.clientsMu.Lock()
	clients := make([]*Client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.clients = make(map[*Client]struct{})
	b.clientsMu.Unlock()

	for _, c := range clients {
		c.close(b.cfg.WriteWait)
	}
	ClientsActive.Set(0)
	QueueDepth.Set(0)

	if b.server != nil {
		if err := b.server.Close(); err != nil {
			b.logger.Warn("websocket server close failed", utils.Err(err))
		}
		b.server = nil
		b.listener = nil
	}
	if len(clients) > 0 {
		b.logger.Info("websocket clients closed", utils.Int("count", len(clients)))
	}
}

// Addr возвращает адрес listener'а или "" до Start
func (b *Broadcaster) Addr() string {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// ============================================================
// Admission
// ============================================================

// ServeWS - HTTP handler WebSocket endpoint
//
// Токен проверяется до upgrade: при несовпадении 401 и никакого
// состояния клиента не создаётся.
func (b *Broadcaster) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !b.verifier.VerifyHeader(r.Header.Get("Authorization")) {
		AuthRejected.WithLabelValues("unauthorized").Inc()
		b.logger.Warn("websocket handshake unauthorized", utils.ClientAddr(r.RemoteAddr))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader уже ответил клиенту
		b.logger.Debug("websocket upgrade failed", utils.ClientAddr(r.RemoteAddr), utils.Err(err))
		return
	}

	c := newClient(conn, r.RemoteAddr, b.cfg, b.logger)
	b.register(c)

	go c.writePump(b.cfg.WriteWait)
	go c.readPump(b.unregister)
}

// register проигрывает snapshot и добавляет клиента в рассылку
//
// Оба шага под clientsMu: live-обновление не может попасть в очередь
// раньше snapshot'а.
func (b *Broadcaster) register(c *Client) {
	b.clientsMu.Lock()
	b.replaySnapshot(c)
	c.setState(StateOpen)
	b.clients[c] = struct{}{}
	count := len(b.clients)
	b.clientsMu.Unlock()

	ClientsActive.Set(float64(count))
	QueueDepth.Set(float64(b.totalQueueDepth()))
	b.logger.Info("websocket client connected", utils.ClientAddr(c.addr), utils.Int("clients", count))
}

// unregister удаляет клиента; повторный вызов безопасен
func (b *Broadcaster) unregister(c *Client) {
	b.clientsMu.Lock()
	_, ok := b.clients[c]
	delete(b.clients, c)
	count := len(b.clients)
	b.clientsMu.Unlock()

	c.terminate()
	if !ok {
		return
	}
	ClientsActive.Set(float64(count))
	QueueDepth.Set(float64(b.totalQueueDepth()))
	b.logger.Info("websocket client disconnected", utils.ClientAddr(c.addr), utils.Int("clients", count))
}

// replaySnapshot ставит в очередь клиента по одному кадру на пару в порядке символов
func (b *Broadcaster) replaySnapshot(c *Client) {
	b.snapMu.RLock()
	payloads := make([]models.TokenMetaPayload, 0, len(b.snapshot))
	for _, p := range b.snapshot {
		payloads = append(payloads, p)
	}
	b.snapMu.RUnlock()

	sort.Slice(payloads, func(i, j int) bool { return payloads[i].PairSymbol < payloads[j].PairSymbol })

	now := b.cfg.Now()
	for _, p := range payloads {
		data, err := EncodeUpdate(p, now)
		if err != nil {
			InvalidPayloads.Inc()
			b.logger.Error("snapshot message failed validation", utils.Pair(p.PairSymbol), utils.Err(err))
			continue
		}
		if !c.enqueue(data, now) {
			b.recordDrop()
		}
	}
}

// ============================================================
// Рассылка
// ============================================================

// UpsertSnapshot сохраняет последнее состояние пары
func (b *Broadcaster) UpsertSnapshot(payload models.TokenMetaPayload) {
	b.snapMu.Lock()
	b.snapshot[payload.PairSymbol] = payload
	b.snapMu.Unlock()
}

// SnapshotSize возвращает количество пар в snapshot
func (b *Broadcaster) SnapshotSize() int {
	b.snapMu.RLock()
	defer b.snapMu.RUnlock()
	return len(b.snapshot)
}

// BroadcastUpdate валидирует payload и рассылает tokenMeta.update
//
// Невалидный payload логируется и отбрасывается.
func (b *Broadcaster) BroadcastUpdate(payload models.TokenMetaPayload) {
	data, err := EncodeUpdate(payload, b.cfg.Now())
	if err != nil {
		InvalidPayloads.Inc()
		b.logger.Error("refusing to broadcast invalid tokenMeta.update",
			utils.Pair(payload.PairSymbol),
			utils.Dex(string(payload.Dex)),
			utils.Err(err),
		)
		return
	}
	b.broadcast(data)
}

// BroadcastDecision рассылает arb.decision
func (b *Broadcaster) BroadcastDecision(d models.Decision) {
	data, err := EncodeDecision(d, b.cfg.Now())
	if err != nil {
		b.logger.Error("failed to encode decision", utils.Pair(d.PairSymbol), utils.Err(err))
		return
	}
	b.broadcast(data)
}

// broadcast ставит кадр в очередь каждого open клиента
func (b *Broadcaster) broadcast(data []byte) {
	now := b.cfg.Now()
	for _, c := range b.clientList() {
		if c.State() != StateOpen {
			continue
		}
		if !c.enqueue(data, now) {
			b.recordDrop()
		}
	}
	QueueDepth.Set(float64(b.totalQueueDepth()))
}

// heartbeat - мёртвые клиенты удаляются, живые получают ping и flush
func (b *Broadcaster) heartbeat() {
	now := b.cfg.Now()
	for _, c := range b.clientList() {
		if !c.alive.Load() {
			b.logger.Info("terminating unresponsive websocket client", utils.ClientAddr(c.addr))
			b.unregister(c)
			continue
		}
		c.alive.Store(false)
		if err := c.ping(b.cfg.WriteWait); err != nil {
			b.logger.Debug("websocket ping failed", utils.ClientAddr(c.addr), utils.Err(err))
		}
		c.flush(now)
	}
	QueueDepth.Set(float64(b.totalQueueDepth()))
}

func (b *Broadcaster) recordDrop() {
	b.dropped.Add(1)
	MessagesDropped.Inc()
}

// clientList копирует список клиентов под коротким RLock
func (b *Broadcaster) clientList() []*Client {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()
	out := make([]*Client, 0, len(b.clients))
	for c := range b.clients {
		out = append(out, c)
	}
	return out
}

func (b *Broadcaster) totalQueueDepth() int {
	total := 0
	for _, c := range b.clientList() {
		total += c.QueueLen()
	}
	return total
}

// ClientCount возвращает количество подключённых клиентов
func (b *Broadcaster) ClientCount() int {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()
	return len(b.clients)
}

// DroppedMessages возвращает количество кадров, отброшенных из-за полной очереди
func (b *Broadcaster) DroppedMessages() uint64 {
	return b.dropped.Load()
}
