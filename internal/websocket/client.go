package websocket

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"dexarb/pkg/ratelimit"
	"dexarb/pkg/utils"
)

// Максимальный размер входящего сообщения (клиенты только читают)
const maxMessageSize = 4096

// OriginChecker проверяет Origin с O(1) lookup через map
// Потокобезопасен для чтения после инициализации
type OriginChecker struct {
	allowedOrigins map[string]struct{}
	allowAll       bool
}

// NewOriginChecker - пустой список или "*" разрешает любые origin
func NewOriginChecker(origins []string) *OriginChecker {
	checker := &OriginChecker{allowedOrigins: make(map[string]struct{})}
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			checker.allowAll = true
		}
		if origin != "" {
			checker.allowedOrigins[origin] = struct{}{}
		}
	}
	if len(checker.allowedOrigins) == 0 {
		checker.allowAll = true
	}
	return checker
}

// Check проверяет origin за O(1)
func (oc *OriginChecker) Check(origin string) bool {
	if origin == "" {
		return true // не браузер (curl, боты)
	}
	if oc.allowAll {
		return true
	}
	_, ok := oc.allowedOrigins[origin]
	return ok
}

// Client - одно WebSocket соединение
//
// Состояние клиента:
// - queue: ограниченная очередь сериализованных кадров (<= QueueCap)
// - bucket: целочисленный token bucket, 1 токен на кадр
// - alive: сбрасывается heartbeat'ом, выставляется pong'ом
// - state: connecting → open → closing → closed
//
// queue, bucket и state меняются под mu. Кадры пишет только writePump,
// flush лишь передаёт их в канал out.
type Client struct {
	conn   *websocket.Conn
	addr   string
	logger *utils.Logger

	mu     sync.Mutex
	queue  [][]byte
	bucket *ratelimit.Bucket
	state  ConnState

	queueCap int
	alive    atomic.Bool

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, addr string, cfg Config, logger *utils.Logger) *Client {
	c := &Client{
		conn:     conn,
		addr:     addr,
		logger:   logger.With(utils.ClientAddr(addr)),
		queue:    make([][]byte, 0, cfg.QueueCap),
		bucket:   ratelimit.NewBucket(cfg.BucketCapacity, cfg.RefillPerSec, cfg.Now()),
		state:    StateConnecting,
		queueCap: cfg.QueueCap,
		out:      make(chan []byte, cfg.QueueCap),
		done:     make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

// State возвращает состояние соединения
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// transition - ВАЖНО: вызывается под c.mu
func (c *Client) transition(to ConnState) bool {
	if !CanTransition(c.state, to) {
		return false
	}
	c.state = to
	return true
}

// setState - transition под lock'ом
func (c *Client) setState(to ConnState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transition(to)
}

// enqueue ставит кадр в очередь и сразу пытается отправить
//
// Полная очередь: кадр отбрасывается, возвращается false.
func (c *Client) enqueue(msg []byte, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.AcceptsMessages() {
		return true
	}
	if len(c.queue) >= c.queueCap {
		return false
	}
	c.queue = append(c.queue, msg)
	c.flushLocked(now)
	return true
}

// flush пополняет ведро и отправляет, пока есть токены и кадры
func (c *Client) flush(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked(now)
}

// flushLocked - ВАЖНО: вызывается под c.mu
//
// Токен списывается только после успешной передачи writer'у.
// Переполненный writer считается неудачной отправкой: flush прерывается.
func (c *Client) flushLocked(now time.Time) {
	if !c.state.AcceptsMessages() {
		return
	}
	c.bucket.Refill(now)
	for c.bucket.Tokens() > 0 && len(c.queue) > 0 {
		msg := c.queue[0]
		select {
		case c.out <- msg:
			c.bucket.Take(now)
			c.queue[0] = nil
			c.queue = c.queue[1:]
			MessagesSent.Inc()
		default:
			c.logger.Warn("websocket send failed, writer backlog full", utils.QueueDepth(len(c.queue)))
			return
		}
	}
}

// QueueLen возвращает длину очереди
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// close закрывает соединение; повторные вызовы ничего не делают
func (c *Client) close(writeWait time.Duration) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.transition(StateClosing) {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(writeWait))
		}
		c.transition(StateClosed)
		c.queue = nil
		c.mu.Unlock()

		close(c.done)
		c.conn.Close()
	})
}

// terminate - закрытие без close frame (мёртвый или сломанный клиент)
func (c *Client) terminate() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.transition(StateClosed)
		c.queue = nil
		c.mu.Unlock()

		close(c.done)
		c.conn.Close()
	})
}

// readPump читает соединение до ошибки
//
// Клиенты ничего не присылают, чтение нужно для pong'ов и детекта закрытия.
func (c *Client) readPump(onClose func(*Client)) {
	defer onClose(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", utils.Err(err))
			}
			return
		}
	}
}

// writePump - единственный писатель data-кадров соединения
func (c *Client) writePump(writeWait time.Duration) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Warn("websocket write failed", utils.Err(err))
				c.terminate()
				return
			}
		}
	}
}

// ping - heartbeat; WriteControl безопасен параллельно с writePump
func (c *Client) ping(writeWait time.Duration) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}
