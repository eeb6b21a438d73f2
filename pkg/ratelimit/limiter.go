package ratelimit

import (
	"sync"
	"time"
)

// Bucket - целочисленный token bucket с пополнением по целым секундам
//
// Алгоритм:
// - Ёмкость ведра = capacity, стартуем с полным ведром
// - Пополнение происходит только за ЦЕЛЫЕ прошедшие секунды:
//   tokens = min(capacity, tokens + elapsedSec*refillPerSec)
// - lastRefill сдвигается ровно на elapsedSec секунд, дробный остаток
//   не теряется и засчитывается при следующем пополнении
// - Каждое сообщение потребляет 1 токен
//
// Используется как per-client лимитер исходящих WebSocket сообщений.
//
//	b := NewBucket(50, 50, time.Now())
//	if b.Take(time.Now()) { ... отправляем ... }
type Bucket struct {
	capacity     int
	refillPerSec int
	tokens       int
	lastRefill   time.Time
	mu           sync.Mutex
}

// NewBucket создаёт ведро с полным запасом токенов
//
// capacity <= 0 приводится к 1, refillPerSec < 0 приводится к 0
// (ведро без пополнения).
func NewBucket(capacity, refillPerSec int, now time.Time) *Bucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refillPerSec < 0 {
		refillPerSec = 0
	}
	return &Bucket{
		capacity:     capacity,
		refillPerSec: refillPerSec,
		tokens:       capacity,
		lastRefill:   now,
	}
}

// refill пополняет токены за целые секунды
// ВАЖНО: вызывается под lock'ом
func (b *Bucket) refill(now time.Time) {
	elapsed := int64(now.Sub(b.lastRefill) / time.Second)
	if elapsed <= 0 {
		return
	}

	added := elapsed * int64(b.refillPerSec)
	if total := int64(b.tokens) + added; total >= int64(b.capacity) {
		b.tokens = b.capacity
	} else {
		b.tokens = int(total)
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(elapsed) * time.Second)
}

// Refill пополняет ведро на момент now и возвращает текущий запас
func (b *Bucket) Refill(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(now)
	return b.tokens
}

// Take пополняет ведро и забирает 1 токен
//
// Возвращает false, если токенов нет.
func (b *Bucket) Take(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(now)
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Tokens возвращает текущий запас без пополнения
func (b *Bucket) Tokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Capacity возвращает ёмкость ведра
func (b *Bucket) Capacity() int {
	return b.capacity
}

// RefillPerSec возвращает скорость пополнения (токенов/сек)
func (b *Bucket) RefillPerSec() int {
	return b.refillPerSec
}
