package breaker

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"
)

// ErrOpen возвращается, когда breaker отклоняет вызов без выполнения операции
var ErrOpen = errors.New("circuit-breaker-open")

// State - состояние breaker'а
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config - параметры breaker'а
type Config struct {
	Name               string
	WindowSize         int           // последних исходов в окне
	ErrorRateThreshold float64       // доля ошибок, строго выше которой размыкаемся
	LatencyThreshold   time.Duration // p95, строго выше которого размыкаемся
	Cooldown           time.Duration // время в open до пробного вызова

	// OnStateChange вызывается под lock'ом breaker'а, не должен блокироваться
	OnStateChange func(name string, from, to State)

	// Now - источник времени, nil = time.Now
	Now func() time.Time
}

// DefaultConfig - окно 20, ошибки > 50%, p95 > 1s, cooldown 5s
func DefaultConfig() Config {
	return Config{
		WindowSize:         20,
		ErrorRateThreshold: 0.5,
		LatencyThreshold:   time.Second,
		Cooldown:           5 * time.Second,
	}
}

type outcome struct {
	duration time.Duration
	success  bool
}

// Breaker - circuit breaker со скользящим окном по латентности и ошибкам
//
// Closed: вызовы проходят, после каждого исход записывается в окно и
// окно переоценивается. Open: вызовы отклоняются ErrOpen до истечения
// cooldown. Half-open: пропускается ровно один пробный вызов, его исход
// решает, замкнуться или снова разомкнуться.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	openedAt time.Time
	window   []outcome
	trial    bool   // пробный вызов half-open в полёте
	gen      uint64 // растёт при каждом размыкании
}

// New создаёт breaker; нулевые поля Config заменяются значениями по умолчанию
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = def.ErrorRateThreshold
	}
	if cfg.LatencyThreshold <= 0 {
		cfg.LatencyThreshold = def.LatencyThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		cfg:    cfg,
		window: make([]outcome, 0, cfg.WindowSize),
	}
}

// Name возвращает имя breaker'а
func (b *Breaker) Name() string {
	return b.cfg.Name
}

// State возвращает текущее состояние
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen - находится ли breaker в состоянии open
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// Do выполняет fn под защитой breaker'а
//
// Ошибка fn возвращается без изменений после записи в окно.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}

	start := b.cfg.Now()
	completed := false
	defer func() {
		// паника fn записывается как ошибка и пробрасывается дальше
		if !completed {
			b.complete(gen, b.cfg.Now().Sub(start), false)
		}
	}()

	err = fn(ctx)
	completed = true
	b.complete(gen, b.cfg.Now().Sub(start), err == nil)
	return err
}

// Call - Do для операций, возвращающих значение
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := b.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// admit решает, пропустить ли вызов, и возвращает поколение окна
func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			return 0, ErrOpen
		}
		b.setState(StateHalfOpen)
		b.trial = true
	case StateHalfOpen:
		if b.trial {
			return 0, ErrOpen
		}
		b.trial = true
	}
	return b.gen, nil
}

// complete записывает исход и переоценивает окно
func (b *Breaker) complete(gen uint64, d time.Duration, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// вызов, стартовавший до размыкания, в новое окно не попадает
	if gen != b.gen {
		return
	}

	b.trial = false
	b.window = append(b.window, outcome{duration: d, success: success})
	if len(b.window) > b.cfg.WindowSize {
		b.window = b.window[len(b.window)-b.cfg.WindowSize:]
	}
	b.evaluate()
}

// evaluate - ВАЖНО: вызывается под lock'ом
func (b *Breaker) evaluate() {
	if len(b.window) == 0 {
		b.setState(StateClosed)
		return
	}

	p95, errorRate := windowStats(b.window)
	if p95 > b.cfg.LatencyThreshold || errorRate > b.cfg.ErrorRateThreshold {
		if b.state != StateOpen {
			b.openedAt = b.cfg.Now()
			b.window = b.window[:0]
			b.gen++
			b.setState(StateOpen)
		}
		return
	}
	b.setState(StateClosed)
}

func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// windowStats возвращает p95 латентности (индекс floor(0.95*(n-1)) по
// отсортированным длительностям) и долю ошибок
func windowStats(window []outcome) (time.Duration, float64) {
	durations := make([]time.Duration, len(window))
	failures := 0
	for i, o := range window {
		durations[i] = o.duration
		if !o.success {
			failures++
		}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	idx := int(math.Floor(0.95 * float64(len(durations)-1)))
	return durations[idx], float64(failures) / float64(len(window))
}

// Stats - снимок окна для API и отладки
type Stats struct {
	Name      string        `json:"name"`
	State     string        `json:"state"`
	Samples   int           `json:"samples"`
	P95       time.Duration `json:"p95"`
	ErrorRate float64       `json:"errorRate"`
}

// Stats возвращает снимок состояния
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{Name: b.cfg.Name, State: b.state.String(), Samples: len(b.window)}
	if len(b.window) > 0 {
		s.P95, s.ErrorRate = windowStats(b.window)
	}
	return s
}
