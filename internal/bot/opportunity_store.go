package bot

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"dexarb/internal/models"
)

// Значения OpportunityStore по умолчанию
const (
	DefaultOpportunityTTL      = 60 * time.Second
	DefaultOpportunityCapacity = 100
)

// StoreConfig - параметры OpportunityStore
type StoreConfig struct {
	TTL      time.Duration
	Capacity int
	// Now - источник времени, nil = time.Now
	Now func() time.Time
	// OnEvict вызывается под lock'ом store при вытеснении по ёмкости
	OnEvict func(pairSymbol string)
}

// heapNode - узел арены кучи
type heapNode struct {
	opp models.Opportunity
	seq uint64 // номер последнего upsert, вторичный ключ сравнения
}

// OpportunityStore - top-N возможностей по score с TTL
//
// Реализация: min-heap в плоском слайсе (арена) + индекс symbol → позиция.
// Корень кучи - наименьший score, он вытесняется при переполнении и
// проверяется первым при очистке по TTL.
//
// При равных score меньшим считается узел с меньшим seq (давнее
// обновлённый): он вытесняется первым и идёт последним в Snapshot.
//
// Все операции под одним мьютексом: куча и индекс меняются только вместе.
type OpportunityStore struct {
	ttl      time.Duration
	capacity int
	now      func() time.Time
	onEvict  func(string)

	mu    sync.Mutex
	heap  []heapNode
	index map[string]int
	seq   uint64

	// фоновая очистка
	pruneMu     sync.Mutex
	pruneCancel context.CancelFunc
	pruneDone   chan struct{}
}

// NewOpportunityStore создаёт store; нулевые поля заменяются значениями по умолчанию
func NewOpportunityStore(cfg StoreConfig) *OpportunityStore {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultOpportunityTTL
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultOpportunityCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &OpportunityStore{
		ttl:      cfg.TTL,
		capacity: cfg.Capacity,
		now:      cfg.Now,
		onEvict:  cfg.OnEvict,
		heap:     make([]heapNode, 0, cfg.Capacity+1),
		index:    make(map[string]int, cfg.Capacity+1),
	}
}

// Upsert добавляет или обновляет возможность по паре
//
// score = spreadBps * minLiquidityUSD, expiresAt = now + TTL.
// Если store переполнен, вытесняется запись с наименьшим score;
// её символ возвращается с ok=true (это не ошибка).
// Запись с нечисловым или бесконечным score не сохраняется.
func (s *OpportunityStore) Upsert(pairSymbol string, spreadBps, minLiquidityUSD float64) (evicted string, ok bool) {
	score := spreadBps * minLiquidityUSD
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return "", false
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	opp := models.Opportunity{
		PairSymbol:      pairSymbol,
		SpreadBps:       spreadBps,
		MinLiquidityUSD: minLiquidityUSD,
		Score:           score,
		ExpiresAt:       now.Add(s.ttl),
	}

	if i, exists := s.index[pairSymbol]; exists {
		s.heap[i] = heapNode{opp: opp, seq: s.seq}
		// двигается максимум в одну сторону
		i = s.siftUp(i)
		s.siftDown(i)
		return "", false
	}

	s.heap = append(s.heap, heapNode{opp: opp, seq: s.seq})
	i := len(s.heap) - 1
	s.index[pairSymbol] = i
	s.siftUp(i)

	if len(s.heap) > s.capacity {
		root := s.pop()
		if s.onEvict != nil {
			s.onEvict(root.opp.PairSymbol)
		}
		return root.opp.PairSymbol, true
	}
	return "", false
}

// Snapshot возвращает живые записи по убыванию score
func (s *OpportunityStore) Snapshot() []models.Opportunity {
	now := s.now()

	s.mu.Lock()
	s.prune(now)
	nodes := make([]heapNode, len(s.heap))
	copy(nodes, s.heap)
	s.mu.Unlock()

	sort.Slice(nodes, func(i, j int) bool { return less(nodes[j], nodes[i]) })

	out := make([]models.Opportunity, len(nodes))
	for i, n := range nodes {
		out[i] = n.opp
	}
	return out
}

// Size возвращает количество живых записей
func (s *OpportunityStore) Size() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(now)
	return len(s.heap)
}

// Get возвращает запись по паре без учёта TTL
func (s *OpportunityStore) Get(pairSymbol string) (models.Opportunity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[pairSymbol]
	if !ok {
		return models.Opportunity{}, false
	}
	return s.heap[i].opp, true
}

// Prune удаляет записи с expiresAt <= now и возвращает их количество
func (s *OpportunityStore) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prune(now)
}

// Clear удаляет все записи
func (s *OpportunityStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heap = s.heap[:0]
	s.index = make(map[string]int, s.capacity+1)
}

// TTL возвращает время жизни записи
func (s *OpportunityStore) TTL() time.Duration {
	return s.ttl
}

// Capacity возвращает ёмкость store
func (s *OpportunityStore) Capacity() int {
	return s.capacity
}

// ============================================================
// Фоновая очистка
// ============================================================

// Start запускает фоновую очистку с интервалом TTL
//
// Повторный вызов без Stop ничего не делает. Горутина завершается по
// отмене ctx или по Stop.
func (s *OpportunityStore) Start(ctx context.Context) {
	s.pruneMu.Lock()
	defer s.pruneMu.Unlock()
	if s.pruneCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.pruneCancel = cancel
	s.pruneDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.ttl)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := s.Prune(s.now())
				if removed > 0 {
					OpportunitiesExpired.Add(float64(removed))
				}
				OpportunityStoreSize.Set(float64(s.Size()))
			}
		}
	}()
}

// Stop останавливает фоновую очистку и ждёт завершения горутины
//
// Горутина не держит lock'ов между тиками, поэтому ожидание ограничено
// одним вызовом Prune. Идемпотентен.
func (s *OpportunityStore) Stop() {
	s.pruneMu.Lock()
	cancel, done := s.pruneCancel, s.pruneDone
	s.pruneCancel, s.pruneDone = nil, nil
	s.pruneMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// ============================================================
// Куча. ВАЖНО: все функции ниже вызываются под s.mu
// ============================================================

// less - порядок min-heap: score, затем seq
func less(a, b heapNode) bool {
	if a.opp.Score != b.opp.Score {
		return a.opp.Score < b.opp.Score
	}
	return a.seq < b.seq
}

func (s *OpportunityStore) swap(i, j int) {
	s.heap[i], s.heap[j] = s.heap[j], s.heap[i]
	s.index[s.heap[i].opp.PairSymbol] = i
	s.index[s.heap[j].opp.PairSymbol] = j
}

func (s *OpportunityStore) siftUp(i int) int {
	for i > 0 {
		parent := (i - 1) / 2
		if !less(s.heap[i], s.heap[parent]) {
			break
		}
		s.swap(i, parent)
		i = parent
	}
	return i
}

func (s *OpportunityStore) siftDown(i int) {
	n := len(s.heap)
	for {
		left := 2*i + 1
		right := left + 1
		smallest := i
		if left < n && less(s.heap[left], s.heap[smallest]) {
			smallest = left
		}
		if right < n && less(s.heap[right], s.heap[smallest]) {
			smallest = right
		}
		if smallest == i {
			return
		}
		s.swap(i, smallest)
		i = smallest
	}
}

// pop удаляет корень и возвращает его
func (s *OpportunityStore) pop() heapNode {
	return s.removeAt(0)
}

// removeAt удаляет узел i, на его место встаёт последний
func (s *OpportunityStore) removeAt(i int) heapNode {
	node := s.heap[i]
	last := len(s.heap) - 1
	s.swap(i, last)
	s.heap = s.heap[:last]
	delete(s.index, node.opp.PairSymbol)
	if i < last {
		i = s.siftUp(i)
		s.siftDown(i)
	}
	return node
}

// prune снимает истёкшие записи с корня, затем удаляет истёкшие
// записи из глубины кучи (у них score выше, чем у корня)
func (s *OpportunityStore) prune(now time.Time) int {
	removed := 0
	for len(s.heap) > 0 && !s.heap[0].opp.ExpiresAt.After(now) {
		s.pop()
		removed++
	}

	var expired []string
	for _, n := range s.heap {
		if !n.opp.ExpiresAt.After(now) {
			expired = append(expired, n.opp.PairSymbol)
		}
	}
	for _, sym := range expired {
		s.removeAt(s.index[sym])
		removed++
	}
	return removed
}
