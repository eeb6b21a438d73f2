package bot

import (
	"math"
	"sync"
)

// rvWindowBlocks - горизонт realized volatility в блоках
const rvWindowBlocks = 3

type midSample struct {
	block uint64
	mid   float64
}

// VolatilityTracker - realized volatility mid-цены пары за последние 3 блока
//
// rv3Block = sqrt(Σ r²), r = ln(mid_i / mid_{i-1}) по последним трём
// переходам между блоками. Несколько обновлений в одном блоке
// заменяют последнюю точку.
type VolatilityTracker struct {
	mu      sync.Mutex
	samples map[string][]midSample
}

// NewVolatilityTracker создаёт пустой трекер
func NewVolatilityTracker() *VolatilityTracker {
	return &VolatilityTracker{samples: make(map[string][]midSample)}
}

// Observe добавляет mid-цену пары на блоке и возвращает текущий rv3Block
//
// Неположительные и нечисловые цены игнорируются.
func (v *VolatilityTracker) Observe(pair string, block uint64, mid float64) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	if mid > 0 && !math.IsInf(mid, 0) && !math.IsNaN(mid) {
		s := v.samples[pair]
		switch {
		case len(s) > 0 && s[len(s)-1].block == block:
			s[len(s)-1].mid = mid
		case len(s) > 0 && block < s[len(s)-1].block:
			// устаревший блок
		default:
			s = append(s, midSample{block: block, mid: mid})
			if len(s) > rvWindowBlocks+1 {
				s = s[len(s)-(rvWindowBlocks+1):]
			}
		}
		v.samples[pair] = s
	}
	return realized(v.samples[pair])
}

// Rv3Block возвращает текущий rv3Block пары без новой точки
func (v *VolatilityTracker) Rv3Block(pair string) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return realized(v.samples[pair])
}

// Forget удаляет историю пары
func (v *VolatilityTracker) Forget(pair string) {
	v.mu.Lock()
	delete(v.samples, pair)
	v.mu.Unlock()
}

func realized(s []midSample) float64 {
	if len(s) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(s); i++ {
		r := math.Log(s[i].mid / s[i-1].mid)
		sum += r * r
	}
	return math.Sqrt(sum)
}
