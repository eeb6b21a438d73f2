package bot

import (
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"dexarb/internal/models"
	"dexarb/pkg/utils"
)

// ============ Inline FNV-1a hash без аллокаций ============
const (
	fnvOffset32 = uint32(2166136261)
	fnvPrime32  = uint32(16777619)
)

// fnvHash вычисляет FNV-1a hash строки без аллокаций
// Используется для роутинга пары в шард Engine
func fnvHash(s string) uint32 {
	h := fnvOffset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

// priceDivisionPrecision - знаков после запятой при делении резервов
const priceDivisionPrecision = 18

// PricePoint - нормализованная цена (token1 за token0) на площадке
type PricePoint struct {
	Dex   models.Dex
	Price float64
}

// SpreadComputation - направление и величина спреда
type SpreadComputation struct {
	SpreadBps float64
	BuyDex    models.Dex // площадка с меньшей ценой
	SellDex   models.Dex // площадка с большей ценой
}

// ComputeSpread считает спред между двумя ценами в bps
//
// spreadBps = (sell - buy) / buy * 10000, buy = меньшая цена.
// При равных ценах возвращает false. Результат симметричен: ComputeSpread(a, b) == ComputeSpread(b, a).
// Нулевая, отрицательная или нечисловая цена спреда не даёт.
func ComputeSpread(a, b PricePoint) (SpreadComputation, bool) {
	if !validPrice(a.Price) || !validPrice(b.Price) || a.Price == b.Price {
		return SpreadComputation{}, false
	}
	buy, sell := a, b
	if b.Price < a.Price {
		buy, sell = b, a
	}
	return SpreadComputation{
		SpreadBps: (sell.Price - buy.Price) / buy.Price * utils.BpsDenominator,
		BuyDex:    buy.Dex,
		SellDex:   sell.Dex,
	}, true
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

// VenueQuote - резервы пула на одной площадке в base units
type VenueQuote struct {
	Dex       models.Dex
	Reserve0  *big.Int
	Reserve1  *big.Int
	Decimals0 int
	Decimals1 int
}

// VenuePrice - нормализованные резервы и цена одной площадки
type VenuePrice struct {
	Dex      models.Dex
	Reserve0 decimal.Decimal // token0 с учётом decimals
	Reserve1 decimal.Decimal // token1 с учётом decimals
	Price    decimal.Decimal // token1 за token0
}

// VenueSpread - результат сравнения двух площадок
type VenueSpread struct {
	A, B VenuePrice
	Mid  decimal.Decimal
	// MidSpreadBps = |pA - pB| / mid * 10000, публикуется в поле spread
	MidSpreadBps decimal.Decimal
	// Spread - направленный спред относительно цены покупки
	Spread SpreadComputation
	// HasSpread - false при равных ценах
	HasSpread bool
}

// NormalizeVenue переводит резервы в десятичный вид и считает цену
//
// Возвращает false, если резерв token0 нулевой (цена не определена).
func NormalizeVenue(q VenueQuote) (VenuePrice, bool) {
	r0, err := utils.NormalizeUnits(q.Reserve0, q.Decimals0)
	if err != nil {
		return VenuePrice{}, false
	}
	r1, err := utils.NormalizeUnits(q.Reserve1, q.Decimals1)
	if err != nil {
		return VenuePrice{}, false
	}
	if r0.Sign() <= 0 {
		return VenuePrice{}, false
	}
	return VenuePrice{
		Dex:      q.Dex,
		Reserve0: r0,
		Reserve1: r1,
		Price:    r1.DivRound(r0, priceDivisionPrecision),
	}, true
}

// EvaluateVenues сравнивает две площадки одной пары
//
// Возвращает false, если хотя бы одна цена не определена.
func EvaluateVenues(a, b VenueQuote) (VenueSpread, bool) {
	pa, ok := NormalizeVenue(a)
	if !ok {
		return VenueSpread{}, false
	}
	pb, ok := NormalizeVenue(b)
	if !ok {
		return VenueSpread{}, false
	}

	vs := VenueSpread{A: pa, B: pb}
	vs.Mid = pa.Price.Add(pb.Price).Div(decimal.NewFromInt(2))
	if vs.Mid.Sign() > 0 {
		vs.MidSpreadBps = pa.Price.Sub(pb.Price).Abs().
			Mul(decimal.NewFromInt(utils.BpsDenominator)).
			DivRound(vs.Mid, priceDivisionPrecision)
	}

	fa, _ := pa.Price.Float64()
	fb, _ := pb.Price.Float64()
	vs.Spread, vs.HasSpread = ComputeSpread(
		PricePoint{Dex: pa.Dex, Price: fa},
		PricePoint{Dex: pb.Dex, Price: fb},
	)
	return vs, true
}

// Venue возвращает площадку по имени
func (vs VenueSpread) Venue(dex models.Dex) VenuePrice {
	if vs.B.Dex == dex {
		return vs.B
	}
	return vs.A
}

// ============================================================
// ScanDiscrepancy - поиск расхождения по набору снимков
// ============================================================

// DexSnapshot - нормализованные резервы пары на площадке
type DexSnapshot struct {
	PairSymbol string
	Dex        models.Dex
	Reserve0   float64
	Reserve1   float64
}

// ScanOptions - фильтры ScanDiscrepancy
type ScanOptions struct {
	MinLiquidity float64 // минимальный резерв каждой стороны
	ThresholdBps float64 // минимальный спред
}

// Discrepancy - найденная возможность
type Discrepancy struct {
	TokenIn   string
	TokenOut  string
	SpreadBps float64
	BuyOn     models.Dex
	SellOn    models.Dex
}

// ScanDiscrepancy ищет пару площадок с минимальной и максимальной ценой
//
// Снимки с резервами ниже MinLiquidity отбрасываются. Цена = Reserve1/Reserve0.
// Возвращает false, если осталось меньше двух площадок, min и max на
// одной площадке или спред ниже порога.
func ScanDiscrepancy(snapshots []DexSnapshot, opts ScanOptions) (Discrepancy, bool) {
	filtered := make([]DexSnapshot, 0, len(snapshots))
	for _, s := range snapshots {
		if s.Reserve0 >= opts.MinLiquidity && s.Reserve1 >= opts.MinLiquidity && s.Reserve0 > 0 {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) < 2 {
		return Discrepancy{}, false
	}

	minP := PricePoint{Dex: filtered[0].Dex, Price: filtered[0].Reserve1 / filtered[0].Reserve0}
	maxP := minP
	for _, s := range filtered[1:] {
		p := PricePoint{Dex: s.Dex, Price: s.Reserve1 / s.Reserve0}
		if p.Price < minP.Price {
			minP = p
		}
		if p.Price > maxP.Price {
			maxP = p
		}
	}
	if minP.Dex == maxP.Dex {
		return Discrepancy{}, false
	}

	spread, ok := ComputeSpread(minP, maxP)
	if !ok || spread.SpreadBps < opts.ThresholdBps {
		return Discrepancy{}, false
	}

	tokenIn, tokenOut, _ := strings.Cut(filtered[0].PairSymbol, "/")
	return Discrepancy{
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		SpreadBps: spread.SpreadBps,
		BuyOn:     spread.BuyDex,
		SellOn:    spread.SellDex,
	}, true
}
