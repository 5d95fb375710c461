package device

import (
	"slices"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Quote is the price state of one symbol.
type Quote struct {
	Symbol string
	// Price is the last known price, valid when HasPrice is set.
	Price    float64
	HasPrice bool
	// OpenDay is the opening price of the day, valid when HasOpenDay is set.
	OpenDay    float64
	HasOpenDay bool
	UpdatedAt  time.Time
}

// Change returns the change since the opening of the day in percent.
func (q Quote) Change() (float64, bool) {
	if !q.HasPrice || !q.HasOpenDay || q.OpenDay == 0 {
		return 0, false
	}

	return (q.Price - q.OpenDay) / q.OpenDay * 100, true
}

// PriceBook holds the quotes of the selected symbols. It is safe for concurrent use.
type PriceBook struct {
	symbols []string
	quotes  *xsync.MapOf[string, Quote]
}

// NewPriceBook creates a PriceBook tracking symbols. Updates of other symbols are ignored.
func NewPriceBook(symbols []string) *PriceBook {
	b := &PriceBook{
		symbols: slices.Clone(symbols),
		quotes:  xsync.NewMapOf[string, Quote](),
	}
	for _, sym := range symbols {
		b.quotes.Store(sym, Quote{Symbol: sym})
	}

	return b
}

// Symbols returns the tracked symbols in their configured order.
func (b *PriceBook) Symbols() []string {
	return slices.Clone(b.symbols)
}

// UpdatePrices stores current prices and returns the number of quotes changed.
func (b *PriceBook) UpdatePrices(prices map[string]float64, now time.Time) int {
	return b.update(prices, func(q *Quote, v float64) {
		q.Price = v
		q.HasPrice = true
		q.UpdatedAt = now
	})
}

// UpdateOpenDay stores opening prices and returns the number of quotes changed.
func (b *PriceBook) UpdateOpenDay(prices map[string]float64) int {
	return b.update(prices, func(q *Quote, v float64) {
		q.OpenDay = v
		q.HasOpenDay = true
	})
}

func (b *PriceBook) update(prices map[string]float64, set func(*Quote, float64)) int {
	updated := 0
	for sym, v := range prices {
		b.quotes.Compute(sym, func(q Quote, loaded bool) (Quote, bool) {
			if !loaded {
				// not tracked, keep it absent
				return q, true
			}
			set(&q, v)
			updated++

			return q, false
		})
	}

	return updated
}

// Get returns the quote of sym.
func (b *PriceBook) Get(sym string) (Quote, bool) {
	return b.quotes.Load(sym)
}

// Snapshot returns all quotes in the configured symbol order.
func (b *PriceBook) Snapshot() []Quote {
	result := make([]Quote, 0, len(b.symbols))
	for _, sym := range b.symbols {
		if q, ok := b.quotes.Load(sym); ok {
			result = append(result, q)
		}
	}

	return result
}
