package exchange

import (
	"github.com/shopspring/decimal"

	"github.com/iojason/hl-bots/internal/ratelimit"
)

// InstrumentMeta carries the exchange-defined price and size grids.
type InstrumentMeta struct {
	Instrument string
	TickSize   float64
	SizeStep   float64
}

// MetaTable resolves instrument metadata, defaulting unknown instruments to
// a conservative grid.
type MetaTable map[string]InstrumentMeta

// Lookup returns meta for the instrument or safe defaults.
func (t MetaTable) Lookup(instrument string) InstrumentMeta {
	if m, ok := t[instrument]; ok {
		return m
	}
	return InstrumentMeta{Instrument: instrument, TickSize: 0.01, SizeStep: 0.001}
}

// MetaFetcher retrieves the instrument grid from the venue.
type MetaFetcher func() (MetaTable, error)

// LoadMeta fetches instrument metadata once at startup, charged on the
// fallback channel with the configured meta weight. Without a fetcher,
// budget, or a successful fetch the empty table's Lookup defaults stand.
func LoadMeta(fetch MetaFetcher, limiter *ratelimit.Limiter, weight float64) MetaTable {
	if weight <= 0 {
		weight = 20
	}
	if fetch == nil || !limiter.TryAdmit(ratelimit.Fallback, weight) {
		return MetaTable{}
	}
	table, err := fetch()
	if err != nil || table == nil {
		return MetaTable{}
	}
	return table
}

// QuantizePriceDown snaps a price down onto the tick grid; a result of zero
// is bumped to one tick so quotes never degenerate.
func (m InstrumentMeta) QuantizePriceDown(px float64) float64 {
	return quantize(px, m.TickSize, false)
}

// QuantizePriceUp snaps a price up onto the tick grid.
func (m InstrumentMeta) QuantizePriceUp(px float64) float64 {
	return quantize(px, m.TickSize, true)
}

// QuantizeSize snaps a size down onto the step grid; sizes smaller than one
// step quantize to zero and the caller must skip the order.
func (m InstrumentMeta) QuantizeSize(sz float64) float64 {
	if m.SizeStep <= 0 || sz <= 0 {
		return 0
	}
	d := decimal.NewFromFloat(sz)
	step := decimal.NewFromFloat(m.SizeStep)
	snapped := d.Div(step).Floor().Mul(step)
	f, _ := snapped.Float64()
	if f < 0 {
		return 0
	}
	return f
}

func quantize(px, tick float64, up bool) float64 {
	if tick <= 0 || px <= 0 {
		return 0
	}
	d := decimal.NewFromFloat(px)
	step := decimal.NewFromFloat(tick)
	q := d.Div(step)
	if up {
		q = q.Ceil()
	} else {
		q = q.Floor()
	}
	f, _ := q.Mul(step).Float64()
	if f <= 0 {
		f = tick
	}
	return f
}
