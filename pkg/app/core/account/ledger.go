package account

import (
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

const (
	DefaultStartingCash = 100000.0
	DefaultMaxLeverage  = 2.0
)

type Config struct {
	// Account is the owner whose trades this ledger books. Empty books all.
	Account      string
	StartingCash float64
	MaxLeverage  float64
	Logger       *zap.SugaredLogger
}

// Ledger is the paper account behind the venue: cash, WAC positions and
// their marks. It implements risk.AccountSource.
type Ledger struct {
	mu sync.RWMutex

	account     string
	startCash   float64
	cash        float64
	maxLeverage float64
	positions   map[string]*types.Position
	marks       map[string]float64

	realized float64
	fees     float64
	volume   float64
	fills    int

	log *zap.SugaredLogger
}

func NewLedger(cfg Config) *Ledger {
	if cfg.StartingCash <= 0 {
		cfg.StartingCash = DefaultStartingCash
	}
	if cfg.MaxLeverage <= 0 {
		cfg.MaxLeverage = DefaultMaxLeverage
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Ledger{
		account:     cfg.Account,
		startCash:   cfg.StartingCash,
		cash:        cfg.StartingCash,
		maxLeverage: cfg.MaxLeverage,
		positions:   make(map[string]*types.Position),
		marks:       make(map[string]float64),
		log:         cfg.Logger,
	}
}

// Owns reports whether trades for account are booked here.
func (l *Ledger) Owns(account string) bool {
	return l.account == "" || l.account == account
}

// ApplyTrade books one trade leg. Legs of other accounts are ignored and
// reported as not applied.
func (l *Ledger) ApplyTrade(t types.Trade) bool {
	if !l.Owns(t.Account) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	signed := t.SignedQuantity()
	l.cash -= signed*t.Price.Value + t.Commission
	l.fees += t.Commission
	l.volume += t.Notional()
	l.fills++

	sym := t.Symbol()
	pos, ok := l.positions[sym]
	if !ok {
		pos = &types.Position{Asset: t.Asset}
		l.positions[sym] = pos
	}
	l.realized += pos.ApplyFill(signed, t.Price.Value)
	if mark, ok := l.marks[sym]; ok {
		pos.Mark(mark)
	}
	if pos.IsFlat() {
		delete(l.positions, sym)
	}
	l.log.Debugw("ledger_fill", "trade_id", t.ID, "symbol", sym, "qty", signed, "price", t.Price.Value, "cash", l.cash)
	return true
}

// MarkToMarket revalues symbol at price. The mark is remembered for
// positions opened later.
func (l *Ledger) MarkToMarket(symbol string, price float64) {
	if price <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.marks[symbol] = price
	if pos, ok := l.positions[symbol]; ok {
		pos.Mark(price)
	}
}

// SetMaxLeverage changes the leverage used for buying power.
func (l *Ledger) SetMaxLeverage(x float64) {
	if x <= 0 {
		return
	}
	l.mu.Lock()
	l.maxLeverage = x
	l.mu.Unlock()
}

// Snapshot computes the cash view:
// equity = cash + market value, buying power = equity*leverage - gross,
// margin used = gross / leverage.
func (l *Ledger) Snapshot() types.Account {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var mv, gross float64
	for _, p := range l.positions {
		mv += p.MarketValue()
		gross += math.Abs(p.MarketValue())
	}
	equity := l.cash + mv
	used := gross / l.maxLeverage
	return types.Account{
		Cash:            l.cash,
		BuyingPower:     math.Max(0, equity*l.maxLeverage-gross),
		Equity:          equity,
		MarginUsed:      used,
		MarginAvailable: math.Max(0, equity-used),
	}
}

// Stats are cumulative counters since the ledger was created or reset.
type Stats struct {
	StartingCash float64 `json:"startingCash"`
	RealizedPnL  float64 `json:"realizedPnl"`
	Fees         float64 `json:"fees"`
	Volume       float64 `json:"volume"`
	Fills        int     `json:"fills"`
}

func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		StartingCash: l.startCash,
		RealizedPnL:  l.realized,
		Fees:         l.fees,
		Volume:       l.volume,
		Fills:        l.fills,
	}
}

// Positions returns open positions sorted by symbol.
func (l *Ledger) Positions() []types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset.Symbol < out[j].Asset.Symbol })
	return out
}

func (l *Ledger) Position(symbol string) (types.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	if !ok {
		return types.Position{}, false
	}
	return *p, true
}

// Reset restores starting cash and drops all positions and counters.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash = l.startCash
	l.positions = make(map[string]*types.Position)
	l.realized, l.fees, l.volume, l.fills = 0, 0, 0, 0
}
