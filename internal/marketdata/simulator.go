package marketdata

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Simulator emits random-walk ticks for a fixed symbol set.
type Simulator struct {
	logger   *zap.Logger
	interval time.Duration
	symbols  []string

	mu     sync.Mutex
	prices map[string]float64
	rng    *rand.Rand
}

// NewSimulator seeds one walk per symbol from startPrices (default 100).
func NewSimulator(symbols []string, startPrices map[string]float64, interval time.Duration, logger *zap.Logger) *Simulator {
	prices := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		p, ok := startPrices[s]
		if !ok {
			// viper lowercases map keys read from files
			p, ok = startPrices[strings.ToLower(s)]
		}
		if !ok || p <= 0 {
			p = 100
		}
		prices[s] = p
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Simulator{
		logger:   logger,
		interval: interval,
		symbols:  symbols,
		prices:   prices,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Simulator) Name() string { return "simulator" }

func (s *Simulator) Start(ctx context.Context, out chan<- Tick) error {
	s.logger.Info("Tick simulator started",
		zap.Strings("symbols", s.symbols),
		zap.Duration("interval", s.interval))
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, sym := range s.symbols {
					select {
					case out <- s.next(sym):
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return nil
}

// next advances the walk for symbol by up to 0.1% either way and quotes a
// spread of two basis points around it.
func (s *Simulator) next(symbol string) Tick {
	s.mu.Lock()
	p := s.prices[symbol] * (1 + (s.rng.Float64()*2-1)/1000)
	if p <= 0 {
		p = 0.0001
	}
	s.prices[symbol] = p
	vol := 100 + s.rng.Intn(900)
	s.mu.Unlock()

	last := decimal.NewFromFloat(p).Round(5)
	half := last.Mul(decimal.RequireFromString("0.0001")).Round(5)
	return Tick{
		Symbol:    symbol,
		Bid:       last.Sub(half),
		Ask:       last.Add(half),
		Last:      last,
		Volume:    decimal.NewFromInt(int64(vol)),
		Timestamp: time.Now().UTC(),
	}
}
