package gate

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fx-session-sentry/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simBroker the positions a broker would report, keyed EUR/USD.
type simBroker struct {
	mu   sync.Mutex
	open map[string]bool
}

func (b *simBroker) snapshot() map[string]bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]bool, len(b.open))
	for p := range b.open {
		out[p] = true
	}
	return out
}

func (b *simBroker) isOpen(pair string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open[pair]
}

func (b *simBroker) setOpen(pair string, v bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	was := b.open[pair]
	if v {
		b.open[pair] = true
	} else {
		delete(b.open, pair)
	}
	return was
}

type opKind int

const (
	opExecute opKind = iota
	opClose
	opReconcile
)

type op struct {
	kind   opKind
	pair   int
	alias  bool
	fail   bool
	result types.TradeResult
}

var interleavePairs = []string{"EUR/USD", "GBP/USD", "USD/JPY", "AUD/USD"}

func randomOps(rng *rand.Rand, n int) []op {
	results := []types.TradeResult{types.ResultWin, types.ResultLoss, types.ResultBreakeven}
	ops := make([]op, n)
	for i := range ops {
		o := op{pair: rng.Intn(len(interleavePairs)), alias: rng.Intn(2) == 0}
		switch r := rng.Intn(10); {
		case r < 6:
			o.kind = opExecute
			o.fail = rng.Intn(5) == 0
		case r < 8:
			o.kind = opClose
			o.result = results[rng.Intn(len(results))]
		default:
			o.kind = opReconcile
		}
		ops[i] = o
	}
	return ops
}

func aliasOf(pair string, alias bool) string {
	if alias {
		return types.InstrumentName(pair)
	}
	return pair
}

// Random rounds of concurrent Execute, RecordClose and ReconcileOpen calls. The clock only
// moves between rounds. No submit may ever start while its pair is open at the broker or
// another submit for it is running.
func TestRandomInterleavingsNeverDoubleSubmit(t *testing.T) {
	const (
		seeds  = 25
		rounds = 30
		width  = 16
	)
	for seed := int64(1); seed <= seeds; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			g, clk := newGate(t, func(c *Config) { c.MaxTradesPerSession = 1000 })
			broker := &simBroker{open: map[string]bool{}}
			ctx := context.Background()

			var (
				inFlight   [4]int32
				violations int32
				submits    int32
			)
			rejected := errors.New("rejected")

			for round := 0; round < rounds; round++ {
				var wg sync.WaitGroup
				for _, o := range randomOps(rng, width) {
					wg.Add(1)
					go func(o op) {
						defer wg.Done()
						pair := interleavePairs[o.pair]
						name := aliasOf(pair, o.alias)

						switch o.kind {
						case opExecute:
							in := input(name)
							in.OpenPairs = broker.snapshot()
							_, _, _ = g.Execute(ctx, in, func(context.Context) (*types.Trade, error) {
								atomic.AddInt32(&submits, 1)
								if atomic.AddInt32(&inFlight[o.pair], 1) != 1 || broker.isOpen(pair) {
									atomic.AddInt32(&violations, 1)
								}
								defer atomic.AddInt32(&inFlight[o.pair], -1)
								if o.fail {
									return nil, rejected
								}
								broker.setOpen(pair, true)
								return &types.Trade{ID: "1", Pair: pair}, nil
							})
						case opClose:
							if broker.setOpen(pair, false) {
								g.RecordClose(aliasOf(pair, !o.alias), o.result)
							}
						case opReconcile:
							g.ReconcileOpen(broker.snapshot())
						}
					}(o)
				}
				wg.Wait()

				require.Empty(t, g.Snapshot().InFlight)
				clk.Advance(time.Duration(rng.Intn(180)) * time.Second)
			}

			assert.Zero(t, atomic.LoadInt32(&violations))
			assert.Positive(t, atomic.LoadInt32(&submits))
		})
	}
}
