package stream

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/vyuha/sensorfeed/internal/clock"
	"github.com/vyuha/sensorfeed/internal/sample"
)

const defaultSimInterval = time.Second

// ---------------------------------------------------------------------------
// ReadingGenerator produces a slow random walk of plausible room readings.
// ---------------------------------------------------------------------------

// ReadingGenerator is not safe for concurrent use.
type ReadingGenerator struct {
	rng         *rand.Rand
	temperature float64
	humidity    float64
	pressure    float64
	light       float64
}

// NewReadingGenerator seeds a generator. The same seed yields the same
// sequence.
func NewReadingGenerator(seed int64) *ReadingGenerator {
	rng := rand.New(rand.NewSource(seed))
	return &ReadingGenerator{
		rng:         rng,
		temperature: 22 + rng.Float64()*2,
		humidity:    45 + rng.Float64()*5,
		pressure:    1013 + rng.Float64()*5,
		light:       500 + rng.Float64()*100,
	}
}

// Next advances the walk and returns one reading.
func (g *ReadingGenerator) Next() sample.Object {
	g.temperature = clamp(g.temperature+(g.rng.Float64()-0.5)*0.5, 15, 35)
	g.humidity = clamp(g.humidity+(g.rng.Float64()-0.5)*1, 30, 90)
	g.pressure = clamp(g.pressure+(g.rng.Float64()-0.5)*0.3, 990, 1030)
	g.light = clamp(g.light+(g.rng.Float64()-0.5)*50, 0, 1000)

	return sample.NewObject(
		sample.Field{Key: "temperature", Value: sample.Number(round1(g.temperature))},
		sample.Field{Key: "humidity", Value: sample.Number(round1(g.humidity))},
		sample.Field{Key: "pressure", Value: sample.Number(round1(g.pressure))},
		sample.Field{Key: "light", Value: sample.Number(math.Round(g.light))},
	)
}

// Line returns the next reading encoded as one newline-terminated JSON line.
func (g *ReadingGenerator) Line() []byte {
	b, _ := g.Next().MarshalJSON()
	return append(b, '\n')
}

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }

func round1(v float64) float64 { return math.Round(v*10) / 10 }

// ---------------------------------------------------------------------------
// SimulatedSource emits one generated line immediately and then one per
// Interval. It stands in for a device when no hardware is attached.
// ---------------------------------------------------------------------------

type SimulatedSource struct {
	Interval time.Duration
	Seed     int64
	Clock    clock.Clock
}

// Name implements Source.
func (s *SimulatedSource) Name() string { return "simulated" }

// Open implements Source.
func (s *SimulatedSource) Open(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	interval := s.Interval
	if interval <= 0 {
		interval = defaultSimInterval
	}
	clk := s.Clock
	if clk == nil {
		clk = clock.Real()
	}
	seed := s.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &simConn{
		gen:    NewReadingGenerator(seed),
		ticker: clk.NewTicker(interval),
		first:  true,
	}, nil
}

type simConn struct {
	gen    *ReadingGenerator
	ticker *clock.Ticker
	first  bool
	once   sync.Once
}

func (c *simConn) ReadChunk(ctx context.Context) ([]byte, error) {
	if c.first {
		c.first = false
		return c.gen.Line(), nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ticker.C:
		return c.gen.Line(), nil
	}
}

func (c *simConn) Close() error {
	c.once.Do(c.ticker.Stop)
	return nil
}
