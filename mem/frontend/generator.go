package frontend

import (
	"fmt"
	"math/rand"
)

// Patterns of the synthetic generator.
const (
	// PatternFalseSharing makes every core touch its own word of the same
	// lines.
	PatternFalseSharing = "false_sharing"

	// PatternTrueSharing makes every core touch the same words.
	PatternTrueSharing = "true_sharing"

	// PatternPrivate gives every core its own lines.
	PatternPrivate = "private"

	// PatternRandom touches random words of the shared lines.
	PatternRandom = "random"
)

// GeneratorConfig describes a synthetic workload of one core.
type GeneratorConfig struct {
	Pattern     string
	CoreIndex   int
	NumAccesses int
	BaseAddr    uint64
	LineSize    int
	NumLines    int
	AccessSize  int
	WriteRatio  float64
	Seed        int64
}

// Generator creates records following a sharing pattern.
type Generator struct {
	cfg   GeneratorConfig
	rand  *rand.Rand
	count int
	ended bool
}

// NewGenerator creates a generator. The configuration is validated.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	switch cfg.Pattern {
	case PatternFalseSharing, PatternTrueSharing, PatternPrivate,
		PatternRandom:
	default:
		return nil, fmt.Errorf("unknown pattern %q", cfg.Pattern)
	}

	if cfg.LineSize <= 0 || cfg.NumLines <= 0 || cfg.AccessSize <= 0 {
		return nil, fmt.Errorf("line size, lines, and access size must be positive")
	}

	if cfg.AccessSize > cfg.LineSize {
		return nil, fmt.Errorf("access size %d exceeds line size %d",
			cfg.AccessSize, cfg.LineSize)
	}

	if cfg.WriteRatio < 0 || cfg.WriteRatio > 1 {
		return nil, fmt.Errorf("write ratio %v is not in [0, 1]",
			cfg.WriteRatio)
	}

	return &Generator{
		cfg:  cfg,
		rand: rand.New(rand.NewSource(cfg.Seed + int64(cfg.CoreIndex))),
	}, nil
}

// Next returns the next record. The last record is an exit.
func (g *Generator) Next() (Record, bool) {
	if g.ended {
		return Record{}, false
	}

	if g.count >= g.cfg.NumAccesses {
		g.ended = true
		return Record{Op: OpExit}, true
	}

	r := Record{
		Op:      OpRead,
		VAddr:   g.addr(),
		Size:    uint64(g.cfg.AccessSize),
		InstPtr: uint64(0x400000 + 4*g.count),
	}

	if g.rand.Float64() < g.cfg.WriteRatio {
		r.Op = OpWrite
	}

	g.count++

	return r, true
}

func (g *Generator) addr() uint64 {
	lineSize := uint64(g.cfg.LineSize)
	wordsPerLine := g.cfg.LineSize / g.cfg.AccessSize
	line := uint64(g.count % g.cfg.NumLines)

	switch g.cfg.Pattern {
	case PatternFalseSharing:
		word := uint64(g.cfg.CoreIndex % wordsPerLine)
		return g.cfg.BaseAddr + line*lineSize +
			word*uint64(g.cfg.AccessSize)
	case PatternPrivate:
		region := uint64(g.cfg.CoreIndex*g.cfg.NumLines) * lineSize
		return g.cfg.BaseAddr + region + line*lineSize
	case PatternRandom:
		line = uint64(g.rand.Intn(g.cfg.NumLines))
		word := uint64(g.rand.Intn(wordsPerLine))

		return g.cfg.BaseAddr + line*lineSize + word*uint64(g.cfg.AccessSize)
	}

	return g.cfg.BaseAddr + line*lineSize
}
