// Package progression computes cumulative XP thresholds, the inverse
// level lookup and intra-level progress for a configurable growth curve.
//
// step(n) is the XP needed to advance from level n to n+1. Reaching level L
// costs the sum of step(1) through step(L-1), so level 1 always costs 0.
package progression

import (
	"fmt"
	"math"
)

// Formula selects a growth curve.
type Formula string

const (
	Linear      Formula = "linear"
	Exponential Formula = "exponential"
	Fibonacci   Formula = "fibonacci"
	RPG         Formula = "rpg"
	Custom      Formula = "custom"
)

const (
	// DefaultBaseXP is the XP needed to reach level 2 on every built-in curve.
	DefaultBaseXP int64 = 100
	// DefaultExponentialScaling is used when an exponential curve has no factor.
	DefaultExponentialScaling = 1.5
	// DefaultRPGScaling is the gentler factor used by the rpg curve.
	DefaultRPGScaling = 1.2
	// PlateauLimit is the run of consecutive zero steps after which the
	// inverse lookup treats the curve as flat and stops at the run's start.
	PlateauLimit = 10000
	// ScanLimit is the highest level an uncapped custom curve can reach.
	ScanLimit = 1 << 22
)

// CustomFunc returns the XP needed to advance from level to level+1.
type CustomFunc func(level int) int64

// Curve is a fully parameterised growth curve.
type Curve struct {
	Formula       Formula
	BaseXP        int64
	ScalingFactor float64
	Custom        CustomFunc
	// MaxLevel caps the inverse lookup. Zero means uncapped.
	MaxLevel int
}

// Valid reports whether f names a known formula.
func (f Formula) Valid() bool {
	switch f {
	case Linear, Exponential, Fibonacci, RPG, Custom:
		return true
	}
	return false
}

// Validate checks the curve parameters.
func (c Curve) Validate() error {
	if !c.Formula.Valid() {
		return fmt.Errorf("unknown formula %q", c.Formula)
	}
	if c.Formula == Custom && c.Custom == nil {
		return fmt.Errorf("custom formula requires a function")
	}
	if c.Formula != Custom && c.BaseXP <= 0 {
		return fmt.Errorf("base xp must be positive, got %d", c.BaseXP)
	}
	if c.ScalingFactor < 0 || math.IsNaN(c.ScalingFactor) || math.IsInf(c.ScalingFactor, 0) {
		return fmt.Errorf("invalid scaling factor %v", c.ScalingFactor)
	}
	if c.MaxLevel < 0 {
		return fmt.Errorf("max level cannot be negative, got %d", c.MaxLevel)
	}
	return nil
}

// WithDefaults fills zero BaseXP and ScalingFactor with the formula defaults.
func (c Curve) WithDefaults() Curve {
	if c.Formula == "" {
		c.Formula = Linear
	}
	if c.BaseXP == 0 {
		c.BaseXP = DefaultBaseXP
	}
	if c.ScalingFactor == 0 {
		switch c.Formula {
		case RPG:
			c.ScalingFactor = DefaultRPGScaling
		default:
			c.ScalingFactor = DefaultExponentialScaling
		}
	}
	return c
}

// Step returns the XP needed to advance from level n to n+1.
func (c Curve) Step(n int) int64 {
	if n < 1 {
		return 0
	}
	switch c.Formula {
	case Linear:
		return mulSat(c.BaseXP, int64(n))
	case Exponential, RPG:
		return floorSat(float64(c.BaseXP) * math.Pow(c.ScalingFactor, float64(n-1)))
	case Fibonacci:
		a, b := c.BaseXP, c.BaseXP
		for i := 1; i < n; i++ {
			a, b = b, addSat(a, b)
		}
		return a
	case Custom:
		if c.Custom == nil {
			return 0
		}
		if v := c.Custom(n); v > 0 {
			return v
		}
		return 0
	}
	return 0
}

// constantStep reports whether every step equals BaseXP.
func (c Curve) constantStep() bool {
	return (c.Formula == Exponential || c.Formula == RPG) && c.ScalingFactor == 1
}

// Ceiling returns the highest level LevelFromXP can return, or 0 when the
// curve only stops at int64 saturation.
func (c Curve) Ceiling() int {
	switch {
	case c.MaxLevel > 0:
		return c.MaxLevel
	case c.Formula == Custom:
		return ScanLimit
	}
	return 0
}

// XPForLevel returns the cumulative XP needed to reach level.
func (c Curve) XPForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	m := int64(level - 1)
	switch {
	case c.Formula == Linear:
		// BaseXP * m(m+1)/2
		if m%2 == 0 {
			return mulSat(c.BaseXP, mulSat(m/2, m+1))
		}
		return mulSat(c.BaseXP, mulSat(m, (m+1)/2))
	case c.constantStep():
		return mulSat(c.BaseXP, m)
	}
	if c.Formula == Fibonacci {
		var total int64
		a, b := c.BaseXP, c.BaseXP
		for n := 1; n < level && total < math.MaxInt64; n++ {
			total = addSat(total, a)
			a, b = b, addSat(a, b)
		}
		return total
	}
	var total int64
	for n := 1; n < level; n++ {
		total = addSat(total, c.Step(n))
		if total == math.MaxInt64 {
			break
		}
	}
	return total
}

// LevelFromXP returns the highest level whose threshold does not exceed
// totalXP, clamped to MaxLevel. Levels whose threshold saturates int64 are
// unreachable.
func (c Curve) LevelFromXP(totalXP int64) int {
	if totalXP <= 0 {
		return 1
	}
	var level int
	switch {
	case c.Formula == Linear:
		level = c.invertLinear(totalXP)
	case c.constantStep():
		q := totalXP / c.BaseXP
		if q == math.MaxInt64 {
			q--
		}
		level = int(q) + 1
		if c.XPForLevel(level) == math.MaxInt64 {
			level--
		}
	default:
		level = c.scan(totalXP)
	}
	if c.MaxLevel > 0 && level > c.MaxLevel {
		level = c.MaxLevel
	}
	return level
}

// invertLinear solves BaseXP * L(L-1)/2 <= totalXP for the largest L.
func (c Curve) invertLinear(totalXP int64) int {
	est := (1 + math.Sqrt(1+8*float64(totalXP)/float64(c.BaseXP))) / 2
	level := int(est)
	if level < 1 {
		level = 1
	}
	for level > 1 {
		if floor := c.XPForLevel(level); floor <= totalXP && floor < math.MaxInt64 {
			break
		}
		level--
	}
	for {
		next := c.XPForLevel(level + 1)
		if next > totalXP || next == math.MaxInt64 {
			return level
		}
		level++
	}
}

func (c Curve) scan(totalXP int64) int {
	ceiling := c.Ceiling()
	level := 1
	var next int64
	zeros, start := 0, 0
	for ceiling == 0 || level < ceiling {
		step := c.Step(level)
		if step == 0 {
			if zeros == 0 {
				start = level
			}
			zeros++
			if zeros > PlateauLimit {
				return start
			}
		} else {
			zeros = 0
		}
		next = addSat(next, step)
		if next > totalXP || next == math.MaxInt64 {
			break
		}
		level++
	}
	return level
}

// Progress describes how far a player is through their current level.
type Progress struct {
	CurrentXP   int64 `json:"current_xp"`
	XPToLevelUp int64 `json:"xp_to_level_up"`
	// Progress is a percentage in [0, 100].
	Progress int `json:"progress"`
}

// Progress computes the intra-level progress for totalXP at level.
func (c Curve) Progress(totalXP int64, level int) Progress {
	if level < 1 {
		level = 1
	}
	floor := c.XPForLevel(level)
	toLevelUp := c.XPForLevel(level+1) - floor
	p := Progress{CurrentXP: totalXP - floor, XPToLevelUp: toLevelUp}
	if p.CurrentXP < 0 {
		p.CurrentXP = 0
	}
	switch {
	case c.MaxLevel > 0 && level >= c.MaxLevel:
		p.Progress = 100
	case toLevelUp <= 0:
		p.Progress = 100
	default:
		pct := float64(p.CurrentXP) * 100 / float64(toLevelUp)
		p.Progress = int(math.Floor(math.Min(pct, 100)))
	}
	return p
}

// XPForLevel is the free-function form of Curve.XPForLevel.
func XPForLevel(level int, formula Formula, baseXP int64, scaling float64, custom CustomFunc) int64 {
	return Curve{Formula: formula, BaseXP: baseXP, ScalingFactor: scaling, Custom: custom}.WithDefaults().XPForLevel(level)
}

// LevelFromXP is the free-function form of Curve.LevelFromXP.
func LevelFromXP(totalXP int64, formula Formula, baseXP int64, scaling float64, custom CustomFunc, maxLevel int) int {
	return Curve{Formula: formula, BaseXP: baseXP, ScalingFactor: scaling, Custom: custom, MaxLevel: maxLevel}.WithDefaults().LevelFromXP(totalXP)
}

// LevelProgress is the free-function form of Curve.Progress.
func LevelProgress(totalXP int64, level int, formula Formula, baseXP int64, scaling float64, custom CustomFunc, maxLevel int) Progress {
	return Curve{Formula: formula, BaseXP: baseXP, ScalingFactor: scaling, Custom: custom, MaxLevel: maxLevel}.WithDefaults().Progress(totalXP, level)
}

func addSat(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func mulSat(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}

func floorSat(v float64) int64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(math.Floor(v))
}
