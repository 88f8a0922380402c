package resilience

import (
	"math"
	"sync"

	"github.com/renderforge/resilience/pkg/logging"
)

// DegradationLevel represents the current quality/feature level of the system
type DegradationLevel int

const (
	// LevelFull - full quality, all features
	LevelFull DegradationLevel = iota
	// LevelHigh - slightly reduced quality, most features
	LevelHigh
	// LevelMedium - reduced quality, core features only
	LevelMedium
	// LevelLow - low quality, basic features only
	LevelLow
	// LevelMinimal - minimal quality, essential features only
	LevelMinimal
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelFull:
		return "full"
	case LevelHigh:
		return "high"
	case LevelMedium:
		return "medium"
	case LevelLow:
		return "low"
	case LevelMinimal:
		return "minimal"
	default:
		return "unknown"
	}
}

// Quality returns the quality multiplier for the level
func (l DegradationLevel) Quality() float64 {
	switch l {
	case LevelFull:
		return 1.0
	case LevelHigh:
		return 0.8
	case LevelMedium:
		return 0.6
	case LevelLow:
		return 0.4
	case LevelMinimal:
		return 0.2
	default:
		return 1.0
	}
}

// Features returns the feature-scope label for the level
func (l DegradationLevel) Features() string {
	switch l {
	case LevelFull:
		return "all"
	case LevelHigh:
		return "most"
	case LevelMedium:
		return "core"
	case LevelLow:
		return "basic"
	case LevelMinimal:
		return "essential"
	default:
		return "all"
	}
}

// resolutionLadders maps a base resolution to its step-down sequence
var resolutionLadders = map[string][]string{
	"1080p": {"1080p", "720p", "480p", "360p", "240p"},
	"720p":  {"720p", "480p", "360p", "240p"},
	"480p":  {"480p", "360p", "240p"},
}

// DegradationController holds the system-wide quality level, stepped down
// under sustained failure and back up as the system recovers.
type DegradationController struct {
	logger *logging.Logger

	mu       sync.Mutex
	level    DegradationLevel
	onChange func(from, to DegradationLevel, reason string)
}

// NewDegradationController creates a controller starting at full quality
func NewDegradationController() *DegradationController {
	return &DegradationController{
		level:  LevelFull,
		logger: logging.GetLogger(),
	}
}

// OnChange sets a callback invoked after every level change
func (dc *DegradationController) OnChange(fn func(from, to DegradationLevel, reason string)) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.onChange = fn
}

// Degrade moves exactly one step toward minimal and returns the new level.
// At minimal it is a no-op.
func (dc *DegradationController) Degrade(reason string) DegradationLevel {
	dc.mu.Lock()

	if dc.level == LevelMinimal {
		level := dc.level
		dc.mu.Unlock()
		return level
	}

	from := dc.level
	dc.level++
	to := dc.level
	fn := dc.onChange
	dc.mu.Unlock()

	dc.logger.Warn("System degraded",
		"from", from.String(),
		"to", to.String(),
		"reason", reason,
	)

	if fn != nil {
		fn(from, to, reason)
	}
	return to
}

// Restore moves exactly one step toward full and returns the new level.
// At full it is a no-op.
func (dc *DegradationController) Restore() DegradationLevel {
	dc.mu.Lock()

	if dc.level == LevelFull {
		level := dc.level
		dc.mu.Unlock()
		return level
	}

	from := dc.level
	dc.level--
	to := dc.level
	fn := dc.onChange
	dc.mu.Unlock()

	dc.logger.Info("System restored",
		"from", from.String(),
		"to", to.String(),
	)

	if fn != nil {
		fn(from, to, "restore")
	}
	return to
}

// Level returns the current degradation level
func (dc *DegradationController) Level() DegradationLevel {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.level
}

// AdjustParameters returns a copy of params scaled to the current level:
// quality is multiplied by the level's quality factor, steps is scaled and
// floored, and resolution steps down a fixed ladder. The stored level is not
// mutated.
func (dc *DegradationController) AdjustParameters(params map[string]interface{}) map[string]interface{} {
	dc.mu.Lock()
	quality := dc.level.Quality()
	dc.mu.Unlock()

	adjusted := make(map[string]interface{}, len(params))
	for k, v := range params {
		adjusted[k] = v
	}

	if v, ok := adjusted["quality"]; ok {
		if q, ok := toFloat(v); ok {
			adjusted["quality"] = q * quality
		}
	}

	if v, ok := adjusted["steps"]; ok {
		if steps, ok := toFloat(v); ok {
			adjusted["steps"] = int(math.Floor(steps * quality))
		}
	}

	if v, ok := adjusted["resolution"]; ok {
		if base, ok := v.(string); ok {
			if ladder, ok := resolutionLadders[base]; ok {
				idx := int(math.Floor((1 - quality) * float64(len(ladder)-1)))
				if idx >= len(ladder) {
					idx = len(ladder) - 1
				}
				adjusted["resolution"] = ladder[idx]
			}
		}
	}

	return adjusted
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
