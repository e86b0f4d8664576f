package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

const (
	RolePrimary   = "primary"
	RoleSecondary = "secondary"

	// ModeDirectional indicators support the side matching the sign of
	// (value - reference) * polarity.
	ModeDirectional = "directional"
	// ModeConfirming indicators support either side when above reference and
	// oppose either side when below it, e.g. rising open interest.
	ModeConfirming = "confirming"

	ClassDefault      = "default"
	ClassExtendedHold = "extended_hold"
)

// ErrRulesInvalid marks symbol rules rejected while building a snapshot.
var ErrRulesInvalid = errors.New("symbol rules invalid")

// RulesFile is the `rules` section: a default rule set plus per-symbol
// overrides that are decoded on top of a copy of the default.
type RulesFile struct {
	Default SymbolRules          `yaml:"default"`
	Symbols map[string]yaml.Node `yaml:"symbols"`
}

type IndicatorRule struct {
	Metric      string  `yaml:"metric" json:"metric" validate:"required"`
	Role        string  `yaml:"role" json:"role" default:"primary" validate:"oneof=primary secondary"`
	Mode        string  `yaml:"mode" json:"mode" default:"directional" validate:"oneof=directional confirming"`
	Weight      float64 `yaml:"weight" json:"weight" validate:"gt=0"`
	Polarity    int     `yaml:"polarity" json:"polarity" default:"1" validate:"oneof=-1 1"`
	Reference   float64 `yaml:"reference" json:"reference"`
	AlignAbove  float64 `yaml:"align_above" json:"align_above" validate:"gte=0"`
	OpposeAbove float64 `yaml:"oppose_above" json:"oppose_above" validate:"gte=0"`
}

type TTLBucket struct {
	MinMultiplier float64 `yaml:"min_multiplier" json:"min_multiplier" validate:"gte=1"`
	Minutes       int     `yaml:"minutes" json:"minutes" validate:"gt=0"`
}

// SymbolRules is the immutable decision configuration for one symbol.
type SymbolRules struct {
	Class             string          `yaml:"class" json:"class" default:"default" validate:"oneof=default extended_hold"`
	MinScoreThreshold float64         `yaml:"min_score_threshold" json:"min_score_threshold" default:"0.5" validate:"gt=0"`
	MaxScoreThreshold float64         `yaml:"max_score_threshold" json:"max_score_threshold" default:"1.0" validate:"gtfield=MinScoreThreshold"`
	ConfluenceRatio   float64         `yaml:"confluence_ratio" json:"confluence_ratio" default:"0.66" validate:"gt=0,lte=1"`
	DeltaMargin       float64         `yaml:"delta_margin" json:"delta_margin" default:"0.05" validate:"gte=0"`
	Indicators        []IndicatorRule `yaml:"indicators" json:"indicators" validate:"dive"`
	Confidence        struct {
		Min float64 `yaml:"min" json:"min" default:"0.70" validate:"gte=0,lte=1"`
		Max float64 `yaml:"max" json:"max" default:"0.95" validate:"gtfield=Min,lte=1"`
	} `yaml:"confidence" json:"confidence"`
	TTL struct {
		Buckets             []TTLBucket `yaml:"buckets" json:"buckets" validate:"dive"`
		ExtendedHoldMinutes int         `yaml:"extended_hold_minutes" json:"extended_hold_minutes" default:"720" validate:"gt=0"`
	} `yaml:"ttl" json:"ttl"`
	Multiplier struct {
		VolumeMetric        string  `yaml:"volume_metric" json:"volume_metric" default:"volume_ratio"`
		VolumeMid           float64 `yaml:"volume_mid" json:"volume_mid" default:"1.5" validate:"gt=0"`
		VolumeHigh          float64 `yaml:"volume_high" json:"volume_high" default:"2.0" validate:"gtfield=VolumeMid"`
		FlowMetric          string  `yaml:"flow_metric" json:"flow_metric" default:"flow_delta"`
		FlowStrong          float64 `yaml:"flow_strong" json:"flow_strong" default:"1000000" validate:"gt=0"`
		FlowVeryStrong      float64 `yaml:"flow_very_strong" json:"flow_very_strong" default:"5000000" validate:"gtfield=FlowStrong"`
		PositioningMetric   string  `yaml:"positioning_metric" json:"positioning_metric" default:"oi_change_pct"`
		PositioningModerate float64 `yaml:"positioning_moderate" json:"positioning_moderate" default:"1.0" validate:"gt=0"`
		PositioningLarge    float64 `yaml:"positioning_large" json:"positioning_large" default:"2.0" validate:"gtfield=PositioningModerate"`
	} `yaml:"multiplier" json:"multiplier"`
	Targets struct {
		MinATR          float64 `yaml:"min_atr" json:"min_atr" default:"0.5" validate:"gt=0"`
		MaxATR          float64 `yaml:"max_atr" json:"max_atr" default:"1.0" validate:"gtfield=MinATR"`
		InvalidationATR float64 `yaml:"invalidation_atr" json:"invalidation_atr" default:"1.0" validate:"gt=0"`
		// WinOn selects the WIN trigger: "zone" on entering the target range,
		// "far" on reaching its far edge with a target_zone event on entry.
		WinOn string `yaml:"win_on" json:"win_on" default:"zone" validate:"oneof=zone far"`
	} `yaml:"targets" json:"targets"`
	Dispersion struct {
		Window       int     `yaml:"window" json:"window" default:"50" validate:"min=2"`
		Floor        float64 `yaml:"floor" json:"floor" default:"0.03" validate:"gte=0"`
		MinRange     float64 `yaml:"min_range" json:"min_range" default:"0.10" validate:"gte=0"`
		MaxModeShare float64 `yaml:"max_mode_share" json:"max_mode_share" default:"0.5" validate:"gt=0,lte=1"`
	} `yaml:"dispersion" json:"dispersion"`
}

// DefaultIndicators is the indicator table used when none is configured.
func DefaultIndicators() []IndicatorRule {
	return []IndicatorRule{
		{Metric: "flow_delta", Role: RolePrimary, Mode: ModeDirectional, Weight: 0.35, Polarity: 1},
		{Metric: "oi_change", Role: RolePrimary, Mode: ModeConfirming, Weight: 0.25, Polarity: 1},
		{Metric: "vwap_deviation", Role: RolePrimary, Mode: ModeDirectional, Weight: 0.20, Polarity: 1, OpposeAbove: 0.001},
		{Metric: "rsi", Role: RoleSecondary, Mode: ModeDirectional, Weight: 0.10, Polarity: 1, Reference: 50, AlignAbove: 5, OpposeAbove: 15},
		{Metric: "volume_ratio", Role: RoleSecondary, Mode: ModeConfirming, Weight: 0.10, Polarity: 1, Reference: 1, AlignAbove: 0.2, OpposeAbove: 0.5},
	}
}

// DefaultTTLBuckets maps multiplier ranges to minutes for the default class.
func DefaultTTLBuckets() []TTLBucket {
	return []TTLBucket{
		{MinMultiplier: 1.0, Minutes: 60},
		{MinMultiplier: 1.25, Minutes: 30},
		{MinMultiplier: 1.5, Minutes: 15},
	}
}

// NewSymbolRules returns rules with every default applied.
func NewSymbolRules() *SymbolRules {
	r := &SymbolRules{}
	_ = defaults.Set(r)
	r.fill()
	return r
}

func (r *SymbolRules) fill() {
	if len(r.Indicators) == 0 {
		r.Indicators = DefaultIndicators()
	}
	for i := range r.Indicators {
		_ = defaults.Set(&r.Indicators[i])
	}
	if len(r.TTL.Buckets) == 0 {
		r.TTL.Buckets = DefaultTTLBuckets()
	}
}

func (r *SymbolRules) clone() SymbolRules {
	c := *r
	c.Indicators = append([]IndicatorRule(nil), r.Indicators...)
	c.TTL.Buckets = append([]TTLBucket(nil), r.TTL.Buckets...)
	return c
}

// Validate checks the construction-time assertions of a rule set.
func (r *SymbolRules) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	primaries := 0
	seen := make(map[string]bool, len(r.Indicators))
	for _, ind := range r.Indicators {
		if seen[ind.Metric] {
			return fmt.Errorf("indicator %q configured twice", ind.Metric)
		}
		seen[ind.Metric] = true
		if ind.Role == RolePrimary {
			primaries++
		}
	}
	if primaries == 0 {
		return fmt.Errorf("at least one primary indicator is required")
	}
	if r.Class == ClassDefault {
		b := r.TTL.Buckets
		if len(b) == 0 {
			return fmt.Errorf("ttl.buckets required for default class")
		}
		if !sort.SliceIsSorted(b, func(i, j int) bool { return b[i].MinMultiplier < b[j].MinMultiplier }) {
			return fmt.Errorf("ttl.buckets must be sorted by min_multiplier")
		}
		if b[0].MinMultiplier != 1.0 {
			return fmt.Errorf("ttl.buckets must start at multiplier 1.0")
		}
		for i := 1; i < len(b); i++ {
			if b[i].MinMultiplier == b[i-1].MinMultiplier {
				return fmt.Errorf("ttl.buckets has duplicate min_multiplier %v", b[i].MinMultiplier)
			}
			if b[i].Minutes > b[i-1].Minutes {
				return fmt.Errorf("ttl.buckets minutes must not increase with multiplier")
			}
		}
	}
	return nil
}

// PrimaryCount returns how many indicators are primary.
func (r *SymbolRules) PrimaryCount() int {
	n := 0
	for _, ind := range r.Indicators {
		if ind.Role == RolePrimary {
			n++
		}
	}
	return n
}
