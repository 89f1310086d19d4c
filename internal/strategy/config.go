package strategy

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"ta-enginev1/internal/indicator"
)

// File is the YAML strategy configuration document.
//
//	strategies:
//	  - name: lwma_cross
//	    ma_type: lwma
//	    fast_period: 9
//	    slow_period: 21
//	    qty: 10
//	    rsi:
//	      period: 14
//	      overbought: 70
//	      oversold: 30
type File struct {
	Strategies []StrategyConfig `yaml:"strategies"`
}

// StrategyConfig declares one MA crossover strategy.
type StrategyConfig struct {
	Name       string     `yaml:"name"`
	MAType     string     `yaml:"ma_type"`
	FastPeriod int        `yaml:"fast_period"`
	SlowPeriod int        `yaml:"slow_period"`
	Qty        int64      `yaml:"qty"`
	RSI        *RSIFilter `yaml:"rsi,omitempty"`
}

// RSIFilter declares the optional RSI gate on crossover signals.
type RSIFilter struct {
	Period     int     `yaml:"period"`
	Overbought float64 `yaml:"overbought"`
	Oversold   float64 `yaml:"oversold"`
}

// LoadFile reads and validates a strategy config file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read strategy config %s", path)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates YAML strategy config bytes.
func ParseConfig(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parse strategy config")
	}
	if len(f.Strategies) == 0 {
		return nil, errors.New("strategy config: no strategies defined")
	}
	for i, sc := range f.Strategies {
		if sc.Name == "" {
			return nil, errors.Errorf("strategy %d: name is required", i)
		}
		if _, err := indicator.ParseMAType(sc.MAType); err != nil {
			return nil, errors.Wrapf(err, "strategy %q", sc.Name)
		}
		if sc.FastPeriod <= 0 || sc.SlowPeriod <= 0 {
			return nil, errors.Errorf("strategy %q: periods must be positive", sc.Name)
		}
		if sc.FastPeriod >= sc.SlowPeriod {
			return nil, errors.Errorf("strategy %q: fast period %d must be below slow period %d",
				sc.Name, sc.FastPeriod, sc.SlowPeriod)
		}
		if sc.Qty <= 0 {
			return nil, errors.Errorf("strategy %q: qty must be positive", sc.Name)
		}
		if sc.RSI != nil && sc.RSI.Period <= 0 {
			return nil, errors.Errorf("strategy %q: rsi period must be positive", sc.Name)
		}
	}
	return &f, nil
}

// Build constructs the configured strategies.
func (f *File) Build() ([]*MACrossover, error) {
	out := make([]*MACrossover, 0, len(f.Strategies))
	for _, sc := range f.Strategies {
		typ, err := indicator.ParseMAType(sc.MAType)
		if err != nil {
			return nil, errors.Wrapf(err, "strategy %q", sc.Name)
		}
		opts := MACrossoverOpts{
			Name:       sc.Name,
			MAType:     typ,
			FastPeriod: sc.FastPeriod,
			SlowPeriod: sc.SlowPeriod,
			Qty:        sc.Qty,
		}
		if sc.RSI != nil {
			opts.RSIPeriod = sc.RSI.Period
			opts.Overbought = sc.RSI.Overbought
			opts.Oversold = sc.RSI.Oversold
		}
		s, err := NewMACrossover(opts)
		if err != nil {
			return nil, errors.Wrapf(err, "strategy %q", sc.Name)
		}
		out = append(out, s)
	}
	return out, nil
}
