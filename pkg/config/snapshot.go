package config

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"SignalFlow/pkg/util"
)

// Snapshot is an immutable, versioned view of everything a decision reads.
// Callers load it once per cycle and never see a mix of two versions.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Engine   EngineConfig
	// Default is the validated default rule set, used for engine wide checks.
	Default *SymbolRules
	rules    map[string]*SymbolRules
	invalid  map[string]error
}

// Rules returns the rules for symbol or an error wrapping ErrRulesInvalid.
func (s *Snapshot) Rules(symbol string) (*SymbolRules, error) {
	if err, bad := s.invalid[symbol]; bad {
		return nil, err
	}
	r, ok := s.rules[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not configured", ErrRulesInvalid, symbol)
	}
	return r, nil
}

// Symbols lists every configured symbol, valid or not.
func (s *Snapshot) Symbols() []string {
	out := make([]string, 0, len(s.rules)+len(s.invalid))
	for sym := range s.rules {
		out = append(out, sym)
	}
	for sym := range s.invalid {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Configured reports whether symbol is in the snapshot, valid or not.
func (s *Snapshot) Configured(symbol string) bool {
	if _, ok := s.rules[symbol]; ok {
		return true
	}
	_, ok := s.invalid[symbol]
	return ok
}

// Invalid returns the symbols whose rules failed validation.
func (s *Snapshot) Invalid() map[string]error {
	out := make(map[string]error, len(s.invalid))
	for k, v := range s.invalid {
		out[k] = v
	}
	return out
}

// BuildSnapshot compiles per-symbol rules. A symbol whose overrides fail to
// decode or validate is recorded as invalid; the others are unaffected.
func BuildSnapshot(cfg *Config, version int64, now time.Time) *Snapshot {
	s := &Snapshot{
		Version:  version,
		LoadedAt: now,
		Engine:   cfg.Engine,
		rules:    make(map[string]*SymbolRules),
		invalid:  make(map[string]error),
	}
	base := cfg.Rules.Default.clone()
	base.fill()
	if err := base.Validate(); err == nil {
		d := base.clone()
		s.Default = &d
	} else {
		s.Default = NewSymbolRules()
	}

	for _, raw := range cfg.Engine.Symbols {
		sym := util.NormalizeSymbol(raw)
		r := base.clone()
		node, ok := cfg.Rules.Symbols[raw]
		if !ok {
			node, ok = cfg.Rules.Symbols[sym]
		}
		if ok {
			if err := node.Decode(&r); err != nil {
				s.invalid[sym] = fmt.Errorf("%w: %s: %v", ErrRulesInvalid, sym, err)
				continue
			}
			r.fill()
		}
		if err := r.Validate(); err != nil {
			s.invalid[sym] = fmt.Errorf("%w: %s: %v", ErrRulesInvalid, sym, err)
			continue
		}
		rr := r
		s.rules[sym] = &rr
	}
	return s
}

// SnapshotStore holds the current snapshot and swaps it atomically.
type SnapshotStore struct {
	current atomic.Pointer[Snapshot]
	version atomic.Int64
	mu      sync.Mutex
	path    string
	now     func() time.Time
}

func NewSnapshotStore(cfg *Config, path string) *SnapshotStore {
	s := &SnapshotStore{path: path, now: time.Now}
	s.Swap(cfg)
	return s
}

func (s *SnapshotStore) Current() *Snapshot {
	return s.current.Load()
}

// Swap publishes a snapshot built from cfg under the next version number.
func (s *SnapshotStore) Swap(cfg *Config) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := BuildSnapshot(cfg, s.version.Add(1), s.now())
	s.current.Store(snap)
	return snap
}

// Reload re-reads the config file. The running snapshot is kept when the
// file is unreadable or fails process level validation.
func (s *SnapshotStore) Reload() (*Snapshot, error) {
	if s.path == "" {
		return s.Current(), fmt.Errorf("no config path to reload from")
	}
	cfg, err := LoadWithEnv(s.path)
	if err != nil {
		return s.Current(), err
	}
	return s.Swap(cfg), nil
}
