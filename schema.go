package rondo

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
)

// Tier is one resolution level within a Schema (§3 Tier, §4.3).
type Tier struct {
	// Interval is the sample spacing for tier 0, or the consolidation
	// cadence for tiers 1+.
	Interval time.Duration

	// Retention determines slot count: slot_count = retention / interval.
	Retention time.Duration

	// Reducer must be the zero value for tier 0 and a valid Reducer for
	// every other tier.
	Reducer Reducer
}

func (t Tier) slotCount() uint64 {
	if t.Interval <= 0 {
		return 0
	}
	return uint64(t.Retention.Nanoseconds()) / uint64(t.Interval.Nanoseconds())
}

func (t Tier) validate(index int, schemaName string) error {
	if t.Interval <= 0 {
		return newSchemaError(schemaName, index, "interval must be > 0")
	}
	if t.Retention < t.Interval {
		return newSchemaError(schemaName, index, "retention must be >= interval")
	}
	if t.slotCount() > maxSlotCount {
		return newSchemaError(schemaName, index, fmt.Sprintf("slot count exceeds limit of %d", maxSlotCount))
	}
	if index == 0 {
		if t.Reducer != 0 {
			return newSchemaError(schemaName, index, "highest-resolution tier must not declare a reducer")
		}
		return nil
	}
	if !t.Reducer.valid() {
		return newSchemaError(schemaName, index, "non-zero tier must declare a valid reducer")
	}
	return nil
}

// Label is one (key, value) pair attached to a series (§3 Series).
type Label struct {
	Key   string
	Value string
}

// LabelMatcher is a set of required (key, value) pairs a series must carry
// to be routed to a schema (§4.3). An empty matcher matches every series.
type LabelMatcher struct {
	Required map[string]string
}

// AnyLabelMatcher returns a matcher that accepts every series.
func AnyLabelMatcher() LabelMatcher {
	return LabelMatcher{}
}

func (m LabelMatcher) matches(labels []Label) bool {
	if len(m.Required) == 0 {
		return true
	}
	present := make(map[string]string, len(labels))
	for _, l := range labels {
		present[l.Key] = l.Value
	}
	for k, v := range m.Required {
		if present[k] != v {
			return false
		}
	}
	return true
}

func (m LabelMatcher) sortedKeys() []string {
	keys := make([]string, 0, len(m.Required))
	for k := range m.Required {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Schema is a named, validated configuration: a label matcher, an ordered
// tier list, and a series-count cap (§3 Schema, §4.3).
type Schema struct {
	// Name is display-only; it does not affect StableHash.
	Name      string
	Matcher   LabelMatcher
	Tiers     []Tier
	MaxSeries uint32
}

// Validate checks the structural invariants of §4.3: at least one tier,
// max_series > 0, strictly increasing intervals, tier 0 has no reducer and
// every later tier has one, and every tier individually validates.
func (s Schema) Validate() error {
	if len(s.Tiers) == 0 {
		return newSchemaError(s.Name, -1, "schema must declare at least one tier")
	}
	if len(s.Tiers) > maxTiersPerSchema {
		return newSchemaError(s.Name, -1, fmt.Sprintf("too many tiers (max %d)", maxTiersPerSchema))
	}
	if s.MaxSeries == 0 {
		return newSchemaError(s.Name, -1, "max_series must be > 0")
	}
	if s.MaxSeries > maxSeriesPerSchema {
		return newSchemaError(s.Name, -1, fmt.Sprintf("max_series exceeds limit of %d", maxSeriesPerSchema))
	}

	for i, t := range s.Tiers {
		if err := t.validate(i, s.Name); err != nil {
			return err
		}
	}

	for i := 1; i < len(s.Tiers); i++ {
		if s.Tiers[i-1].Interval >= s.Tiers[i].Interval {
			return newSchemaError(s.Name, i, "tier intervals must strictly increase")
		}
	}

	return nil
}

// Matches reports whether labels satisfy this schema's label matcher.
func (s Schema) Matches(labels []Label) bool {
	return s.Matcher.matches(labels)
}

// StableHash is a 64-bit hash of the layout-affecting fields (label matcher,
// tier list, max_series) that is independent of Name, so renaming a schema
// never changes the hash while changing any tier, the matcher, or max_series
// does (§4.3, §9). Computed with xxh3 over a canonical textual encoding.
func (s Schema) StableHash() uint64 {
	var b strings.Builder

	// Each matcher key/value is length-prefixed, not delimiter-joined, so a
	// key or value that happens to contain "=" or ";" can't be confused with
	// a different matcher that doesn't.
	for _, k := range s.Matcher.sortedKeys() {
		writeLengthPrefixed(&b, k)
		writeLengthPrefixed(&b, s.Matcher.Required[k])
	}
	b.WriteByte('|')

	for _, t := range s.Tiers {
		b.WriteString(strconv.FormatInt(int64(t.Interval), 10))
		b.WriteByte(',')
		b.WriteString(strconv.FormatInt(int64(t.Retention), 10))
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(int(t.Reducer)))
		b.WriteByte(';')
	}
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(uint64(s.MaxSeries), 10))

	return xxh3.HashString(b.String())
}
