// Package normalize implements the Normalizer (spec §4.5/§4.5a): it
// canonicalizes field values from either system into a comparable form,
// and maps A↔B value shapes per the live B property type. Grounded on the
// spec's own design note (§9) to model the source's ad-hoc `any` values as
// a tagged union rather than carrying `interface{}` through compare/hash
// logic.
package normalize

import (
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Kind tags which variant of CanonicalValue is populated.
type Kind int

const (
	KindEmpty Kind = iota
	KindText
	KindNum
	KindBool
	KindDate // ISO date string, YYYY-MM-DD
	KindList
	KindSelect
	KindMultiSelect
)

// CanonicalValue is the sum type CanonicalValue = Empty | Text(string) |
// Num(float64) | Bool(bool) | Date(iso) | List(List<CanonicalValue>) |
// Select(string) | MultiSelect(set<string>) from spec §9.
type CanonicalValue struct {
	Kind Kind
	Text string
	Num  float64
	Bool bool
	List []CanonicalValue
	Set  []string // sorted, de-duplicated; backs MultiSelect
}

func Empty() CanonicalValue { return CanonicalValue{Kind: KindEmpty} }

func Text(s string) CanonicalValue {
	if s == "" {
		return Empty()
	}
	return CanonicalValue{Kind: KindText, Text: s}
}

func Num(n float64) CanonicalValue { return CanonicalValue{Kind: KindNum, Num: n} }

func Bool(b bool) CanonicalValue { return CanonicalValue{Kind: KindBool, Bool: b} }

func Date(iso string) CanonicalValue {
	if iso == "" {
		return Empty()
	}
	return CanonicalValue{Kind: KindDate, Text: iso}
}

func Select(s string) CanonicalValue {
	if s == "" {
		return Empty()
	}
	return CanonicalValue{Kind: KindSelect, Text: s}
}

func MultiSelect(items []string) CanonicalValue {
	set := dedupeSorted(items)
	if len(set) == 0 {
		return Empty()
	}
	return CanonicalValue{Kind: KindMultiSelect, Set: set}
}

func List(items []CanonicalValue) CanonicalValue {
	if len(items) == 0 {
		return Empty()
	}
	sorted := make([]CanonicalValue, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].sortKey() < sorted[j].sortKey() })
	return CanonicalValue{Kind: KindList, List: sorted}
}

func dedupeSorted(items []string) []string {
	nonEmpty := lo.Filter(items, func(it string, _ int) bool { return it != "" })
	out := lo.Uniq(nonEmpty)
	sort.Strings(out)
	return out
}

// sortKey gives a stable textual ordering key so List's element order is
// irrelevant to equality, per spec's canonical equality closure property.
func (c CanonicalValue) sortKey() string {
	switch c.Kind {
	case KindEmpty:
		return ""
	case KindText, KindDate, KindSelect:
		return c.Text
	case KindNum:
		return strconv.FormatFloat(c.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(c.Bool)
	case KindMultiSelect:
		return strings.Join(c.Set, ",")
	case KindList:
		parts := make([]string, len(c.List))
		for i, v := range c.List {
			parts[i] = v.sortKey()
		}
		return strings.Join(parts, "|")
	default:
		return ""
	}
}

// Equal implements structural equality on canonical forms (spec §4.7 step
// 2 and the canonical-equality-closure testable property).
func (c CanonicalValue) Equal(other CanonicalValue) bool {
	if c.Kind == KindEmpty || other.Kind == KindEmpty {
		return c.Kind == KindEmpty && other.Kind == KindEmpty
	}
	if c.Kind != other.Kind {
		return false
	}
	switch c.Kind {
	case KindText, KindDate, KindSelect:
		return c.Text == other.Text
	case KindNum:
		return c.Num == other.Num
	case KindBool:
		return c.Bool == other.Bool
	case KindMultiSelect:
		return strings.Join(c.Set, "\x00") == strings.Join(other.Set, "\x00")
	case KindList:
		if len(c.List) != len(other.List) {
			return false
		}
		for i := range c.List {
			if !c.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// CanonicalText renders the value as a stable string for hashing (used by
// the fingerprint store) and for logging.
func (c CanonicalValue) CanonicalText() string {
	switch c.Kind {
	case KindEmpty:
		return "\x00empty"
	case KindText, KindDate, KindSelect:
		return c.Text
	case KindNum:
		return strconv.FormatFloat(c.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(c.Bool)
	case KindMultiSelect:
		return strings.Join(c.Set, "\x1f")
	case KindList:
		parts := make([]string, len(c.List))
		for i, v := range c.List {
			parts[i] = v.CanonicalText()
		}
		return strings.Join(parts, "\x1e")
	default:
		return ""
	}
}
