package normalize

import (
	"fmt"
	"sort"

	"github.com/relaysync/engine/internal/model"
)

// FromARaw canonicalizes a raw A field value (bare string, {"text":"…"}
// map, or array of either) per spec §4.5. Missing/nil/empty-string values
// collapse to Empty.
func FromARaw(raw any) CanonicalValue {
	switch v := raw.(type) {
	case nil:
		return Empty()
	case string:
		return Text(v)
	case float64:
		return Num(v)
	case int:
		return Num(float64(v))
	case bool:
		return Bool(v)
	case map[string]any:
		if t, ok := v["text"]; ok {
			return FromARaw(t)
		}
		return Empty()
	case []any:
		items := make([]CanonicalValue, 0, len(v))
		for _, el := range v {
			cv := FromARaw(el)
			if cv.Kind == KindEmpty {
				continue
			}
			items = append(items, cv)
		}
		return List(items)
	default:
		return Text(fmt.Sprintf("%v", v))
	}
}

// VirtualValue derives the canonical form of a read-only, entity-derived
// A-side attribute (spec §3's virtual fields).
func VirtualValue(e model.EntryA, v model.VirtualField) CanonicalValue {
	switch v {
	case model.VirtualName:
		return Text(e.Name)
	case model.VirtualDomain:
		items := make([]CanonicalValue, 0, len(e.Domains))
		for _, d := range e.Domains {
			items = append(items, Text(d))
		}
		return List(items)
	case model.VirtualEntityType:
		return Text(string(e.EntityType))
	case model.VirtualListEntryID:
		return Text(e.EntryID)
	case model.VirtualOwningOrgID:
		if e.OwningOrgID == 0 {
			return Empty()
		}
		return Num(float64(e.OwningOrgID))
	default:
		return Empty()
	}
}

// FromBProperty canonicalizes a live B property value using its own type,
// for comparison against the A-derived canonical value (spec §4.7 step 1).
func FromBProperty(p model.BProperty) CanonicalValue {
	switch p.Type {
	case model.BTitle, model.BRichText, model.BEmail, model.BURL, model.BPhone:
		return Text(p.Text)
	case model.BNumber:
		if p.Number == nil {
			return Empty()
		}
		return Num(*p.Number)
	case model.BSelect:
		return Select(p.SelectName)
	case model.BMultiSelect:
		return MultiSelect(p.MultiSelect)
	case model.BDate:
		return Date(p.DateStart)
	case model.BCheckbox:
		return Bool(p.Checkbox)
	default:
		return Text(p.Text)
	}
}

// ToBProperty maps a canonical A-derived value onto the live B property
// type bType, per spec §4.5's type-directed mapping table. Invalid
// email/url/phone/date/number values become null (Empty on the B side)
// and add a warning to s. When s is nil a throwaway Sanitizer is used: the
// same coercions apply and the warnings are discarded.
func ToBProperty(v CanonicalValue, bType model.BPropertyType, s *Sanitizer) model.BProperty {
	if s == nil {
		s = &Sanitizer{}
	}
	text := v.stringValue()

	switch bType {
	case model.BTitle:
		return model.BProperty{Type: model.BTitle, Text: text}
	case model.BRichText:
		return model.BProperty{Type: model.BRichText, Text: text}
	case model.BNumber:
		n := coerceNumber(v, s)
		return model.BProperty{Type: model.BNumber, Number: n}
	case model.BSelect:
		if text == "" {
			return model.BProperty{Type: model.BSelect}
		}
		return model.BProperty{Type: model.BSelect, SelectName: text}
	case model.BMultiSelect:
		return model.BProperty{Type: model.BMultiSelect, MultiSelect: coerceMultiSelect(v)}
	case model.BDate:
		return model.BProperty{Type: model.BDate, DateStart: s.SanitizeDate("date", text)}
	case model.BCheckbox:
		return model.BProperty{Type: model.BCheckbox, Checkbox: SanitizeBool(text)}
	case model.BEmail:
		return model.BProperty{Type: model.BEmail, Text: s.SanitizeEmail("email", text)}
	case model.BURL:
		return model.BProperty{Type: model.BURL, Text: s.SanitizeURL("url", text)}
	case model.BPhone:
		return model.BProperty{Type: model.BPhone, Text: s.SanitizePhone("phone", text)}
	default:
		// Unknown B type ⇒ rich_text fallback (spec §4.5).
		return model.BProperty{Type: model.BRichText, Text: text}
	}
}

// ToARaw maps a B-derived canonical value to the bare string/number/array
// shape used for comparison and for staged A writes (spec §4.5's
// "Mapping B→A canonical: inverse").
func ToARaw(v CanonicalValue) any {
	switch v.Kind {
	case KindEmpty:
		return nil
	case KindText, KindDate, KindSelect:
		return v.Text
	case KindNum:
		return v.Num
	case KindBool:
		return v.Bool
	case KindMultiSelect:
		out := make([]any, len(v.Set))
		for i, s := range v.Set {
			out[i] = s
		}
		return out
	case KindList:
		out := make([]any, len(v.List))
		for i, el := range v.List {
			out[i] = ToARaw(el)
		}
		return out
	default:
		return nil
	}
}

func (c CanonicalValue) stringValue() string {
	switch c.Kind {
	case KindEmpty:
		return ""
	case KindText, KindDate, KindSelect:
		return c.Text
	case KindNum:
		return c.CanonicalText()
	case KindBool:
		if c.Bool {
			return "true"
		}
		return "false"
	case KindMultiSelect:
		return c.CanonicalText()
	case KindList:
		if len(c.List) == 1 {
			return c.List[0].stringValue()
		}
		return c.CanonicalText()
	default:
		return ""
	}
}

func coerceNumber(v CanonicalValue, s *Sanitizer) *float64 {
	if v.Kind == KindNum {
		n := v.Num
		return &n
	}
	return s.SanitizeNumber("number", v.stringValue())
}

func coerceMultiSelect(v CanonicalValue) []string {
	switch v.Kind {
	case KindEmpty:
		return nil
	case KindMultiSelect:
		return append([]string(nil), v.Set...)
	case KindList:
		out := make([]string, 0, len(v.List))
		for _, el := range v.List {
			out = append(out, el.stringValue())
		}
		sort.Strings(out)
		return out
	default:
		s := v.stringValue()
		if s == "" {
			return nil
		}
		return []string{s}
	}
}
