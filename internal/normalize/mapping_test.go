package normalize

import (
	"testing"

	"github.com/relaysync/engine/internal/model"
)

func TestFromARaw(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want CanonicalValue
	}{
		{"nil", nil, Empty()},
		{"bare string", "hello", Text("hello")},
		{"number", float64(42), Num(42)},
		{"bool", true, Bool(true)},
		{"text wrapper map", map[string]any{"text": "wrapped"}, Text("wrapped")},
		{"array of strings", []any{"a", "b"}, List([]CanonicalValue{Text("a"), Text("b")})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromARaw(tt.in); !got.Equal(tt.want) {
				t.Errorf("FromARaw(%v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestVirtualValue(t *testing.T) {
	e := model.EntryA{
		Name:        "Acme Corp",
		Domains:     []string{"acme.com"},
		EntityType:  model.EntityOrganization,
		EntryID:     "entry-1",
		OwningOrgID: 7,
	}

	if got := VirtualValue(e, model.VirtualName); !got.Equal(Text("Acme Corp")) {
		t.Errorf("VirtualName = %+v", got)
	}
	if got := VirtualValue(e, model.VirtualEntityType); !got.Equal(Text("organization")) {
		t.Errorf("VirtualEntityType = %+v", got)
	}
	if got := VirtualValue(e, model.VirtualOwningOrgID); !got.Equal(Num(7)) {
		t.Errorf("VirtualOwningOrgID = %+v", got)
	}

	noOwner := model.EntryA{}
	if got := VirtualValue(noOwner, model.VirtualOwningOrgID); got.Kind != KindEmpty {
		t.Errorf("VirtualOwningOrgID with no owner = %+v, want Empty", got)
	}
}

func TestToBProperty_EmailInvalidBecomesNull(t *testing.T) {
	s := &Sanitizer{}
	prop := ToBProperty(Text("not-an-email"), model.BEmail, s)
	if prop.Text != "" {
		t.Errorf("invalid email should sanitize to empty, got %q", prop.Text)
	}
	if len(s.Warnings) != 1 {
		t.Errorf("expected 1 warning, got %d", len(s.Warnings))
	}
}

func TestToBProperty_NumberCoercion(t *testing.T) {
	s := &Sanitizer{}
	prop := ToBProperty(Text("$42.50 USD"), model.BNumber, s)
	if prop.Number == nil || *prop.Number != 42.50 {
		t.Errorf("expected coerced number 42.5, got %v", prop.Number)
	}
}

func TestToBProperty_UnknownTypeFallsBackToRichText(t *testing.T) {
	prop := ToBProperty(Text("x"), model.BPropertyType("unknown_type"), nil)
	if prop.Type != model.BRichText || prop.Text != "x" {
		t.Errorf("unknown type fallback = %+v", prop)
	}
}

func TestToARaw_RoundTripsMultiSelect(t *testing.T) {
	v := MultiSelect([]string{"a", "b"})
	raw := ToARaw(v)
	list, ok := raw.([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("ToARaw(MultiSelect) = %v", raw)
	}
}
