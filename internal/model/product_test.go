package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseMetadata_Valid(t *testing.T) {
	meta := `{"name":"Table","parts":[{"uniqueId":"p1","name":"thickness","options":["19mm",{"value":"25mm","title":"Thick"}]}],"language":"English"}`

	p, err := ParseMetadata(meta)
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}
	if p.Name != "Table" || p.Language != "English" {
		t.Fatalf("product=%+v", p)
	}
	if len(p.Parts) != 1 {
		t.Fatalf("parts=%d, want 1", len(p.Parts))
	}
	opts := p.Parts[0].Options
	if len(opts) != 2 || opts[0].Value != "19mm" || opts[1].Value != "25mm" || opts[1].Title != "Thick" {
		t.Fatalf("options=%+v", opts)
	}
	if p.Parts[0].Domain() != DomainEnum {
		t.Fatalf("domain=%s, want enum", p.Parts[0].Domain())
	}
}

func TestParseMetadata_DefaultsLanguage(t *testing.T) {
	p, err := ParseMetadata(`{"name":"Chair","parts":[]}`)
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}
	if p.Language != DefaultLanguage {
		t.Fatalf("language=%q, want %q", p.Language, DefaultLanguage)
	}
}

func TestParseMetadata_Invalid(t *testing.T) {
	tests := []struct {
		name string
		meta string
	}{
		{"empty", ""},
		{"not json", "{nope"},
		{"no name", `{"parts":[]}`},
		{"part without id", `{"name":"T","parts":[{"name":"x"}]}`},
		{"part without name", `{"name":"T","parts":[{"uniqueId":"a"}]}`},
		{"duplicate id", `{"name":"T","parts":[{"uniqueId":"a","name":"x"},{"uniqueId":"a","name":"y"}]}`},
		{"min above max", `{"name":"T","parts":[{"uniqueId":"a","name":"x","min":10,"max":1}]}`},
		{"nested duplicate id", `{"name":"T","parts":[{"uniqueId":"a","name":"x","parts":[{"uniqueId":"a"}]}]}`},
		{"nested part without id", `{"name":"T","parts":[{"uniqueId":"a","name":"x","parts":[{"name":"y"}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMetadata(tt.meta)
			if !errors.Is(err, ErrInvalidMetadata) {
				t.Fatalf("err=%v, want ErrInvalidMetadata", err)
			}
		})
	}
}

func TestProductFromMetadata_FallsBackToDefault(t *testing.T) {
	p, err := ProductFromMetadata("garbage")
	if err == nil {
		t.Fatalf("expected fallback error")
	}
	if p == nil || p.Name != DefaultProduct().Name {
		t.Fatalf("product=%+v, want default", p)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("default product invalid: %v", err)
	}
}

func TestPart_Domain(t *testing.T) {
	min := 1.0
	if (Part{Min: &min}).Domain() != DomainRange {
		t.Fatalf("expected range domain")
	}
	if (Part{}).Domain() != DomainText {
		t.Fatalf("expected text domain")
	}
}

func TestOption_MarshalRoundTripKeepsObjectShape(t *testing.T) {
	b, err := json.Marshal(Option{Value: "oak"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"value":"oak"}` {
		t.Fatalf("json=%s", b)
	}
}

const richMetadata = `{"name":"Desk","currency":"EUR","parts":[` +
	`{"uniqueId":"p1","name":"thickness","values":["19mm","25mm"]},` +
	`{"uniqueId":"p2","name":"top","options":[{"id":"o1","label":"Oak","price":120}],` +
	`"parts":[{"uniqueId":"p2a","options":["round","square"]}]}]}`

func TestParseMetadata_KeepsUnmodeledDomains(t *testing.T) {
	p, err := ParseMetadata(richMetadata)
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}

	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := string(b)
	for _, want := range []string{`"values":["19mm","25mm"]`, `"label":"Oak"`, `"price":120`, `"uniqueId":"p2a"`, `"square"`, `"currency":"EUR"`, `"language":"English"`} {
		if !strings.Contains(got, want) {
			t.Fatalf("encoded product missing %s:\n%s", want, got)
		}
	}
	if strings.Contains(got, `"value":""`) {
		t.Fatalf("option object was rewritten:\n%s", got)
	}

	ids := p.PartIDs()
	for _, id := range []string{"p1", "p2", "p2a"} {
		if _, ok := ids[id]; !ok {
			t.Fatalf("part ids=%v, missing %s", ids, id)
		}
	}
	if len(p.Parts[1].Parts) != 1 || p.Parts[1].Parts[0].Domain() != DomainEnum {
		t.Fatalf("nested parts=%+v", p.Parts[1].Parts)
	}
}

func TestDocument_KeepsDecodedParts(t *testing.T) {
	p, err := ParseMetadata(richMetadata)
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}
	b, err := json.Marshal(NewDocument(p).Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"price":120`) || !strings.Contains(string(b), `"uniqueId":"p2a"`) {
		t.Fatalf("document=%s", b)
	}
}
