package schema

import (
	"errors"
	"strings"
	"testing"
)

func albumsDefinition() *CollectionDefinition {
	return &CollectionDefinition{
		Name: "albums",
		Schema: map[string]*FieldSpec{
			"title":    {Type: TypeString, Required: true},
			"year":     {Type: TypeNumber},
			"released": {Type: TypeBool, Default: false},
			"artist":   {Type: TypeID, Relation: "artists"},
			"issued":   {Type: TypeDate},
			"meta":     {Type: TypeObject},
			"tags":     {Type: TypeArray},
		},
		Exposed: true,
	}
}

func TestValidateCreate(t *testing.T) {
	engine := NewEngine()

	data := map[string]any{
		"title": "Blue Train",
		"year":  1957,
	}

	normalized, err := engine.Validate(albumsDefinition(), data, ModeCreate)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if normalized["title"] != "Blue Train" {
		t.Errorf("title: got %v", normalized["title"])
	}
	if normalized["year"] != float64(1957) {
		t.Errorf("year not coerced to float64: got %T %v", normalized["year"], normalized["year"])
	}
	if normalized["released"] != false {
		t.Errorf("default not filled: got %v", normalized["released"])
	}
}

func TestValidateCreateMissingRequired(t *testing.T) {
	engine := NewEngine()

	_, err := engine.Validate(albumsDefinition(), map[string]any{"year": 1957}, ModeCreate)
	if err == nil {
		t.Fatal("expected validation error for missing required field")
	}

	var ve *ValidationErrors
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationErrors, got %T", err)
	}
	if _, ok := ve.Fields["title"]; !ok {
		t.Errorf("expected failure on title, got %v", ve.Fields)
	}
}

func TestValidatePatchSkipsRequired(t *testing.T) {
	engine := NewEngine()

	normalized, err := engine.Validate(albumsDefinition(), map[string]any{"year": 1963}, ModePatch)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if _, present := normalized["title"]; present {
		t.Error("patch should not touch absent fields")
	}
	if _, present := normalized["released"]; present {
		t.Error("patch should not fill defaults")
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	engine := NewEngine()

	data := map[string]any{
		"year":   "nineteen",
		"artist": "",
		"issued": "yesterday",
	}

	_, err := engine.Validate(albumsDefinition(), data, ModePatch)
	var ve *ValidationErrors
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationErrors, got %v", err)
	}
	if ve.Count() != 3 {
		t.Errorf("Count: got %d, want 3 (%v)", ve.Count(), ve.Fields)
	}

	msg := ve.Error()
	if !strings.HasPrefix(msg, "validation failed: ") {
		t.Errorf("Error message shape: %q", msg)
	}
	// Sorted field order keeps the message deterministic.
	if strings.Index(msg, "artist") > strings.Index(msg, "year") {
		t.Errorf("fields not sorted in message: %q", msg)
	}
}

func TestValidateUnknownFieldPolicies(t *testing.T) {
	data := map[string]any{
		"title":   "Blue Train",
		"bootleg": true,
	}

	strip := NewEngine()
	normalized, err := strip.Validate(albumsDefinition(), data, ModeCreate)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if _, present := normalized["bootleg"]; present {
		t.Error("unknown field not stripped")
	}

	reject := &Engine{Unknown: UnknownReject}
	_, err = reject.Validate(albumsDefinition(), data, ModeCreate)
	var ve *ValidationErrors
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationErrors, got %v", err)
	}
	if _, ok := ve.Fields["bootleg"]; !ok {
		t.Errorf("expected failure on bootleg, got %v", ve.Fields)
	}
}

func TestValidateSystemFieldsPassThrough(t *testing.T) {
	engine := NewEngine()

	data := map[string]any{
		"title":      "Blue Train",
		"_id":        "rec-1",
		"created_at": "2024-01-01T00:00:00Z",
		"updated_at": "2024-01-02T00:00:00Z",
	}

	normalized, err := engine.Validate(albumsDefinition(), data, ModeCreate)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if normalized["_id"] != "rec-1" {
		t.Errorf("_id not passed through: %v", normalized["_id"])
	}
	if normalized["created_at"] != "2024-01-01T00:00:00Z" {
		t.Errorf("created_at not passed through: %v", normalized["created_at"])
	}
}

func TestValidateNilValue(t *testing.T) {
	engine := NewEngine()
	def := albumsDefinition()

	// nil clears an optional field but is rejected for required ones.
	normalized, err := engine.Validate(def, map[string]any{"title": "x", "year": nil}, ModeCreate)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if v, present := normalized["year"]; !present || v != nil {
		t.Errorf("nil optional value: got %v (present=%v)", v, present)
	}

	_, err = engine.Validate(def, map[string]any{"title": nil}, ModePatch)
	var ve *ValidationErrors
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationErrors for nil required value, got %v", err)
	}
}

func TestCoerceDate(t *testing.T) {
	engine := NewEngine()

	normalized, err := engine.Validate(albumsDefinition(), map[string]any{
		"title":  "Blue Train",
		"issued": "1957-09-15T00:00:00+02:00",
	}, ModeCreate)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if normalized["issued"] != "1957-09-14T22:00:00Z" {
		t.Errorf("date not normalized to UTC: %v", normalized["issued"])
	}
}
