package vectordb

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
)

func TestBuildFilterDropsEmptyValues(t *testing.T) {
	f := buildFilter(map[string]any{
		"sourceId":   "ch1",
		"novelId":    "",
		"chunkIndex": 3,
		"archived":   nil,
	})
	if f == nil {
		t.Fatal("filter is nil")
	}
	if len(f.Must) != 2 {
		t.Fatalf("conditions = %d, want 2 (empty and nil dropped)", len(f.Must))
	}
}

func TestBuildFilterNilWhenNothingUsable(t *testing.T) {
	if f := buildFilter(nil); f != nil {
		t.Errorf("nil map: filter = %v", f)
	}
	if f := buildFilter(map[string]any{"a": nil, "b": ""}); f != nil {
		t.Errorf("all-dropped map: filter = %v", f)
	}
}

func TestMatchConditionTypes(t *testing.T) {
	if c := matchCondition("k", "v"); c.GetField().GetMatch().GetKeyword() != "v" {
		t.Error("string did not map to keyword match")
	}
	if c := matchCondition("k", 7); c.GetField().GetMatch().GetInteger() != 7 {
		t.Error("int did not map to integer match")
	}
	if c := matchCondition("k", true); !c.GetField().GetMatch().GetBoolean() {
		t.Error("bool did not map to boolean match")
	}
	// anything else is stringified
	if c := matchCondition("k", 1.5); c.GetField().GetMatch().GetKeyword() != "1.5" {
		t.Error("float did not stringify")
	}
}

func TestFromQdrantValue(t *testing.T) {
	if got := fromQdrantValue(&qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: "x"}}); got != "x" {
		t.Errorf("string = %v", got)
	}
	if got := fromQdrantValue(&qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: 42}}); got != int64(42) {
		t.Errorf("int = %v", got)
	}
	if got := fromQdrantValue(&qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: true}}); got != true {
		t.Errorf("bool = %v", got)
	}
	if got := fromQdrantValue(nil); got != nil {
		t.Errorf("nil = %v", got)
	}
}

func TestNewQdrantStoreURLValidation(t *testing.T) {
	if _, err := NewQdrantStore("", ""); err == nil {
		t.Error("empty url accepted")
	}
	if _, err := NewQdrantStore("http://localhost:notaport", ""); err == nil {
		t.Error("bad port accepted")
	}
}
