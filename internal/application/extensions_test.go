package application

import (
	"errors"
	"reflect"
	"testing"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

func TestSourceTypeTable_DuplicateRegistration(t *testing.T) {
	table := NewSourceTypeTable(NewTextShaping())

	first := &mockTileSource{}
	second := &mockTileSource{}

	if err := table.RegisterSourceType("custom", func(output.SourceDeps) output.TileSource { return first }); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}

	err := table.RegisterSourceType("custom", func(output.SourceDeps) output.TileSource { return second })
	if !errors.Is(err, domain.ErrAlreadyRegistered) {
		t.Fatalf("second registration error = %v, want ErrAlreadyRegistered", err)
	}

	factory, ok := table.LookupSourceType("custom")
	if !ok {
		t.Fatal("LookupSourceType(custom) not found")
	}
	if got := factory(output.SourceDeps{}); got != first {
		t.Error("the first registration should stay intact")
	}
}

func TestSourceTypeTable_InvalidRegistration(t *testing.T) {
	table := NewSourceTypeTable(NewTextShaping())

	if err := table.RegisterSourceType("", func(output.SourceDeps) output.TileSource { return nil }); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("empty name error = %v", err)
	}
	if err := table.RegisterSourceType("x", nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("nil factory error = %v", err)
	}
}

func TestSourceTypeTable_Types(t *testing.T) {
	table := NewSourceTypeTable(NewTextShaping())
	factory := func(output.SourceDeps) output.TileSource { return &mockTileSource{} }
	_ = table.RegisterSourceType("vector", factory)
	_ = table.RegisterSourceType("geojson", factory)

	want := []domain.SourceType{"geojson", "vector"}
	if got := table.Types(); !reflect.DeepEqual(got, want) {
		t.Errorf("Types() = %v, want %v", got, want)
	}
}

func TestTextShaping_RegisterOnce(t *testing.T) {
	shaping := NewTextShaping()
	table := NewSourceTypeTable(shaping)

	if shaping.IsParsed() {
		t.Fatal("new state should not be parsed")
	}
	if _, ok := shaping.Shape("abc"); ok {
		t.Error("Shape without plugin should report ok=false")
	}

	if err := table.RegisterTextShapingPlugin(&mockShaper{name: "first"}); err != nil {
		t.Fatalf("RegisterTextShapingPlugin() error = %v", err)
	}
	if err := table.RegisterTextShapingPlugin(&mockShaper{name: "second"}); !errors.Is(err, domain.ErrAlreadyRegistered) {
		t.Errorf("second plugin error = %v, want ErrAlreadyRegistered", err)
	}

	got, ok := shaping.Shape("abc")
	if !ok || got != "first:abc" {
		t.Errorf("Shape() = %q, %v; first plugin should stay installed", got, ok)
	}
	if shaping.State().Status != domain.PluginLoaded {
		t.Errorf("status = %q, want loaded", shaping.State().Status)
	}
}
