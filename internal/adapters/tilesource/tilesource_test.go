package tilesource

import (
	"errors"
	"testing"

	"github.com/jobrunner/tilework/internal/application"
	"github.com/jobrunner/tilework/internal/domain"
)

func TestRegister(t *testing.T) {
	table := application.NewSourceTypeTable(application.NewTextShaping())

	if err := Register(table); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	for _, typ := range []domain.SourceType{
		domain.SourceTypeVector,
		domain.SourceTypeOfflineTileStore,
		domain.SourceTypeGeoJSON,
		domain.SourceTypeRasterOffline,
	} {
		if _, ok := table.LookupSourceType(typ); !ok {
			t.Errorf("%s not registered", typ)
		}
	}

	if err := Register(table); !errors.Is(err, domain.ErrAlreadyRegistered) {
		t.Errorf("second Register() error = %v, want ErrAlreadyRegistered", err)
	}
}

func TestInflight(t *testing.T) {
	f := inflight{}
	ctx, first := f.start(t.Context(), "k")
	_, second := f.start(t.Context(), "k")

	if ctx.Err() == nil {
		t.Error("starting a newer load should cancel the older one")
	}

	// Finishing the older load keeps the newer one registered.
	f.finish("k", first)
	if f["k"] != second {
		t.Error("newer load should stay registered")
	}

	f.cancelAll()
	if len(f) != 0 {
		t.Errorf("len = %d after cancelAll", len(f))
	}
}
