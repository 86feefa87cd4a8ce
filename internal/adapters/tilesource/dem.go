package tilesource

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/png" // terrain tiles are PNG encoded
	"math"
	"strings"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

// DEMSource decodes terrain-RGB tiles into elevation grids.
type DEMSource struct {
	deps   output.ElevationDeps
	loaded map[string]*domain.DEMResult
}

// NewDEMSource creates an elevation handler.
func NewDEMSource(deps output.ElevationDeps) output.ElevationSource {
	return &DEMSource{
		deps:   deps,
		loaded: make(map[string]*domain.DEMResult),
	}
}

// LoadTile decodes a terrain tile from the request body, the offline store or the network.
func (s *DEMSource) LoadTile(ctx context.Context, req domain.DEMRequest, cb domain.Callback) {
	env := s.deps.Env
	referrer := ""
	if env.Referrer != nil {
		referrer = env.Referrer()
	}
	offline := !env.Online || strings.HasPrefix(req.URL, "mbtiles://")

	s.deps.Scheduler.Go(ctx, func(ctx context.Context) (any, error) {
		raw, err := fetchTile(ctx, env, domain.TileRequest{
			UID:    req.UID,
			TileID: req.TileID,
			URL:    req.URL,
			Data:   req.Data,
		}, offline, referrer)
		if err != nil {
			return nil, err
		}
		return DecodeDEM(req, raw.data)
	}, func(data any, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		dem := data.(*domain.DEMResult)
		s.loaded[req.Key()] = dem
		cb(dem, nil)
	})
}

// RemoveTile drops a decoded tile.
func (s *DEMSource) RemoveTile(req domain.DEMRequest) {
	delete(s.loaded, req.Key())
}

// Len returns the number of decoded tiles.
func (s *DEMSource) Len() int {
	return len(s.loaded)
}

// DecodeDEM converts a square terrain-RGB image into elevations in meters.
func DecodeDEM(req domain.DEMRequest, data []byte) (*domain.DEMResult, error) {
	encoding := req.Encoding
	if encoding == "" {
		encoding = domain.DEMEncodingMapbox
	}
	var unpack func(r, g, b uint32) float64
	switch encoding {
	case domain.DEMEncodingMapbox:
		unpack = func(r, g, b uint32) float64 {
			return -10000 + float64(r*256*256+g*256+b)*0.1
		}
	case domain.DEMEncodingTerrarium:
		unpack = func(r, g, b uint32) float64 {
			return float64(r)*256 + float64(g) + float64(b)/256 - 32768
		}
	default:
		return nil, &domain.MalformedRequestError{Operation: string(domain.OpLoadDEMTile), Field: "encoding"}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding elevation tile %s: %w: %w", req.TileID, err, domain.ErrInvalidInput)
	}
	b := img.Bounds()
	if b.Dx() != b.Dy() || b.Dx() == 0 {
		return nil, fmt.Errorf("elevation tile %s is %dx%d, want square: %w", req.TileID, b.Dx(), b.Dy(), domain.ErrInvalidInput)
	}

	dim := b.Dx()
	dem := &domain.DEMResult{
		UID:        req.UID,
		TileID:     req.TileID,
		Encoding:   encoding,
		Dim:        dim,
		Min:        math.Inf(1),
		Max:        math.Inf(-1),
		Elevations: make([]float32, dim*dim),
	}
	for y := 0; y < dim; y++ {
		for x := 0; x < dim; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			e := unpack(uint32(c.R), uint32(c.G), uint32(c.B))
			dem.Elevations[y*dim+x] = float32(e)
			dem.Min = math.Min(dem.Min, e)
			dem.Max = math.Max(dem.Max, e)
		}
	}
	return dem, nil
}
