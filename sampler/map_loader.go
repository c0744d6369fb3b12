package sampler

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	"gopkg.in/yaml.v3"
)

// MapMetadata is the map_server style description of an image map
type MapMetadata struct {
	Image          string    `yaml:"image" json:"image,omitempty"`
	Resolution     float64   `yaml:"resolution" json:"resolution"`
	Origin         []float64 `yaml:"origin" json:"origin"` // x, y, yaw
	Negate         int       `yaml:"negate" json:"negate"`
	OccupiedThresh float64   `yaml:"occupied_thresh" json:"occupiedThresh"`
	FreeThresh     float64   `yaml:"free_thresh" json:"freeThresh"`
	Frame          string    `yaml:"frame_id,omitempty" json:"frame,omitempty"`
}

// withDefaults fills the thresholds map_server assumes when they are absent
func (m MapMetadata) withDefaults() MapMetadata {
	if m.OccupiedThresh == 0 {
		m.OccupiedThresh = 0.65
	}
	if m.FreeThresh == 0 {
		m.FreeThresh = 0.196
	}
	return m
}

// OriginPose returns the origin as a pose; missing components are zero
func (m MapMetadata) OriginPose() Pose2D {
	var p Pose2D
	if len(m.Origin) > 0 {
		p.X = m.Origin[0]
	}
	if len(m.Origin) > 1 {
		p.Y = m.Origin[1]
	}
	if len(m.Origin) > 2 {
		p.Yaw = m.Origin[2]
	}
	return p
}

// LoadMap loads an occupancy grid from a map_server YAML file or a JSON
// grid, chosen by extension
func LoadMap(path string) (*OccupancyGrid, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadMapYAML(path)
	case ".json":
		return LoadGridJSON(path)
	default:
		return nil, fmt.Errorf("unsupported map file %s: want .yaml or .json", path)
	}
}

// LoadMapYAML reads a map_server YAML file and the image it references.
// Relative image paths are resolved against the YAML file's directory.
func LoadMapYAML(path string) (*OccupancyGrid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading map metadata: %w", err)
	}
	var meta MapMetadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing map metadata: %w", err)
	}
	if meta.Image == "" {
		return nil, fmt.Errorf("map metadata %s has no image", path)
	}
	if meta.Resolution <= 0 {
		return nil, fmt.Errorf("map metadata %s has invalid resolution %v", path, meta.Resolution)
	}

	imagePath := meta.Image
	if !filepath.IsAbs(imagePath) {
		imagePath = filepath.Join(filepath.Dir(path), imagePath)
	}
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("opening map image: %w", err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding map image %s: %w", imagePath, err)
	}
	grid := GridFromImage(img, meta)
	grid.Frame = meta.Frame
	log.Printf("Loaded %s map %s: %dx%d at %.3f m/cell", format, imagePath, grid.Width, grid.Height, grid.Resolution)
	return grid, nil
}

// GridFromImage converts an image map into an occupancy grid using the
// trinary map_server interpretation. Image row 0 is the top of the map, so
// rows are flipped into grid order.
func GridFromImage(img image.Image, meta MapMetadata) *OccupancyGrid {
	meta = meta.withDefaults()
	b := img.Bounds()
	grid := NewOccupancyGrid(b.Dx(), b.Dy(), meta.Resolution, meta.OriginPose(), CellUnknown)

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			p := float64(255-g.Y) / 255
			if meta.Negate != 0 {
				p = float64(g.Y) / 255
			}
			var cell int8
			switch {
			case p > meta.OccupiedThresh:
				cell = CellOccupied
			case p < meta.FreeThresh:
				cell = CellFree
			default:
				cell = CellUnknown
			}
			grid.Set(x-b.Min.X, b.Max.Y-1-y, cell)
		}
	}
	return grid
}

// GridToImage renders a grid in map_server colours: free white, occupied
// black, unknown grey. The top image row is the last grid row.
func GridToImage(grid *OccupancyGrid) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, grid.Width, grid.Height))
	for v := 0; v < grid.Height; v++ {
		for u := 0; u < grid.Width; u++ {
			var g uint8
			switch grid.At(u, v) {
			case CellFree:
				g = 254
			case CellOccupied:
				g = 0
			default:
				g = 205
			}
			img.SetGray(u, grid.Height-1-v, color.Gray{Y: g})
		}
	}
	return img
}

// Metadata describes grid as map_server metadata pointing at imageName
func (g *OccupancyGrid) Metadata(imageName string) MapMetadata {
	return MapMetadata{
		Image:          imageName,
		Resolution:     g.Resolution,
		Origin:         []float64{g.Origin.X, g.Origin.Y, g.Origin.Yaw},
		OccupiedThresh: 0.65,
		FreeThresh:     0.196,
		Frame:          g.Frame,
	}
}

// SaveMapYAML writes grid as a PNG image plus map_server metadata next to
// it. The image takes the YAML file's base name.
func SaveMapYAML(grid *OccupancyGrid, path string) error {
	imageName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".png"
	imagePath := filepath.Join(filepath.Dir(path), imageName)

	f, err := os.Create(imagePath)
	if err != nil {
		return fmt.Errorf("create map image: %w", err)
	}
	if err := png.Encode(f, GridToImage(grid)); err != nil {
		f.Close()
		return fmt.Errorf("encode map image: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close map image: %w", err)
	}

	data, err := yaml.Marshal(grid.Metadata(imageName))
	if err != nil {
		return fmt.Errorf("marshal map metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write map metadata: %w", err)
	}
	return nil
}

// LoadGridJSON reads a grid saved by SaveGridJSON
func LoadGridJSON(path string) (*OccupancyGrid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading grid: %w", err)
	}
	var grid OccupancyGrid
	if err := json.Unmarshal(data, &grid); err != nil {
		return nil, fmt.Errorf("parsing grid JSON: %w", err)
	}
	if !grid.Valid() {
		return nil, fmt.Errorf("grid %s: %w", path, errInvalidGrid)
	}
	return &grid, nil
}

// SaveGridJSON writes grid as JSON
func SaveGridJSON(grid *OccupancyGrid, path string) error {
	data, err := json.Marshal(grid)
	if err != nil {
		return fmt.Errorf("marshal grid: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write grid: %w", err)
	}
	return nil
}
