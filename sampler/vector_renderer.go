package sampler

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// VectorRenderer renders a feature map with pose hypotheses as vector
// graphics. Canvas units are millimetres; Scale maps metres onto them.
type VectorRenderer struct {
	Grid        *OccupancyGrid
	Keypoints   []Keypoint
	Poses       []PoseHypothesis
	Odometry    *Pose2D
	Scale       float64           // canvas units per metre
	Padding     float64           // metres
	Resolution  canvas.Resolution // Resolution for PNG output (default: 300 DPI)
	GridSpacing float64           // metres between grid lines; 0 disables them
}

// NewVectorRenderer creates a vector renderer with default settings
func NewVectorRenderer(fm *FeatureMap) *VectorRenderer {
	return &VectorRenderer{
		Grid:        fm.Grid,
		Keypoints:   fm.Keypoints,
		Scale:       100.0,
		Padding:     0.5,
		Resolution:  canvas.DPI(300),
		GridSpacing: 1.0,
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// size returns the canvas dimensions
func (r *VectorRenderer) size() (width, height float64) {
	b := GridBound(r.Grid)
	width = (b.Max[0] - b.Min[0] + 2*r.Padding) * r.Scale
	height = (b.Max[1] - b.Min[1] + 2*r.Padding) * r.Scale
	return width, height
}

// RenderToSVG writes the map as an SVG to the provided writer
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	width, height := r.size()
	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the map as a PNG to the provided writer
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	width, height := r.size()
	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, width, height)
	return png.Encode(w, rast)
}

// renderToCanvas draws the layers bottom to top: background, free space,
// obstacles, grid lines, keypoints, poses
func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	b := GridBound(r.Grid)
	toCanvas := func(p Point) (float64, float64) {
		return (p.X - b.Min[0] + r.Padding) * r.Scale, (p.Y - b.Min[1] + r.Padding) * r.Scale
	}

	unknownStyle := canvas.DefaultStyle
	unknownStyle.Fill = canvas.Paint{Color: unknownColor}
	unknownStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	r.renderCells(renderer, toCanvas, CellUnknown, unknownStyle)

	wallStyle := canvas.DefaultStyle
	wallStyle.Fill = canvas.Paint{Color: occupiedColor}
	wallStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	r.renderCells(renderer, toCanvas, CellOccupied, wallStyle)

	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 0.5
		gridStyle.Dashes = []float64{3.0, 3.0}

		for x := math.Ceil(b.Min[0]/r.GridSpacing) * r.GridSpacing; x <= b.Max[0]; x += r.GridSpacing {
			gridPath := &canvas.Path{}
			gridPath.MoveTo(toCanvas(Point{X: x, Y: b.Min[1]}))
			gridPath.LineTo(toCanvas(Point{X: x, Y: b.Max[1]}))
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
		for y := math.Ceil(b.Min[1]/r.GridSpacing) * r.GridSpacing; y <= b.Max[1]; y += r.GridSpacing {
			gridPath := &canvas.Path{}
			gridPath.MoveTo(toCanvas(Point{X: b.Min[0], Y: y}))
			gridPath.LineTo(toCanvas(Point{X: b.Max[0], Y: y}))
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
	}

	markerSize := math.Max(2*r.Grid.Resolution*r.Scale, 4.0)
	for _, kp := range r.Keypoints {
		cx, cy := toCanvas(kp.Point())
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: parseHexColor(ClassColor(kp.Class))}
		style.Stroke = canvas.Paint{Color: canvas.Black}
		style.StrokeWidth = 0.3

		var marker *canvas.Path
		switch kp.Class {
		case Maximum:
			marker = canvas.Circle(markerSize / 2)
		case Minimum:
			marker = canvas.Rectangle(markerSize, markerSize).Translate(-markerSize/2, -markerSize/2)
		default:
			marker = canvas.RegularPolygon(3, markerSize/2, true)
		}
		renderer.RenderPath(marker.Translate(cx, cy), style, canvas.Identity)
	}

	for _, h := range r.Poses {
		renderPose(renderer, toCanvas, h.Pose, 0.15*r.Scale, poseColor)
	}
	if r.Odometry != nil {
		renderPose(renderer, toCanvas, *r.Odometry, 0.2*r.Scale, odomColor)
	}
}

// renderCells fills every run of consecutive cells holding value
func (r *VectorRenderer) renderCells(renderer canvasRenderer, toCanvas func(Point) (float64, float64), value int8, style canvas.Style) {
	cellSize := r.Grid.Resolution * r.Scale
	for v := 0; v < r.Grid.Height; v++ {
		for u := 0; u < r.Grid.Width; {
			if r.Grid.At(u, v) != value {
				u++
				continue
			}
			start := u
			for u < r.Grid.Width && r.Grid.At(u, v) == value {
				u++
			}
			x, y := toCanvas(r.Grid.CellToWorld(start, v))
			run := canvas.Rectangle(float64(u-start)*cellSize, cellSize)
			if r.Grid.Origin.Yaw != 0 {
				run = run.Transform(canvas.Identity.Rotate(r.Grid.Origin.Yaw * 180 / math.Pi))
			}
			renderer.RenderPath(run.Translate(x, y), style, canvas.Identity)
		}
	}
}

// renderPose draws a filled disc with a heading line
func renderPose(renderer canvasRenderer, toCanvas func(Point) (float64, float64), pose Pose2D, radius float64, c color.RGBA) {
	cx, cy := toCanvas(pose.Position())

	bodyStyle := canvas.DefaultStyle
	bodyStyle.Fill = canvas.Paint{Color: c}
	bodyStyle.Stroke = canvas.Paint{Color: canvas.Black}
	bodyStyle.StrokeWidth = radius / 10
	renderer.RenderPath(canvas.Circle(radius).Translate(cx, cy), bodyStyle, canvas.Identity)

	dirStyle := canvas.DefaultStyle
	dirStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	dirStyle.Stroke = canvas.Paint{Color: c}
	dirStyle.StrokeWidth = radius / 5

	dirPath := &canvas.Path{}
	dirPath.MoveTo(cx, cy)
	dirPath.LineTo(cx+2*radius*math.Cos(pose.Yaw), cy+2*radius*math.Sin(pose.Yaw))
	renderer.RenderPath(dirPath, dirStyle, canvas.Identity)
}
