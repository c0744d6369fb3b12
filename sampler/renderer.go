package sampler

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	freeColor     = color.RGBA{250, 250, 250, 255}
	unknownColor  = color.RGBA{200, 200, 200, 255}
	occupiedColor = color.RGBA{30, 30, 30, 255}
	poseColor     = color.RGBA{220, 40, 40, 255}
	odomColor     = color.RGBA{40, 120, 220, 255}
)

// MapRenderer draws a grid with its keypoints and pose hypotheses
type MapRenderer struct {
	Grid      *OccupancyGrid
	Keypoints []Keypoint
	Poses     []PoseHypothesis
	Odometry  *Pose2D // drawn in a second colour when set
	Scale     int     // pixels per cell
	Padding   int
}

// NewMapRenderer creates a renderer for fm's grid and keypoints
func NewMapRenderer(fm *FeatureMap) *MapRenderer {
	return &MapRenderer{
		Grid:      fm.Grid,
		Keypoints: fm.Keypoints,
		Scale:     4,
		Padding:   20,
	}
}

// toImage converts a world position to pixel coordinates. World y grows
// upwards, image y downwards.
func (r *MapRenderer) toImage(x, y float64) (int, int) {
	local := TransformPoint(Point{X: x, Y: y}, InvertMatrix(r.Grid.Origin.Matrix()))
	px := int(local.X/r.Grid.Resolution*float64(r.Scale)) + r.Padding
	py := r.Padding + r.Grid.Height*r.Scale - int(local.Y/r.Grid.Resolution*float64(r.Scale))
	return px, py
}

// Render draws the map
func (r *MapRenderer) Render() *image.RGBA {
	width := r.Grid.Width*r.Scale + 2*r.Padding
	height := r.Grid.Height*r.Scale + 2*r.Padding
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 255
	}

	for v := 0; v < r.Grid.Height; v++ {
		for u := 0; u < r.Grid.Width; u++ {
			c := unknownColor
			switch r.Grid.At(u, v) {
			case CellFree:
				c = freeColor
			case CellOccupied:
				c = occupiedColor
			}
			x0 := r.Padding + u*r.Scale
			y0 := r.Padding + (r.Grid.Height-1-v)*r.Scale
			for dy := 0; dy < r.Scale; dy++ {
				for dx := 0; dx < r.Scale; dx++ {
					img.Set(x0+dx, y0+dy, c)
				}
			}
		}
	}

	markerSize := max(r.Scale*2, 5)
	for _, kp := range r.Keypoints {
		x, y := r.toImage(kp.X, kp.Y)
		c := parseHexColor(ClassColor(kp.Class))
		switch kp.Class {
		case Maximum:
			drawCircle(img, x, y, markerSize/2, c)
		case Minimum:
			drawSquare(img, x, y, markerSize, c)
		case Saddle:
			drawTriangle(img, x, y, markerSize, c)
		}
	}

	for _, h := range r.Poses {
		x, y := r.toImage(h.Pose.X, h.Pose.Y)
		// Image y points down, so the heading is mirrored.
		drawPoseIcon(img, x, y, 14, -h.Pose.Yaw, poseColor)
	}
	if r.Odometry != nil {
		x, y := r.toImage(r.Odometry.X, r.Odometry.Y)
		drawPoseIcon(img, x, y, 18, -r.Odometry.Yaw, odomColor)
	}

	r.drawLegend(img)
	return img
}

// SavePNG renders and saves the map to path
func (r *MapRenderer) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if err := png.Encode(f, r.Render()); err != nil {
		return fmt.Errorf("encoding PNG: %w", err)
	}
	return nil
}

// drawLegend lists the keypoint counts per class and the pose count
func (r *MapRenderer) drawLegend(img *image.RGBA) {
	counts := CountByClass(r.Keypoints)
	y := 15
	for _, class := range []Classification{Maximum, Minimum, Saddle} {
		c := parseHexColor(ClassColor(class))
		for dy := 0; dy < 12; dy++ {
			for dx := 0; dx < 12; dx++ {
				img.Set(10+dx, y+dy-6, c)
			}
		}
		drawText(img, 28, y+4, fmt.Sprintf("%s: %d", class, counts[class]), color.RGBA{0, 0, 0, 255})
		y += 18
	}
	if len(r.Poses) > 0 {
		drawText(img, 10, y+4, fmt.Sprintf("poses: %d", len(r.Poses)), poseColor)
	}
}

// RenderField draws a distance field as a greyscale heat map: black at
// obstacles, white at the largest distance
func RenderField(field *DistanceField) *image.Gray {
	w, h := field.Dims()
	img := image.NewGray(image.Rect(0, 0, w, h))
	maxDist := field.Max()
	if maxDist <= 0 {
		return img
	}
	for v := 0; v < h; v++ {
		for u := 0; u < w; u++ {
			g := uint8(math.Round(255 * field.At(u, v) / maxDist))
			img.SetGray(u, h-1-v, color.Gray{Y: g})
		}
	}
	return img
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				x, y := cx+dx, cy+dy
				if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
					img.Set(x, y, c)
				}
			}
		}
	}
}

// drawSquare draws a filled square
func drawSquare(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			x, y := cx+dx, cy+dy
			if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
				img.Set(x, y, c)
			}
		}
	}
}

// drawTriangle draws a filled triangle pointing up
func drawTriangle(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	for dy := -half; dy <= half; dy++ {
		progress := float64(dy+half) / float64(size)
		width := int(progress * float64(half))
		for dx := -width; dx <= width; dx++ {
			x, y := cx+dx, cy+dy
			if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
				img.Set(x, y, c)
			}
		}
	}
}

// drawPoseIcon draws a robot footprint with a heading line. angle is in
// image coordinates (radians, y down).
func drawPoseIcon(img *image.RGBA, cx, cy, size int, angle float64, c color.RGBA) {
	bounds := img.Bounds()
	radius := float64(size) / 2
	outline := color.RGBA{40, 40, 40, 255}

	setPixel := func(x, y int, col color.RGBA) {
		if x >= bounds.Min.X && x < bounds.Max.X && y >= bounds.Min.Y && y < bounds.Max.Y {
			img.Set(x, y, col)
		}
	}

	r := int(radius) + 2
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			dist := math.Hypot(float64(dx), float64(dy))
			switch {
			case dist <= radius:
				setPixel(cx+dx, cy+dy, c)
			case dist <= radius+1.5:
				setPixel(cx+dx, cy+dy, outline)
			}
		}
	}

	cos, sin := math.Cos(angle), math.Sin(angle)
	for t := 0.0; t <= radius*1.6; t += 0.5 {
		px := float64(cx) + t*cos
		py := float64(cy) + t*sin
		setPixel(int(px), int(py), outline)
		setPixel(int(px)+1, int(py), outline)
	}
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// parseHexColor parses a hex color string like "#FF6B6B" to color.RGBA
func parseHexColor(hex string) color.RGBA {
	defaultColor := color.RGBA{255, 0, 0, 255}
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return defaultColor
	}

	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return defaultColor
	}
	return color.RGBA{r, g, b, 255}
}
