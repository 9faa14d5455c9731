package processor

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"strings"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dunamismax/imageloom/internal/domain"
	"github.com/dunamismax/imageloom/internal/geometry"
)

// Resize scales the image to fit the given bounds. A zero Width or Height is
// derived from the source aspect ratio. Mode selects the geometry policy and
// defaults to aspect-fit.
type Resize struct {
	Width  int
	Height int
	Mode   string
}

func (p Resize) mode() string {
	switch strings.ToLower(strings.TrimSpace(p.Mode)) {
	case geometry.ModeAspectFill:
		return geometry.ModeAspectFill
	case geometry.ModeStretch:
		return geometry.ModeStretch
	default:
		return geometry.ModeAspectFit
	}
}

func (p Resize) Identifier() string {
	return fmt.Sprintf("resize(w:%d,h:%d,mode:%s)", p.Width, p.Height, p.mode())
}

func (p Resize) Key() uint64 { return KeyOf(p.Identifier()) }

func (p Resize) Process(img image.Image, _ Context) image.Image {
	bounds := img.Bounds()
	src := geometry.Size{Width: bounds.Dx(), Height: bounds.Dy()}
	target := geometry.Target(src, geometry.Size{Width: p.Width, Height: p.Height}, p.mode())
	if target.Empty() {
		return nil
	}
	return imaging.Resize(img, target.Width, target.Height, imaging.Lanczos)
}

// Crop cuts a region of the given size anchored at Anchor (center default).
type Crop struct {
	Width  int
	Height int
	Anchor string
}

func (p Crop) anchor() (string, imaging.Anchor) {
	switch strings.ToLower(strings.TrimSpace(p.Anchor)) {
	case "topleft":
		return "topleft", imaging.TopLeft
	case "top":
		return "top", imaging.Top
	case "topright":
		return "topright", imaging.TopRight
	case "left":
		return "left", imaging.Left
	case "right":
		return "right", imaging.Right
	case "bottomleft":
		return "bottomleft", imaging.BottomLeft
	case "bottom":
		return "bottom", imaging.Bottom
	case "bottomright":
		return "bottomright", imaging.BottomRight
	default:
		return "center", imaging.Center
	}
}

func (p Crop) Identifier() string {
	name, _ := p.anchor()
	return fmt.Sprintf("crop(w:%d,h:%d,anchor:%s)", p.Width, p.Height, name)
}

func (p Crop) Key() uint64 { return KeyOf(p.Identifier()) }

func (p Crop) Process(img image.Image, _ Context) image.Image {
	if p.Width <= 0 || p.Height <= 0 {
		return nil
	}
	_, anchor := p.anchor()
	out := imaging.CropAnchor(img, p.Width, p.Height, anchor)
	if out.Bounds().Empty() {
		return nil
	}
	return out
}

// Grayscale converts the image to grayscale.
type Grayscale struct{}

func (Grayscale) Identifier() string { return "grayscale()" }

func (Grayscale) Key() uint64 { return KeyOf("grayscale()") }

func (Grayscale) Process(img image.Image, _ Context) image.Image {
	return effect.Grayscale(img)
}

// Blur applies a gaussian blur with the given radius.
type Blur struct {
	Radius float64
}

func (p Blur) Identifier() string {
	return fmt.Sprintf("blur(radius:%s)", formatFloat(p.Radius))
}

func (p Blur) Key() uint64 { return KeyOf(p.Identifier()) }

func (p Blur) Process(img image.Image, _ Context) image.Image {
	if p.Radius <= 0 {
		return nil
	}
	return blur.Gaussian(img, p.Radius)
}

// Sharpen applies an unsharp mask. Zero values fall back to radius 1,
// amount 1.
type Sharpen struct {
	Radius float64
	Amount float64
}

func (p Sharpen) params() (float64, float64) {
	radius := p.Radius
	if radius <= 0 {
		radius = 1
	}
	amount := p.Amount
	if amount <= 0 {
		amount = 1
	}
	return radius, amount
}

func (p Sharpen) Identifier() string {
	radius, amount := p.params()
	return fmt.Sprintf("sharpen(radius:%s,amount:%s)", formatFloat(radius), formatFloat(amount))
}

func (p Sharpen) Key() uint64 { return KeyOf(p.Identifier()) }

func (p Sharpen) Process(img image.Image, _ Context) image.Image {
	radius, amount := p.params()
	return effect.UnsharpMask(img, radius, amount)
}

// Rotate rotates the image counter-clockwise by Angle degrees, filling the
// exposed background with transparency.
type Rotate struct {
	Angle float64
}

func (p Rotate) Identifier() string {
	return fmt.Sprintf("rotate(angle:%s)", formatFloat(normalizeAngle(p.Angle)))
}

func (p Rotate) Key() uint64 { return KeyOf(p.Identifier()) }

func (p Rotate) Process(img image.Image, _ Context) image.Image {
	return imaging.Rotate(img, normalizeAngle(p.Angle), color.Transparent)
}

func normalizeAngle(angle float64) float64 {
	angle = math.Mod(angle, 360)
	if angle < 0 {
		angle += 360
	}
	return angle
}

const (
	FlipAxisHorizontal = "horizontal"
	FlipAxisVertical   = "vertical"
)

// Flip mirrors the image across the given axis.
type Flip struct {
	Axis string
}

func (p Flip) axis() string {
	return strings.ToLower(strings.TrimSpace(p.Axis))
}

func (p Flip) Identifier() string {
	return fmt.Sprintf("flip(axis:%s)", p.axis())
}

func (p Flip) Key() uint64 { return KeyOf(p.Identifier()) }

func (p Flip) Process(img image.Image, _ Context) image.Image {
	switch p.axis() {
	case FlipAxisHorizontal:
		return imaging.FlipH(img)
	case FlipAxisVertical:
		return imaging.FlipV(img)
	default:
		return nil
	}
}

// Brightness shifts brightness by Amount in [-1, 1].
type Brightness struct {
	Amount float64
}

func (p Brightness) Identifier() string {
	return fmt.Sprintf("brightness(amount:%s)", formatFloat(p.Amount))
}

func (p Brightness) Key() uint64 { return KeyOf(p.Identifier()) }

func (p Brightness) Process(img image.Image, _ Context) image.Image {
	if p.Amount < -1 || p.Amount > 1 {
		return nil
	}
	return adjust.Brightness(img, p.Amount)
}

// Contrast shifts contrast by Amount in [-1, 1].
type Contrast struct {
	Amount float64
}

func (p Contrast) Identifier() string {
	return fmt.Sprintf("contrast(amount:%s)", formatFloat(p.Amount))
}

func (p Contrast) Key() uint64 { return KeyOf(p.Identifier()) }

func (p Contrast) Process(img image.Image, _ Context) image.Image {
	if p.Amount < -1 || p.Amount > 1 {
		return nil
	}
	return adjust.Contrast(img, p.Amount)
}

// Watermark draws translucent text over the image. Opacity outside (0, 1]
// falls back to 0.65; Gravity picks the corner or edge, southeast default.
type Watermark struct {
	Text    string
	Opacity float64
	Gravity string
}

func (p Watermark) opacity() float64 {
	opacity := p.Opacity
	if opacity <= 0 {
		opacity = 0.65
	}
	if opacity > 1 {
		opacity = 1
	}
	return opacity
}

func (p Watermark) gravity() string {
	gravity := strings.ToLower(strings.TrimSpace(p.Gravity))
	switch gravity {
	case "northwest", "north", "northeast", "west", "center", "east", "southwest", "south":
		return gravity
	default:
		return "southeast"
	}
}

func (p Watermark) Identifier() string {
	return fmt.Sprintf("watermark(text:%s,opacity:%s,gravity:%s)",
		strconv.Quote(strings.TrimSpace(p.Text)), formatFloat(p.opacity()), p.gravity())
}

func (p Watermark) Key() uint64 { return KeyOf(p.Identifier()) }

func (p Watermark) Process(img image.Image, _ Context) image.Image {
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return nil
	}

	dst := image.NewRGBA(img.Bounds())
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)

	face := basicfont.Face7x13
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	height := metrics.Height.Ceil()

	drawer := &font.Drawer{
		Dst:  dst,
		Face: face,
	}
	width := drawer.MeasureString(text).Ceil()

	x, baselineY := watermarkPosition(dst.Bounds(), width, height, ascent, p.gravity())

	alpha := uint8(math.Round(p.opacity() * 255))
	drawer.Src = image.NewUniform(color.RGBA{R: 255, G: 255, B: 255, A: alpha})
	drawer.Dot = fixed.P(x, baselineY)
	drawer.DrawString(text)

	return dst
}

func watermarkPosition(bounds image.Rectangle, textWidth, textHeight, ascent int, gravity string) (int, int) {
	const pad = 12

	minX, minY := bounds.Min.X, bounds.Min.Y
	maxX, maxY := bounds.Max.X, bounds.Max.Y
	availW := maxX - minX
	availH := maxY - minY

	leftX := minX + pad
	centerX := minX + (availW-textWidth)/2
	rightX := maxX - textWidth - pad

	topBaseline := minY + pad + ascent
	centerBaseline := minY + (availH-textHeight)/2 + ascent
	bottomBaseline := maxY - pad

	switch gravity {
	case "northwest":
		return clamp(leftX, minX, maxX), clamp(topBaseline, minY+ascent, maxY)
	case "north":
		return clamp(centerX, minX, maxX), clamp(topBaseline, minY+ascent, maxY)
	case "northeast":
		return clamp(rightX, minX, maxX), clamp(topBaseline, minY+ascent, maxY)
	case "west":
		return clamp(leftX, minX, maxX), clamp(centerBaseline, minY+ascent, maxY)
	case "center":
		return clamp(centerX, minX, maxX), clamp(centerBaseline, minY+ascent, maxY)
	case "east":
		return clamp(rightX, minX, maxX), clamp(centerBaseline, minY+ascent, maxY)
	case "southwest":
		return clamp(leftX, minX, maxX), clamp(bottomBaseline, minY+ascent, maxY)
	case "south":
		return clamp(centerX, minX, maxX), clamp(bottomBaseline, minY+ascent, maxY)
	default:
		return clamp(rightX, minX, maxX), clamp(bottomBaseline, minY+ascent, maxY)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// FromWatermarkSpec converts the wire watermark settings into a processor.
func FromWatermarkSpec(wm *domain.Watermark) (Watermark, error) {
	if wm == nil {
		return Watermark{}, fmt.Errorf("watermark settings are required")
	}
	if strings.TrimSpace(wm.Text) == "" {
		return Watermark{}, fmt.Errorf("watermark.text is required")
	}
	return Watermark{Text: wm.Text, Opacity: wm.Opacity, Gravity: wm.Gravity}, nil
}
