package codec

import (
	"image"
	"image/color"
	"testing"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 37), G: uint8(y * 53), B: 120, A: 255})
		}
	}
	return img
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, format := range []string{"png", "jpeg"} {
		t.Run(format, func(t *testing.T) {
			data, err := Encode(testImage(16, 9), format, 90)
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			if len(data) == 0 {
				t.Fatal("encode produced no bytes")
			}

			img, decoded, err := Decode(data)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if decoded != format {
				t.Fatalf("decoded format %q, want %q", decoded, format)
			}
			if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 9 {
				t.Fatalf("round trip changed dimensions to %dx%d", b.Dx(), b.Dy())
			}
		})
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, _, err := Decode([]byte("not an image")); err == nil {
		t.Fatal("expected a decode error")
	}
}

func TestEncodeJpegQualityFallback(t *testing.T) {
	data, err := Encode(testImage(16, 16), "jpg", 0)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("encode produced no bytes")
	}
}

func TestNormalizeFormat(t *testing.T) {
	cases := map[string]string{
		"jpg":  "jpeg",
		"JPEG": "jpeg",
		" png": "png",
		"webp": "webp",
		"tiff": "png",
		"":     "png",
	}
	for in, want := range cases {
		if got := NormalizeFormat(in); got != want {
			t.Fatalf("NormalizeFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"jpeg": "image/jpeg",
		"jpg":  "image/jpeg",
		"png":  "image/png",
		"webp": "image/webp",
		"":     "image/png",
	}
	for in, want := range cases {
		if got := ContentType(in); got != want {
			t.Fatalf("ContentType(%q) = %q, want %q", in, got, want)
		}
	}
}
