//go:build !govips || !cgo

package codec

import (
	"errors"
	"image"
)

func Startup() error {
	return nil
}

func Shutdown() {}

func encodeWebp(image.Image, int) ([]byte, error) {
	return nil, errors.New("webp export requires govips build tag")
}
