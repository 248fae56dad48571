package proof

import (
	"github.com/pkg/errors"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	DefaultQRSize = 256
	maxQRSize     = 2048
)

// RenderPNG renders payload as a QR code PNG of size x size pixels.
func RenderPNG(payload string, size int) ([]byte, error) {
	if payload == "" {
		return nil, &DecodeError{Reason: "empty payload"}
	}
	if size <= 0 {
		size = DefaultQRSize
	}
	if size > maxQRSize {
		size = maxQRSize
	}

	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, errors.Wrap(err, "[proof.RenderPNG] encode")
	}
	return png, nil
}
