package utils

import (
	"github.com/skip2/go-qrcode"
)

// QRCodeSize is the PNG edge length in pixels.
const QRCodeSize = 256

// GenerateQRCode encodes text as a PNG QR code.
func GenerateQRCode(text string) ([]byte, error) {
	return qrcode.Encode(text, qrcode.Medium, QRCodeSize)
}
