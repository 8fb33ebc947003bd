package utils

import qrcode "github.com/skip2/go-qrcode"

// QRCodePNG renders a provider pairing payload as a PNG for callers that
// want an image instead of the raw string.
func QRCodePNG(payload string, size int) ([]byte, error) {
	return qrcode.Encode(payload, qrcode.Medium, size)
}
