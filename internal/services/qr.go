package services

import (
	"encoding/base64"

	qrcode "github.com/skip2/go-qrcode"
)

// RenderQRImage renders the gateway's QR payload to a base64-encoded PNG the
// deposit form can embed directly.
func RenderQRImage(payload string) (string, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
