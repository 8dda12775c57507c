package whatsapp

import (
	"encoding/base64"
	"io"

	"github.com/mdp/qrterminal/v3"
	qrCode "github.com/skip2/go-qrcode"
)

// RenderQR encodes a pairing token as a PNG data URI.
func RenderQR(token string) (string, error) {
	png, err := qrCode.Encode(token, qrCode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// PrintQR draws a pairing token on a terminal.
func PrintQR(w io.Writer, token string) {
	qrterminal.GenerateHalfBlock(token, qrterminal.L, w)
}
