package qr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

// ErrMalformedCode reports a scanned payload that does not parse as
// "<assetId>|<securityCode>".
var ErrMalformedCode = errors.New("malformed security code")

const delimiter = "|"

// Code is a rendered gate pass. Payload is the compact string embedded in
// the QR image; Label is the asset id, printed beside the image so gate
// staff can cross-check by eye.
type Code struct {
	Payload string
	Label   string
	PNG     []byte
}

type Codec struct {
	size int
}

func NewCodec(size int) *Codec {
	if size <= 0 {
		size = 256
	}
	return &Codec{size: size}
}

// Encode builds the "<assetId>|<securityCode>" payload and renders it as a
// PNG. The security code must be a UUID string and the asset id must not
// contain the delimiter.
func (c *Codec) Encode(assetID, securityCode string) (*Code, error) {
	if assetID == "" || strings.Contains(assetID, delimiter) {
		return nil, fmt.Errorf("%w: bad asset id %q", ErrMalformedCode, assetID)
	}
	if _, err := uuid.Parse(securityCode); err != nil {
		return nil, fmt.Errorf("%w: security code is not a UUID: %v", ErrMalformedCode, err)
	}

	payload := assetID + delimiter + securityCode

	png, err := qrcode.Encode(payload, qrcode.Medium, c.size)
	if err != nil {
		return nil, fmt.Errorf("render QR: %w", err)
	}

	return &Code{
		Payload: payload,
		Label:   assetID,
		PNG:     png,
	}, nil
}

// Decode splits a scanned payload back into (assetId, securityCode).
func (c *Codec) Decode(payload string) (string, string, error) {
	parts := strings.Split(payload, delimiter)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("%w: expected <assetId>%s<securityCode>", ErrMalformedCode, delimiter)
	}
	code, err := uuid.Parse(parts[1])
	if err != nil {
		return "", "", fmt.Errorf("%w: security code is not a UUID: %v", ErrMalformedCode, err)
	}
	return parts[0], code.String(), nil
}
