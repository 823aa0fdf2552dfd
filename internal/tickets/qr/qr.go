// Package qr renders the boarding QR code: an encrypted ticket summary that a
// checker holding the same secret can open offline.
package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/skip2/go-qrcode"

	"ms-railway/internal/models"
)

var ErrInvalidToken = errors.New("qr token cannot be opened")

// Summary is what the code carries. Names stay out of it; the checker matches
// the passenger count against ID cards.
type Summary struct {
	PNR        string              `json:"pnr"`
	TrainNo    string              `json:"train_no"`
	ClassID    string              `json:"class_id"`
	TravelDate string              `json:"travel_date"`
	From       string              `json:"from"`
	To         string              `json:"to"`
	Passengers int                 `json:"passengers"`
	Berths     []string            `json:"berths,omitempty"`
	Status     models.TicketStatus `json:"status"`
}

func SummaryOf(t *models.Ticket) Summary {
	s := Summary{
		PNR:        t.PNR,
		TrainNo:    t.TrainNo,
		ClassID:    t.ClassID,
		TravelDate: t.TravelDate,
		From:       t.SourceStation,
		To:         t.DestinationStation,
		Passengers: t.PassengerCount,
		Status:     t.Status,
	}
	for _, p := range t.Passengers {
		if p.BerthLabel != "" {
			s.Berths = append(s.Berths, p.BerthLabel)
		}
	}
	return s
}

type Generator struct {
	aead cipher.AEAD
	size int
}

func NewGenerator(secret string, size int) (*Generator, error) {
	key := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 256
	}
	return &Generator{aead: aead, size: size}, nil
}

// PNG encodes the sealed summary of t as a QR image.
func (g *Generator) PNG(t *models.Ticket) ([]byte, error) {
	token, err := g.Seal(SummaryOf(t))
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(token, qrcode.Medium, g.size)
}

func (g *Generator) Seal(s Summary) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, g.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("qr nonce: %w", err)
	}
	sealed := g.aead.Seal(nonce, nonce, data, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open is the checker side of Seal.
func (g *Generator) Open(token string) (*Summary, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil || len(raw) < g.aead.NonceSize() {
		return nil, ErrInvalidToken
	}
	n := g.aead.NonceSize()
	data, err := g.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, ErrInvalidToken
	}
	return &s, nil
}
