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
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

var (
	ErrInvalidPass = errors.New("qr: pass is malformed or was not issued by this service")
	ErrExpiredPass = errors.New("qr: pass expired")
)

// Pass is the gate credential printed in a ticket QR code. It names the holder
// at issue time so a pass issued before a resale stops matching the owner.
type Pass struct {
	TicketID uint64         `json:"tid"`
	EventID  uint64         `json:"eid"`
	Holder   common.Address `json:"h"`
	Nonce    string         `json:"n"`
	IssuedAt time.Time      `json:"iat"`
}

type PassGenerator struct {
	aead cipher.AEAD
	size int
	ttl  time.Duration
	now  func() time.Time
}

// NewPassGenerator derives an AES-256 key from secret. A zero ttl means passes
// never expire.
func NewPassGenerator(secret string, size int, ttl time.Duration) (*PassGenerator, error) {
	if secret == "" {
		return nil, errors.New("qr: empty secret")
	}
	key := sha256.Sum256([]byte(secret))
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
	return &PassGenerator{aead: aead, size: size, ttl: ttl, now: time.Now}, nil
}

// Issue creates a fresh pass for the ticket holder.
func (g *PassGenerator) Issue(ticketID, eventID uint64, holder common.Address) Pass {
	return Pass{
		TicketID: ticketID,
		EventID:  eventID,
		Holder:   holder,
		Nonce:    uuid.NewString(),
		IssuedAt: g.now().UTC().Truncate(time.Second),
	}
}

// Seal encrypts and authenticates a pass into a URL-safe string.
func (g *PassGenerator) Seal(p Pass) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, g.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := g.aead.Seal(nonce, nonce, data, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open verifies and decrypts a sealed pass.
func (g *PassGenerator) Open(token string) (Pass, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) < g.aead.NonceSize() {
		return Pass{}, ErrInvalidPass
	}
	nonce, ciphertext := raw[:g.aead.NonceSize()], raw[g.aead.NonceSize():]
	data, err := g.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Pass{}, ErrInvalidPass
	}
	var p Pass
	if err := json.Unmarshal(data, &p); err != nil {
		return Pass{}, ErrInvalidPass
	}
	if g.ttl > 0 && g.now().After(p.IssuedAt.Add(g.ttl)) {
		return Pass{}, fmt.Errorf("%w: issued %s", ErrExpiredPass, p.IssuedAt.Format(time.RFC3339))
	}
	return p, nil
}

// PNG renders a sealed pass as a QR code image.
func (g *PassGenerator) PNG(p Pass) ([]byte, error) {
	token, err := g.Seal(p)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(token, qrcode.Medium, g.size)
}
