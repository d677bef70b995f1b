// Package keys provides the per-session auth token key used to sign
// confirmation results.
//
// A Key lives exactly as long as one session. Scrub zeroes it and releases
// its page lock; it is safe to call repeatedly.
package keys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/hkdf"
)

// Size of the auth token key in bytes.
const Size = 32

// TestKeyByte fills the well-known emulator key.
const TestKeyByte = 0xA5

var (
	ErrUnavailable  = errors.New("keys: auth token key unavailable")
	ErrInvalidKey   = errors.New("keys: invalid key length")
	ErrScrubbed     = errors.New("keys: key already scrubbed")
	ErrShortSecret  = errors.New("keys: root secret too short")
	ErrBadSecret    = errors.New("keys: malformed root secret")
	hkdfInfo        = []byte("confirmationui auth token key v1")
	minSecretLength = 16
)

type Key struct {
	mu       sync.Mutex
	material []byte
	locked   bool
}

// NewKey copies material into locked memory.
func NewKey(material []byte) (*Key, error) {
	if len(material) != Size {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKey, len(material))
	}
	k := &Key{material: make([]byte, Size)}
	copy(k.material, material)
	if err := lockMemory(k.material); err != nil {
		log.Debug().Err(err).Msg("keys.NewKey memory lock unavailable")
	} else {
		k.locked = true
	}
	return k, nil
}

// Use runs fn with the raw key bytes. fn must not retain them.
func (k *Key) Use(fn func(material []byte) error) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.material == nil {
		return ErrScrubbed
	}
	return fn(k.material)
}

func (k *Key) Scrub() {
	if k == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.material == nil {
		return
	}
	clear(k.material)
	if k.locked {
		_ = unlockMemory(k.material)
		k.locked = false
	}
	k.material = nil
}

func (k *Key) Scrubbed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.material == nil
}

// Provider fetches the key for a new session.
type Provider interface {
	AuthTokenKey(ctx context.Context) (*Key, error)
}

// TestKeyProvider returns the fixed emulator key.
type TestKeyProvider struct{}

func (TestKeyProvider) AuthTokenKey(context.Context) (*Key, error) {
	var material [Size]byte
	for i := range material {
		material[i] = TestKeyByte
	}
	return NewKey(material[:])
}

// FileProvider derives the key from a root secret file with HKDF-SHA256.
// The file holds raw bytes unless Hex is set, in which case it holds one hex
// string with optional surrounding whitespace. It is re-read for every session.
type FileProvider struct {
	Path string
	Hex  bool
	Salt []byte
}

func (p FileProvider) AuthTokenKey(ctx context.Context) (*Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	secret, err := readSecret(p.Path, p.Hex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer clear(secret)

	material := make([]byte, Size)
	defer clear(material)
	reader := hkdf.New(sha256.New, secret, p.Salt, hkdfInfo)
	if _, err := io.ReadFull(reader, material); err != nil {
		return nil, fmt.Errorf("%w: derive: %v", ErrUnavailable, err)
	}
	return NewKey(material)
}

func readSecret(path string, hexEncoded bool) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if hexEncoded {
		decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		clear(raw)
		if err != nil {
			clear(decoded)
			return nil, fmt.Errorf("%w: %v", ErrBadSecret, err)
		}
		raw = decoded
	}
	if len(raw) < minSecretLength {
		clear(raw)
		return nil, fmt.Errorf("%w: %d bytes", ErrShortSecret, len(raw))
	}
	return raw, nil
}

// FailingProvider always fails; it models a missing key service.
type FailingProvider struct {
	Err error
}

func (p FailingProvider) AuthTokenKey(context.Context) (*Key, error) {
	if p.Err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, p.Err)
	}
	return nil, ErrUnavailable
}
