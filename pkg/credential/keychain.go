package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Envelope format: "v{version}:{base64 nonce}:{base64 ciphertext}". The
// version prefix selects the decryption key, so old envelopes remain
// readable after a key rotation while new seals always use the newest key.

const (
	// MinIterations is the PBKDF2 floor. Keys configured below it are
	// rejected at construction.
	MinIterations = 200_000

	keySize = 32 // AES-256
)

// Keychain errors.
var (
	ErrMalformedEnvelope = errors.New("malformed credential envelope")
	ErrUnknownKeyVersion = errors.New("unknown credential key version")
	ErrDecryptFailed     = errors.New("credential decryption failed")
)

// KeyConfig describes one derivation key. Passphrase and Salt come from
// deployment configuration; the derived key never leaves the keychain.
type KeyConfig struct {
	Version    int
	Passphrase string
	Salt       string
	Iterations int
}

// Keychain holds every key version still needed to read stored envelopes.
// Seal always uses the highest version; Open uses whichever version the
// envelope names. The keychain is immutable after construction and safe
// for concurrent use.
type Keychain struct {
	keys   map[int][]byte
	active int
}

// NewKeychain derives all configured keys. At least one key is required,
// versions must be positive and unique, and iteration counts below
// MinIterations are rejected.
func NewKeychain(configs []KeyConfig) (*Keychain, error) {
	if len(configs) == 0 {
		return nil, errors.New("at least one key is required")
	}
	keys := make(map[int][]byte, len(configs))
	active := 0
	for _, kc := range configs {
		if kc.Version <= 0 {
			return nil, fmt.Errorf("key version must be positive, got %d", kc.Version)
		}
		if _, dup := keys[kc.Version]; dup {
			return nil, fmt.Errorf("duplicate key version %d", kc.Version)
		}
		if kc.Passphrase == "" {
			return nil, fmt.Errorf("key version %d has an empty passphrase", kc.Version)
		}
		if kc.Salt == "" {
			return nil, fmt.Errorf("key version %d has an empty salt", kc.Version)
		}
		if kc.Iterations < MinIterations {
			return nil, fmt.Errorf("key version %d iterations %d below minimum %d",
				kc.Version, kc.Iterations, MinIterations)
		}
		keys[kc.Version] = pbkdf2.Key([]byte(kc.Passphrase), []byte(kc.Salt), kc.Iterations, keySize, sha256.New)
		if kc.Version > active {
			active = kc.Version
		}
	}
	return &Keychain{keys: keys, active: active}, nil
}

// ActiveVersion is the version new envelopes are sealed under.
func (k *Keychain) ActiveVersion() int { return k.active }

// Seal encrypts a plaintext secret under the active key.
func (k *Keychain) Seal(plaintext string) (string, error) {
	aead, err := k.aead(k.active)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("v%d:%s:%s",
		k.active,
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(ciphertext),
	), nil
}

// Open decrypts an envelope using the key version it names.
func (k *Keychain) Open(envelope string) (string, error) {
	version, nonce, ciphertext, err := parseEnvelope(envelope)
	if err != nil {
		return "", err
	}
	aead, err := k.aead(version)
	if err != nil {
		return "", err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}

// Version reports which key version sealed an envelope without opening it.
func (k *Keychain) Version(envelope string) (int, error) {
	version, _, _, err := parseEnvelope(envelope)
	return version, err
}

func (k *Keychain) aead(version int) (cipher.AEAD, error) {
	key, ok := k.keys[version]
	if !ok {
		return nil, fmt.Errorf("%w: v%d", ErrUnknownKeyVersion, version)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func parseEnvelope(envelope string) (version int, nonce, ciphertext []byte, err error) {
	parts := strings.SplitN(envelope, ":", 3)
	if len(parts) != 3 || !strings.HasPrefix(parts[0], "v") {
		return 0, nil, nil, ErrMalformedEnvelope
	}
	version, err = strconv.Atoi(parts[0][1:])
	if err != nil || version <= 0 {
		return 0, nil, nil, ErrMalformedEnvelope
	}
	nonce, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return 0, nil, nil, ErrMalformedEnvelope
	}
	ciphertext, err = base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return 0, nil, nil, ErrMalformedEnvelope
	}
	return version, nonce, ciphertext, nil
}
