package credential

import (
	"errors"
	"strings"
	"testing"
)

func testKeychain(t *testing.T, versions ...int) *Keychain {
	t.Helper()
	var configs []KeyConfig
	for _, v := range versions {
		configs = append(configs, KeyConfig{
			Version:    v,
			Passphrase: "test-passphrase-" + strings.Repeat("x", v),
			Salt:       "test-salt",
			Iterations: MinIterations,
		})
	}
	k, err := NewKeychain(configs)
	if err != nil {
		t.Fatalf("NewKeychain: %v", err)
	}
	return k
}

func TestSealOpenRoundTrip(t *testing.T) {
	k := testKeychain(t, 1)

	envelope, err := k.Seal("sk-secret-value")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !strings.HasPrefix(envelope, "v1:") {
		t.Errorf("envelope %q must carry the key version prefix", envelope)
	}
	if strings.Contains(envelope, "sk-secret-value") {
		t.Error("envelope must not contain the plaintext")
	}

	got, err := k.Open(envelope)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != "sk-secret-value" {
		t.Errorf("Open = %q", got)
	}
}

func TestSealUsesNewestKey(t *testing.T) {
	k := testKeychain(t, 1, 3, 2)
	if k.ActiveVersion() != 3 {
		t.Fatalf("active version = %d, want 3", k.ActiveVersion())
	}
	envelope, err := k.Seal("secret")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !strings.HasPrefix(envelope, "v3:") {
		t.Errorf("envelope %q must be sealed under the newest key", envelope)
	}
}

func TestOpenOldVersionAfterRotation(t *testing.T) {
	old := testKeychain(t, 1)
	envelope, err := old.Seal("legacy-secret")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	rotated := testKeychain(t, 1, 2)
	got, err := rotated.Open(envelope)
	if err != nil {
		t.Fatalf("Open with rotated keychain: %v", err)
	}
	if got != "legacy-secret" {
		t.Errorf("Open = %q", got)
	}
}

func TestOpenUnknownVersion(t *testing.T) {
	old := testKeychain(t, 1, 2)
	envelope, _ := old.Seal("secret")

	onlyV1 := testKeychain(t, 1)
	_, err := onlyV1.Open(envelope)
	if !errors.Is(err, ErrUnknownKeyVersion) {
		t.Errorf("err = %v, want unknown key version", err)
	}
}

func TestOpenMalformedEnvelope(t *testing.T) {
	k := testKeychain(t, 1)
	for _, envelope := range []string{
		"",
		"plaintext",
		"v1:only-two-parts",
		"x1:aaaa:bbbb",
		"v0:aaaa:bbbb",
		"v1:!!!:bbbb",
		"v1:aaaa:!!!",
	} {
		if _, err := k.Open(envelope); !errors.Is(err, ErrMalformedEnvelope) {
			t.Errorf("Open(%q) = %v, want malformed envelope", envelope, err)
		}
	}
}

func TestOpenTamperedCiphertext(t *testing.T) {
	k := testKeychain(t, 1)
	envelope, _ := k.Seal("secret")

	// Flip a character inside the ciphertext segment.
	idx := strings.LastIndex(envelope, ":") + 1
	b := []byte(envelope)
	if b[idx] == 'A' {
		b[idx] = 'B'
	} else {
		b[idx] = 'A'
	}

	if _, err := k.Open(string(b)); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("err = %v, want decrypt failed", err)
	}
}

func TestNewKeychainValidation(t *testing.T) {
	tests := []struct {
		name    string
		configs []KeyConfig
	}{
		{"empty", nil},
		{"zero_version", []KeyConfig{{Version: 0, Passphrase: "p", Salt: "s", Iterations: MinIterations}}},
		{"duplicate_version", []KeyConfig{
			{Version: 1, Passphrase: "p", Salt: "s", Iterations: MinIterations},
			{Version: 1, Passphrase: "q", Salt: "s", Iterations: MinIterations},
		}},
		{"empty_passphrase", []KeyConfig{{Version: 1, Salt: "s", Iterations: MinIterations}}},
		{"empty_salt", []KeyConfig{{Version: 1, Passphrase: "p", Iterations: MinIterations}}},
		{"weak_iterations", []KeyConfig{{Version: 1, Passphrase: "p", Salt: "s", Iterations: 1000}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewKeychain(tt.configs); err == nil {
				t.Error("expected construction to fail")
			}
		})
	}
}

func TestSealNonDeterministic(t *testing.T) {
	k := testKeychain(t, 1)
	a, _ := k.Seal("secret")
	b, _ := k.Seal("secret")
	if a == b {
		t.Error("two seals of the same plaintext must differ (fresh nonce)")
	}
}
