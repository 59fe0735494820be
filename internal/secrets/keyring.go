// Package secrets keeps provider API keys sealed at rest in the .env file.
//
// A sealed value looks like ENC[age:<base64>]. It is opened with the X25519 identity
// stored in $NEORIX_PATH/.age-key, once, right after the .env file is loaded.
package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"github.com/dohr-michael/neorix/internal/config"
)

const (
	sealPrefix = "ENC[age:"
	sealSuffix = "]"
)

// ErrNotSealed is returned when opening a value that is not an ENC[age:...] blob.
var ErrNotSealed = errors.New("value is not sealed")

// KeyPath returns the default identity file: $NEORIX_PATH/.age-key.
func KeyPath() string {
	return filepath.Join(config.NeorixPath(), ".age-key")
}

// Keyring seals and opens values with one age identity.
type Keyring struct {
	identity *age.X25519Identity
}

// CreateKeyring loads the identity at path, generating it (mode 0600) when the file
// does not exist yet.
func CreateKeyring(path string) (*Keyring, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		identity, err := age.GenerateX25519Identity()
		if err != nil {
			return nil, fmt.Errorf("generate age identity: %w", err)
		}
		content := fmt.Sprintf("# created by neorix\n# public key: %s\n%s\n",
			identity.Recipient().String(), identity.String())

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create key directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return nil, fmt.Errorf("write age key: %w", err)
		}
		return &Keyring{identity: identity}, nil
	}
	return OpenKeyring(path)
}

// OpenKeyring loads an existing identity file.
func OpenKeyring(path string) (*Keyring, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open age key: %w", err)
	}
	defer f.Close()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse age identities: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in %s", path)
	}
	id, ok := identities[0].(*age.X25519Identity)
	if !ok {
		return nil, fmt.Errorf("unexpected identity type in %s", path)
	}
	return &Keyring{identity: id}, nil
}

// Recipient returns the public key of the keyring.
func (k *Keyring) Recipient() string {
	return k.identity.Recipient().String()
}

// Seal encrypts plaintext into an ENC[age:...] blob.
func (k *Keyring) Seal(plaintext string) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, k.identity.Recipient())
	if err != nil {
		return "", fmt.Errorf("age encrypt init: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("age encrypt write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("age encrypt close: %w", err)
	}
	return sealPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()) + sealSuffix, nil
}

// Open decrypts an ENC[age:...] blob.
func (k *Keyring) Open(blob string) (string, error) {
	if !IsSealed(blob) {
		return "", ErrNotSealed
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob[len(sealPrefix) : len(blob)-len(sealSuffix)])
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), k.identity)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read decrypted: %w", err)
	}
	return string(plain), nil
}

// IsSealed reports whether s is an ENC[age:...] blob.
func IsSealed(s string) bool {
	return strings.HasPrefix(s, sealPrefix) && strings.HasSuffix(s, sealSuffix)
}
