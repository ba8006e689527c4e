package credentials

import (
	"errors"
	"fmt"
	"strings"
)

// Key is a named HMAC signing secret.
type Key struct {
	ID     string
	Secret []byte
}

// Keyring holds the active signing key and any retired keys that are still
// accepted for verification. It is immutable after construction; rotating the
// secret means building a new Keyring and a new Manager around it.
type Keyring struct {
	activeID string
	keys     map[string][]byte
}

// NewKeyring builds a keyring that signs with active and verifies with active
// plus every retired key.
func NewKeyring(active Key, retired ...Key) (*Keyring, error) {
	keys := make(map[string][]byte, len(retired)+1)
	for _, key := range append([]Key{active}, retired...) {
		id := strings.TrimSpace(key.ID)
		if id == "" {
			return nil, errors.New("credentials: key id is required")
		}
		if len(key.Secret) == 0 {
			return nil, fmt.Errorf("credentials: secret for key %q is empty", id)
		}
		if _, dup := keys[id]; dup {
			return nil, fmt.Errorf("credentials: duplicate key id %q", id)
		}
		secret := make([]byte, len(key.Secret))
		copy(secret, key.Secret)
		keys[id] = secret
	}
	return &Keyring{activeID: strings.TrimSpace(active.ID), keys: keys}, nil
}

// KeyringFromSecrets is a convenience for configuration values.
func KeyringFromSecrets(activeID, activeSecret string, retired map[string]string) (*Keyring, error) {
	retiredKeys := make([]Key, 0, len(retired))
	for id, secret := range retired {
		retiredKeys = append(retiredKeys, Key{ID: id, Secret: []byte(secret)})
	}
	return NewKeyring(Key{ID: activeID, Secret: []byte(activeSecret)}, retiredKeys...)
}

// ActiveID returns the id of the key used for signing.
func (k *Keyring) ActiveID() string {
	return k.activeID
}

func (k *Keyring) signingKey() (string, []byte) {
	return k.activeID, k.keys[k.activeID]
}

func (k *Keyring) lookup(id string) ([]byte, bool) {
	secret, ok := k.keys[id]
	return secret, ok
}
