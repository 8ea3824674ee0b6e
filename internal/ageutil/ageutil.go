// Package ageutil wraps filippo.io/age for staged content that is delivered
// encrypted and decrypted only when it is written into an image.
package ageutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"filippo.io/age"
)

// ErrNoKey is returned when a Key carries no credential.
var ErrNoKey = errors.New("no age identity configured; set age.identity or age.passphrase in pkgdeliver.yaml")

// Key holds the credential for staged content. A non-empty Passphrase takes
// precedence over IdentityFile. The credential is parsed on first use and
// kept for the life of the Key, so a Key must not be copied after use.
type Key struct {
	IdentityFile string
	Passphrase   string

	once  sync.Once
	ids   []age.Identity
	rcpts []age.Recipient
	err   error
}

// Configured reports whether k carries any credential.
func (k *Key) Configured() bool {
	return k != nil && (k.IdentityFile != "" || k.Passphrase != "")
}

// Encrypt copies src into dst encrypted for k's recipients.
func (k *Key) Encrypt(dst io.Writer, src io.Reader) error {
	if err := k.load(); err != nil {
		return err
	}
	if len(k.rcpts) == 0 {
		return fmt.Errorf("%s holds no X25519 identities to encrypt to", k.IdentityFile)
	}
	w, err := age.Encrypt(dst, k.rcpts...)
	if err != nil {
		return fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("write ciphertext: %w", err)
	}
	return w.Close()
}

// Decrypt returns a reader yielding the plaintext of src. Authentication
// failures in the payload surface from the returned reader.
func (k *Key) Decrypt(src io.Reader) (io.Reader, error) {
	if err := k.load(); err != nil {
		return nil, err
	}
	r, err := age.Decrypt(src, k.ids...)
	if err != nil {
		return nil, fmt.Errorf("age decrypt: %w", err)
	}
	return r, nil
}

func (k *Key) load() error {
	if !k.Configured() {
		return ErrNoKey
	}
	k.once.Do(func() {
		k.ids, k.rcpts, k.err = k.parse()
	})
	return k.err
}

func (k *Key) parse() ([]age.Identity, []age.Recipient, error) {
	if k.Passphrase != "" {
		id, err := age.NewScryptIdentity(k.Passphrase)
		if err != nil {
			return nil, nil, fmt.Errorf("scrypt identity: %w", err)
		}
		r, err := age.NewScryptRecipient(k.Passphrase)
		if err != nil {
			return nil, nil, fmt.Errorf("scrypt recipient: %w", err)
		}
		return []age.Identity{id}, []age.Recipient{r}, nil
	}

	f, err := os.Open(k.IdentityFile)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", k.IdentityFile, err)
	}
	var rcpts []age.Recipient
	for _, id := range ids {
		if x, ok := id.(*age.X25519Identity); ok {
			rcpts = append(rcpts, x.Recipient())
		}
	}
	return ids, rcpts, nil
}
