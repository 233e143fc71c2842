package crypto

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

type keystoreOptions struct {
	scryptN int
	scryptP int
}

// KeystoreOption customises how keystore files are encrypted.
type KeystoreOption func(*keystoreOptions)

// WithLightScrypt encrypts with the light scrypt parameters. It is meant for
// development nodes and tests; keys that guard real identities should keep
// the standard parameters.
func WithLightScrypt() KeystoreOption {
	return func(o *keystoreOptions) {
		o.scryptN = keystore.LightScryptN
		o.scryptP = keystore.LightScryptP
	}
}

// SaveToKeystore writes a controller key to an Ethereum v3 keystore file.
// Parent directories are created with 0700 permissions.
func SaveToKeystore(path string, key *PrivateKey, passphrase string, opts ...KeystoreOption) error {
	if key == nil || key.PrivateKey == nil {
		return ErrNilKey
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	o := keystoreOptions{scryptN: keystore.StandardScryptN, scryptP: keystore.StandardScryptP}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	ks := keystore.NewKeyStore(tmpDir, o.scryptN, o.scryptP)
	if _, err := ks.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return err
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("crypto: failed to create keystore file")
	}

	src := filepath.Join(tmpDir, entries[0].Name())
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(src, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore decrypts a v3 keystore file holding a controller key.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}

	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, err
	}

	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}

// LoadOrCreateKeystore loads the controller key at path, generating and
// persisting a fresh key when the file does not exist yet.
func LoadOrCreateKeystore(path, passphrase string, opts ...KeystoreOption) (*PrivateKey, bool, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		key, genErr := GeneratePrivateKey()
		if genErr != nil {
			return nil, false, genErr
		}
		if err := SaveToKeystore(path, key, passphrase, opts...); err != nil {
			return nil, false, err
		}
		return key, true, nil
	} else if err != nil {
		return nil, false, err
	}
	key, err := LoadFromKeystore(path, passphrase)
	if err != nil {
		return nil, false, err
	}
	return key, false, nil
}
