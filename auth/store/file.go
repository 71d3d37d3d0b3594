package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// FileStore persists one JSON credential document per origin. Writes go
// through a temp file and rename so concurrent invocations never observe a
// partial document; a lost race costs at worst a re-authorization.
type FileStore struct {
	dir string
}

// NewFileStore creates a Store rooted at dir (created lazily, owner-only).
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// DefaultDir returns the conventional per-user credential directory.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".murl", "credentials"), nil
}

// path hashes the origin so credentials for distinct servers never collide
// on filesystem-unfriendly characters.
func (f *FileStore) path(origin string) string {
	sum := sha256.Sum256([]byte(origin))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:])+".json")
}

func (f *FileStore) Lookup(origin string) (*Credential, bool) {
	data, err := os.ReadFile(f.path(origin))
	if err != nil {
		return nil, false
	}
	credential := &Credential{}
	if err = json.Unmarshal(data, credential); err != nil {
		// corrupt cache entry: treat as absent
		return nil, false
	}
	return credential, true
}

func (f *FileStore) Save(credential *Credential) error {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(credential, "", "  ")
	if err != nil {
		return err
	}
	path := f.path(credential.Origin)
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (f *FileStore) Delete(origin string) error {
	err := os.Remove(f.path(origin))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
