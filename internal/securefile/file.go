// Package securefile provides encrypted JSON file read/write with atomic writes.
// Uses Argon2id for KDF and XChaCha20-Poly1305 for AEAD.
package securefile

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/quantumauth-io/tuxedex/internal/constants"
)

var (
	// ErrInvalidPasswordOrCorrupt is returned when decryption fails.
	// Keep this generic to avoid leaking details.
	ErrInvalidPasswordOrCorrupt = errors.New("invalid password or corrupted file")
	ErrEmptyPassword            = errors.New("securefile: empty password")
)

// Envelope is the on-disk encryption envelope.
type Envelope struct {
	Version int `json:"version"`

	ArgonTime    uint32 `json:"argon_time"`
	ArgonMemory  uint32 `json:"argon_memory_kib"`
	ArgonThreads uint8  `json:"argon_threads"`
	ArgonKeyLen  uint32 `json:"argon_key_len"`
	SaltB64      string `json:"salt_b64"`

	NonceB64 string `json:"nonce_b64"`
	CTB64    string `json:"ct_b64"`
}

var DefaultKDF = Envelope{
	Version:      constants.SchemaV1,
	ArgonTime:    2,
	ArgonMemory:  64 * 1024,
	ArgonThreads: 1,
	ArgonKeyLen:  32,
}

// Options controls encryption behavior.
type Options struct {
	KDF Envelope

	FilePerm      os.FileMode
	DirectoryPerm os.FileMode

	// AADFunc binds the ciphertext to a context; must match on read.
	AADFunc func(path string) []byte
}

// WriteEncryptedJSON marshals v as pretty JSON, encrypts it, and writes it atomically to path.
func WriteEncryptedJSON[T any](path string, v T, password []byte, opt ...Options) error {
	if len(password) == 0 {
		return ErrEmptyPassword
	}
	o := mergeOptions(opt...)

	if err := os.MkdirAll(filepath.Dir(path), o.DirectoryPerm); err != nil {
		return errors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	}

	plain, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal json")
	}
	defer zero(plain)

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return errors.Wrap(err, "rand salt")
	}

	key := argon2.IDKey(password, salt, o.KDF.ArgonTime, o.KDF.ArgonMemory, o.KDF.ArgonThreads, o.KDF.ArgonKeyLen)
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return errors.Wrap(err, "aead")
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return errors.Wrap(err, "rand nonce")
	}

	ct := aead.Seal(nil, nonce, plain, aad(o, path))

	out := o.KDF
	out.SaltB64 = base64.StdEncoding.EncodeToString(salt)
	out.NonceB64 = base64.StdEncoding.EncodeToString(nonce)
	out.CTB64 = base64.StdEncoding.EncodeToString(ct)

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal enc file")
	}

	return atomicWriteFile(path, b, o.FilePerm)
}

// ReadEncryptedJSON reads path, decrypts it using password, and unmarshals JSON into T.
// A missing file keeps os.ErrNotExist in the error chain.
func ReadEncryptedJSON[T any](path string, password []byte, opt ...Options) (T, error) {
	var out T
	if len(password) == 0 {
		return out, ErrEmptyPassword
	}
	o := mergeOptions(opt...)

	b, err := os.ReadFile(path)
	if err != nil {
		return out, errors.Wrap(err, "read file")
	}

	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return out, errors.Wrap(err, "unmarshal enc file")
	}
	if env.Version != constants.SchemaV1 {
		return out, errors.Newf("unsupported keystore version %d", env.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(env.SaltB64)
	if err != nil {
		return out, errors.Wrap(err, "decode salt")
	}
	nonce, err := base64.StdEncoding.DecodeString(env.NonceB64)
	if err != nil {
		return out, errors.Wrap(err, "decode nonce")
	}
	ct, err := base64.StdEncoding.DecodeString(env.CTB64)
	if err != nil {
		return out, errors.Wrap(err, "decode ciphertext")
	}

	key := argon2.IDKey(password, salt, env.ArgonTime, env.ArgonMemory, env.ArgonThreads, env.ArgonKeyLen)
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return out, errors.Wrap(err, "aead")
	}
	if len(nonce) != aead.NonceSize() {
		return out, ErrInvalidPasswordOrCorrupt
	}

	plain, err := aead.Open(nil, nonce, ct, aad(o, path))
	if err != nil {
		return out, ErrInvalidPasswordOrCorrupt
	}
	defer zero(plain)

	if err := json.Unmarshal(plain, &out); err != nil {
		return out, errors.Wrap(err, "unmarshal json")
	}
	return out, nil
}

// ConfigPathCandidates returns config paths to try, in priority order.
// TUXEDEX_ENV optionally adds a subfolder: local/ or develop/.
func ConfigPathCandidates(app, filename string) ([]string, error) {
	if app == "" {
		return nil, errors.New("app must not be empty")
	}
	if filename == "" {
		return nil, errors.New("filename must not be empty")
	}
	envFolder, err := EnvFolder()
	if err != nil {
		return nil, err
	}

	var paths []string
	seen := map[string]bool{}
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		paths = append(paths, p)
	}

	// <home>/.config/<app>/<env?>/<filename>
	joinHomeStyle := func(home string) string {
		dir := filepath.Join(home, ".config", app)
		if envFolder != "" {
			dir = filepath.Join(dir, envFolder)
		}
		return filepath.Join(dir, filename)
	}

	if realHome := os.Getenv("SNAP_REAL_HOME"); realHome != "" {
		add(joinHomeStyle(realHome))
	}
	if home := os.Getenv("HOME"); home != "" {
		add(joinHomeStyle(home))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		add(filepath.Join(dir, app, envFolder, filename))
	} else if len(paths) == 0 {
		return nil, errors.Wrap(err, "UserConfigDir")
	}

	return paths, nil
}

// EnvFolder maps TUXEDEX_ENV to a config subfolder ("" for prod).
func EnvFolder() (string, error) {
	raw := strings.TrimSpace(os.Getenv("TUXEDEX_ENV"))
	switch strings.ToLower(raw) {
	case "", "prod", "production":
		return "", nil
	case "local":
		return "local", nil
	case "dev", "develop", "development":
		return "develop", nil
	default:
		return "", errors.Newf("invalid TUXEDEX_ENV %q (allowed: local, develop, prod, empty)", raw)
	}
}

func defaultOptions() Options {
	return Options{
		KDF:           DefaultKDF,
		FilePerm:      constants.FilePerm,
		DirectoryPerm: constants.DirectoryPerm,
	}
}

func mergeOptions(opt ...Options) Options {
	o := defaultOptions()
	if len(opt) == 0 {
		return o
	}
	in := opt[0]

	if in.KDF.Version != 0 {
		o.KDF = in.KDF
	}
	if in.FilePerm != 0 {
		o.FilePerm = in.FilePerm
	}
	if in.DirectoryPerm != 0 {
		o.DirectoryPerm = in.DirectoryPerm
	}
	if in.AADFunc != nil {
		o.AADFunc = in.AADFunc
	}
	return o
}

func aad(o Options, path string) []byte {
	if o.AADFunc == nil {
		return nil
	}
	return o.AADFunc(path)
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"

	// Best effort cleanup if something already exists.
	_ = os.Remove(tmp)

	if err := os.WriteFile(tmp, data, perm); err != nil {
		return errors.Wrap(err, "write tmp")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "rename")
	}
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
