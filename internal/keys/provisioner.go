// Package keys validates uploaded SSH private keys and stores them with
// owner-only permissions, one key per device.
package keys

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"golang.org/x/crypto/ssh"
)

// DefaultUploadRoot is where the setup flow stages uploaded files.
const DefaultUploadRoot = "/tmp/home-assistant-file_upload"

const (
	keyFileMode = 0o600
	keyDirMode  = 0o700
	keySuffix   = ".key"
)

var (
	ErrKeyRead           = errors.New("unable to read uploaded key")
	ErrInvalidKeyFormat  = errors.New("uploaded file is not a PEM private key")
	ErrPermission        = errors.New("unable to restrict key file permissions")
	ErrInvalidDeviceName = errors.New("device name cannot be used as a key file name")
)

var pemMarkers = [][]byte{[]byte("BEGIN"), []byte("PRIVATE KEY"), []byte("END")}

// KeyRef is an opaque handle to stored key material. SSH adapters read the
// key through it.
type KeyRef string

// Provisioner stores keys as Dir/<device>.key.
type Provisioner struct {
	Dir        string
	UploadRoot string
	Log        logr.Logger
}

func NewProvisioner(dir, uploadRoot string, log logr.Logger) *Provisioner {
	if uploadRoot == "" {
		uploadRoot = DefaultUploadRoot
	}
	return &Provisioner{Dir: dir, UploadRoot: uploadRoot, Log: log}
}

// PathFor returns the deterministic location of a device's key.
func (p *Provisioner) PathFor(deviceName string) (KeyRef, error) {
	if err := checkDeviceName(deviceName); err != nil {
		return "", err
	}
	dir, err := filepath.Abs(p.Dir)
	if err != nil {
		return "", fmt.Errorf("resolve key directory: %w", err)
	}
	return KeyRef(filepath.Join(dir, deviceName+keySuffix)), nil
}

// Owns reports whether ref is the key this provisioner stores for deviceName.
func (p *Provisioner) Owns(deviceName string, ref string) bool {
	own, err := p.PathFor(deviceName)
	if err != nil || ref == "" {
		return false
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		return false
	}
	return abs == string(own)
}

// Provision reads an uploaded key and stores it for deviceName. uploaded may
// be a file or a staging directory, in which case the first file wins;
// relative paths are resolved against UploadRoot. Nothing is written unless
// the content looks like a PEM private key.
func (p *Provisioner) Provision(ctx context.Context, deviceName, uploaded string) (KeyRef, error) {
	dest, err := p.PathFor(deviceName)
	if err != nil {
		return "", err
	}

	content, src, err := p.readUpload(uploaded)
	if err != nil {
		return "", err
	}
	if !hasPEMMarkers(content) {
		return "", fmt.Errorf("%w: %s", ErrInvalidKeyFormat, src)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := writeKeyFile(string(dest), content); err != nil {
		return "", err
	}

	log := p.Log.WithValues("device", deviceName, "key", dest)
	if signer, err := ssh.ParsePrivateKey(content); err == nil {
		log = log.WithValues("fingerprint", ssh.FingerprintSHA256(signer.PublicKey()))
	} else {
		log.V(1).Info("stored key could not be parsed without a passphrase", "reason", err.Error())
	}
	log.Info("SSH key provisioned")

	return dest, nil
}

// Revoke deletes the device's key. A missing key is not an error.
func (p *Provisioner) Revoke(deviceName string) error {
	dest, err := p.PathFor(deviceName)
	if err != nil {
		return err
	}
	if err := os.Remove(string(dest)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove key %s: %w", dest, err)
	}
	p.Log.Info("SSH key revoked", "device", deviceName)
	return nil
}

func (p *Provisioner) readUpload(uploaded string) ([]byte, string, error) {
	if uploaded == "" {
		return nil, "", fmt.Errorf("%w: no upload given", ErrKeyRead)
	}
	path := uploaded
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.UploadRoot, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, path, fmt.Errorf("%w: %w", ErrKeyRead, err)
	}

	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, path, fmt.Errorf("%w: %w", ErrKeyRead, err)
		}
		found := ""
		for _, e := range entries {
			if e.Type().IsRegular() {
				found = filepath.Join(path, e.Name())
				break
			}
		}
		if found == "" {
			return nil, path, fmt.Errorf("%w: %s contains no files", ErrKeyRead, path)
		}
		path = found
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("%w: %w", ErrKeyRead, err)
	}
	return content, path, nil
}

func hasPEMMarkers(content []byte) bool {
	for _, m := range pemMarkers {
		if !bytes.Contains(content, m) {
			return false
		}
	}
	return true
}

// writeKeyFile replaces dest atomically: the bytes go to a 0600 temp file in
// the same directory which is then renamed over dest.
func writeKeyFile(dest string, content []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, keyDirMode); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temporary key file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(keyFileMode); err != nil {
		return fmt.Errorf("%w: %w", ErrPermission, err)
	}
	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close key file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("install key file: %w", err)
	}
	committed = true

	info, err := os.Stat(dest)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPermission, err)
	}
	if info.Mode().Perm() != keyFileMode {
		_ = os.Remove(dest)
		return fmt.Errorf("%w: %s has mode %s", ErrPermission, dest, info.Mode().Perm())
	}
	return nil
}

func checkDeviceName(name string) error {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidDeviceName, name)
	}
	return nil
}
