// Package identity loads, or provisions on first run, the installation's user
// key and secret salt.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/iotinspector/inspector/log"
)

var ErrIncomplete = errors.New("user config is incomplete")

// HostIdentity is immutable once resolved.
type HostIdentity struct {
	UserKey    string `json:"user_key"`
	SecretSalt string `json:"secret_salt"`
}

// UserConfig is the persisted form. UserKey may still carry separators.
type UserConfig struct {
	UserKey    string `json:"user_key"`
	SecretSalt string `json:"secret_salt"`
}

func (u UserConfig) complete() bool {
	return strings.TrimSpace(u.UserKey) != "" && strings.TrimSpace(u.SecretSalt) != ""
}

// Normalize strips the separators a provisioned key may contain.
func Normalize(key string) string {
	return strings.ReplaceAll(strings.TrimSpace(key), "-", "")
}

type Provisioner interface {
	Provision(ctx context.Context) (UserConfig, error)
}

// RemoteProvisioner asks the hosted service for a new key.
type RemoteProvisioner struct {
	URL    string
	Client *http.Client
}

func (p *RemoteProvisioner) Provision(ctx context.Context) (UserConfig, error) {
	if p.URL == "" {
		return UserConfig{}, fmt.Errorf("no provisioning url configured")
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return UserConfig{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return UserConfig{}, fmt.Errorf("request user key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return UserConfig{}, fmt.Errorf("request user key: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return UserConfig{}, fmt.Errorf("read user key: %w", err)
	}

	var uc UserConfig
	if err := json.Unmarshal(body, &uc); err != nil {
		return UserConfig{}, fmt.Errorf("decode user key: %w", err)
	}
	if !uc.complete() {
		return UserConfig{}, ErrIncomplete
	}
	return uc, nil
}

// LocalProvisioner generates an identity without contacting anything.
type LocalProvisioner struct{}

func (LocalProvisioner) Provision(context.Context) (UserConfig, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return UserConfig{}, fmt.Errorf("generate salt: %w", err)
	}
	return UserConfig{
		UserKey:    uuid.New().String(),
		SecretSalt: hex.EncodeToString(salt),
	}, nil
}

// Store is the on-disk user config plus the provisioners used when it is
// missing. Fallback is tried when Primary fails.
type Store struct {
	Path     string
	Primary  Provisioner
	Fallback Provisioner
}

func (s *Store) load() (UserConfig, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return UserConfig{}, err
	}
	var uc UserConfig
	if err := json.Unmarshal(data, &uc); err != nil {
		return UserConfig{}, fmt.Errorf("parse %s: %w", s.Path, err)
	}
	if !uc.complete() {
		return UserConfig{}, fmt.Errorf("%s: %w", s.Path, ErrIncomplete)
	}
	return uc, nil
}

func (s *Store) save(uc UserConfig) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	data, err := json.MarshalIndent(uc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path, data, 0600)
}

// LoadOrCreate returns the persisted config, provisioning and saving a new one
// when the file does not exist yet.
func (s *Store) LoadOrCreate(ctx context.Context) (UserConfig, error) {
	uc, err := s.load()
	if err == nil {
		return uc, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return UserConfig{}, err
	}

	log.Infof("No user config at %s, provisioning a new one", s.Path)
	uc, err = s.provision(ctx)
	if err != nil {
		return UserConfig{}, err
	}
	if err := s.save(uc); err != nil {
		return UserConfig{}, fmt.Errorf("save user config: %w", err)
	}
	return uc, nil
}

func (s *Store) provision(ctx context.Context) (UserConfig, error) {
	var errs []error
	for _, p := range []Provisioner{s.Primary, s.Fallback} {
		if p == nil {
			continue
		}
		uc, err := p.Provision(ctx)
		if err == nil {
			return uc, nil
		}
		log.Warnf("Identity provisioning failed: %v", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return UserConfig{}, fmt.Errorf("no identity provisioner configured")
	}
	return UserConfig{}, errors.Join(errs...)
}

// Resolve loads or creates the user config and normalizes it.
func Resolve(ctx context.Context, s *Store) (HostIdentity, error) {
	uc, err := s.LoadOrCreate(ctx)
	if err != nil {
		return HostIdentity{}, err
	}
	id := HostIdentity{
		UserKey:    Normalize(uc.UserKey),
		SecretSalt: uc.SecretSalt,
	}
	if id.UserKey == "" || id.SecretSalt == "" {
		return HostIdentity{}, ErrIncomplete
	}
	return id, nil
}
