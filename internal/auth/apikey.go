package auth

import (
	"bufio"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/ChrisB0-2/apguard/internal/logger"
)

const (
	// APIKeyPrefix marks apguard keys so they are recognizable in configs.
	APIKeyPrefix = "ag_"
	// APIKeyLength is the prefix plus 32 hex characters.
	APIKeyLength = len(APIKeyPrefix) + 32

	DefaultHeaderName = "X-API-Key"
)

// APIKeyConfig lists where keys come from. Every source is optional but
// at least one key must be found.
type APIKeyConfig struct {
	Key         string // a single plaintext key
	KeyEnv      string // environment variable holding a key
	KeysFile    string // one "key[:role[:name]]" per line, '#' comments
	HeaderName  string // defaults to X-API-Key; "Authorization: Bearer" always works
	DefaultRole Role   // role for keys without one; defaults to operator
}

type keyEntry struct {
	name string
	role Role
}

// APIKeyAuthenticator checks keys against a set of SHA-256 hashes. The
// plaintext keys are never kept in memory.
type APIKeyAuthenticator struct {
	mu     sync.RWMutex
	keys   map[string]keyEntry // hex sha256 -> entry
	header string
}

// NewAPIKeyAuthenticator loads keys from every configured source.
func NewAPIKeyAuthenticator(cfg APIKeyConfig, log logger.Logger) (*APIKeyAuthenticator, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if cfg.DefaultRole == RoleNone {
		cfg.DefaultRole = RoleOperator
	}

	a := &APIKeyAuthenticator{keys: make(map[string]keyEntry), header: cfg.HeaderName}

	if cfg.Key != "" {
		if err := a.add(cfg.Key, "config", cfg.DefaultRole); err != nil {
			return nil, fmt.Errorf("config key: %w", err)
		}
	}
	if cfg.KeyEnv != "" {
		if v := os.Getenv(cfg.KeyEnv); v != "" {
			if err := a.add(v, "env:"+cfg.KeyEnv, cfg.DefaultRole); err != nil {
				return nil, fmt.Errorf("key in $%s: %w", cfg.KeyEnv, err)
			}
		}
	}
	if cfg.KeysFile != "" {
		if err := a.loadFile(cfg.KeysFile, cfg.DefaultRole); err != nil {
			return nil, fmt.Errorf("keys file %s: %w", cfg.KeysFile, err)
		}
	}

	if a.Len() == 0 {
		return nil, ErrNoKeys
	}
	log.Info("api key authentication enabled", logger.F("keys", a.Len()), logger.F("header", a.header))
	return a, nil
}

// Len returns the number of distinct keys loaded.
func (a *APIKeyAuthenticator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.keys)
}

func (a *APIKeyAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	key := r.Header.Get(a.header)
	if key == "" {
		bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			return nil, nil
		}
		key = strings.TrimSpace(bearer)
	}
	if !ValidateKeyFormat(key) {
		return nil, ErrInvalidKeyFormat
	}

	hash := HashKey(key)
	a.mu.RLock()
	entry, ok := a.keys[hash]
	a.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return &Identity{ID: hash[:16], Name: entry.name, Role: entry.role}, nil
}

func (a *APIKeyAuthenticator) add(key, name string, role Role) error {
	if !ValidateKeyFormat(key) {
		return ErrInvalidKeyFormat
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys[HashKey(key)] = keyEntry{name: name, role: role}
	return nil
}

func (a *APIKeyAuthenticator) loadFile(path string, defaultRole Role) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.SplitN(line, ":", 3)
		role, name := defaultRole, fmt.Sprintf("%s:%d", path, n)
		if len(fields) > 1 && fields[1] != "" {
			if role, err = ParseRole(fields[1]); err != nil {
				return fmt.Errorf("line %d: %w", n, err)
			}
		}
		if len(fields) > 2 && fields[2] != "" {
			name = fields[2]
		}
		if err := a.add(fields[0], name, role); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
	}
	return scanner.Err()
}

// ValidateKeyFormat reports whether key is "ag_" followed by 32 hex digits.
func ValidateKeyFormat(key string) bool {
	rest, ok := strings.CutPrefix(key, APIKeyPrefix)
	if !ok || len(key) != APIKeyLength {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}

// HashKey returns the hex SHA-256 of key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey returns a new random key.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(b), nil
}
