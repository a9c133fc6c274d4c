package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	stdsync "sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Token cache file permissions.
const (
	tokenFilePerms = 0o600
	tokenDirPerms  = 0o700
)

// ErrNoCredentials is returned when neither a static token nor client
// credentials are configured.
var ErrNoCredentials = errors.New("remote: no credentials configured")

// StaticToken is a fixed bearer token.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token() (string, error) {
	if s == "" {
		return "", ErrNoCredentials
	}

	return string(s), nil
}

// Credentials selects how the client authenticates.
type Credentials struct {
	Token        string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	// CachePath persists client-credentials tokens between runs. Empty
	// disables the cache.
	CachePath string
}

// NewTokenSource builds a TokenSource from creds. A static token wins over
// client credentials. Returns (nil, nil) when nothing is configured, which
// means unauthenticated requests.
func NewTokenSource(ctx context.Context, creds Credentials, logger *slog.Logger) (TokenSource, error) {
	if creds.Token != "" {
		return StaticToken(creds.Token), nil
	}

	if creds.ClientID == "" {
		return nil, nil //nolint:nilnil // no auth configured
	}

	if creds.TokenURL == "" {
		return nil, fmt.Errorf("remote: client credentials require a token URL")
	}

	if logger == nil {
		logger = slog.Default()
	}

	cfg := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL,
		Scopes:       creds.Scopes,
	}

	var cached *oauth2.Token

	if creds.CachePath != "" {
		tok, clientID, err := LoadToken(creds.CachePath)
		if err != nil {
			logger.Warn("ignoring unreadable token cache",
				slog.String("path", creds.CachePath),
				slog.String("error", err.Error()),
			)
		} else if tok != nil && clientID == creds.ClientID {
			cached = tok
		}
	}

	return &oauthSource{
		src:       oauth2.ReuseTokenSource(cached, cfg.TokenSource(ctx)),
		cachePath: creds.CachePath,
		clientID:  creds.ClientID,
		logger:    logger,
		last:      cached,
	}, nil
}

// oauthSource adapts an oauth2.TokenSource and writes refreshed tokens to
// the cache file.
type oauthSource struct {
	src       oauth2.TokenSource
	cachePath string
	clientID  string
	logger    *slog.Logger

	mu   stdsync.Mutex
	last *oauth2.Token
}

func (o *oauthSource) Token() (string, error) {
	tok, err := o.src.Token()
	if err != nil {
		return "", fmt.Errorf("remote: fetching oauth token: %w", err)
	}

	o.mu.Lock()
	changed := o.last == nil || o.last.AccessToken != tok.AccessToken
	o.last = tok
	o.mu.Unlock()

	if changed && o.cachePath != "" {
		if err := SaveToken(o.cachePath, tok, o.clientID); err != nil {
			o.logger.Warn("saving token cache failed", slog.String("error", err.Error()))
		}
	}

	return tok.AccessToken, nil
}

// tokenFile is the on-disk format of the token cache.
type tokenFile struct {
	Token    *oauth2.Token `json:"token"`
	ClientID string        `json:"client_id,omitempty"`
}

// LoadToken reads a cached token. Returns (nil, "", nil) if the file does
// not exist.
func LoadToken(path string) (*oauth2.Token, string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", nil
	}

	if err != nil {
		return nil, "", fmt.Errorf("remote: reading token cache %s: %w", path, err)
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, "", fmt.Errorf("remote: decoding token cache %s: %w", path, err)
	}

	if tf.Token == nil {
		return nil, "", fmt.Errorf("remote: token cache %s missing token field", path)
	}

	return tf.Token, tf.ClientID, nil
}

// SaveToken writes the token cache atomically with owner-only permissions.
// Never logs token values.
func SaveToken(path string, tok *oauth2.Token, clientID string) error {
	data, err := json.MarshalIndent(tokenFile{Token: tok, ClientID: clientID}, "", "  ")
	if err != nil {
		return fmt.Errorf("remote: encoding token cache: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, tokenDirPerms); err != nil {
		return fmt.Errorf("remote: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("remote: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, tokenFilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("remote: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("remote: writing token cache: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("remote: syncing token cache: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("remote: closing token cache: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("remote: renaming token cache: %w", err)
	}

	success = true

	return nil
}

// DeleteToken removes the token cache. A missing file is not an error.
func DeleteToken(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remote: removing token cache: %w", err)
	}

	return nil
}
