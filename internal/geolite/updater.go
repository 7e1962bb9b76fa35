package geolite

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

const (
	maxMindDownloadURL = "https://download.maxmind.com/app/geoip_download"
	countryEdition     = "GeoLite2-Country"
	userAgent          = "threatmesh-geolite-updater/1.0"
)

// ErrNoAPIKey indicates that no MaxMind license key has been configured.
var ErrNoAPIKey = errors.New("geolite: api key is not configured")

type Updater struct {
	locator *Locator

	mu     sync.RWMutex
	apiKey string

	baseURL string
	client  *http.Client
	group   singleflight.Group
}

func NewUpdater(locator *Locator, apiKey string) *Updater {
	return &Updater{
		locator: locator,
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: maxMindDownloadURL,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// SetAPIKey swaps the license key used by later downloads.
func (u *Updater) SetAPIKey(key string) {
	u.mu.Lock()
	u.apiKey = strings.TrimSpace(key)
	u.mu.Unlock()
}

func (u *Updater) key() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.apiKey
}

// Update downloads the country edition and reloads the locator. Concurrent
// callers share one download.
func (u *Updater) Update(ctx context.Context) (bool, error) {
	result, err, _ := u.group.Do("update", func() (any, error) {
		key := u.key()
		if key == "" {
			return false, ErrNoAPIKey
		}
		if err := u.download(ctx, key); err != nil {
			return false, err
		}
		if err := u.locator.Load(); err != nil {
			return false, fmt.Errorf("reload geolite: %w", err)
		}
		log.Info("GeoLite country database updated", "path", u.locator.Path())
		return true, nil
	})
	if err != nil {
		return false, err
	}
	updated, _ := result.(bool)
	return updated, nil
}

func (u *Updater) download(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.downloadURL(key), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", countryEdition, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("download %s: unexpected status %d: %s", countryEdition, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	gzipReader, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: open gzip: %w", countryEdition, err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: read tar: %w", countryEdition, err)
		}
		if header.Typeflag != tar.TypeReg || filepath.Base(header.Name) != CountryFilename {
			continue
		}
		if err := writeToFile(u.locator.Path(), tarReader); err != nil {
			return fmt.Errorf("%s: write file: %w", countryEdition, err)
		}
		return nil
	}

	return fmt.Errorf("%s: mmdb file not found in archive", countryEdition)
}

func (u *Updater) downloadURL(key string) string {
	return fmt.Sprintf("%s?edition_id=%s&license_key=%s&suffix=tar.gz", u.baseURL, countryEdition, key)
}

// writeToFile replaces destPath atomically through a temp file in the same
// directory.
func writeToFile(destPath string, data io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), "geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmpFile.Name())
	}()

	if _, err := io.Copy(tmpFile, data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("copy data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), destPath); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}
