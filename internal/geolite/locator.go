// Package geolite resolves the country of a threat address from a MaxMind
// GeoLite2 country database. Enrichment is optional: without a database every
// lookup misses.
package geolite

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/oschwald/geoip2-golang"
)

const (
	DefaultDataDir  = "data/geolite"
	CountryFilename = "GeoLite2-Country.mmdb"
)

var ErrUnavailable = errors.New("geolite: country database not loaded")

type Location struct {
	CountryCode string `json:"country_code"`
	CountryName string `json:"country_name"`
}

type Locator struct {
	dir    string
	reader atomic.Pointer[geoip2.Reader]
}

func NewLocator(dir string) *Locator {
	if dir == "" {
		dir = DefaultDataDir
	}
	return &Locator{dir: dir}
}

func (l *Locator) Path() string {
	return filepath.Join(l.dir, CountryFilename)
}

// Load (re)opens the database from disk, replacing the current reader only on
// success.
func (l *Locator) Load() error {
	data, err := os.ReadFile(l.Path())
	if err != nil {
		return fmt.Errorf("geolite: read %s: %w", l.Path(), err)
	}
	return l.LoadBytes(data)
}

func (l *Locator) LoadBytes(data []byte) error {
	reader, err := geoip2.FromBytes(data)
	if err != nil {
		return fmt.Errorf("geolite: open country database: %w", err)
	}
	if old := l.reader.Swap(reader); old != nil {
		_ = old.Close()
	}
	return nil
}

func (l *Locator) Available() bool {
	return l != nil && l.reader.Load() != nil
}

// Country looks address up. A missing database, an unparsable address or an
// address without country data all report false.
func (l *Locator) Country(address string) (Location, bool) {
	if l == nil {
		return Location{}, false
	}
	reader := l.reader.Load()
	if reader == nil {
		return Location{}, false
	}
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return Location{}, false
	}

	record, err := reader.Country(addr.AsSlice())
	if err != nil || record.Country.IsoCode == "" {
		return Location{}, false
	}
	return Location{
		CountryCode: record.Country.IsoCode,
		CountryName: record.Country.Names["en"],
	}, true
}

func (l *Locator) Close() error {
	if old := l.reader.Swap(nil); old != nil {
		return old.Close()
	}
	return nil
}
