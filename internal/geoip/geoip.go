// Package geoip provides optional country lookup for registered servers.
package geoip

import (
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Provider wraps a GeoIP2 country database reader.
type Provider struct {
	db *geoip2.Reader
}

// Open initializes the reader from an mmdb file.
func Open(path string) (*Provider, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &Provider{db: db}, nil
}

// Close closes the underlying reader.
func (p *Provider) Close() error {
	return p.db.Close()
}

// CountryCode returns the ISO country code for an IP address, or the empty
// string when it cannot be determined.
func (p *Provider) CountryCode(ipStr string) string {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ""
	}
	record, err := p.db.Country(ip)
	if err != nil {
		return ""
	}
	return record.Country.IsoCode
}
