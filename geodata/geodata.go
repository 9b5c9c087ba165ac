package geodata

import (
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

type GeoData struct {
	Country struct {
		IsoCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
	Continent struct {
		Code string `maxminddb:"code"`
	} `maxminddb:"continent"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

// Label renders the location as "City, CC" for connection listings.
func (g *GeoData) Label() string {
	city := g.City.Names["en"]
	switch {
	case city != "" && g.Country.IsoCode != "":
		return city + ", " + g.Country.IsoCode
	case g.Country.IsoCode != "":
		return g.Country.IsoCode
	default:
		return city
	}
}

// GeoIP2DB resolves source addresses of connecting nodes against a local
// MaxMind database. The hub runs without one; lookups then fail softly.
type GeoIP2DB struct {
	db *maxminddb.Reader
}

func NewGeoIP2DB(databaseFilePath string) (*GeoIP2DB, error) {
	db, err := maxminddb.Open(databaseFilePath)
	if err != nil {
		return nil, err
	}
	return &GeoIP2DB{db}, nil
}

func (g *GeoIP2DB) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}

func (g *GeoIP2DB) Lookup(ipAddress string) (*GeoData, error) {
	if g == nil || g.db == nil {
		return nil, fmt.Errorf("geo database not configured")
	}
	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP address: %s", ipAddress)
	}

	var geoData GeoData
	err := g.db.Lookup(ip, &geoData)
	if err != nil {
		return nil, err
	}

	return &geoData, nil
}
