package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"go.uber.org/zap"
)

// DefaultRegion is assumed when self-location fails; routing still works,
// just without proximity ordering.
const DefaultRegion = "EU"

// DefaultEndpointPreference orders relay regions per agent continent. This
// is configuration data, not logic; deployments override it from YAML.
var DefaultEndpointPreference = map[string][]string{
	"NA": {"us-east", "us-west", "eu-central", "ap-southeast"},
	"SA": {"us-east", "us-west", "eu-central", "ap-southeast"},
	"EU": {"eu-central", "us-east", "ap-southeast", "us-west"},
	"AF": {"eu-central", "us-east", "ap-southeast", "us-west"},
	"AS": {"ap-southeast", "eu-central", "us-west", "us-east"},
	"OC": {"ap-southeast", "us-west", "us-east", "eu-central"},
}

type geoLookupResponse struct {
	ContinentCode string `json:"continent_code"`
	CountryCode   string `json:"country_code"`
}

// SelfLocate asks an external ip-geolocation service which continent this
// agent runs on. Best effort: any failure falls back to DefaultRegion.
func SelfLocate(ctx context.Context, client *http.Client, lookupURL string, logger *zap.Logger) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return DefaultRegion
	}
	res, err := client.Do(req)
	if err != nil {
		logger.Debug("geo self-location failed", zap.Error(err))
		return DefaultRegion
	}
	defer res.Body.Close()
	var parsed geoLookupResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil || parsed.ContinentCode == "" {
		logger.Debug("geo self-location unparseable", zap.Error(err))
		return DefaultRegion
	}
	return parsed.ContinentCode
}

// OrderEndpoints reorders relay endpoints so the nearest region is tried
// first. Regions missing from the preference list sort last, keeping their
// configured order.
func OrderEndpoints(endpoints []Endpoint, continent string, preference map[string][]string) []Endpoint {
	pref, ok := preference[continent]
	if !ok {
		pref = preference[DefaultRegion]
	}
	rank := func(region string) int {
		for i, r := range pref {
			if r == region {
				return i
			}
		}
		return len(pref)
	}
	ordered := make([]Endpoint, len(endpoints))
	copy(ordered, endpoints)
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank(ordered[i].Region) < rank(ordered[j].Region)
	})
	return ordered
}
