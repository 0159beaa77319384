package geodb

import "github.com/pariz/gountries"

// LookupResult is what the service answers with. Every field except
// the address itself is optional: an absent field is omitted from
// JSON instead of being serialized as an empty string, so "unknown"
// stays distinguishable from "empty".
type LookupResult struct {
	IP             string   `json:"ip"`
	City           *string  `json:"city,omitempty"`
	Subdivision    *string  `json:"subdivision,omitempty"`
	Country        *string  `json:"country,omitempty"`
	CountryCode    *string  `json:"country_code,omitempty"`
	Continent      *string  `json:"continent,omitempty"`
	ContinentCode  *string  `json:"continent_code,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	Timezone       *string  `json:"timezone,omitempty"`
	AccuracyRadius *uint16  `json:"accuracy_radius,omitempty"`
}

var countryQuery = gountries.New()

// newLookupResult projects a decoded record mapping into the response
// shape. Lite databases often skip country names, so those fall back
// to the gountries dataset keyed by the ISO code.
func newLookupResult(ip string, record map[string]interface{}) LookupResult {
	rv := LookupResult{IP: ip}

	if city := subMapping(record, "city"); city != nil {
		rv.City = englishName(city)
	}

	if subdivisions, ok := record["subdivisions"].([]interface{}); ok && len(subdivisions) > 0 {
		if first, ok := subdivisions[0].(map[string]interface{}); ok {
			rv.Subdivision = englishName(first)
		}
	}

	if country := subMapping(record, "country"); country != nil {
		rv.Country = englishName(country)
		rv.CountryCode = stringField(country, "iso_code")
	}

	if continent := subMapping(record, "continent"); continent != nil {
		rv.Continent = englishName(continent)
		rv.ContinentCode = stringField(continent, "code")
	}

	if location := subMapping(record, "location"); location != nil {
		rv.Latitude = floatField(location, "latitude")
		rv.Longitude = floatField(location, "longitude")
		rv.Timezone = stringField(location, "time_zone")

		if radius, ok := location["accuracy_radius"].(uint16); ok {
			rv.AccuracyRadius = &radius
		}
	}

	if rv.Country == nil && rv.CountryCode != nil {
		if found, err := countryQuery.FindCountryByAlpha(*rv.CountryCode); err == nil {
			name := found.Name.Common
			rv.Country = &name
		}
	}

	return rv
}

func subMapping(record map[string]interface{}, key string) map[string]interface{} {
	value, _ := record[key].(map[string]interface{})

	return value
}

func englishName(mapping map[string]interface{}) *string {
	names := subMapping(mapping, "names")
	if names == nil {
		return nil
	}

	return stringField(names, "en")
}

func stringField(mapping map[string]interface{}, key string) *string {
	if value, ok := mapping[key].(string); ok && value != "" {
		return &value
	}

	return nil
}

func floatField(mapping map[string]interface{}, key string) *float64 {
	switch value := mapping[key].(type) {
	case float64:
		return &value
	case float32:
		converted := float64(value)

		return &converted
	}

	return nil
}
