package mmdbtest

// CityRecord returns a record shaped like the vendor's city database:
// nested city/country/continent/location mappings with english names.
func CityRecord(city, countryCode, country string, latitude, longitude float64) map[string]interface{} {
	return map[string]interface{}{
		"city": map[string]interface{}{
			"names": map[string]interface{}{"en": city},
		},
		"country": map[string]interface{}{
			"iso_code": countryCode,
			"names":    map[string]interface{}{"en": country},
		},
		"continent": map[string]interface{}{
			"code":  "NA",
			"names": map[string]interface{}{"en": "North America"},
		},
		"location": map[string]interface{}{
			"latitude":        latitude,
			"longitude":       longitude,
			"time_zone":       "America/Los_Angeles",
			"accuracy_radius": uint16(1000),
		},
		"subdivisions": []interface{}{
			map[string]interface{}{
				"names": map[string]interface{}{"en": "California"},
			},
		},
	}
}
