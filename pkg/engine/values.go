// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"strconv"
	"strings"
)

const (
	HighlightPreTag  = "<em>"
	HighlightPostTag = "</em>"
)

// Float converts a numeric document value into a float64.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case bool, nil:
		return 0, false
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		f, err := floatValue("", v)
		return f, err == nil
	}
}

// GeoPointValue reads a document geo point, either an object with lat and
// lng (or lon) keys or a "lat,lng" string.
func GeoPointValue(v any) (GeoPoint, bool) {
	switch p := v.(type) {
	case GeoPoint:
		return p, true
	case map[string]any:
		lat, latOK := Float(p["lat"])
		lngValue, found := p["lng"]
		if !found {
			lngValue = p["lon"]
		}
		lng, lngOK := Float(lngValue)
		return GeoPoint{Lat: lat, Lng: lng}, latOK && lngOK
	case string:
		lat, lng, found := strings.Cut(p, ",")
		if !found {
			return GeoPoint{}, false
		}
		latF, latOK := Float(lat)
		lngF, lngOK := Float(lng)
		return GeoPoint{Lat: latF, Lng: lngF}, latOK && lngOK
	default:
		return GeoPoint{}, false
	}
}

// WithObjectID returns the retrieved attribute list extended with objectID.
func WithObjectID(fields []string) []string {
	for _, f := range fields {
		if f == ObjectIDField || f == "*" {
			return fields
		}
	}
	return append(append([]string{}, fields...), ObjectIDField)
}

// HighlightsFromFormatted extracts the highlighted fragments out of a
// formatted copy of the hit, keeping only the string fields carrying the
// highlight marker.
func HighlightsFromFormatted(formatted map[string]any, preTag string) map[string][]string {
	highlights := map[string][]string{}
	for field, v := range formatted {
		switch value := v.(type) {
		case string:
			if strings.Contains(value, preTag) {
				highlights[field] = []string{value}
			}
		case []any:
			fragments := []string{}
			for _, item := range value {
				if s, ok := item.(string); ok && strings.Contains(s, preTag) {
					fragments = append(fragments, s)
				}
			}
			if len(fragments) > 0 {
				highlights[field] = fragments
			}
		}
	}
	return highlights
}

// FormatNumber renders a filter number without a trailing fraction for
// integral values.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
