// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// epoch values above this threshold are interpreted as milliseconds. It
// corresponds to year 5138 in seconds and 1973 in milliseconds.
const millisecondThreshold = 1e11

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate converts the supported date representations (time.Time, date
// strings, epoch seconds or milliseconds) into a UTC time.
func ParseDate(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d.UTC(), !d.IsZero()
	case *time.Time:
		if d == nil {
			return time.Time{}, false
		}
		return ParseDate(*d)
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f), true
		}
		return time.Time{}, false
	case json.Number:
		f, err := d.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f), true
	case int:
		return fromEpoch(float64(d)), true
	case int64:
		return fromEpoch(float64(d)), true
	case float64:
		return fromEpoch(d), true
	default:
		return time.Time{}, false
	}
}

func fromEpoch(f float64) time.Time {
	if f > millisecondThreshold || f < -millisecondThreshold {
		return time.UnixMilli(int64(f)).UTC()
	}
	return time.Unix(int64(f), 0).UTC()
}

// DateToISO formats a date for mapping based backends.
func DateToISO(v any) (string, bool) {
	t, ok := ParseDate(v)
	if !ok {
		return "", false
	}
	return t.Format(time.RFC3339), true
}

// DateToEpoch formats a date as epoch seconds, downscaling millisecond inputs.
func DateToEpoch(v any) (int64, bool) {
	t, ok := ParseDate(v)
	if !ok {
		return 0, false
	}
	return t.Unix(), true
}

// DateFormat selects how NormalizeDocument writes date fields.
type DateFormat int

const (
	DateISO DateFormat = iota
	DateEpoch
)

// NormalizeDocument returns a copy of doc with the objectID coerced to a string
// and date fields rewritten in the requested format. Unparseable dates are
// left untouched.
func NormalizeDocument(idx *Index, doc Document, format DateFormat) (Document, error) {
	id, err := doc.ObjectID()
	if err != nil {
		return nil, err
	}
	out := doc.Clone()
	out[ObjectIDField] = id
	for _, fm := range idx.FieldMappings {
		if fm.IndexFieldType != FieldDate {
			continue
		}
		v, found := out[fm.IndexFieldName]
		if !found || v == nil {
			continue
		}
		switch format {
		case DateISO:
			if s, ok := DateToISO(v); ok {
				out[fm.IndexFieldName] = s
			}
		case DateEpoch:
			if n, ok := DateToEpoch(v); ok {
				out[fm.IndexFieldName] = n
			}
		}
	}
	return out, nil
}
