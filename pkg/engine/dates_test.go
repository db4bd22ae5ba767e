// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	t.Parallel()

	want := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value any

		wantTime time.Time
		wantOK   bool
	}{
		{name: "rfc3339", value: "2024-03-01T10:30:00Z", wantTime: want, wantOK: true},
		{name: "sql datetime", value: "2024-03-01 10:30:00", wantTime: want, wantOK: true},
		{name: "epoch seconds", value: want.Unix(), wantTime: want, wantOK: true},
		{name: "epoch milliseconds", value: float64(want.UnixMilli()), wantTime: want, wantOK: true},
		{name: "json number", value: json.Number("1709289000"), wantTime: want, wantOK: true},
		{name: "numeric string milliseconds", value: "1709289000000", wantTime: want, wantOK: true},
		{name: "time value", value: want.In(time.FixedZone("x", 3600)), wantTime: want, wantOK: true},
		{name: "garbage", value: "yesterday", wantOK: false},
		{name: "unsupported type", value: true, wantOK: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, ok := ParseDate(tc.value)
			require.Equal(t, tc.wantOK, ok)
			if ok {
				require.True(t, tc.wantTime.Equal(got), "got %v", got)
			}
		})
	}
}

func TestNormalizeDocument(t *testing.T) {
	t.Parallel()

	idx := &Index{FieldMappings: []FieldMapping{
		{IndexFieldName: "published", IndexFieldType: FieldDate},
		{IndexFieldName: "title", IndexFieldType: FieldText},
	}}
	doc := Document{ObjectIDField: 42, "published": int64(1709289000000), "title": "2024-03-01"}

	epoch, err := NormalizeDocument(idx, doc, DateEpoch)
	require.NoError(t, err)
	require.Equal(t, Document{ObjectIDField: "42", "published": int64(1709289000), "title": "2024-03-01"}, epoch)

	iso, err := NormalizeDocument(idx, doc, DateISO)
	require.NoError(t, err)
	require.Equal(t, "2024-03-01T10:30:00Z", iso["published"])

	// the input document is left untouched
	require.Equal(t, 42, doc[ObjectIDField])

	_, err = NormalizeDocument(idx, Document{"title": "x"}, DateISO)
	require.Error(t, err)
}
