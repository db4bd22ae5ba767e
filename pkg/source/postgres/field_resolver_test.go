// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/orchestrator"
)

func Test_FindParameter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		params    Parameters
		paramName string

		wantFound bool
		wantParam int
		wantErr   error
	}{
		{
			name:      "ok",
			params:    Parameters{"test": 1},
			paramName: "test",
			wantFound: true,
			wantParam: 1,
		},
		{
			name:      "ok - not found",
			params:    Parameters{"test": 1},
			paramName: "another",
		},
		{
			name:      "error - invalid parameter type",
			params:    Parameters{"test": "1"},
			paramName: "test",
			wantFound: true,
			wantErr:   ErrInvalidParameters,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, found, err := FindParameter[int](tc.params, tc.paramName)
			require.ErrorIs(t, err, tc.wantErr)
			require.Equal(t, tc.wantFound, found)
			require.Equal(t, tc.wantParam, got)
		})
	}
}

func TestNewFieldResolver(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config map[string]any

		wantResolver FieldResolver
		wantErr      bool
	}{
		{
			name:         "ok - no config",
			wantResolver: columnFieldResolver{},
		},
		{
			name:         "ok - column",
			config:       map[string]any{"type": "column"},
			wantResolver: columnFieldResolver{},
		},
		{
			name:         "ok - template without type",
			config:       map[string]any{"template": "{{ .Value }}"},
			wantResolver: &TemplateFieldResolver{},
		},
		{
			name:         "ok - masking",
			config:       map[string]any{"type": "masking", "masking_type": "name"},
			wantResolver: &MaskingFieldResolver{},
		},
		{
			name:         "ok - json path",
			config:       map[string]any{"type": "json_path", "path": "a.b"},
			wantResolver: &JSONPathFieldResolver{},
		},
		{
			name:         "ok - literal",
			config:       map[string]any{"type": "literal", "value": 3},
			wantResolver: &LiteralFieldResolver{},
		},
		{
			name:    "error - unknown type",
			config:  map[string]any{"type": "uppercase"},
			wantErr: true,
		},
		{
			name:    "error - type not a string",
			config:  map[string]any{"type": 1},
			wantErr: true,
		},
		{
			name:    "error - unexpected parameter",
			config:  map[string]any{"type": "column", "path": "a"},
			wantErr: true,
		},
		{
			name:    "error - template cannot be parsed",
			config:  map[string]any{"template": "{{ if eq syntaxerror"},
			wantErr: true,
		},
		{
			name:    "error - invalid masking type",
			config:  map[string]any{"type": "masking", "masking_type": "ssn"},
			wantErr: true,
		},
		{
			name:    "error - json path missing",
			config:  map[string]any{"type": "json_path"},
			wantErr: true,
		},
		{
			name:    "error - literal missing",
			config:  map[string]any{"type": "literal"},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r, err := NewFieldResolver(engine.FieldMapping{IndexFieldName: "field", ResolverConfig: tc.config})
			if tc.wantErr {
				var validationErr *engine.ValidationError
				require.ErrorAs(t, err, &validationErr)
				return
			}
			require.NoError(t, err)
			require.IsType(t, tc.wantResolver, r)
		})
	}
}

func TestTemplateFieldResolver_Resolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		template string
		value    any
		record   orchestrator.Record

		wantOutput any
		wantErr    bool
	}{
		{
			name:       "ok - value",
			template:   "{{ .Value | upper }}",
			value:      "hello",
			wantOutput: "HELLO",
		},
		{
			name:       "ok - record columns",
			template:   `{{ .Record.first_name }} {{ .Record.last_name }}`,
			record:     orchestrator.Record{"first_name": "Ada", "last_name": "Lovelace"},
			wantOutput: "Ada Lovelace",
		},
		{
			name:       "ok - conditional with default",
			template:   `{{- if eq (.Value | default "draft") "published" -}} live {{- else -}} hidden {{- end -}}`,
			value:      nil,
			wantOutput: "hidden",
		},
		{
			name:     "error - incompatible types for comparison",
			template: `{{- if eq .Value "hello" -}} first {{- end -}}`,
			value:    1,
			wantErr:  true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r, err := NewTemplateFieldResolver(Parameters{"template": tc.template})
			require.NoError(t, err)

			got, err := r.Resolve(tc.value, tc.record)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantOutput, got)
		})
	}
}

func TestMaskingFieldResolver_Resolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		maskingType string
		value       any

		wantOutput any
		wantErr    error
	}{
		{
			name:        "ok - default",
			maskingType: "default",
			value:       "secret",
			wantOutput:  "******",
		},
		{
			name:        "ok - bytes",
			maskingType: "default",
			value:       []byte("abc"),
			wantOutput:  "***",
		},
		{
			name:        "ok - nil",
			maskingType: "password",
			value:       nil,
			wantOutput:  nil,
		},
		{
			name:        "error - unsupported type",
			maskingType: "default",
			value:       12,
			wantErr:     ErrUnsupportedValueType,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r, err := NewMaskingFieldResolver(Parameters{"masking_type": tc.maskingType})
			require.NoError(t, err)

			got, err := r.Resolve(tc.value, nil)
			require.ErrorIs(t, err, tc.wantErr)
			require.Equal(t, tc.wantOutput, got)
		})
	}
}

func TestJSONPathFieldResolver_Resolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		path  string
		value any

		wantOutput any
		wantErr    error
	}{
		{
			name:       "ok - jsonb map",
			path:       "author.name",
			value:      map[string]any{"author": map[string]any{"name": "ada"}},
			wantOutput: "ada",
		},
		{
			name:       "ok - json text",
			path:       "tags.#",
			value:      `{"tags": ["a", "b"]}`,
			wantOutput: float64(2),
		},
		{
			name:       "ok - array",
			path:       "tags",
			value:      []byte(`{"tags": ["a", "b"]}`),
			wantOutput: []any{"a", "b"},
		},
		{
			name:       "ok - missing path",
			path:       "missing",
			value:      `{}`,
			wantOutput: nil,
		},
		{
			name:       "ok - nil",
			path:       "a",
			value:      nil,
			wantOutput: nil,
		},
		{
			name:    "error - invalid json",
			path:    "a",
			value:   `{"a":`,
			wantErr: ErrUnsupportedValueType,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r, err := NewJSONPathFieldResolver(Parameters{"path": tc.path})
			require.NoError(t, err)

			got, err := r.Resolve(tc.value, nil)
			require.ErrorIs(t, err, tc.wantErr)
			require.Equal(t, tc.wantOutput, got)
		})
	}
}
