// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndex_Validate(t *testing.T) {
	t.Parallel()

	validIndex := func() *Index {
		return &Index{
			Handle:     "products",
			EngineType: KindMeilisearch,
			FieldMappings: []FieldMapping{
				{SourceField: "name", IndexFieldName: "title", IndexFieldType: FieldText, Role: RoleTitle},
				{SourceField: "img", IndexFieldName: "image", IndexFieldType: FieldKeyword, Role: RoleImage},
			},
		}
	}

	tests := []struct {
		name   string
		modify func(*Index)

		wantErr bool
	}{
		{name: "ok", modify: func(*Index) {}},
		{name: "error - missing handle", modify: func(i *Index) { i.Handle = " " }, wantErr: true},
		{name: "error - unknown engine", modify: func(i *Index) { i.EngineType = "solr" }, wantErr: true},
		{name: "error - unknown mode", modify: func(i *Index) { i.Mode = "sometimes" }, wantErr: true},
		{
			name: "error - duplicate role",
			modify: func(i *Index) {
				i.FieldMappings[1].Role = RoleTitle
			},
			wantErr: true,
		},
		{
			name: "error - duplicate field name",
			modify: func(i *Index) {
				i.FieldMappings[1].IndexFieldName = "title"
				i.FieldMappings[1].Role = RoleNone
			},
			wantErr: true,
		},
		{
			name: "error - unknown field type",
			modify: func(i *Index) {
				i.FieldMappings[0].IndexFieldType = "blob"
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			idx := validIndex()
			tc.modify(idx)
			err := idx.Validate()
			if !tc.wantErr {
				require.NoError(t, err)
				return
			}
			var validationErr *ValidationError
			require.True(t, errors.As(err, &validationErr), "got %v", err)
		})
	}
}

func TestDocument_ObjectID(t *testing.T) {
	t.Parallel()

	id, err := Document{ObjectIDField: int64(99)}.ObjectID()
	require.NoError(t, err)
	require.Equal(t, "99", id)

	_, err = Document{}.ObjectID()
	require.Error(t, err)
	_, err = Document{ObjectIDField: []string{"a"}}.ObjectID()
	require.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error

		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "validation", err: NewValidationError("bad"), want: false},
		{name: "unsupported", err: fmt.Errorf("wrap: %w", ErrUnsupported), want: false},
		{name: "not found", err: &StatusError{Status: http.StatusNotFound}, want: false},
		{name: "forbidden", err: &StatusError{Status: http.StatusForbidden}, want: false},
		{name: "too many requests", err: &StatusError{Status: http.StatusTooManyRequests}, want: true},
		{name: "bad gateway", err: &StatusError{Status: http.StatusBadGateway}, want: true},
		{name: "network", err: errors.New("connection reset"), want: true},
		{
			name: "bulk with retriable failures",
			err:  &BulkError{Failures: []DocumentFailure{{ObjectID: "1", Retriable: true}, {ObjectID: "2"}}},
			want: true,
		},
		{
			name: "bulk with permanent failures",
			err:  &BulkError{Failures: []DocumentFailure{{ObjectID: "2", Status: 400}}},
			want: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestStatusError_Is(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, &StatusError{Status: http.StatusUnauthorized}, ErrConnection)
	require.ErrorIs(t, &StatusError{Status: http.StatusForbidden}, ErrPermissionRestricted)
	require.ErrorIs(t, fmt.Errorf("x: %w", &StatusError{Status: http.StatusNotFound}), ErrIndexNotFound)
	require.NotErrorIs(t, &StatusError{Status: http.StatusInternalServerError}, ErrConnection)
}

func TestNewIndexSet(t *testing.T) {
	t.Parallel()

	a := &Index{Handle: "a", EngineType: KindTypesense}
	b := &Index{Handle: "b", EngineType: KindAlgolia}

	set, err := NewIndexSet(b, a)
	require.NoError(t, err)
	require.Equal(t, []*Index{a, b}, set.Indexes())
	got, found := set.Index("a")
	require.True(t, found)
	require.Same(t, a, got)
	_, found = set.Index("c")
	require.False(t, found)

	_, err = NewIndexSet(a, &Index{Handle: "a", EngineType: KindAlgolia})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	_, err = NewIndexSet(&Index{Handle: "x", EngineType: "solr"})
	require.ErrorAs(t, err, &validationErr)
}
