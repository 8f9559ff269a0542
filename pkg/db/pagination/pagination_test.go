package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type row struct{ id string }

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "42", CreatedAt: "2026-01-02T03:04:05Z"})
	require.NoError(t, err)

	decoded, err := DecodeCursor(token)
	require.NoError(t, err)
	require.Equal(t, "42", decoded.ID)
	require.Equal(t, "2026-01-02T03:04:05Z", decoded.CreatedAt)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	require.Error(t, err)
}

func TestBuildCursorPageInfo(t *testing.T) {
	rows := []*row{{"a"}, {"b"}, {"c"}}
	info := BuildCursorPageInfo(rows, 2, func(r *row) string { return r.id })
	require.True(t, info.HasMore)
	require.Equal(t, "b", info.NextPageToken)

	info = BuildCursorPageInfo(rows, 5, func(r *row) string { return r.id })
	require.False(t, info.HasMore)

	require.False(t, BuildCursorPageInfo([]*row{}, 5, func(r *row) string { return r.id }).HasMore)
}

func TestClampPageSize(t *testing.T) {
	require.EqualValues(t, 50, ClampPageSize(0))
	require.EqualValues(t, 250, ClampPageSize(1000))
	require.EqualValues(t, 20, ClampPageSize(20))
}
