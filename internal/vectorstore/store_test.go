package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentID(t *testing.T) {
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", SegmentID("hello"))
	assert.Equal(t, SegmentID("same"), SegmentID("same"))
	assert.NotEqual(t, SegmentID("a"), SegmentID("b"))
}

func TestCollectionName(t *testing.T) {
	tests := []struct {
		kbID string
		want string
	}{
		{"abc123", "vector_index_abc123"},
		{"550e8400-e29b-41d4-a716-446655440000", "vector_index_550e8400_e29b_41d4_a716_446655440000"},
		{"MiXeD-Case", "vector_index_mixed_case"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CollectionName(tt.kbID))
	}
}

func TestValidateCollectionName(t *testing.T) {
	require.NoError(t, validateCollectionName("vector_index_abc"))
	assert.Error(t, validateCollectionName("has-dash"))
	assert.Error(t, validateCollectionName("Upper"))
	assert.Error(t, validateCollectionName("drop table; --"))
	assert.Error(t, validateCollectionName(""))
}

func TestNormalizeFilter(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, NormalizeFilter(nil))
		assert.Nil(t, NormalizeFilter(map[string]any{}))
		assert.Nil(t, NormalizeFilter(map[string]any{"k": nil, "": "v"}))
	})

	t.Run("scalars pass through", func(t *testing.T) {
		out := NormalizeFilter(map[string]any{"user_id": "u1", "page": 3})
		assert.Equal(t, map[string]any{"user_id": "u1", "page": 3}, out)
	})

	t.Run("lists keep non nil items", func(t *testing.T) {
		out := NormalizeFilter(map[string]any{
			"document_id": []any{"d1", nil, "d2"},
			"empty":       []any{nil},
		})
		assert.Equal(t, map[string]any{"document_id": []any{"d1", "d2"}}, out)
	})

	t.Run("string slices become any lists", func(t *testing.T) {
		out := NormalizeFilter(map[string]any{"tag": []string{"a", "b"}})
		assert.Equal(t, map[string]any{"tag": []any{"a", "b"}}, out)
	})
}

func TestFilterExpr(t *testing.T) {
	assert.Empty(t, filterExpr(nil))
	assert.Equal(t, `metadata["user_id"] == "u1"`, filterExpr(map[string]any{"user_id": "u1"}))
	assert.Equal(t, `metadata["page"] == 3`, filterExpr(map[string]any{"page": 3}))
	assert.Equal(t, `metadata["ids"] in ["a", "b"]`, filterExpr(map[string]any{"ids": []any{"a", "b"}}))
}

func TestFilterConditions(t *testing.T) {
	var args []any
	conds := filterConditions(NormalizeFilter(map[string]any{"user_id": "u1"}), &args)
	require.Len(t, conds, 1)
	assert.Equal(t, "meta_data->>$1::text = $2", conds[0])
	assert.Equal(t, []any{"user_id", "u1"}, args)

	args = nil
	conds = filterConditions(NormalizeFilter(map[string]any{"ids": []any{"a", 2}}), &args)
	require.Len(t, conds, 1)
	assert.Equal(t, "meta_data->>$1::text = ANY($2)", conds[0])
	assert.Equal(t, []any{"ids", []string{"a", "2"}}, args)
}
