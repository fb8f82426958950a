package vectorstore

import (
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
)

func TestResultSetHasRows(t *testing.T) {
	assert.False(t, resultSetHasRows(nil))
	assert.False(t, resultSetHasRows(client.ResultSet{
		entity.NewColumnVarChar("pk", nil),
	}))
	assert.True(t, resultSetHasRows(client.ResultSet{
		entity.NewColumnVarChar("pk", []string{"seg1"}),
	}))
}
