package metadata

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "pgx"), zap.NewNop()), mock
}

func TestCreateKnowledgeBase(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO knowledge_bases`)).
		WithArgs(sqlmock.AnyArg(), "bge-base-zh-v1.5", 768, "Docs", "", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	kb, err := store.CreateKnowledgeBase(context.Background(), CreateKnowledgeBaseParams{
		EmbeddingModel: "bge-base-zh-v1.5",
		Dimension:      768,
		DisplayName:    "Docs",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, kb.ID)
	assert.Equal(t, 768, kb.Dimension)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateKnowledgeBaseRejectsBadDimension(t *testing.T) {
	store, _ := newMockStore(t)
	_, err := store.CreateKnowledgeBase(context.Background(), CreateKnowledgeBaseParams{
		EmbeddingModel: "m",
		Dimension:      0,
	})
	assert.Error(t, err)
}

func TestGetKnowledgeBaseNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, embedding_model`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetKnowledgeBase(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateTaskProgressTerminalForcesOne(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tasks SET status = $2, progress = GREATEST(progress, $3)`)).
		WithArgs("t1", string(StatusCompleted), 1.0, "done", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	half := 0.5
	err := store.UpdateTaskProgress(context.Background(), "t1", StatusCompleted, &half, "done")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDocumentStatusFailed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE documents SET index_status`)).
		WithArgs("d1", string(StatusFailed), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.UpdateDocumentStatus(context.Background(), "d1", StatusFailed, "boom")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddMetadataKeysSkipsBuiltInsAndExisting(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT key FROM metadata_fields`)).
		WithArgs("kb1").
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("author"))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO metadata_fields`)).
		WithArgs(sqlmock.AnyArg(), "kb1", "category", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	added, err := store.AddMetadataKeys(context.Background(), "kb1",
		[]string{"document_id", "filename", "author", "category", "category", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"category"}, added)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteKnowledgeBaseCascades(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM metadata_fields`)).WithArgs("kb1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM tasks`)).WithArgs("kb1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM documents`)).WithArgs("kb1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM knowledge_bases`)).WithArgs("kb1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.DeleteKnowledgeBase(context.Background(), "kb1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDocumentsByKB(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, knowledge_base_id, filename`)).
		WithArgs("kb1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "knowledge_base_id", "filename", "source_url", "index_status", "failed_message", "created_at", "updated_at"}).
			AddRow("d2", "kb1", "b.txt", "", "COMPLETED", nil, now, now).
			AddRow("d1", "kb1", "a.txt", "", "FAILED", "no extractable content", now.Add(-time.Hour), now))

	docs, err := store.ListDocumentsByKB(context.Background(), "kb1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, StatusCompleted, docs[0].IndexStatus)
	assert.True(t, docs[1].FailedMessage.Valid)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM documents`)).
		WithArgs("d1").
		WillReturnError(errors.New("write conflict"))
	mock.ExpectRollback()

	err := store.DeleteDocument(context.Background(), "d1")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}
