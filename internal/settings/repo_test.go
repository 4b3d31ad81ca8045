package settings_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/hasan-murad02/rag/internal/settings"
)

func TestPostgresRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := settings.NewPostgresRepo(db)

	t.Run("Success", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "gemini_api_key", "similarity_threshold", "search_limit", "batch_size"}).
			AddRow(1, "key", 0.8, 15, 200)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT id, gemini_api_key, similarity_threshold, search_limit, batch_size FROM settings WHERE id = 1")).
			WillReturnRows(rows)

		s, err := repo.Get(context.Background())
		assert.NoError(t, err)
		assert.NotNil(t, s)
		assert.Equal(t, "key", s.GeminiAPIKey)
		assert.Equal(t, float32(0.8), s.SimilarityThreshold)
		assert.Equal(t, 15, s.SearchLimit)
		assert.Equal(t, 200, s.BatchSize)
	})

	t.Run("Error", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id")).
			WillReturnError(sqlmock.ErrCancelled)

		s, err := repo.Get(context.Background())
		assert.Error(t, err)
		assert.Nil(t, s)
	})
}

func TestPostgresRepo_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := settings.NewPostgresRepo(db)

	s := &settings.Settings{
		GeminiAPIKey:        "k2",
		SimilarityThreshold: 0.6,
		SearchLimit:         20,
		BatchSize:           50,
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE settings SET gemini_api_key = $1, similarity_threshold = $2, search_limit = $3, batch_size = $4, updated_at = NOW() WHERE id = 1")).
		WithArgs(s.GeminiAPIKey, s.SimilarityThreshold, s.SearchLimit, s.BatchSize).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = repo.Update(context.Background(), s)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
