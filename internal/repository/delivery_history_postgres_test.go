package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Notifuse/dispatch/internal/domain"
)

var _ domain.DeliveryHistoryRepository = (*DeliveryHistoryRepository)(nil)

func stringPtr(s string) *string { return &s }

func TestDeliveryHistoryRepository_Record(t *testing.T) {
	createdAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("delivered", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewDeliveryHistoryRepository(db)
		record := &domain.DeliveryRecord{
			ID:               "7b0c2a52-0000-4000-8000-000000000001",
			BatchID:          "7b0c2a52-0000-4000-8000-0000000000aa",
			MessageID:        "msg-1",
			Destination:      "ada@example.com",
			ProviderIdentity: "gmail",
			Status:           domain.DeliveryStatusDelivered,
			Attempts:         1,
			CreatedAt:        createdAt,
		}

		mock.ExpectExec("INSERT INTO delivery_history").
			WithArgs(record.ID, record.BatchID, "msg-1", "ada@example.com", "gmail", "delivered", 1, nil, nil, createdAt).
			WillReturnResult(sqlmock.NewResult(1, 1))

		assert.NoError(t, repo.Record(context.Background(), record))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed with error detail", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewDeliveryHistoryRepository(db)
		record := &domain.DeliveryRecord{
			ID:               "id-2",
			BatchID:          "batch-1",
			Destination:      "bob@example.org",
			ProviderIdentity: "mx.example.org",
			Status:           domain.DeliveryStatusPermanentlyFailed,
			Attempts:         4,
			ErrorCategory:    stringPtr("connection"),
			ErrorDetail:      stringPtr("connection refused"),
			CreatedAt:        createdAt,
		}

		mock.ExpectExec("INSERT INTO delivery_history").
			WithArgs("id-2", "batch-1", nil, "bob@example.org", "mx.example.org", "permanently_failed", 4, "connection", "connection refused", createdAt).
			WillReturnResult(sqlmock.NewResult(1, 1))

		assert.NoError(t, repo.Record(context.Background(), record))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exec error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("INSERT INTO delivery_history").WillReturnError(errors.New("connection reset"))

		err = NewDeliveryHistoryRepository(db).Record(context.Background(), &domain.DeliveryRecord{ID: "id", CreatedAt: createdAt})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to record delivery")
	})
}

func TestDeliveryHistoryRepository_ListByBatch(t *testing.T) {
	createdAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	selectQuery := regexp.QuoteMeta("SELECT id, batch_id, message_id, destination, provider_identity, status, attempts, error_category, error_detail, created_at FROM delivery_history WHERE batch_id = $1 ORDER BY created_at ASC, id ASC")

	t.Run("success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		rows := sqlmock.NewRows(deliveryHistoryColumns).
			AddRow("id-1", "batch-1", "msg-1", "ada@example.com", "gmail", "delivered", 2, nil, nil, createdAt).
			AddRow("id-2", "batch-1", nil, "bob@example.org", "default", "permanently_failed", 1, "render", "missing variable", createdAt.Add(time.Second))
		mock.ExpectQuery(selectQuery).WithArgs("batch-1").WillReturnRows(rows)

		records, err := NewDeliveryHistoryRepository(db).ListByBatch(context.Background(), "batch-1")
		require.NoError(t, err)
		require.Len(t, records, 2)

		assert.Equal(t, "msg-1", records[0].MessageID)
		assert.Equal(t, domain.DeliveryStatusDelivered, records[0].Status)
		assert.Equal(t, 2, records[0].Attempts)
		assert.Nil(t, records[0].ErrorCategory)
		assert.Nil(t, records[0].ErrorDetail)

		assert.Empty(t, records[1].MessageID)
		assert.Equal(t, domain.DeliveryStatusPermanentlyFailed, records[1].Status)
		require.NotNil(t, records[1].ErrorCategory)
		assert.Equal(t, "render", *records[1].ErrorCategory)
		assert.Equal(t, "missing variable", *records[1].ErrorDetail)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(selectQuery).WillReturnError(errors.New("boom"))

		_, err = NewDeliveryHistoryRepository(db).ListByBatch(context.Background(), "batch-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to query delivery history")
	})

	t.Run("scan error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		rows := sqlmock.NewRows(deliveryHistoryColumns).
			AddRow("id-1", "batch-1", nil, "ada@example.com", "gmail", "delivered", "not a number", nil, nil, createdAt)
		mock.ExpectQuery(selectQuery).WillReturnRows(rows)

		_, err = NewDeliveryHistoryRepository(db).ListByBatch(context.Background(), "batch-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to scan delivery record")
	})
}

func TestDeliveryHistoryRepository_CountByStatus(t *testing.T) {
	countQuery := regexp.QuoteMeta("SELECT status, COUNT(*) FROM delivery_history WHERE batch_id = $1 GROUP BY status")

	t.Run("success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(countQuery).WithArgs("batch-1").
			WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
				AddRow("delivered", 8).
				AddRow("permanently_failed", 1).
				AddRow("cancelled", 3))

		counts, err := NewDeliveryHistoryRepository(db).CountByStatus(context.Background(), "batch-1")
		require.NoError(t, err)
		assert.Equal(t, map[domain.DeliveryStatus]int{
			domain.DeliveryStatusDelivered:         8,
			domain.DeliveryStatusPermanentlyFailed: 1,
			domain.DeliveryStatusCancelled:         3,
		}, counts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(countQuery).WillReturnError(errors.New("boom"))

		_, err = NewDeliveryHistoryRepository(db).CountByStatus(context.Background(), "batch-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to count delivery history")
	})
}
