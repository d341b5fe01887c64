package repository

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/Notifuse/dispatch/internal/domain"
)

var deliveryHistoryColumns = []string{
	"id", "batch_id", "message_id", "destination", "provider_identity",
	"status", "attempts", "error_category", "error_detail", "created_at",
}

// DeliveryHistoryRepository implements domain.DeliveryHistoryRepository for PostgreSQL
type DeliveryHistoryRepository struct {
	db   *sql.DB
	psql sq.StatementBuilderType
}

// NewDeliveryHistoryRepository creates a new PostgreSQL delivery history repository
func NewDeliveryHistoryRepository(db *sql.DB) *DeliveryHistoryRepository {
	return &DeliveryHistoryRepository{
		db:   db,
		psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Record inserts one terminal outcome
func (r *DeliveryHistoryRepository) Record(ctx context.Context, record *domain.DeliveryRecord) error {
	query, args, err := r.psql.Insert("delivery_history").
		Columns(deliveryHistoryColumns...).
		Values(
			record.ID,
			record.BatchID,
			nullString(record.MessageID),
			record.Destination,
			record.ProviderIdentity,
			string(record.Status),
			record.Attempts,
			record.ErrorCategory,
			record.ErrorDetail,
			record.CreatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// ListByBatch returns the records of a batch in the order they were produced
func (r *DeliveryHistoryRepository) ListByBatch(ctx context.Context, batchID string) ([]*domain.DeliveryRecord, error) {
	query, args, err := r.psql.Select(deliveryHistoryColumns...).
		From("delivery_history").
		Where(sq.Eq{"batch_id": batchID}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery history: %w", err)
	}
	defer rows.Close()

	var records []*domain.DeliveryRecord
	for rows.Next() {
		record, err := scanDeliveryRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery history: %w", err)
	}
	return records, nil
}

// CountByStatus returns the number of records of a batch per status
func (r *DeliveryHistoryRepository) CountByStatus(ctx context.Context, batchID string) (map[domain.DeliveryStatus]int, error) {
	query, args, err := r.psql.Select("status", "COUNT(*)").
		From("delivery_history").
		Where(sq.Eq{"batch_id": batchID}).
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build count query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count delivery history: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.DeliveryStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[domain.DeliveryStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}
	return counts, nil
}

func scanDeliveryRecord(rows *sql.Rows) (*domain.DeliveryRecord, error) {
	var (
		record        domain.DeliveryRecord
		status        string
		messageID     sql.NullString
		errorCategory sql.NullString
		errorDetail   sql.NullString
	)
	err := rows.Scan(
		&record.ID,
		&record.BatchID,
		&messageID,
		&record.Destination,
		&record.ProviderIdentity,
		&status,
		&record.Attempts,
		&errorCategory,
		&errorDetail,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Status = domain.DeliveryStatus(status)
	record.MessageID = messageID.String
	if errorCategory.Valid {
		record.ErrorCategory = &errorCategory.String
	}
	if errorDetail.Valid {
		record.ErrorDetail = &errorDetail.String
	}
	return &record, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
