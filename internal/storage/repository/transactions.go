package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/teleforward/forwarder-bot/internal/models"
)

// CreateTransaction сохраняет новую транзакцию в статусе initiated
// и возвращает её ID.
func (s *Storage) CreateTransaction(ctx context.Context, tx models.Transaction) (int64, error) {
	const op = "storage.CreateTransaction"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO transactions (user_id, reference, email, amount, currency, status)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  RETURNING id`
	var newID int64
	err := s.DB.QueryRowContext(ctx, query,
		tx.UserID, tx.Reference, tx.Email, tx.Amount, tx.Currency, tx.Status).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// GetTransactionByReference возвращает транзакцию по платежному reference.
func (s *Storage) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	const op = "storage.GetTransactionByReference"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_id, reference, email, amount, currency, status,
			      created_at, verified_at
			  FROM transactions
			  WHERE reference = $1`
	tx := &models.Transaction{}
	var verifiedAt sql.NullTime
	err := s.DB.QueryRowContext(ctx, query, reference).Scan(
		&tx.ID, &tx.UserID, &tx.Reference, &tx.Email, &tx.Amount,
		&tx.Currency, &tx.Status, &tx.CreatedAt, &verifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrUnknownReference)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if verifiedAt.Valid {
		tx.VerifiedAt = &verifiedAt.Time
	}
	return tx, nil
}

// HasInitiatedTransaction сообщает, есть ли у пользователя транзакция,
// ожидающая оплаты.
func (s *Storage) HasInitiatedTransaction(ctx context.Context, userID int64) (bool, error) {
	const op = "storage.HasInitiatedTransaction"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT EXISTS(SELECT 1 FROM transactions WHERE user_id = $1 AND status = 'initiated')`
	var exists bool
	if err := s.DB.QueryRowContext(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

// MarkTransactionVerified переводит транзакцию из initiated в verified.
// Условие по статусу гарантирует, что переход выполнится не более одного
// раза даже при конкурентных подтверждениях; возвращает число обновленных строк.
func (s *Storage) MarkTransactionVerified(ctx context.Context, reference string, verifiedAt time.Time) (int64, error) {
	const op = "storage.MarkTransactionVerified"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE transactions
			  SET status = 'verified', verified_at = $2
			  WHERE reference = $1 AND status = 'initiated'`
	result, err := s.DB.ExecContext(ctx, query, reference, verifiedAt)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected, nil
}

// MarkTransactionFailed переводит транзакцию из initiated в failed.
func (s *Storage) MarkTransactionFailed(ctx context.Context, reference string) (int64, error) {
	const op = "storage.MarkTransactionFailed"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE transactions
			  SET status = 'failed'
			  WHERE reference = $1 AND status = 'initiated'`
	result, err := s.DB.ExecContext(ctx, query, reference)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected, nil
}
