package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/teleforward/forwarder-bot/internal/models"
)

// CreateRule вставляет новое правило пересылки и возвращает его ID.
// Уникальный индекс по (user_id, source_chat_id, dest_chat_id) страхует
// от дубликатов на уровне базы.
func (s *Storage) CreateRule(ctx context.Context, rule models.Rule) (int64, error) {
	const op = "storage.CreateRule"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO forwarding_rules (user_id, source_chat_id, source_chat_title,
			      dest_chat_id, dest_chat_title, is_active)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  RETURNING id`
	var newID int64
	err := s.DB.QueryRowContext(ctx, query,
		rule.UserID, rule.SourceChatID, rule.SourceChatTitle,
		rule.DestChatID, rule.DestChatTitle, rule.IsActive).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// FindRule ищет правило по тройке (владелец, источник, назначение)
// независимо от флага активности.
func (s *Storage) FindRule(ctx context.Context, userID, sourceChatID, destChatID int64) (*models.Rule, error) {
	const op = "storage.FindRule"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_id, source_chat_id, source_chat_title,
			      dest_chat_id, dest_chat_title, is_active, created_at
			  FROM forwarding_rules
			  WHERE user_id = $1 AND source_chat_id = $2 AND dest_chat_id = $3`
	r, err := scanRule(s.DB.QueryRowContext(ctx, query, userID, sourceChatID, destChatID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

// GetRule возвращает правило по ID.
func (s *Storage) GetRule(ctx context.Context, id int64) (*models.Rule, error) {
	const op = "storage.GetRule"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_id, source_chat_id, source_chat_title,
			      dest_chat_id, dest_chat_title, is_active, created_at
			  FROM forwarding_rules
			  WHERE id = $1`
	r, err := scanRule(s.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

// ListRulesBySource возвращает активные правила для чата-источника
// в порядке создания. Запрос идет по частичному индексу
// idx_forwarding_rules_source и не зависит от общего числа правил.
func (s *Storage) ListRulesBySource(ctx context.Context, sourceChatID int64) ([]*models.Rule, error) {
	const op = "storage.ListRulesBySource"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_id, source_chat_id, source_chat_title,
			      dest_chat_id, dest_chat_title, is_active, created_at
			  FROM forwarding_rules
			  WHERE source_chat_id = $1 AND is_active
			  ORDER BY created_at, id`
	return s.listRules(ctx, op, query, sourceChatID)
}

// ListRulesByOwner возвращает все правила пользователя, включая выключенные.
func (s *Storage) ListRulesByOwner(ctx context.Context, userID int64) ([]*models.Rule, error) {
	const op = "storage.ListRulesByOwner"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_id, source_chat_id, source_chat_title,
			      dest_chat_id, dest_chat_title, is_active, created_at
			  FROM forwarding_rules
			  WHERE user_id = $1
			  ORDER BY created_at, id`
	return s.listRules(ctx, op, query, userID)
}

// CountActiveRules считает активные правила пользователя.
func (s *Storage) CountActiveRules(ctx context.Context, userID int64) (int, error) {
	const op = "storage.CountActiveRules"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT COUNT(*) FROM forwarding_rules WHERE user_id = $1 AND is_active`
	var count int
	if err := s.DB.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// DeleteRule удаляет правило по ID и возвращает количество удаленных строк.
func (s *Storage) DeleteRule(ctx context.Context, id int64) (int64, error) {
	const op = "storage.DeleteRule"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `DELETE FROM forwarding_rules WHERE id = $1`
	result, err := s.DB.ExecContext(ctx, query, id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected, nil
}

// SetRuleActive переключает флаг активности правила.
func (s *Storage) SetRuleActive(ctx context.Context, id int64, active bool) error {
	const op = "storage.SetRuleActive"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE forwarding_rules SET is_active = $2 WHERE id = $1`
	if _, err := s.DB.ExecContext(ctx, query, id, active); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DisableExcessRules выключает все активные правила пользователя сверх
// первых keep по времени создания. Правила не удаляются: понижение тарифа
// не должно приводить к потере данных. Возвращает число выключенных правил.
func (s *Storage) DisableExcessRules(ctx context.Context, userID int64, keep int) (int64, error) {
	const op = "storage.DisableExcessRules"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE forwarding_rules
			  SET is_active = FALSE
			  WHERE user_id = $1 AND is_active AND id NOT IN (
			      SELECT id FROM forwarding_rules
			      WHERE user_id = $1 AND is_active
			      ORDER BY created_at, id
			      LIMIT $2)`
	result, err := s.DB.ExecContext(ctx, query, userID, keep)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected, nil
}

func (s *Storage) listRules(ctx context.Context, op, query string, arg any) ([]*models.Rule, error) {
	rows, err := s.DB.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var result []*models.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

func scanRule(row rowScanner) (*models.Rule, error) {
	r := &models.Rule{}
	if err := row.Scan(&r.ID, &r.UserID, &r.SourceChatID, &r.SourceChatTitle,
		&r.DestChatID, &r.DestChatTitle, &r.IsActive, &r.CreatedAt); err != nil {
		return nil, err
	}
	return r, nil
}
