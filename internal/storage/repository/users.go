package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/teleforward/forwarder-bot/internal/models"
)

// GetOrCreateUser возвращает пользователя, создавая запись при первом
// обращении. Тариф нового пользователя — free, счетчик сообщений нулевой.
func (s *Storage) GetOrCreateUser(ctx context.Context, id int64, username string, now time.Time) (*models.User, error) {
	const op = "storage.GetOrCreateUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO users (id, username, plan, daily_messages, last_reset)
			  VALUES ($1, $2, 'free', 0, $3)
			  ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username
			  RETURNING id, username, plan, premium_until, daily_messages,
			      last_reset, is_disabled, created_at`
	return s.scanUser(s.DB.QueryRowContext(ctx, query, id, username, now), op)
}

// GetUser возвращает пользователя по Telegram id.
func (s *Storage) GetUser(ctx context.Context, id int64) (*models.User, error) {
	const op = "storage.GetUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, username, plan, premium_until, daily_messages,
			      last_reset, is_disabled, created_at
			  FROM users
			  WHERE id = $1`
	u, err := s.scanUser(s.DB.QueryRowContext(ctx, query, id), op)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return u, err
}

// ResetDailyCounter обнуляет дневной счетчик и сдвигает границу квотных
// суток. Условие last_reset < $2 делает операцию идемпотентной: повторный
// вызов в те же сутки ничего не меняет.
func (s *Storage) ResetDailyCounter(ctx context.Context, userID int64, resetAt time.Time) error {
	const op = "storage.ResetDailyCounter"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET daily_messages = 0, last_reset = $2
			  WHERE id = $1 AND last_reset < $2`
	if _, err := s.DB.ExecContext(ctx, query, userID, resetAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// IncrementDailyMessages увеличивает дневной счетчик на единицу
// и возвращает новое значение.
func (s *Storage) IncrementDailyMessages(ctx context.Context, userID int64) (int, error) {
	const op = "storage.IncrementDailyMessages"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET daily_messages = daily_messages + 1
			  WHERE id = $1
			  RETURNING daily_messages`
	var count int
	if err := s.DB.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// ActivatePremium переводит пользователя на premium до указанной даты.
func (s *Storage) ActivatePremium(ctx context.Context, userID int64, until time.Time) error {
	const op = "storage.ActivatePremium"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET plan = 'premium', premium_until = $2
			  WHERE id = $1`
	if _, err := s.DB.ExecContext(ctx, query, userID, until); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DowngradeToFree понижает пользователя до free, сохраняя дату окончания
// premium для истории. Условие по plan делает операцию идемпотентной.
func (s *Storage) DowngradeToFree(ctx context.Context, userID int64) error {
	const op = "storage.DowngradeToFree"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET plan = 'free'
			  WHERE id = $1 AND plan = 'premium'`
	if _, err := s.DB.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListExpiredPremium возвращает пользователей, у которых premium истек
// к моменту now, но тариф еще не понижен.
func (s *Storage) ListExpiredPremium(ctx context.Context, now time.Time) ([]*models.User, error) {
	const op = "storage.ListExpiredPremium"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, username, plan, premium_until, daily_messages,
			      last_reset, is_disabled, created_at
			  FROM users
			  WHERE plan = 'premium' AND premium_until < $1`
	rows, err := s.DB.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var result []*models.User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ListPremiumExpiringSoon возвращает premium-пользователей, подписка
// которых закончится в интервале (now, now+within].
func (s *Storage) ListPremiumExpiringSoon(ctx context.Context, now time.Time, within time.Duration) ([]*models.User, error) {
	const op = "storage.ListPremiumExpiringSoon"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, username, plan, premium_until, daily_messages,
			      last_reset, is_disabled, created_at
			  FROM users
			  WHERE plan = 'premium' AND premium_until > $1 AND premium_until <= $2`
	rows, err := s.DB.QueryContext(ctx, query, now, now.Add(within))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var result []*models.User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Storage) scanUser(row *sql.Row, op string) (*models.User, error) {
	u, err := scanUserRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func scanUserRow(row rowScanner) (*models.User, error) {
	u := &models.User{}
	var plan string
	var premiumUntil sql.NullTime
	if err := row.Scan(&u.ID, &u.Username, &plan, &premiumUntil,
		&u.DailyMessages, &u.LastReset, &u.IsDisabled, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Plan = models.Tier(plan)
	if premiumUntil.Valid {
		u.PremiumUntil = &premiumUntil.Time
	}
	return u, nil
}
