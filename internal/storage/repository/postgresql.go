// Package repository реализует хранилище данных на основе PostgreSQL
// для управления пользователями, правилами пересылки и платежными
// транзакциями. Предоставляет методы создания, чтения, обновления
// и удаления записей.
package repository

import (
	"database/sql"
	"fmt"

	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Storage инкапсулирует соединение с базой данных PostgreSQL
// и реализует методы работы с пользователями, правилами и транзакциями.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL.
func New(storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{DB: db}, nil
}

// CheckDatabaseReady проверяет доступность базы данных.
func CheckDatabaseReady(s *Storage) error {
	const op = "storage.CheckDatabaseReady"
	if err := s.DB.Ping(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close закрывает соединение с базой данных.
func (s *Storage) Close() error {
	return s.DB.Close()
}
