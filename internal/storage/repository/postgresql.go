// Package repository реализует хранилище данных на основе PostgreSQL:
// пользователи с балансом и подпиской, платежи, реферальные записи,
// зеркала выдач на узлах доступа и outbox рассылки. Сериализация
// конкурентных изменений одного пользователя обеспечивается блокировкой
// строки (SELECT ... FOR UPDATE) внутри транзакции.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Ошибки хранилища. Отсутствие записи отличается от недоступности базы:
// первое — ожидаемый исход, второе коротко замыкает операцию.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// storeErr помечает инфраструктурный отказ базы, сохраняя исходную причину
// в цепочке ошибок.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// Storage инкапсулирует соединение с базой данных PostgreSQL.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL.
func New(storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, storeErr(op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		return nil, storeErr(op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// WithTx выполняет fn внутри транзакции. При ошибке fn транзакция
// откатывается и ошибка возвращается как есть, чтобы вызывающий мог
// различать доменные ошибки через errors.Is.
func (s *Storage) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	const op = "storage.WithTx"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr(op, err)
	}
	return nil
}

// CheckDatabaseReady проверяет готовность базы данных.
func (s *Storage) CheckDatabaseReady(ctx context.Context) error {
	var exists bool
	err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (
        SELECT FROM information_schema.tables
        WHERE table_name = 'users'
    )`).Scan(&exists)
	if err != nil || !exists {
		return fmt.Errorf("required table users missing or query error: %w", err)
	}
	return nil
}
