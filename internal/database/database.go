package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

type DB struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	// Создаем директорию для БД, если её нет
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	// Создаем таблицы
	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	logger.Info().Str("path", path).Msg("База данных инициализирована")
	return &DB{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Таблица задач
		`CREATE TABLE IF NOT EXISTS tasks (
            id TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            assignee TEXT NOT NULL DEFAULT '',
            due_date TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            created_by TEXT NOT NULL DEFAULT '',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		// Таблица автомобилей
		`CREATE TABLE IF NOT EXISTS vehicles (
            id TEXT PRIMARY KEY,
            vin TEXT UNIQUE NOT NULL,
            make TEXT NOT NULL DEFAULT '',
            model TEXT NOT NULL DEFAULT '',
            year INTEGER NOT NULL DEFAULT 0,
            purchase_price REAL NOT NULL DEFAULT 0,
            purchase_date TEXT NOT NULL DEFAULT '',
            sale_price REAL,
            sale_date TEXT,
            status TEXT NOT NULL DEFAULT 'available',
            location TEXT NOT NULL DEFAULT '',
            mileage INTEGER NOT NULL DEFAULT 0,
            color TEXT NOT NULL DEFAULT '',
            body_style TEXT NOT NULL DEFAULT '',
            transmission TEXT NOT NULL DEFAULT '',
            fuel_type TEXT NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            features TEXT NOT NULL DEFAULT '',
            images TEXT NOT NULL DEFAULT '',
            publish_to_website BOOLEAN NOT NULL DEFAULT 0,
            publish_to_third_party BOOLEAN NOT NULL DEFAULT 0,
            external_dms_id TEXT NOT NULL DEFAULT '',
            external_dms_source TEXT NOT NULL DEFAULT '',
            accounting_invoice_id TEXT NOT NULL DEFAULT '',
            cargurus_listing_id TEXT NOT NULL DEFAULT '',
            truecar_listing_id TEXT NOT NULL DEFAULT '',
            kbb_listing_id TEXT NOT NULL DEFAULT '',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		// Таблица сервисных работ
		`CREATE TABLE IF NOT EXISTS services (
            id TEXT PRIMARY KEY,
            vehicle_id TEXT NOT NULL,
            service_type TEXT NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            cost REAL NOT NULL DEFAULT 0,
            service_date TEXT NOT NULL DEFAULT '',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		// Таблица комментариев
		`CREATE TABLE IF NOT EXISTS comments (
            id TEXT PRIMARY KEY,
            entity_type TEXT NOT NULL,
            entity_id TEXT NOT NULL,
            user_name TEXT NOT NULL DEFAULT '',
            comment TEXT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		// Очередь синхронизации
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            job_type TEXT NOT NULL,
            entity_id TEXT NOT NULL DEFAULT '',
            payload TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_vehicles_status ON vehicles(status)`,
		`CREATE INDEX IF NOT EXISTS idx_vehicles_vin ON vehicles(vin)`,
		`CREATE INDEX IF NOT EXISTS idx_services_vehicle_id ON services(vehicle_id)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_entity ON comments(entity_type, entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %v", query, err)
		}
	}
	return nil
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.db.ExecContext(ctx, query, args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.db.QueryRowContext(ctx, query, args...)
}

func (db *DB) Close() error {
	return db.db.Close()
}
