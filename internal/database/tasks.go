package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"carlot/internal/models"
)

var ErrNotFound = errors.New("not found")

// UpsertTask вставляет или обновляет задачу по id; created_at сохраняется
func (db *DB) UpsertTask(ctx context.Context, task *models.Task) error {
	now := time.Now()
	query := `
        INSERT INTO tasks (id, title, description, assignee, due_date, status, created_by, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            title = excluded.title,
            description = excluded.description,
            assignee = excluded.assignee,
            due_date = excluded.due_date,
            status = excluded.status,
            updated_at = excluded.updated_at
    `

	_, err := db.ExecContext(ctx, query,
		task.ID,
		task.Title,
		task.Description,
		task.Assignee,
		task.DueDate,
		task.Status,
		task.CreatedBy,
		now,
		now,
	)
	return err
}

// GetTasks возвращает задачи, новые первыми. limit <= 0 — без ограничения
func (db *DB) GetTasks(ctx context.Context, limit int) ([]models.Task, error) {
	query := `
        SELECT id, title, description, assignee, due_date, status, created_by, created_at, updated_at
        FROM tasks ORDER BY created_at DESC
    `
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = db.QueryContext(ctx, query+` LIMIT ?`, limit)
	} else {
		rows, err = db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var task models.Task
		err := rows.Scan(
			&task.ID,
			&task.Title,
			&task.Description,
			&task.Assignee,
			&task.DueDate,
			&task.Status,
			&task.CreatedBy,
			&task.CreatedAt,
			&task.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return tasks, nil
}
