package database

import (
	"context"

	"carlot/internal/models"
)

// CreateComment добавляет комментарий. Комментарии не редактируются и не
// удаляются.
func (db *DB) CreateComment(ctx context.Context, c *models.Comment) error {
	_, err := db.ExecContext(ctx, `
        INSERT INTO comments (id, entity_type, entity_id, user_name, comment)
        VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.EntityType, c.EntityID, c.UserName, c.Comment)
	return err
}

// GetComments возвращает комментарии сущности в порядке добавления
func (db *DB) GetComments(ctx context.Context, entityType, entityID string) ([]models.Comment, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT id, entity_type, entity_id, user_name, comment, created_at
        FROM comments WHERE entity_type = ? AND entity_id = ?
        ORDER BY created_at ASC`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []models.Comment
	for rows.Next() {
		var c models.Comment
		err := rows.Scan(&c.ID, &c.EntityType, &c.EntityID, &c.UserName, &c.Comment, &c.CreatedAt)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}
