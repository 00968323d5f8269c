package database

import (
	"context"
	"database/sql"

	"carlot/internal/models"
)

// CreateService добавляет сервисную запись. Записи только добавляются,
// обновления нет.
func (db *DB) CreateService(ctx context.Context, s *models.Service) error {
	_, err := db.ExecContext(ctx, `
        INSERT INTO services (id, vehicle_id, service_type, description, cost, service_date)
        VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.VehicleID, s.ServiceType, s.Description, s.Cost, s.ServiceDate)
	return err
}

func (db *DB) scanServices(rows *sql.Rows) ([]models.Service, error) {
	defer rows.Close()
	var services []models.Service
	for rows.Next() {
		var s models.Service
		err := rows.Scan(&s.ID, &s.VehicleID, &s.ServiceType, &s.Description, &s.Cost, &s.ServiceDate, &s.CreatedAt)
		if err != nil {
			return nil, err
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

// GetServices возвращает записи для автомобиля, новые первыми
func (db *DB) GetServices(ctx context.Context, vehicleID string) ([]models.Service, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT id, vehicle_id, service_type, description, cost, service_date, created_at
        FROM services WHERE vehicle_id = ? ORDER BY created_at DESC`, vehicleID)
	if err != nil {
		return nil, err
	}
	return db.scanServices(rows)
}

// GetAllServices возвращает все сервисные записи (для аналитики и отчетов)
func (db *DB) GetAllServices(ctx context.Context) ([]models.Service, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT id, vehicle_id, service_type, description, cost, service_date, created_at
        FROM services ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return db.scanServices(rows)
}
