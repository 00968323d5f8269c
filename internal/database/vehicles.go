package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"carlot/internal/models"
)

const vehicleColumns = `id, vin, make, model, year, purchase_price, purchase_date, sale_price, sale_date,
        status, location, mileage, color, body_style, transmission, fuel_type, description, features, images,
        publish_to_website, publish_to_third_party, external_dms_id, external_dms_source,
        accounting_invoice_id, cargurus_listing_id, truecar_listing_id, kbb_listing_id, created_at, updated_at`

// UpsertVehicle вставляет или обновляет автомобиль по id. Редактируемые
// клиентом поля перезаписываются; vin, created_at и идентификаторы внешних
// систем при обновлении не трогаются.
func (db *DB) UpsertVehicle(ctx context.Context, v *models.Vehicle) error {
	now := time.Now()
	query := `
        INSERT INTO vehicles (id, vin, make, model, year, purchase_price, purchase_date, sale_price, sale_date,
            status, location, mileage, color, body_style, transmission, fuel_type, description, features, images,
            publish_to_website, publish_to_third_party, external_dms_id, external_dms_source, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            make = excluded.make,
            model = excluded.model,
            year = excluded.year,
            purchase_price = excluded.purchase_price,
            purchase_date = excluded.purchase_date,
            sale_price = excluded.sale_price,
            sale_date = excluded.sale_date,
            status = excluded.status,
            location = excluded.location,
            mileage = excluded.mileage,
            color = excluded.color,
            body_style = excluded.body_style,
            transmission = excluded.transmission,
            fuel_type = excluded.fuel_type,
            description = excluded.description,
            features = excluded.features,
            images = excluded.images,
            publish_to_website = excluded.publish_to_website,
            publish_to_third_party = excluded.publish_to_third_party,
            updated_at = excluded.updated_at
    `

	_, err := db.ExecContext(ctx, query,
		v.ID, v.VIN, v.Make, v.Model, v.Year,
		v.PurchasePrice, v.PurchaseDate, v.SalePrice, v.SaleDate,
		v.Status, v.Location, v.Mileage, v.Color, v.BodyStyle,
		v.Transmission, v.FuelType, v.Description, v.Features, v.Images,
		v.PublishToWebsite, v.PublishToThirdParty,
		v.ExternalDMSID, v.ExternalDMSSource,
		now, now,
	)
	return err
}

// UpsertVehicleFromDMS сохраняет запись, пришедшую из DMS. Конфликт по VIN:
// обновляем данные автомобиля, но продажные поля, публикацию и invoice не
// перезаписываем — они принадлежат нашей стороне.
func (db *DB) UpsertVehicleFromDMS(ctx context.Context, v *models.Vehicle) error {
	now := time.Now()
	query := `
        INSERT INTO vehicles (id, vin, make, model, year, purchase_price, purchase_date,
            status, location, mileage, color, body_style, transmission, fuel_type, description, features, images,
            external_dms_id, external_dms_source, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(vin) DO UPDATE SET
            make = excluded.make,
            model = excluded.model,
            year = excluded.year,
            purchase_price = excluded.purchase_price,
            purchase_date = excluded.purchase_date,
            location = excluded.location,
            mileage = excluded.mileage,
            color = excluded.color,
            body_style = excluded.body_style,
            transmission = excluded.transmission,
            fuel_type = excluded.fuel_type,
            description = excluded.description,
            features = excluded.features,
            images = excluded.images,
            external_dms_id = excluded.external_dms_id,
            external_dms_source = excluded.external_dms_source,
            updated_at = excluded.updated_at
    `

	_, err := db.ExecContext(ctx, query,
		v.ID, v.VIN, v.Make, v.Model, v.Year,
		v.PurchasePrice, v.PurchaseDate,
		v.Status, v.Location, v.Mileage, v.Color, v.BodyStyle,
		v.Transmission, v.FuelType, v.Description, v.Features, v.Images,
		v.ExternalDMSID, v.ExternalDMSSource,
		now, now,
	)
	return err
}

func scanVehicle(row interface{ Scan(...interface{}) error }) (models.Vehicle, error) {
	var v models.Vehicle
	err := row.Scan(
		&v.ID, &v.VIN, &v.Make, &v.Model, &v.Year,
		&v.PurchasePrice, &v.PurchaseDate, &v.SalePrice, &v.SaleDate,
		&v.Status, &v.Location, &v.Mileage, &v.Color, &v.BodyStyle,
		&v.Transmission, &v.FuelType, &v.Description, &v.Features, &v.Images,
		&v.PublishToWebsite, &v.PublishToThirdParty,
		&v.ExternalDMSID, &v.ExternalDMSSource,
		&v.AccountingInvoiceID, &v.CarGurusListingID, &v.TrueCarListingID, &v.KBBListingID,
		&v.CreatedAt, &v.UpdatedAt,
	)
	return v, err
}

func (db *DB) queryVehicles(ctx context.Context, query string, args ...interface{}) ([]models.Vehicle, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vehicles []models.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

// GetVehicles возвращает автомобили, новые первыми. limit <= 0 — без ограничения
func (db *DB) GetVehicles(ctx context.Context, limit int) ([]models.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles ORDER BY created_at DESC`
	if limit > 0 {
		return db.queryVehicles(ctx, query+` LIMIT ?`, limit)
	}
	return db.queryVehicles(ctx, query)
}

func (db *DB) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	row := db.QueryRowContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = ?`, id)
	v, err := scanVehicle(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (db *DB) GetVehicleByVIN(ctx context.Context, vin string) (*models.Vehicle, error) {
	row := db.QueryRowContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE vin = ?`, vin)
	v, err := scanVehicle(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetPublicVehicles returns only available vehicles flagged for the website.
func (db *DB) GetPublicVehicles(ctx context.Context) ([]models.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles
        WHERE status = ? AND publish_to_website = 1
        ORDER BY created_at DESC`
	return db.queryVehicles(ctx, query, models.VehicleStatusAvailable)
}

// GetPublicVehicle looks a vehicle up by id with the same visibility filter
// as GetPublicVehicles, so sold or unpublished cars 404 on the public route.
func (db *DB) GetPublicVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	row := db.QueryRowContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles
        WHERE id = ? AND status = ? AND publish_to_website = 1`, id, models.VehicleStatusAvailable)
	v, err := scanVehicle(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// MarkVehicleSoldByVIN помечает автомобиль проданным по VIN (вебхук DMS)
func (db *DB) MarkVehicleSoldByVIN(ctx context.Context, vin string, salePrice float64, saleDate string) error {
	res, err := db.ExecContext(ctx, `
        UPDATE vehicles SET status = ?, sale_price = ?, sale_date = ?, updated_at = ?
        WHERE vin = ?`,
		models.VehicleStatusSold, salePrice, saleDate, time.Now(), vin)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) SetAccountingInvoiceID(ctx context.Context, vehicleID, invoiceID string) error {
	_, err := db.ExecContext(ctx, `
        UPDATE vehicles SET accounting_invoice_id = ?, updated_at = ? WHERE id = ?`,
		invoiceID, time.Now(), vehicleID)
	return err
}

var listingColumns = map[string]string{
	"cargurus": "cargurus_listing_id",
	"truecar":  "truecar_listing_id",
	"kbb":      "kbb_listing_id",
}

// SetListingID записывает внешний id листинга; колонка выбирается по
// белому списку площадок, имя никогда не подставляется из пользовательского ввода
func (db *DB) SetListingID(ctx context.Context, vehicleID, site, listingID string) error {
	column, ok := listingColumns[site]
	if !ok {
		return fmt.Errorf("unknown listing site: %s", site)
	}
	query := fmt.Sprintf(`UPDATE vehicles SET %s = ?, updated_at = ? WHERE id = ?`, column)
	_, err := db.ExecContext(ctx, query, listingID, time.Now(), vehicleID)
	return err
}

// GetRecentUninvoicedSales returns vehicles sold within the window that have
// no accounting invoice yet. Used by the accounting sync sweep.
func (db *DB) GetRecentUninvoicedSales(ctx context.Context, window time.Duration) ([]models.Vehicle, error) {
	cutoff := time.Now().Add(-window).Format("2006-01-02")
	query := `SELECT ` + vehicleColumns + ` FROM vehicles
        WHERE status = ? AND accounting_invoice_id = '' AND sale_date >= ?
        ORDER BY sale_date DESC`
	return db.queryVehicles(ctx, query, models.VehicleStatusSold, cutoff)
}

func (db *DB) CountPublishedListings(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM vehicles
        WHERE cargurus_listing_id != '' OR truecar_listing_id != '' OR kbb_listing_id != ''`).Scan(&count)
	return count, err
}
