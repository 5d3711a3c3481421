package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kjstillabower/garden-weather-service/internal/models"
)

// gardenRow is the gardens table. Weather columns are nullable until the first propagation.
type gardenRow struct {
	ID                   string     `gorm:"column:id;primaryKey;size:64"`
	Name                 string     `gorm:"column:name;size:255"`
	OwnerID              string     `gorm:"column:owner_id;size:64;index"`
	Longitude            float64    `gorm:"column:longitude;not null"`
	Latitude             float64    `gorm:"column:latitude;not null"`
	Temperature          *float64   `gorm:"column:temperature"`
	SkyCondition         *string    `gorm:"column:sky_condition;size:32"`
	PrecipitationNext48h *float64   `gorm:"column:precipitation_next_48h"`
	WeatherFetchedAt     *time.Time `gorm:"column:weather_fetched_at"`
	UpdatedAt            time.Time  `gorm:"column:updated_at"`
}

func (gardenRow) TableName() string { return "gardens" }

func (r gardenRow) toModel() models.Garden {
	g := models.Garden{
		ID:       r.ID,
		Name:     r.Name,
		OwnerID:  r.OwnerID,
		Location: models.Coordinate{Longitude: r.Longitude, Latitude: r.Latitude},
	}
	if r.WeatherFetchedAt != nil && r.Temperature != nil {
		w := models.WeatherReading{
			Temperature: *r.Temperature,
			FetchedAt:   r.WeatherFetchedAt.UTC(),
		}
		if r.SkyCondition != nil {
			w.SkyCondition = models.SkyCondition(*r.SkyCondition)
		}
		if r.PrecipitationNext48h != nil {
			w.PrecipitationNext48h = *r.PrecipitationNext48h
		}
		g.Weather = &w
	}
	return g
}

// SQLOptions configures the MySQL connection pool.
type SQLOptions struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// SQLStore is a Store backed by MySQL through GORM. Radius queries use ST_Distance_Sphere,
// which measures meters on a sphere of the same mean radius as geo.Distance.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLStore connects to dsn, configures the pool, pings and migrates the gardens table.
func OpenSQLStore(ctx context.Context, dsn string, opts SQLOptions) (*SQLStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("mysql pool: %w", err)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	s := NewSQLStore(db)
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an existing GORM handle.
func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates or extends the gardens table.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&gardenRow{}); err != nil {
		return fmt.Errorf("migrate gardens: %w", err)
	}
	return nil
}

// Ping checks the database connection. Used for health checks.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) FindByID(ctx context.Context, id string) (models.Garden, error) {
	var row gardenRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Garden{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return models.Garden{}, fmt.Errorf("find garden %s: %w", id, err)
	}
	return row.toModel(), nil
}

func (s *SQLStore) FindWithinRadius(ctx context.Context, point models.Coordinate, radiusMeters float64, excludeID string) ([]models.Garden, error) {
	var rows []gardenRow
	err := s.db.WithContext(ctx).
		Where("id <> ?", excludeID).
		Where("ST_Distance_Sphere(POINT(longitude, latitude), POINT(?, ?)) <= ?", point.Longitude, point.Latitude, radiusMeters).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find gardens within %.0fm: %w", radiusMeters, err)
	}
	return toModels(rows), nil
}

func (s *SQLStore) FindByOwner(ctx context.Context, ownerID string) ([]models.Garden, error) {
	var rows []gardenRow
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find gardens for owner %s: %w", ownerID, err)
	}
	return toModels(rows), nil
}

func (s *SQLStore) UpdateWeather(ctx context.Context, id string, reading models.WeatherReading) error {
	sky := string(reading.SkyCondition)
	fetchedAt := reading.FetchedAt.UTC()
	res := s.db.WithContext(ctx).Model(&gardenRow{}).Where("id = ?", id).Updates(map[string]interface{}{
		"temperature":            reading.Temperature,
		"sky_condition":          sky,
		"precipitation_next_48h": reading.PrecipitationNext48h,
		"weather_fetched_at":     fetchedAt,
	})
	if res.Error != nil {
		return fmt.Errorf("update weather for %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLStore) ListAll(ctx context.Context) ([]models.Garden, error) {
	var rows []gardenRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list gardens: %w", err)
	}
	return toModels(rows), nil
}

// Save inserts or replaces g's identity and location. Weather is left to UpdateWeather.
func (s *SQLStore) Save(ctx context.Context, g models.Garden) error {
	row := gardenRow{
		ID:        g.ID,
		Name:      g.Name,
		OwnerID:   g.OwnerID,
		Longitude: g.Location.Longitude,
		Latitude:  g.Location.Latitude,
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save garden %s: %w", g.ID, err)
	}
	return nil
}

func toModels(rows []gardenRow) []models.Garden {
	out := make([]models.Garden, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out
}
