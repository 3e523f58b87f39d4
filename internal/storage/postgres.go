package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"atelier-pricing/internal/pricing"
	"atelier-pricing/pkg/redis"
)

const settingsCacheKey = "pricing:settings"

// Config holds the Postgres connection parameters.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// PostgresStore is the pricing catalog store. Reads of the settings row go
// through Redis cache-aside; everything else hits Postgres directly.
type PostgresStore struct {
	db     *sqlx.DB
	redis  *redis.Client
	logger *zap.Logger
}

// NewPostgresStore connects with exponential backoff and configures the pool.
func NewPostgresStore(ctx context.Context, cfg Config, redisClient *redis.Client, logger *zap.Logger) (*PostgresStore, error) {
	const operation = "storage.NewPostgresStore"

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName,
	)

	var db *sqlx.DB

	retryPolicy := backoff.NewExponentialBackOff()
	retryPolicy.MaxElapsedTime = 2 * time.Minute
	retryPolicy.MaxInterval = 15 * time.Second

	logger.Info("Connecting to PostgreSQL...")

	err := backoff.RetryNotify(
		func() error {
			var err error
			db, err = sqlx.ConnectContext(ctx, "postgres", connStr)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			if err = db.PingContext(ctx); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			return nil
		},
		retryPolicy,
		func(err error, duration time.Duration) {
			logger.Warn("PostgreSQL connection failed, retrying...",
				zap.Error(err),
				zap.Duration("next_attempt_in", duration))
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to connect after retries: %w", operation, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	logger.Info("Successfully connected to PostgreSQL")
	return &PostgresStore{db: db, redis: redisClient, logger: logger}, nil
}

// DB exposes the raw handle for migrations.
func (s *PostgresStore) DB() *sql.DB {
	return s.db.DB
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// unavailable tags a store error so cascade runs abort instead of recording
// per-object failures.
func unavailable(operation string, err error) error {
	return fmt.Errorf("%s: %w: %v", operation, pricing.ErrPersistenceUnavailable, err)
}

// ---- settings ----

type settingsRow struct {
	Wage              float64         `db:"wage"`
	MaterialMarkup    float64         `db:"material_markup"`
	AdministrativeFee float64         `db:"administrative_fee"`
	BusinessFee       float64         `db:"business_fee"`
	ConsumablesFee    float64         `db:"consumables_fee"`
	MetalComplexity   json.RawMessage `db:"metal_complexity"`
	Version           int64           `db:"version"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

func (r settingsRow) toSettings() (pricing.Settings, error) {
	s := pricing.Settings{
		Wage:              r.Wage,
		MaterialMarkup:    r.MaterialMarkup,
		AdministrativeFee: r.AdministrativeFee,
		BusinessFee:       r.BusinessFee,
		ConsumablesFee:    r.ConsumablesFee,
		Version:           r.Version,
		UpdatedAt:         r.UpdatedAt,
	}
	if len(r.MetalComplexity) > 0 {
		if err := json.Unmarshal(r.MetalComplexity, &s.MetalComplexity); err != nil {
			return pricing.Settings{}, fmt.Errorf("unmarshal metal complexity: %w", err)
		}
	}
	return s, nil
}

// EnsureSettings writes the bootstrap settings row when none exists yet.
func (s *PostgresStore) EnsureSettings(ctx context.Context) error {
	const operation = "storage.EnsureSettings"

	defaults := pricing.DefaultSettings()
	complexity, err := json.Marshal(defaults.MetalComplexity)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}

	const query = `
        INSERT INTO settings (id, wage, material_markup, administrative_fee, business_fee, consumables_fee, metal_complexity)
        VALUES (1, $1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO NOTHING
    `
	if _, err := s.db.ExecContext(ctx, query,
		defaults.Wage, defaults.MaterialMarkup, defaults.AdministrativeFee,
		defaults.BusinessFee, defaults.ConsumablesFee, complexity,
	); err != nil {
		return unavailable(operation, err)
	}
	return nil
}

// Settings returns the current settings snapshot, Redis first.
func (s *PostgresStore) Settings(ctx context.Context) (pricing.Settings, error) {
	const operation = "storage.Settings"

	if cached, err := s.redis.Get(ctx, settingsCacheKey); err == nil {
		var snapshot pricing.Settings
		if err := json.Unmarshal(cached, &snapshot); err == nil {
			return snapshot, nil
		}
	}

	const query = `
        SELECT wage, material_markup, administrative_fee, business_fee, consumables_fee,
               metal_complexity, version, updated_at
        FROM settings WHERE id = 1
    `
	var row settingsRow
	if err := s.db.GetContext(ctx, &row, query); err != nil {
		return pricing.Settings{}, unavailable(operation, err)
	}
	snapshot, err := row.toSettings()
	if err != nil {
		return pricing.Settings{}, fmt.Errorf("%s: %w", operation, err)
	}

	if data, err := json.Marshal(snapshot); err == nil {
		_ = s.redis.Set(ctx, settingsCacheKey, data)
	}
	return snapshot, nil
}

// SaveSettings persists new settings atomically, bumping version and
// timestamp, and drops the cache entry. Validation happens in the caller
// before anything is applied.
func (s *PostgresStore) SaveSettings(ctx context.Context, newSettings pricing.Settings) (pricing.Settings, error) {
	const operation = "storage.SaveSettings"

	complexity, err := json.Marshal(newSettings.MetalComplexity)
	if err != nil {
		return pricing.Settings{}, fmt.Errorf("%s: %w", operation, err)
	}

	const query = `
        UPDATE settings
        SET wage = $1, material_markup = $2, administrative_fee = $3,
            business_fee = $4, consumables_fee = $5, metal_complexity = $6,
            version = version + 1, updated_at = now()
        WHERE id = 1
        RETURNING wage, material_markup, administrative_fee, business_fee, consumables_fee,
                  metal_complexity, version, updated_at
    `
	var row settingsRow
	if err := s.db.GetContext(ctx, &row, query,
		newSettings.Wage, newSettings.MaterialMarkup, newSettings.AdministrativeFee,
		newSettings.BusinessFee, newSettings.ConsumablesFee, complexity,
	); err != nil {
		return pricing.Settings{}, unavailable(operation, err)
	}

	_ = s.redis.Del(ctx, settingsCacheKey)
	return row.toSettings()
}

// ---- materials ----

type materialRow struct {
	ID          string          `db:"id"`
	DisplayName string          `db:"display_name"`
	Category    string          `db:"category"`
	Description string          `db:"description"`
	Supplier    string          `db:"supplier"`
	HasVariants bool            `db:"has_variants"`
	Variants    json.RawMessage `db:"variants"`
	UnitCost    float64         `db:"unit_cost"`
	SKU         string          `db:"sku"`
	MetalType   string          `db:"metal_type"`
	Karat       string          `db:"karat"`
	Archived    bool            `db:"archived"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func (r materialRow) toMaterial() (pricing.Material, error) {
	m := pricing.Material{
		ID:          r.ID,
		DisplayName: r.DisplayName,
		Category:    r.Category,
		Description: r.Description,
		Supplier:    r.Supplier,
		HasVariants: r.HasVariants,
		UnitCost:    r.UnitCost,
		SKU:         r.SKU,
		MetalType:   r.MetalType,
		Karat:       r.Karat,
		Archived:    r.Archived,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.HasVariants && len(r.Variants) > 0 {
		if err := json.Unmarshal(r.Variants, &m.Variants); err != nil {
			return pricing.Material{}, fmt.Errorf("unmarshal variants of %s: %w", r.ID, err)
		}
	}
	return m, nil
}

const materialColumns = `
    id, display_name, category, description, supplier, has_variants, variants,
    unit_cost, sku, metal_type, karat, archived, created_at, updated_at
`

// Materials returns the whole material catalog, archived records included.
func (s *PostgresStore) Materials(ctx context.Context) ([]pricing.Material, error) {
	const operation = "storage.Materials"

	var rows []materialRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+materialColumns+` FROM materials ORDER BY display_name`); err != nil {
		return nil, unavailable(operation, err)
	}

	materials := make([]pricing.Material, 0, len(rows))
	for _, r := range rows {
		m, err := r.toMaterial()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", operation, err)
		}
		materials = append(materials, m)
	}
	return materials, nil
}

// CreateMaterial inserts a new catalog record, assigning an id when empty.
func (s *PostgresStore) CreateMaterial(ctx context.Context, m pricing.Material) (pricing.Material, error) {
	const operation = "storage.CreateMaterial"

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	variants, err := json.Marshal(m.Variants)
	if err != nil {
		return pricing.Material{}, fmt.Errorf("%s: %w", operation, err)
	}

	const query = `
        INSERT INTO materials (id, display_name, category, description, supplier,
                               has_variants, variants, unit_cost, sku, metal_type, karat)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING created_at, updated_at
    `
	if err := s.db.QueryRowContext(ctx, query,
		m.ID, m.DisplayName, m.Category, m.Description, m.Supplier,
		m.HasVariants, variants, m.UnitCost, m.SKU, m.MetalType, m.Karat,
	).Scan(&m.CreatedAt, &m.UpdatedAt); err != nil {
		return pricing.Material{}, unavailable(operation, err)
	}
	return m, nil
}

// MaterialChanges are the fields a PATCH may touch. Nil means unchanged.
type MaterialChanges struct {
	DisplayName *string  `json:"displayName,omitempty"`
	Category    *string  `json:"category,omitempty"`
	Description *string  `json:"description,omitempty"`
	Supplier    *string  `json:"supplier,omitempty"`
	UnitCost    *float64 `json:"unitCost,omitempty"`
	Archived    *bool    `json:"archived,omitempty"`
}

// UpdateMaterials applies the same change set to every listed material and
// returns the ids actually updated.
func (s *PostgresStore) UpdateMaterials(ctx context.Context, ids []string, changes MaterialChanges) ([]string, error) {
	const operation = "storage.UpdateMaterials"

	const query = `
        UPDATE materials SET
            display_name = COALESCE($2::text, display_name),
            category     = COALESCE($3::text, category),
            description  = COALESCE($4::text, description),
            supplier     = COALESCE($5::text, supplier),
            unit_cost    = COALESCE($6::double precision, unit_cost),
            archived     = COALESCE($7::boolean, archived),
            updated_at   = now()
        WHERE id = ANY($1)
        RETURNING id
    `
	var updated []string
	if err := s.db.SelectContext(ctx, &updated, query,
		pq.Array(ids), changes.DisplayName, changes.Category, changes.Description,
		changes.Supplier, changes.UnitCost, changes.Archived,
	); err != nil {
		return nil, unavailable(operation, err)
	}
	return updated, nil
}

// ---- processes ----

type processRow struct {
	ID              string          `db:"id"`
	DisplayName     string          `db:"display_name"`
	Category        string          `db:"category"`
	LaborMinutes    float64         `db:"labor_minutes"`
	SkillLevel      string          `db:"skill_level"`
	RiskLevel       string          `db:"risk_level"`
	EquipmentCost   float64         `db:"equipment_cost"`
	MetalComplexity json.RawMessage `db:"metal_complexity"`
	Materials       json.RawMessage `db:"materials"`
	Pricing         json.RawMessage `db:"pricing"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

func (r processRow) toProcess() (pricing.Process, error) {
	p := pricing.Process{
		ID:            r.ID,
		DisplayName:   r.DisplayName,
		Category:      r.Category,
		LaborMinutes:  r.LaborMinutes,
		SkillLevel:    r.SkillLevel,
		RiskLevel:     r.RiskLevel,
		EquipmentCost: r.EquipmentCost,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if len(r.MetalComplexity) > 0 {
		if err := json.Unmarshal(r.MetalComplexity, &p.MetalComplexity); err != nil {
			return pricing.Process{}, fmt.Errorf("unmarshal complexity of %s: %w", r.ID, err)
		}
	}
	if len(r.Materials) > 0 {
		if err := json.Unmarshal(r.Materials, &p.Materials); err != nil {
			return pricing.Process{}, fmt.Errorf("unmarshal materials of %s: %w", r.ID, err)
		}
	}
	if len(r.Pricing) > 0 {
		p.Pricing = &pricing.ProcessPricing{}
		if err := json.Unmarshal(r.Pricing, p.Pricing); err != nil {
			return pricing.Process{}, fmt.Errorf("unmarshal pricing of %s: %w", r.ID, err)
		}
	}
	return p, nil
}

const processColumns = `
    id, display_name, category, labor_minutes, skill_level, risk_level,
    equipment_cost, metal_complexity, materials, pricing, created_at, updated_at
`

// Processes returns all process definitions.
func (s *PostgresStore) Processes(ctx context.Context) ([]pricing.Process, error) {
	const operation = "storage.Processes"

	var rows []processRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+processColumns+` FROM processes ORDER BY display_name`); err != nil {
		return nil, unavailable(operation, err)
	}
	return rowsToProcesses(operation, rows)
}

// ProcessesUsingMaterials returns processes referencing any of the given
// material ids.
func (s *PostgresStore) ProcessesUsingMaterials(ctx context.Context, materialIDs []string) ([]pricing.Process, error) {
	const operation = "storage.ProcessesUsingMaterials"

	const query = `
        SELECT ` + processColumns + `
        FROM processes p
        WHERE EXISTS (
            SELECT 1 FROM jsonb_array_elements(p.materials) ref
            WHERE ref->>'materialId' = ANY($1)
        )
        ORDER BY display_name
    `
	var rows []processRow
	if err := s.db.SelectContext(ctx, &rows, query, pq.Array(materialIDs)); err != nil {
		return nil, unavailable(operation, err)
	}
	return rowsToProcesses(operation, rows)
}

func rowsToProcesses(operation string, rows []processRow) ([]pricing.Process, error) {
	processes := make([]pricing.Process, 0, len(rows))
	for _, r := range rows {
		p, err := r.toProcess()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", operation, err)
		}
		processes = append(processes, p)
	}
	return processes, nil
}

// SaveProcessPricing overwrites the derived pricing snapshot of one process.
func (s *PostgresStore) SaveProcessPricing(ctx context.Context, id string, pp pricing.ProcessPricing) error {
	const operation = "storage.SaveProcessPricing"

	data, err := json.Marshal(pp)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE processes SET pricing = $2, updated_at = now() WHERE id = $1`, id, data); err != nil {
		return unavailable(operation, err)
	}
	return nil
}

// ---- tasks ----

type taskRow struct {
	ID                string          `db:"id"`
	Title             string          `db:"title"`
	Category          string          `db:"category"`
	MetalType         string          `db:"metal_type"`
	Karat             string          `db:"karat"`
	RequiresMetalType bool            `db:"requires_metal_type"`
	Processes         json.RawMessage `db:"processes"`
	Materials         json.RawMessage `db:"materials"`
	Service           json.RawMessage `db:"service"`
	Pricing           json.RawMessage `db:"pricing"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

func (r taskRow) toTask() (pricing.Task, error) {
	t := pricing.Task{
		ID:                r.ID,
		Title:             r.Title,
		Category:          r.Category,
		MetalType:         r.MetalType,
		Karat:             r.Karat,
		RequiresMetalType: r.RequiresMetalType,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if len(r.Processes) > 0 {
		if err := json.Unmarshal(r.Processes, &t.Processes); err != nil {
			return pricing.Task{}, fmt.Errorf("unmarshal processes of %s: %w", r.ID, err)
		}
	}
	if len(r.Materials) > 0 {
		if err := json.Unmarshal(r.Materials, &t.Materials); err != nil {
			return pricing.Task{}, fmt.Errorf("unmarshal materials of %s: %w", r.ID, err)
		}
	}
	if len(r.Service) > 0 {
		if err := json.Unmarshal(r.Service, &t.Service); err != nil {
			return pricing.Task{}, fmt.Errorf("unmarshal service of %s: %w", r.ID, err)
		}
	}
	if len(r.Pricing) > 0 {
		t.Pricing = &pricing.TaskPricing{}
		if err := json.Unmarshal(r.Pricing, t.Pricing); err != nil {
			return pricing.Task{}, fmt.Errorf("unmarshal pricing of %s: %w", r.ID, err)
		}
	}
	return t, nil
}

const taskColumns = `
    id, title, category, metal_type, karat, requires_metal_type,
    processes, materials, service, pricing, created_at, updated_at
`

// Tasks returns all task definitions.
func (s *PostgresStore) Tasks(ctx context.Context) ([]pricing.Task, error) {
	const operation = "storage.Tasks"

	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+taskColumns+` FROM tasks ORDER BY title`); err != nil {
		return nil, unavailable(operation, err)
	}
	return rowsToTasks(operation, rows)
}

// TasksUsing returns tasks referencing any of the given materials directly or
// any of the given processes.
func (s *PostgresStore) TasksUsing(ctx context.Context, materialIDs, processIDs []string) ([]pricing.Task, error) {
	const operation = "storage.TasksUsing"

	const query = `
        SELECT ` + taskColumns + `
        FROM tasks t
        WHERE EXISTS (
            SELECT 1 FROM jsonb_array_elements(t.materials) ref
            WHERE ref->>'materialId' = ANY($1)
        )
        OR EXISTS (
            SELECT 1 FROM jsonb_array_elements(t.processes) ref
            WHERE ref->>'processId' = ANY($2)
        )
        ORDER BY title
    `
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query, pq.Array(materialIDs), pq.Array(processIDs)); err != nil {
		return nil, unavailable(operation, err)
	}
	return rowsToTasks(operation, rows)
}

func rowsToTasks(operation string, rows []taskRow) ([]pricing.Task, error) {
	tasks := make([]pricing.Task, 0, len(rows))
	for _, r := range rows {
		t, err := r.toTask()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", operation, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// SaveTaskPricing overwrites the derived pricing snapshot of one task.
func (s *PostgresStore) SaveTaskPricing(ctx context.Context, id string, tp pricing.TaskPricing) error {
	const operation = "storage.SaveTaskPricing"

	data, err := json.Marshal(tp)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET pricing = $2, updated_at = now() WHERE id = $1`, id, data); err != nil {
		return unavailable(operation, err)
	}
	return nil
}
