package config

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrConfigNotFound is returned when a tenant has no stored configuration
// for the requested processor.
var ErrConfigNotFound = errors.New("gateway configuration not found")

// SQLiteStorage persists per-tenant gateway configurations. Credentials are
// stored as a JSON bag; only one configuration per tenant is active at a time.
type SQLiteStorage struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// NewSQLiteStorage opens (creating if needed) the configuration database.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_timeout=20000&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	s := &SQLiteStorage{db: db, path: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS gateway_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		processor TEXT NOT NULL,
		mode TEXT NOT NULL DEFAULT 'sandbox',
		credentials TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(tenant_id, processor)
	);

	CREATE INDEX IF NOT EXISTS idx_gateway_tenant ON gateway_configs(tenant_id, processor);
	`
	_, err := s.db.Exec(query)
	return err
}

// retry runs op with backoff when SQLite reports the database as busy.
func (s *SQLiteStorage) retry(op func() error) error {
	const maxRetries = 4
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") && !strings.Contains(err.Error(), "SQLITE_BUSY") {
			return err
		}
		lastErr = err
		time.Sleep(time.Duration(10*(1<<attempt)) * time.Millisecond)
	}
	return fmt.Errorf("operation failed after retries: %w", lastErr)
}

// SaveConfig upserts a tenant's configuration for one processor.
func (s *SQLiteStorage) SaveConfig(cfg *GatewayConfig) error {
	if cfg.TenantID == "" {
		return errors.New("tenant ID cannot be empty")
	}
	if !cfg.Processor.Valid() {
		return fmt.Errorf("unknown processor: %s", cfg.Processor)
	}

	credJSON, err := json.Marshal(cfg.Credentials)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO gateway_configs (tenant_id, processor, mode, credentials, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(tenant_id, processor) DO UPDATE SET
				mode = excluded.mode,
				credentials = excluded.credentials,
				updated_at = CURRENT_TIMESTAMP
		`, cfg.TenantID, string(cfg.Processor), string(cfg.Mode), string(credJSON))
		return err
	})
}

// Activate marks one processor as the tenant's active gateway.
func (s *SQLiteStorage) Activate(tenantID string, processor ProcessorType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`UPDATE gateway_configs SET active = 0 WHERE tenant_id = ?`, tenantID); err != nil {
			return err
		}
		res, err := tx.Exec(`UPDATE gateway_configs SET active = 1 WHERE tenant_id = ? AND processor = ?`,
			tenantID, string(processor))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrConfigNotFound
		}
		return tx.Commit()
	})
}

// LoadConfig returns a tenant's configuration for one processor.
func (s *SQLiteStorage) LoadConfig(tenantID string, processor ProcessorType) (*GatewayConfig, error) {
	row := s.db.QueryRow(`
		SELECT id, tenant_id, processor, mode, credentials
		FROM gateway_configs WHERE tenant_id = ? AND processor = ?
	`, tenantID, string(processor))
	return scanConfig(row)
}

// ActiveConfig returns the tenant's currently active configuration.
func (s *SQLiteStorage) ActiveConfig(tenantID string) (*GatewayConfig, error) {
	row := s.db.QueryRow(`
		SELECT id, tenant_id, processor, mode, credentials
		FROM gateway_configs WHERE tenant_id = ? AND active = 1
	`, tenantID)
	return scanConfig(row)
}

func scanConfig(row *sql.Row) (*GatewayConfig, error) {
	var (
		cfg       GatewayConfig
		processor string
		mode      string
		credJSON  string
	)
	err := row.Scan(&cfg.ID, &cfg.TenantID, &processor, &mode, &credJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Processor = ProcessorType(processor)
	cfg.Mode = Mode(mode)
	if err := json.Unmarshal([]byte(credJSON), &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return &cfg, nil
}

// DeleteConfig removes a tenant's configuration for one processor.
func (s *SQLiteStorage) DeleteConfig(tenantID string, processor ProcessorType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retry(func() error {
		_, err := s.db.Exec(`DELETE FROM gateway_configs WHERE tenant_id = ? AND processor = ?`,
			tenantID, string(processor))
		return err
	})
}

// Close closes the underlying database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
