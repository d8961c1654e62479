// Database connection setup
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Open connects to the configured database. SQLite is limited to a single
// connection so writers on the same file are serialized.
func Open(driver, dsn string) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	switch driver {
	case DriverSQLite, "":
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
		gdb, err := gorm.Open(sqlite.Open(dsn), gcfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return gdb, nil

	case DriverPostgres:
		conn, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), gcfg)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return gdb, nil

	case DriverMySQL:
		conn, err := sql.Open("mysql", strings.TrimPrefix(dsn, "mysql://"))
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: conn}), gcfg)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		return gdb, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

// AutoMigrate creates the tables owned by this service.
func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&User{}, &Chat{})
}

// SupportsRowLocking reports whether SELECT ... FOR UPDATE is meaningful.
func SupportsRowLocking(gdb *gorm.DB) bool {
	return gdb.Dialector.Name() != DriverSQLite
}
