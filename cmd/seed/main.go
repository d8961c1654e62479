// Command seed creates the test accounts used in development and test
// environments.
//
//	go run ./cmd/seed --environment=development
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"github.com/tosgen/tosgen/pkg/config"
	"github.com/tosgen/tosgen/pkg/db"
	"github.com/tosgen/tosgen/pkg/service"
	"github.com/tosgen/tosgen/pkg/utils"
)

// seedCost is the bcrypt cost of the seeded accounts.
const seedCost = 10

// Options are interpreted by github.com/jessevdk/go-flags.
type Options struct {
	Environment string `long:"environment" required:"true" choice:"development" choice:"test" choice:"production" description:"target environment"`
	Driver      string `long:"driver" description:"database driver, overrides config"`
	DSN         string `long:"dsn" description:"database DSN, overrides config"`
}

type seedUser struct {
	Email    string
	Password string
	FullName string
}

var testUsers = []seedUser{
	{Email: "test@example.com", Password: "password123", FullName: "Adam Smith"},
	{Email: "business@example.com", Password: "password123", FullName: "John Doe"},
	{Email: "inactive@example.com", Password: "password123", FullName: "Jane Doe"},
	{Email: "admin@example.com", Password: "admin123", FullName: "Admin User"},
	{Email: "demo@example.com", Password: "demo123", FullName: "Demo User"},
}

func main() {
	opts := &Options{}
	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Println(err)
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	_ = godotenv.Load()
	logger := utils.InitLogger()

	if err := run(context.Background(), opts, logger); err != nil {
		logger.Error("Seeding failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *Options, logger *slog.Logger) error {
	cfg, _, err := config.Load()
	if err != nil {
		return err
	}
	driver, dsn := cfg.DatabaseDriver(), cfg.DatabaseDSN()
	if opts.Driver != "" {
		driver = opts.Driver
	}
	if opts.DSN != "" {
		dsn = opts.DSN
	}

	gdb, err := db.Open(driver, dsn)
	if err != nil {
		return err
	}
	if sqlDB, err := gdb.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return err
	}

	logger.Info("Starting database seeding", "environment", opts.Environment, "driver", driver)
	users := service.NewUserService(gdb).WithCost(seedCost)
	created, err := seedTestUsers(ctx, users, opts.Environment, logger)
	if err != nil {
		return err
	}

	_, total, err := users.ListUsers(ctx, 1, 1)
	if err != nil {
		return err
	}
	logger.Info("Database seeding completed", "created", created, "users", total)
	return nil
}

// seedTestUsers creates the test accounts outside production. Existing
// accounts are left untouched.
func seedTestUsers(ctx context.Context, users *service.UserService, environment string, logger *slog.Logger) (int, error) {
	if environment == "production" {
		logger.Info("Skipping test user seeding in production")
		return 0, nil
	}

	created := 0
	for _, u := range testUsers {
		name := u.FullName
		_, err := users.CreateUser(ctx, u.Email, u.Password, &name)
		switch {
		case errors.Is(err, service.ErrEmailTaken):
			logger.Info("User already exists, skipping", "email", u.Email)
		case err != nil:
			return created, fmt.Errorf("seed %s: %w", u.Email, err)
		default:
			created++
			logger.Info("Created test user", "email", u.Email)
		}
	}
	return created, nil
}
