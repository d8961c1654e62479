package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tosgen/tosgen/pkg/db"
	"github.com/tosgen/tosgen/pkg/utils"
)

// PasswordCost is the bcrypt cost used for new passwords.
const PasswordCost = 12

// UserService manages user accounts.
type UserService struct {
	db     *gorm.DB
	cost   int
	logger *slog.Logger
}

func NewUserService(gdb *gorm.DB) *UserService {
	return &UserService{db: gdb, cost: PasswordCost, logger: utils.GetLogger()}
}

// WithCost returns a copy using a different bcrypt cost.
func (s *UserService) WithCost(cost int) *UserService {
	cp := *s
	cp.cost = cost
	return &cp
}

// HashPassword hashes a plaintext password with the service's bcrypt cost.
func (s *UserService) HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// CreateUser registers an account. A soft-deleted account with the same email
// is restored with the new password instead. An empty password creates an
// account that cannot log in with credentials.
func (s *UserService) CreateUser(ctx context.Context, email, password string, fullName *string) (*db.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("create user: email is required")
	}
	var hash *string
	if password != "" {
		h, err := s.HashPassword(password)
		if err != nil {
			return nil, err
		}
		hash = &h
	}

	var user db.User
	err := s.db.WithContext(ctx).Unscoped().Where("email = ?", email).Take(&user).Error
	switch {
	case err == nil:
		if !user.DeletedAt.Valid {
			return nil, ErrEmailTaken
		}
		err = s.db.WithContext(ctx).Unscoped().Model(&user).Updates(map[string]any{
			"full_name":  fullName,
			"deleted_at": nil,
			"password":   hash,
			"updated_at": time.Now(),
		}).Error
		if err != nil {
			return nil, fmt.Errorf("restore user: %w", err)
		}
		s.logger.Info("Restored user", "userId", user.ID)
		return s.GetByID(ctx, user.ID)

	case errors.Is(err, gorm.ErrRecordNotFound):
		user = db.User{
			ID:       uuid.New().String(),
			Email:    email,
			FullName: fullName,
			Password: hash,
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		return &user, nil

	default:
		return nil, fmt.Errorf("lookup user: %w", err)
	}
}

func (s *UserService) GetByID(ctx context.Context, id string) (*db.User, error) {
	var user db.User
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (*db.User, error) {
	var user db.User
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// Authenticate checks email and password. Accounts without a password yield
// ErrPasswordNotSet; anything else that fails is ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*db.User, error) {
	user, err := s.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if user.Password == nil || *user.Password == "" {
		return nil, ErrPasswordNotSet
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// ListUsers returns one page of non-deleted users, newest first, and the total count.
func (s *UserService) ListUsers(ctx context.Context, page, limit int) ([]db.User, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	var (
		users []db.User
		total int64
	)
	q := s.db.WithContext(ctx).Model(&db.User{})
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}
