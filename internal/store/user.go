package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/budgetbell/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Create(ctx context.Context, email, locale, plan string) (*model.User, error) {
	if locale == "" {
		locale = "en"
	}
	if plan == "" {
		plan = model.PlanFree
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, locale, plan) VALUES (?, ?, ?)`, email, locale, plan,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, locale, plan, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &u.Locale, &u.Plan, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *UserStore) SetPlan(ctx context.Context, id int64, plan string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET plan = ? WHERE id = ?`, plan, id)
	if err != nil {
		return fmt.Errorf("set user plan: %w", err)
	}
	return nil
}
