package detector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukerupert/budgetbell/internal/model"
	"github.com/dukerupert/budgetbell/internal/store"
)

// FreeTierRuleLimit is the number of active rules a free account may keep.
const FreeTierRuleLimit = 2

var (
	ErrFreeTierLimit = errors.New("free plan allows at most 2 active recurring rules")
	ErrInvalidRule   = errors.New("invalid recurring rule")
)

// RuleService creates recurring rules, enforcing plan limits.
type RuleService struct {
	rules *store.RecurringRuleStore
	users *store.UserStore
}

func NewRuleService(rules *store.RecurringRuleStore, users *store.UserStore) *RuleService {
	return &RuleService{rules: rules, users: users}
}

// Create upserts a rule on (user, title pattern). Re-saving an existing
// active pattern never counts against the free-tier limit.
func (s *RuleService) Create(ctx context.Context, rule model.RecurringRule) (*model.RecurringRule, error) {
	rule.TitlePattern = strings.TrimSpace(rule.TitlePattern)
	if rule.TitlePattern == "" {
		return nil, fmt.Errorf("%w: title pattern is required", ErrInvalidRule)
	}
	if rule.Cadence != model.CadenceWeekly && rule.Cadence != model.CadenceMonthly {
		return nil, fmt.Errorf("%w: cadence must be weekly or monthly", ErrInvalidRule)
	}
	if rule.NextDueDate.IsZero() {
		return nil, fmt.Errorf("%w: next due date is required", ErrInvalidRule)
	}
	rule.NextDueDate = Date(rule.NextDueDate)

	user, err := s.users.GetByID(ctx, rule.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	if user.Plan != model.PlanPro && rule.Active {
		existing, err := s.rules.GetByPattern(ctx, rule.UserID, rule.TitlePattern)
		if err != nil {
			return nil, err
		}
		if existing == nil || !existing.Active {
			count, err := s.rules.CountActive(ctx, rule.UserID)
			if err != nil {
				return nil, err
			}
			if count >= FreeTierRuleLimit {
				return nil, ErrFreeTierLimit
			}
		}
	}

	return s.rules.Upsert(ctx, rule)
}
