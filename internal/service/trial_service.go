package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"billingsync/internal/model"
	"billingsync/internal/repository"

	"github.com/rs/zerolog"
)

const (
	TrialStatusActive    = "active"
	TrialStatusCancelled = "cancelled"
	TrialStatusPaid      = "paid"
	TrialStatusTrial     = "trial"
	TrialStatusExpired   = "expired"
)

// TrialStatus is the access decision for one handbook as seen by one caller.
// Owner-only fields are nil for editors and viewers.
type TrialStatus struct {
	IsInTrial             bool
	SubscriptionStatus    string
	IsPaid                bool
	HasActiveSubscription bool
	TrialDaysRemaining    int
	TrialEndsAt           *time.Time
	CanCreateHandbook     bool

	HasUsedTrial      *bool
	SubscriptionCount *int
	TrialPhase        string
	UrgencyLevel      string

	// Rule names the rule that decided the status.
	Rule string
	Role model.Role
}

// trialFacts is everything a rule may look at.
type trialFacts struct {
	tenant *model.Tenant
	active *model.Subscription
	// cancelled is the newest cancelled row, used only when no row is active.
	cancelled *model.Subscription
	now       time.Time
}

type trialRule struct {
	name  string
	match func(f trialFacts) bool
	apply func(f trialFacts) TrialStatus
}

// trialRules is evaluated in order; the first match wins.
var trialRules = []trialRule{
	{
		name:  "active_subscription",
		match: func(f trialFacts) bool { return f.active != nil },
		apply: func(f trialFacts) TrialStatus {
			return TrialStatus{
				SubscriptionStatus:    TrialStatusActive,
				IsPaid:                true,
				HasActiveSubscription: true,
				CanCreateHandbook:     true,
			}
		},
	},
	{
		name:  "cancelled_subscription",
		match: func(f trialFacts) bool { return f.cancelled != nil },
		apply: func(f trialFacts) TrialStatus {
			return TrialStatus{SubscriptionStatus: TrialStatusCancelled}
		},
	},
	{
		name:  "no_trial_record",
		match: func(f trialFacts) bool { return f.tenant.TrialEndDate == nil },
		apply: func(f trialFacts) TrialStatus {
			return TrialStatus{
				SubscriptionStatus: TrialStatusPaid,
				IsPaid:             true,
				CanCreateHandbook:  true,
			}
		},
	},
	{
		name:  "trial_window",
		match: func(f trialFacts) bool { return true },
		apply: func(f trialFacts) TrialStatus {
			end := *f.tenant.TrialEndDate
			if !end.After(f.now) {
				return TrialStatus{
					SubscriptionStatus: TrialStatusExpired,
					TrialEndsAt:        &end,
					CanCreateHandbook:  true,
					TrialPhase:         "conversion",
					UrgencyLevel:       "high",
				}
			}
			days := trialDaysRemaining(end, f.now)
			return TrialStatus{
				IsInTrial:          true,
				SubscriptionStatus: TrialStatusTrial,
				TrialDaysRemaining: days,
				TrialEndsAt:        &end,
				CanCreateHandbook:  true,
				TrialPhase:         trialPhase(days),
				UrgencyLevel:       urgencyLevel(days),
			}
		},
	},
}

// resolveTrial applies trialRules to f.
func resolveTrial(f trialFacts) TrialStatus {
	for _, r := range trialRules {
		if r.match(f) {
			st := r.apply(f)
			st.Rule = r.name
			return st
		}
	}
	// trial_window always matches.
	panic("trial rules exhausted")
}

func trialDaysRemaining(end, now time.Time) int {
	remaining := int(math.Ceil(end.Sub(now).Hours() / 24))
	return max(0, remaining)
}

func trialPhase(days int) string {
	switch {
	case days > 20:
		return "early"
	case days > 7:
		return "engagement"
	default:
		return "conversion"
	}
}

func urgencyLevel(days int) string {
	switch {
	case days <= 3:
		return "high"
	case days <= 7:
		return "medium"
	default:
		return "low"
	}
}

// shapeForRole strips owner-only fields for editors and viewers.
func shapeForRole(st TrialStatus, role model.Role, usedTrial bool, subCount int) TrialStatus {
	st.Role = role
	if role.Privileged() {
		st.HasUsedTrial = &usedTrial
		st.SubscriptionCount = &subCount
		return st
	}
	limited := TrialStatus{
		IsInTrial:             st.IsInTrial,
		SubscriptionStatus:    st.SubscriptionStatus,
		IsPaid:                st.IsPaid,
		HasActiveSubscription: st.HasActiveSubscription,
		Rule:                  st.Rule,
		Role:                  role,
	}
	if st.IsInTrial {
		limited.TrialDaysRemaining = st.TrialDaysRemaining
		limited.TrialEndsAt = st.TrialEndsAt
	}
	return limited
}

// TrialService resolves handbook access state. It never writes.
type TrialService interface {
	GetTrialStatus(ctx context.Context, tenantID, callerID string) (*TrialStatus, error)
}

type trialService struct {
	tenantRepo repository.TenantRepository
	subRepo    repository.SubscriptionRepository
	now        func() time.Time
	logger     zerolog.Logger
}

func NewTrialService(tenantRepo repository.TenantRepository, subRepo repository.SubscriptionRepository, logger zerolog.Logger) TrialService {
	return &trialService{
		tenantRepo: tenantRepo,
		subRepo:    subRepo,
		now:        time.Now,
		logger:     logger.With().Str("service", "TrialService").Logger(),
	}
}

func (s *trialService) GetTrialStatus(ctx context.Context, tenantID, callerID string) (*TrialStatus, error) {
	if callerID == "" {
		return nil, ErrAuthenticationRequired
	}
	tenant, err := s.tenantRepo.GetTenant(ctx, tenantID)
	if err != nil {
		s.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("Failed to fetch handbook")
		return nil, err
	}
	if tenant == nil {
		return nil, fmt.Errorf("handbook %s: %w", tenantID, ErrNotFound)
	}

	role := model.RoleOwner
	if tenant.OwnerID != callerID {
		role, err = s.tenantRepo.GetMemberRole(ctx, tenantID, callerID)
		if err != nil {
			s.logger.Error().Err(err).Str("tenant_id", tenantID).Str("user_id", callerID).Msg("Failed to fetch membership")
			return nil, err
		}
		if role == model.RoleNone {
			return nil, ErrForbidden
		}
	}

	// The read path tolerates a failed subscription lookup and falls back
	// to the handbook's own trial facts.
	subs, err := s.subRepo.ListForTenant(ctx, tenantID, tenant.OwnerID)
	if err != nil {
		s.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("Subscription lookup failed; resolving from handbook only")
		subs = nil
	}

	facts := trialFacts{tenant: tenant, now: s.now()}
	activeCount := 0
	for i := range subs {
		sub := &subs[i]
		switch sub.Status {
		case model.SubscriptionStatusActive:
			activeCount++
			// Rows are newest first, so the first active row wins.
			if facts.active == nil {
				facts.active = sub
			}
		case model.SubscriptionStatusCancelled:
			if facts.cancelled == nil {
				facts.cancelled = sub
			}
		}
	}
	if activeCount > 1 {
		s.logger.Error().
			Str("tenant_id", tenantID).
			Int("active_rows", activeCount).
			Msg("Data integrity: more than one active subscription row for handbook")
	}

	st := shapeForRole(resolveTrial(facts), role, tenant.CreatedDuringTrial, len(subs))
	s.logger.Debug().
		Str("tenant_id", tenantID).
		Str("role", string(role)).
		Str("rule", st.Rule).
		Str("status", st.SubscriptionStatus).
		Msg("Resolved trial status")
	return &st, nil
}
