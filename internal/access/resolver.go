// Package access computes chatflow access decisions.
//
// Precedence at decision time:
//  1. the privileged-role policy table (domain.PrivilegedRoles) grants everything;
//  2. otherwise an active fine-grained (course, user, chatflow) grant must hold the action.
//
// The coarse (course, chatflow) allowed-roles table is an admin listing model
// and is never consulted here.
package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"chatflow-access-api/internal/domain"
	"chatflow-access-api/internal/observability/logger"
	"chatflow-access-api/internal/repo"
	"chatflow-access-api/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FailMode selects the decision returned when a lookup fails.
type FailMode string

const (
	FailOpen   FailMode = "open"
	FailClosed FailMode = "closed"
)

// IsValid checks if the mode is one of the defined constants
func (m FailMode) IsValid() bool {
	return m == FailOpen || m == FailClosed
}

// Decision reasons.
const (
	ReasonPrivilegedRole    = "privileged_role"
	ReasonFineGrant         = "fine_grant"
	ReasonNoGrant           = "no_grant"
	ReasonGrantInactive     = "grant_inactive"
	ReasonCapabilityMissing = "capability_missing"
	ReasonFailOpen          = "fail_open"
	ReasonFailClosed        = "fail_closed"
)

// Decision is the outcome of a single permission check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Rule    string `json:"rule,omitempty"`
}

// FineStore is the per-user grant table.
type FineStore interface {
	Get(ctx context.Context, courseID, userID, chatflowID string) (*domain.FinePermission, error)
	ListChatflowIDsForUser(ctx context.Context, courseID, userID string, action domain.Capability) ([]string, error)
	InsertIfAbsent(ctx context.Context, courseID, userID, chatflowID string, caps domain.Capabilities) (bool, error)
	MergeUnion(ctx context.Context, courseID, userID, chatflowID string, caps domain.Capabilities) (bool, error)
}

// RoleStore is the role-level grant table.
type RoleStore interface {
	ListActiveForRoles(ctx context.Context, courseID string, roleKeys []string, autoGrantOnly bool) ([]domain.RolePermission, error)
}

// MemberStore enumerates course members by role.
type MemberStore interface {
	ListCourseMembersWithRole(ctx context.Context, courseID, roleName string) ([]string, error)
}

// Config tunes the resolver.
type Config struct {
	FailMode          FailMode
	FanoutConcurrency int
}

// Resolver answers access questions against the permission stores.
type Resolver struct {
	fine    FineStore
	roles   RoleStore
	members MemberStore
	cfg     Config
	log     *logger.Logger
	metrics *telemetry.AccessMetrics
}

// NewResolver creates a Resolver. An invalid fail mode falls back to FailOpen.
func NewResolver(fine FineStore, roles RoleStore, members MemberStore, cfg Config, log *logger.Logger, metrics *telemetry.AccessMetrics) *Resolver {
	if !cfg.FailMode.IsValid() {
		cfg.FailMode = FailOpen
	}
	if cfg.FanoutConcurrency <= 0 {
		cfg.FanoutConcurrency = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	if metrics == nil {
		metrics = telemetry.NewNopAccessMetrics()
	}
	return &Resolver{fine: fine, roles: roles, members: members, cfg: cfg, log: log, metrics: metrics}
}

// FailMode reports the configured failure policy.
func (r *Resolver) FailMode() FailMode {
	return r.cfg.FailMode
}

// CheckChatflowPermission decides whether the caller may perform action on
// chatflowID in courseID. Lookup failures never surface as errors: they are
// logged, counted and resolved according to the configured FailMode.
func (r *Resolver) CheckChatflowPermission(ctx context.Context, caller domain.CallerIdentity, courseID, chatflowID string, action domain.Capability) Decision {
	ctx, span := telemetry.Tracer().Start(ctx, "access.CheckChatflowPermission",
		trace.WithAttributes(
			attribute.String("course_id", courseID),
			attribute.String("chatflow_id", chatflowID),
			attribute.String("action", string(action)),
		),
	)
	defer span.End()

	d := r.check(ctx, span, caller, courseID, chatflowID, action)

	decision := "deny"
	if d.Allowed {
		decision = "allow"
	}
	r.metrics.Decisions.WithLabelValues(decision, d.Reason).Inc()
	span.SetAttributes(attribute.Bool("allowed", d.Allowed), attribute.String("reason", d.Reason))

	return d
}

func (r *Resolver) check(ctx context.Context, span trace.Span, caller domain.CallerIdentity, courseID, chatflowID string, action domain.Capability) Decision {
	if rule, ok := domain.MatchPrivileged(caller.Roles); ok {
		return Decision{Allowed: true, Reason: ReasonPrivilegedRole, Rule: rule}
	}

	grant, err := r.fine.Get(ctx, courseID, caller.UserID, chatflowID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Decision{Allowed: false, Reason: ReasonNoGrant}
		}
		return r.onLookupFailure(ctx, span, caller, courseID, chatflowID, err)
	}

	switch {
	case !grant.IsActive:
		return Decision{Allowed: false, Reason: ReasonGrantInactive}
	case !grant.Capabilities.Has(action):
		return Decision{Allowed: false, Reason: ReasonCapabilityMissing}
	default:
		return Decision{Allowed: true, Reason: ReasonFineGrant}
	}
}

func (r *Resolver) onLookupFailure(ctx context.Context, span trace.Span, caller domain.CallerIdentity, courseID, chatflowID string, err error) Decision {
	r.metrics.StoreErrors.WithLabelValues("check_permission").Inc()
	span.RecordError(err)

	fields := []zap.Field{
		logger.Module("access"),
		logger.Action("check_permission"),
		zap.String("fail_mode", string(r.cfg.FailMode)),
		zap.String("course_id", courseID),
		zap.String("chatflow_id", chatflowID),
		zap.String("caller_id", caller.UserID),
		zap.Error(err),
	}

	if r.cfg.FailMode == FailClosed {
		r.log.Error(ctx, "permission lookup failed, denying", fields...)
		span.SetStatus(codes.Error, "permission lookup failed")
		return Decision{Allowed: false, Reason: ReasonFailClosed}
	}

	r.metrics.FailOpen.Inc()
	span.AddEvent("permission.fail_open")
	r.log.Error(ctx, "permission lookup failed, allowing (fail-open)", fields...)
	return Decision{Allowed: true, Reason: ReasonFailOpen}
}

// GetUserAccessibleChatflows lists the chatflow ids the caller can use in a
// course. Staff get every chatflow named by an active role grant of their
// roles; others get their active per-user grants that include action.
func (r *Resolver) GetUserAccessibleChatflows(ctx context.Context, caller domain.CallerIdentity, courseID string, action domain.Capability) ([]string, error) {
	if domain.IsPrivileged(caller.Roles) {
		grants, err := r.roles.ListActiveForRoles(ctx, courseID, domain.RoleLookupKeys(caller.Roles), false)
		if err != nil {
			r.metrics.StoreErrors.WithLabelValues("list_accessible").Inc()
			return nil, fmt.Errorf("list role permissions: %w", err)
		}

		ids := make([]string, 0, len(grants))
		for _, g := range grants {
			ids = append(ids, g.ChatflowID)
		}
		return uniqueSorted(ids), nil
	}

	ids, err := r.fine.ListChatflowIDsForUser(ctx, courseID, caller.UserID, action)
	if err != nil {
		r.metrics.StoreErrors.WithLabelValues("list_accessible").Inc()
		return nil, fmt.Errorf("list user permissions: %w", err)
	}
	return uniqueSorted(ids), nil
}

// AutoGrantRolePermissions materializes per-user grants from the auto-grant
// role records matching the caller's roles. Existing grants are left as they
// are, so repeated calls create nothing new. Staff are skipped.
func (r *Resolver) AutoGrantRolePermissions(ctx context.Context, caller domain.CallerIdentity, courseID string) (int, error) {
	if domain.IsPrivileged(caller.Roles) {
		return 0, nil
	}

	grants, err := r.roles.ListActiveForRoles(ctx, courseID, domain.RoleLookupKeys(caller.Roles), true)
	if err != nil {
		return 0, fmt.Errorf("list auto-grant role permissions: %w", err)
	}

	created := 0
	for _, g := range grants {
		if len(g.Capabilities) == 0 {
			continue
		}
		ok, err := r.fine.InsertIfAbsent(ctx, courseID, caller.UserID, g.ChatflowID, g.Capabilities)
		if err != nil {
			return created, fmt.Errorf("auto-grant %s: %w", g.ChatflowID, err)
		}
		if ok {
			created++
		}
	}

	if created > 0 {
		r.metrics.AutoGrants.Add(float64(created))
		r.log.Info(ctx, "auto-granted chatflow permissions",
			logger.Module("access"),
			logger.Action("auto_grant"),
			zap.String("course_id", courseID),
			zap.Int("created", created),
		)
	}
	return created, nil
}

// ApplyRolePermissionToAllUsers merges caps into the grant of every current
// holder of roleName in the course, creating missing grants and reactivating
// inactive ones. Each user's merge is a single atomic upsert; users are
// processed with bounded concurrency. Returns the number of users written.
func (r *Resolver) ApplyRolePermissionToAllUsers(ctx context.Context, courseID, roleName, chatflowID string, caps domain.Capabilities) (int, error) {
	caps = caps.Normalize()
	if len(caps) == 0 {
		return 0, nil
	}

	userIDs, err := r.members.ListCourseMembersWithRole(ctx, courseID, roleName)
	if err != nil {
		return 0, fmt.Errorf("list course members: %w", err)
	}

	var affected, created atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.FanoutConcurrency)

	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			inserted, err := r.fine.MergeUnion(gctx, courseID, userID, chatflowID, caps)
			if err != nil {
				r.metrics.FanoutGrants.WithLabelValues("error").Inc()
				return fmt.Errorf("merge permission for user %s: %w", userID, err)
			}
			affected.Add(1)
			if inserted {
				created.Add(1)
				r.metrics.FanoutGrants.WithLabelValues("created").Inc()
			} else {
				r.metrics.FanoutGrants.WithLabelValues("merged").Inc()
			}
			return nil
		})
	}

	err = g.Wait()

	r.log.Info(ctx, "role permission fan-out finished",
		logger.Module("access"),
		logger.Action("apply_role_permission"),
		zap.String("course_id", courseID),
		zap.String("role_name", roleName),
		zap.String("chatflow_id", chatflowID),
		zap.Int("members", len(userIDs)),
		zap.Int64("affected", affected.Load()),
		zap.Int64("created", created.Load()),
		zap.Bool("failed", err != nil),
	)

	return int(affected.Load()), err
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
