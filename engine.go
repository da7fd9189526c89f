package rbac

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/campuskit/rbac/logger"
	"github.com/campuskit/rbac/utils"
)

// RestrictionMapper decides whether a restriction tag applies to a concrete
// (module, action) pair. The mapping is owned by the calling module, not by
// the engine: the engine only guarantees resolved restrictions are surfaced,
// never silently dropped.
type RestrictionMapper interface {
	Match(module Module, action Action, restrictions []string) (string, bool)
}

// ScopeMap is a RestrictionMapper mapping each restriction tag to
// "module:action" scope patterns ('*' matches any segment), e.g.
//
//	ScopeMap{"own_data_only": {"students:read", "academics:*"}}
type ScopeMap map[string][]string

// Match returns the first resolved restriction whose scope patterns cover
// (module, action). Restrictions arrive sorted, so the match is
// deterministic.
func (m ScopeMap) Match(module Module, action Action, restrictions []string) (string, bool) {
	value := string(module) + ":" + string(action)
	for _, tag := range restrictions {
		for _, pattern := range m[tag] {
			if utils.MatchScope(value, pattern) {
				return tag, true
			}
		}
	}
	return "", false
}

// AccessRequest is one item of a batch check.
type AccessRequest struct {
	UserID string
	Module Module
	Action Action
}

// EngineStats is a snapshot of engine counters for operators.
type EngineStats struct {
	Allowed       int64 `json:"allowed"`
	Denied        int64 `json:"denied"`
	AuditFailures int64 `json:"audit_failures"`
	CacheHits     int64 `json:"cache_hits"`
	CacheMisses   int64 `json:"cache_misses"`
}

// Engine answers "can principal P do action A on module M". Every decision,
// allow or deny, is forwarded to the audit store; resolution failures fail
// closed and are escalated at critical severity.
type Engine struct {
	catalog      *Catalog
	resolver     *Resolver
	directory    *Directory
	auditStore   AuditStore
	log          logger.Logger
	restrictions RestrictionMapper

	onAuditFailure func(error)

	auditCh   chan AuditRecord
	auditWG   sync.WaitGroup
	closeOnce sync.Once

	allowed       int64
	denied        int64
	auditFailures int64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine) error

// WithLogger installs a structured logger on the engine.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		if l != nil {
			e.log = l
		}
		return nil
	}
}

// WithRestrictionMapper installs the caller-owned restriction scoping map.
func WithRestrictionMapper(m RestrictionMapper) EngineOption {
	return func(e *Engine) error {
		e.restrictions = m
		return nil
	}
}

// WithAuditBuffer sizes the asynchronous audit channel.
func WithAuditBuffer(n int) EngineOption {
	return func(e *Engine) error {
		if n <= 0 {
			return fmt.Errorf("audit buffer must be positive, got %d", n)
		}
		e.auditCh = make(chan AuditRecord, n)
		return nil
	}
}

// WithAuditFailureHook installs the process-level escalation called when an
// audit write fails. Audit loss is a security concern, not a caller error.
func WithAuditFailureHook(fn func(error)) EngineOption {
	return func(e *Engine) error {
		e.onAuditFailure = fn
		return nil
	}
}

// NewEngine wires the catalog, resolver, directory and audit store together
// and starts the audit worker.
func NewEngine(catalog *Catalog, resolver *Resolver, directory *Directory, auditStore AuditStore, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		catalog:    catalog,
		resolver:   resolver,
		directory:  directory,
		auditStore: auditStore,
		log:        logger.NewNullLogger(),
		auditCh:    make(chan AuditRecord, 1024),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	go func() {
		bg := context.Background()
		for rec := range e.auditCh {
			e.persistAudit(bg, rec)
			e.auditWG.Done()
		}
	}()
	return e, nil
}

// IsAllowed is the single entry point business modules call before acting.
// It never returns an error: resolution failures deny and the diagnostic
// detail lands in the audit trail.
func (e *Engine) IsAllowed(ctx context.Context, userID string, module Module, action Action) Decision {
	return e.isAllowedInternal(ctx, userID, module, action, false)
}

// Explain is IsAllowed with a human-readable trace for operator views.
func (e *Engine) Explain(ctx context.Context, userID string, module Module, action Action) Decision {
	return e.isAllowedInternal(ctx, userID, module, action, true)
}

func (e *Engine) isAllowedInternal(ctx context.Context, userID string, module Module, action Action, includeTrace bool) Decision {
	dec := Decision{
		Module:    module,
		Action:    action,
		UserID:    userID,
		Timestamp: time.Now(),
	}
	trace := func(format string, args ...any) {
		if includeTrace {
			dec.Trace = append(dec.Trace, fmt.Sprintf(format, args...))
		}
	}

	trace("1. looking up principal %s", userID)
	principal, err := e.directory.GetPrincipal(ctx, userID)
	if err != nil {
		trace("   DENY: %v", err)
		return e.failClosed(ctx, dec, err)
	}
	dec.EffectiveRoleID = principal.RoleID

	trace("2. resolving role %s", principal.RoleID)
	res, err := e.resolver.Resolve(ctx, principal.RoleID)
	if err != nil {
		trace("   DENY: %v", err)
		return e.failClosed(ctx, dec, err)
	}
	trace("   chain: %v", res.Chain)

	set, ok := res.Matrix[module]
	if !ok {
		trace("3. no matrix entry for module %s", module)
		dec.Reason = ReasonNoMatrixEntry
		e.finish(ctx, &dec, SeverityInfo, CategoryDecision, "")
		return dec
	}

	dec.Allowed = set.Get(action)
	if dec.Allowed {
		dec.Reason = ReasonGrantedByRole
	} else {
		dec.Reason = ReasonDeniedByRole
	}
	trace("3. matrix[%s][%s] = %v", module, action, dec.Allowed)

	// Explicit user-level overrides replace the role cell, they do not OR
	// onto it. This is the documented escape hatch for one-off grants and
	// revocations.
	if v, has := principal.Override(module, action); has {
		dec.Allowed = v
		if v {
			dec.Reason = ReasonGrantedByOverride
		} else {
			dec.Reason = ReasonDeniedByOverride
		}
		trace("4. override replaces cell: %v", v)
	}

	if dec.Allowed && e.restrictions != nil {
		if tag, matched := e.restrictions.Match(module, action, res.Restrictions); matched {
			dec.MatchedRestriction = tag
			trace("5. restriction %q applies, surfaced to caller", tag)
		}
	}

	e.finish(ctx, &dec, SeverityInfo, CategoryDecision, "")
	return dec
}

// failClosed converts a resolution failure into a denied Decision and
// escalates the underlying error through the audit trail at critical
// severity. A permission check must never crash the caller and must never
// fail open.
func (e *Engine) failClosed(ctx context.Context, dec Decision, cause error) Decision {
	dec.Allowed = false
	dec.Reason = ReasonResolutionError
	e.log.Error("resolution failed",
		"user", dec.UserID,
		"module", string(dec.Module),
		"action", string(dec.Action),
		"err", cause.Error(),
	)
	e.finish(ctx, &dec, SeverityCritical, CategoryResolution, fmt.Errorf("%w: %v", ErrResolutionFailure, cause).Error())
	return dec
}

func (e *Engine) finish(_ context.Context, dec *Decision, severity AuditSeverity, category, detail string) {
	if dec.Allowed {
		atomic.AddInt64(&e.allowed, 1)
	} else {
		atomic.AddInt64(&e.denied, 1)
	}
	e.log.Debug("decision",
		"user", dec.UserID,
		"module", string(dec.Module),
		"action", string(dec.Action),
		"allowed", dec.Allowed,
		"reason", dec.Reason,
	)
	e.auditDecision(AuditRecord{
		ID:                 uuid.NewString(),
		Timestamp:          dec.Timestamp,
		UserID:             dec.UserID,
		RoleID:             dec.EffectiveRoleID,
		Module:             dec.Module,
		Action:             dec.Action,
		Allowed:            dec.Allowed,
		Reason:             dec.Reason,
		MatchedRestriction: dec.MatchedRestriction,
		Severity:           severity,
		Category:           category,
		Detail:             detail,
	})
}

// auditDecision queues the record for the async worker. When the buffer is
// full the write happens inline: slower, but a decision that is never
// audited is a bug, not an optimization.
func (e *Engine) auditDecision(rec AuditRecord) {
	e.auditWG.Add(1)
	select {
	case e.auditCh <- rec:
	default:
		e.persistAudit(context.Background(), rec)
		e.auditWG.Done()
	}
}

func (e *Engine) persistAudit(ctx context.Context, rec AuditRecord) {
	if err := e.auditStore.LogDecision(ctx, &rec); err != nil {
		atomic.AddInt64(&e.auditFailures, 1)
		e.log.Error("audit write failed", "record", rec.ID, "err", err.Error())
		if e.onAuditFailure != nil {
			e.onAuditFailure(fmt.Errorf("%w: %v", ErrAuditUnavailable, err))
		}
	}
}

// HasSpecialPermission reports whether the principal's resolved chain
// carries the capability token. Capability checks sit outside the CRUD
// matrix and are consulted only by callers that test for them explicitly.
func (e *Engine) HasSpecialPermission(ctx context.Context, userID, token string) bool {
	principal, err := e.directory.GetPrincipal(ctx, userID)
	if err != nil {
		e.log.Error("special permission check failed", "user", userID, "token", token, "err", err.Error())
		return false
	}
	res, err := e.resolver.Resolve(ctx, principal.RoleID)
	if err != nil {
		e.log.Error("special permission check failed", "user", userID, "token", token, "err", err.Error())
		return false
	}
	granted := res.HasSpecial(token)
	e.auditDecision(AuditRecord{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		UserID:    userID,
		RoleID:    principal.RoleID,
		Allowed:   granted,
		Severity:  SeverityInfo,
		Category:  CategorySpecial,
		Detail:    token,
	})
	return granted
}

// BatchIsAllowed evaluates multiple checks, honouring context cancellation
// between items.
func (e *Engine) BatchIsAllowed(ctx context.Context, requests []AccessRequest) ([]Decision, error) {
	decisions := make([]Decision, len(requests))
	for i, req := range requests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if req.UserID == "" || req.Module == "" || req.Action == "" {
			return nil, fmt.Errorf("request %d: user, module and action are required", i)
		}
		decisions[i] = e.IsAllowed(ctx, req.UserID, req.Module, req.Action)
	}
	return decisions, nil
}

// GetAccessLog queries the audit trail, newest first.
func (e *Engine) GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditRecord, error) {
	return e.auditStore.GetAccessLog(ctx, filter)
}

// Flush blocks until every queued audit record has been handed to the store.
// Mainly for tests and orderly shutdown.
func (e *Engine) Flush() {
	e.auditWG.Wait()
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() EngineStats {
	hits, misses := e.resolver.CacheStats()
	return EngineStats{
		Allowed:       atomic.LoadInt64(&e.allowed),
		Denied:        atomic.LoadInt64(&e.denied),
		AuditFailures: atomic.LoadInt64(&e.auditFailures),
		CacheHits:     hits,
		CacheMisses:   misses,
	}
}

// Catalog exposes role CRUD for the role-management surface.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Directory exposes principal lookups and overrides.
func (e *Engine) Directory() *Directory { return e.directory }

// Resolver exposes effective-permission resolution for read-only
// projections.
func (e *Engine) Resolver() *Resolver { return e.resolver }

// Close drains the audit queue and stops the worker.
func (e *Engine) Close() {
	e.Flush()
	e.closeOnce.Do(func() { close(e.auditCh) })
}
