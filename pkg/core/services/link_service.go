package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mileusna/useragent"
	"go.uber.org/zap"

	"github.com/wadjakorntonsri/fusly/pkg/core/domain"
	"github.com/wadjakorntonsri/fusly/pkg/metrics"
	"github.com/wadjakorntonsri/fusly/pkg/ports"
)

const (
	defaultLimit  = 10
	maxLimit      = 100
	maxTxAttempts = 3
)

// LinkOptions configures a LinkService. Zero values disable the optional
// collaborators.
type LinkOptions struct {
	BaseURL       string
	Prefix        string
	CodeLength    int
	CodeMaxLength int
	Cache         ports.ResolveCache
	Events        ports.EventPublisher
	Logger        *zap.Logger
}

type LinkService struct {
	store       ports.Store
	codes       *CodeGenerator
	cache       ports.ResolveCache
	events      ports.EventPublisher
	logger      *zap.Logger
	baseURL     string
	anonymousID int64

	// cacheGen counts invalidations. A resolve only fills the cache when no
	// invalidation ran since it read the store.
	cacheMu  sync.Mutex
	cacheGen uint64
}

// NewLinkService needs the id of the anonymous owner row, which owns every
// mapping created without credentials.
func NewLinkService(store ports.Store, anonymousID int64, opts LinkOptions) *LinkService {
	s := &LinkService{
		store:       store,
		codes:       NewCodeGenerator(opts.Prefix, opts.CodeLength, opts.CodeMaxLength),
		cache:       opts.Cache,
		events:      opts.Events,
		logger:      opts.Logger,
		baseURL:     opts.BaseURL,
		anonymousID: anonymousID,
	}
	if s.cache == nil {
		s.cache = noCache{}
	}
	if s.events == nil {
		s.events = noEvents{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

func (s *LinkService) Shorten(ctx context.Context, longURL, vanity string, id domain.Identity) (*domain.MappingDetail, error) {
	anonymous := domain.IsAnonymous(id)
	if vanity != "" && anonymous {
		return nil, domain.Unauthorized("Invalid credentials")
	}
	longURL, err := normalizeURL(longURL)
	if err != nil {
		return nil, err
	}
	if vanity != "" && !vanityRe.MatchString(vanity) {
		return nil, domain.BadRequest("Vanity string may only contain letters, digits, '-' and '_' (max 64)")
	}
	ownerID := s.ownerID(id)

	var detail *domain.MappingDetail
	var created *domain.ShortMapping
	err = s.inTxRetry(ctx, func(q ports.Queries) error {
		detail, created = nil, nil

		existing, err := q.FindOwnedMappingByURL(ctx, ownerID, longURL)
		if err != nil {
			return err
		}
		if existing != nil {
			detail, err = s.detail(ctx, q, existing)
			if err != nil {
				return err
			}
			detail.PreviouslyShortened = vanity != ""
			return nil
		}

		code, err := s.codes.Allocate(ctx, q, vanity, anonymous)
		if err != nil {
			return err
		}
		target, err := q.EnsureTarget(ctx, longURL)
		if err != nil {
			return err
		}
		m := &domain.ShortMapping{
			Code:     code,
			TargetID: target.ID,
			LongURL:  target.URL,
			OwnerID:  ownerID,
			Active:   true,
		}
		if err := q.CreateMapping(ctx, m); err != nil {
			return err
		}
		created = m
		detail = s.toDetail(m, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case created == nil:
		metrics.RecordShorten(metrics.KindExisting)
	case vanity != "":
		metrics.RecordShorten(metrics.KindVanity)
	default:
		metrics.RecordShorten(metrics.KindRandom)
	}
	if created != nil {
		// A deleted mapping may have held this code.
		s.invalidate(ctx, created.Code)
		s.publish(ctx, domain.EventCreated, created)
	}
	return detail, nil
}

func (s *LinkService) Retarget(ctx context.Context, mappingID int64, newLongURL string, id domain.Identity) (*domain.MappingDetail, error) {
	reg, err := requireRegistered(id)
	if err != nil {
		return nil, err
	}

	var detail *domain.MappingDetail
	var changed *domain.ShortMapping
	err = s.inTxRetry(ctx, func(q ports.Queries) error {
		detail, changed = nil, nil

		m, err := q.GetOwnedMapping(ctx, mappingID, reg.OwnerID)
		if err != nil {
			return err
		}
		if m == nil {
			return domain.NotFound("No URL found with id '%d'", mappingID)
		}
		longURL, err := normalizeURL(newLongURL)
		if err != nil {
			return err
		}

		other, err := q.FindOwnedMappingByURL(ctx, reg.OwnerID, longURL)
		if err != nil {
			return err
		}
		if other != nil {
			if other.ID != m.ID {
				return domain.Forbidden("You already have a shortened url '%s'", other.Code)
			}
			detail, err = s.detail(ctx, q, m)
			return err
		}

		target, err := q.EnsureTarget(ctx, longURL)
		if err != nil {
			return err
		}
		if err := q.SetMappingTarget(ctx, m.ID, target.ID); err != nil {
			return err
		}
		if _, err := q.DeleteTargetIfOrphaned(ctx, m.TargetID); err != nil {
			return err
		}
		m.TargetID, m.LongURL = target.ID, target.URL
		changed = m
		detail, err = s.detail(ctx, q, m)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed != nil {
		s.invalidate(ctx, changed.Code)
		s.publish(ctx, domain.EventRetargeted, changed)
	}
	return detail, nil
}

func (s *LinkService) SoftDelete(ctx context.Context, mappingID int64, id domain.Identity) error {
	reg, err := requireRegistered(id)
	if err != nil {
		return err
	}

	var deleted *domain.ShortMapping
	err = s.store.InTx(ctx, func(q ports.Queries) error {
		m, err := q.GetOwnedMapping(ctx, mappingID, reg.OwnerID)
		if err != nil {
			return err
		}
		if m == nil {
			return domain.NotFound("No URL found with id '%d'", mappingID)
		}
		if err := q.SoftDeleteMapping(ctx, m.ID); err != nil {
			return err
		}
		if _, err := q.DeleteTargetIfOrphaned(ctx, m.TargetID); err != nil {
			return err
		}
		deleted = m
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, deleted.Code)
	s.publish(ctx, domain.EventDeleted, deleted)
	return nil
}

// ToggleActive checks existence before ownership, so a foreign mapping
// reports Unauthorized rather than NotFound.
func (s *LinkService) ToggleActive(ctx context.Context, mappingID int64, id domain.Identity, active bool) (string, error) {
	reg, err := requireRegistered(id)
	if err != nil {
		return "", err
	}

	m, err := s.store.GetMapping(ctx, mappingID)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", domain.NotFound("No url with the id %d", mappingID)
	}
	if m.OwnerID != reg.OwnerID {
		return "", domain.Unauthorized("Invalid user access")
	}
	if err := s.store.SetMappingActive(ctx, m.ID, active); err != nil {
		return "", err
	}
	m.Active = active

	s.invalidate(ctx, m.Code)
	kind := domain.EventDeactivated
	if active {
		kind = domain.EventActivated
	}
	s.publish(ctx, kind, m)
	return s.shortURL(m.Code), nil
}

// Resolve returns the long URL for code and records the visit. Visit
// recording failures are logged and never fail the call.
func (s *LinkService) Resolve(ctx context.Context, code string, meta domain.RequestMeta) (string, error) {
	m, ok := s.cache.Get(ctx, code)
	if !ok {
		gen := s.cacheGeneration()
		var err error
		m, err = s.store.GetMappingByCode(ctx, code)
		if err != nil {
			return "", err
		}
		if m != nil {
			s.fillCache(ctx, m, gen)
		}
	}

	switch {
	case m == nil:
		metrics.RecordResolve(metrics.OutcomeNotFound)
		return "", domain.NotFound("No matching URL found")
	case m.Deleted:
		metrics.RecordResolve(metrics.OutcomeDeleted)
		return "", domain.NotFound("URL has been deleted")
	case !m.Active:
		metrics.RecordResolve(metrics.OutcomeUnavailable)
		return "", domain.Unavailable("URL has been deactivated")
	}

	metrics.RecordResolve(metrics.OutcomeOK)
	s.recordVisit(context.WithoutCancel(ctx), m, meta)
	return m.LongURL, nil
}

func (s *LinkService) recordVisit(ctx context.Context, m *domain.ShortMapping, meta domain.RequestMeta) {
	ua := useragent.Parse(meta.UserAgent)
	visitor := &domain.Visitor{
		MappingID: m.ID,
		IP:        meta.IP,
		Browser:   ua.Name,
		Platform:  ua.OS,
		UserAgent: meta.UserAgent,
		Referer:   meta.Referer,
	}
	err := s.store.InTx(ctx, func(q ports.Queries) error {
		return q.RecordVisit(ctx, visitor)
	})
	if err != nil {
		metrics.RecordVisitFailure()
		s.logger.Warn("visit not recorded", zap.Int64("mapping_id", m.ID), zap.Error(err))
		return
	}
	s.publish(ctx, domain.EventVisited, m)
}

// --- Queries ---

func (s *LinkService) Recent(ctx context.Context, limit int) ([]domain.MappingDetail, error) {
	ms, err := s.store.RecentMappings(ctx, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, domain.NotFound("No url found")
	}
	return s.details(ctx, ms)
}

func (s *LinkService) Popular(ctx context.Context, limit int) ([]domain.MappingDetail, error) {
	ms, err := s.store.PopularMappings(ctx, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, domain.NotFound("No URL found")
	}
	return s.details(ctx, ms)
}

func (s *LinkService) ListForOwner(ctx context.Context, id domain.Identity) ([]domain.MappingDetail, error) {
	reg, err := requireRegistered(id)
	if err != nil {
		return nil, err
	}
	ms, err := s.store.ListOwnerMappings(ctx, reg.OwnerID)
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, domain.NotFound("No shortened url found")
	}
	return s.details(ctx, ms)
}

func (s *LinkService) MappingDetail(ctx context.Context, mappingID int64, id domain.Identity) (*domain.MappingDetail, error) {
	m, err := s.ownedMapping(ctx, mappingID, id)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, s.store, m)
}

func (s *LinkService) VisitorsOf(ctx context.Context, mappingID int64, id domain.Identity) ([]domain.Visitor, error) {
	m, err := s.ownedMapping(ctx, mappingID, id)
	if err != nil {
		return nil, err
	}
	visitors, err := s.store.ListVisitors(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if len(visitors) == 0 {
		return nil, domain.NotFound("No visitor found for this URL")
	}
	return visitors, nil
}

// VisitorDetail only returns visitors linked to the mapping.
func (s *LinkService) VisitorDetail(ctx context.Context, mappingID, visitorID int64, id domain.Identity) (*domain.Visitor, error) {
	m, err := s.ownedMapping(ctx, mappingID, id)
	if err != nil {
		return nil, err
	}
	v, err := s.store.GetVisitor(ctx, m.ID, visitorID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, domain.NotFound("No visitor found with id '%d'", visitorID)
	}
	return v, nil
}

func (s *LinkService) InfluentialOwners(ctx context.Context) ([]domain.OwnerRank, error) {
	owners, err := s.store.InfluentialOwners(ctx)
	if err != nil {
		return nil, err
	}
	if len(owners) == 0 {
		return nil, domain.NotFound("No user found")
	}
	return owners, nil
}

// --- helpers ---

// inTxRetry reruns fn in a fresh transaction when the store reports a
// uniqueness conflict, which means a concurrent writer won a race.
func (s *LinkService) inTxRetry(ctx context.Context, fn func(q ports.Queries) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.store.InTx(ctx, fn)
		if !errors.Is(err, ports.ErrConflict) {
			return err
		}
		metrics.RecordCollision()
		s.logger.Debug("write conflict, retrying", zap.Int("attempt", attempt))
	}
	return domain.Internal("could not allocate a short code", err)
}

func (s *LinkService) ownerID(id domain.Identity) int64 {
	if reg, ok := id.(domain.Registered); ok {
		return reg.OwnerID
	}
	return s.anonymousID
}

func requireRegistered(id domain.Identity) (domain.Registered, error) {
	reg, ok := id.(domain.Registered)
	if !ok {
		return domain.Registered{}, domain.Unauthorized("Invalid credentials")
	}
	return reg, nil
}

func (s *LinkService) ownedMapping(ctx context.Context, mappingID int64, id domain.Identity) (*domain.ShortMapping, error) {
	reg, err := requireRegistered(id)
	if err != nil {
		return nil, err
	}
	m, err := s.store.GetOwnedMapping(ctx, mappingID, reg.OwnerID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, domain.NotFound("No URL found with id '%d'", mappingID)
	}
	return m, nil
}

func (s *LinkService) detail(ctx context.Context, q ports.Queries, m *domain.ShortMapping) (*domain.MappingDetail, error) {
	visitors, err := q.ListVisitors(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	return s.toDetail(m, visitors), nil
}

func (s *LinkService) details(ctx context.Context, ms []domain.ShortMapping) ([]domain.MappingDetail, error) {
	out := make([]domain.MappingDetail, 0, len(ms))
	for i := range ms {
		d, err := s.detail(ctx, s.store, &ms[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (s *LinkService) toDetail(m *domain.ShortMapping, visitors []domain.Visitor) *domain.MappingDetail {
	urls := make([]string, 0, len(visitors))
	for _, v := range visitors {
		urls = append(urls, fmt.Sprintf("%s/api/v1/shorturl/%d/visitors/%d", s.baseURL, m.ID, v.ID))
	}
	return &domain.MappingDetail{
		ID:        m.ID,
		Code:      m.Code,
		ShortURL:  s.shortURL(m.Code),
		LongURL:   m.LongURL,
		Active:    m.Active,
		Visits:    int64(len(visitors)),
		Visitors:  urls,
		CreatedAt: m.CreatedAt,
	}
}

func (s *LinkService) cacheGeneration() uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cacheGen
}

// fillCache drops m when an invalidation ran after gen was taken, since m
// may predate that change.
func (s *LinkService) fillCache(ctx context.Context, m *domain.ShortMapping, gen uint64) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheGen != gen {
		return
	}
	s.cache.Set(ctx, m)
}

func (s *LinkService) invalidate(ctx context.Context, code string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cacheGen++
	s.cache.Invalidate(ctx, code)
}

func (s *LinkService) shortURL(code string) string {
	return s.baseURL + "/" + code
}

func (s *LinkService) publish(ctx context.Context, kind domain.EventKind, m *domain.ShortMapping) {
	event := domain.Event{
		Kind:       kind,
		MappingID:  m.ID,
		Code:       m.Code,
		OwnerID:    m.OwnerID,
		LongURL:    m.LongURL,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("event not published", zap.String("kind", string(kind)), zap.Int64("mapping_id", m.ID), zap.Error(err))
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

type noCache struct{}

func (noCache) Get(context.Context, string) (*domain.ShortMapping, bool) { return nil, false }
func (noCache) Set(context.Context, *domain.ShortMapping)                {}
func (noCache) Invalidate(context.Context, string)                       {}

type noEvents struct{}

func (noEvents) Publish(context.Context, domain.Event) error { return nil }
func (noEvents) Close() error                                { return nil }

var _ ports.LinkService = (*LinkService)(nil)
