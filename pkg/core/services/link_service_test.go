package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wadjakorntonsri/fusly/pkg/adapters/repository/sqlstore"
	"github.com/wadjakorntonsri/fusly/pkg/core/domain"
	"github.com/wadjakorntonsri/fusly/pkg/metrics"
	"github.com/wadjakorntonsri/fusly/pkg/ports"
)

const testBaseURL = "http://fus.ly"

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEvents) Publish(_ context.Context, e domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEvents) Close() error { return nil }

func (r *recordingEvents) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

type mapCache struct {
	mu          sync.Mutex
	entries     map[string]domain.ShortMapping
	invalidated []string
}

func newMapCache() *mapCache { return &mapCache{entries: map[string]domain.ShortMapping{}} }

func (c *mapCache) Get(_ context.Context, code string) (*domain.ShortMapping, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[code]
	return &m, ok
}

func (c *mapCache) Set(_ context.Context, m *domain.ShortMapping) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[m.Code] = *m
}

func (c *mapCache) Invalidate(_ context.Context, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, code)
	c.invalidated = append(c.invalidated, code)
}

type fixture struct {
	store  *sqlstore.Store
	links  *LinkService
	owners *OwnerService
	events *recordingEvents
	cache  *mapCache
	alice  domain.Registered
	bob    domain.Registered
}

func newFixture(t *testing.T, prefix string) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := sqlstore.Open(ctx, ":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	anon, err := store.EnsureAnonymousOwner(ctx)
	require.NoError(t, err)

	f := &fixture{store: store, events: &recordingEvents{}, cache: newMapCache()}
	f.links = NewLinkService(store, anon.ID, LinkOptions{
		BaseURL:       testBaseURL,
		Prefix:        prefix,
		CodeLength:    5,
		CodeMaxLength: 12,
		Cache:         f.cache,
		Events:        f.events,
		Logger:        zap.NewNop(),
	})
	f.owners = NewOwnerService(store, zap.NewNop())
	f.alice = f.register(t, "alice@example.com")
	f.bob = f.register(t, "bob@example.com")
	return f
}

func (f *fixture) register(t *testing.T, email string) domain.Registered {
	t.Helper()
	owner, err := f.owners.Register(context.Background(), email, "Test", "User", "secret")
	require.NoError(t, err)
	return domain.Registered{OwnerID: owner.ID, Email: owner.Email}
}

func (f *fixture) shorten(t *testing.T, url string, id domain.Identity) *domain.MappingDetail {
	t.Helper()
	d, err := f.links.Shorten(context.Background(), url, "", id)
	require.NoError(t, err)
	return d
}

func (f *fixture) resolveN(t *testing.T, code string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.links.Resolve(context.Background(), code, domain.RequestMeta{IP: "10.0.0.1"})
		require.NoError(t, err)
	}
}

func assertKind(t *testing.T, err error, kind domain.Kind, message string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, domain.KindOf(err), "kind of %v", err)
	if message != "" {
		assert.Equal(t, message, domain.MessageOf(err))
	}
}

func TestShortenAnonymousScenario(t *testing.T) {
	f := newFixture(t, "fu")
	ctx := context.Background()

	first := f.shorten(t, "https://example.com", domain.Anonymous{})
	assert.True(t, strings.HasPrefix(first.Code, "fu"))
	assert.Len(t, first.Code, len("fu")+5)
	assert.Equal(t, testBaseURL+"/"+first.Code, first.ShortURL)
	assert.Equal(t, "https://example.com", first.LongURL)
	assert.Zero(t, first.Visits)
	assert.NotNil(t, first.Visitors)
	assert.Empty(t, first.Visitors)

	second := f.shorten(t, "https://example.com", domain.Anonymous{})
	assert.Equal(t, first.Code, second.Code)
	assert.False(t, second.PreviouslyShortened)

	recent, err := f.links.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, first.Code, recent[0].Code)
}

func TestShortenIsIdempotentPerOwner(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	a1 := f.shorten(t, "https://example.com/page", f.alice)
	a2 := f.shorten(t, "  https://example.com/page ", f.alice)
	assert.Equal(t, a1.Code, a2.Code)

	b := f.shorten(t, "https://example.com/page", f.bob)
	assert.NotEqual(t, a1.Code, b.Code, "each owner gets its own mapping")

	mine, err := f.links.ListForOwner(ctx, f.alice)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestShortenConcurrentSameURL(t *testing.T) {
	f := newFixture(t, "")
	var wg sync.WaitGroup
	codes := make([]string, 8)
	errs := make([]error, 8)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := f.links.Shorten(context.Background(), "https://race.example.com", "", f.alice)
			errs[i] = err
			if err == nil {
				codes[i] = d.Code
			}
		}(i)
	}
	wg.Wait()

	for i := range codes {
		require.NoError(t, errs[i])
		assert.Equal(t, codes[0], codes[i])
	}
}

func TestShortenWithVanity(t *testing.T) {
	f := newFixture(t, "fu")

	d, err := f.links.Shorten(context.Background(), "https://example.com/a", "promo", f.alice)
	require.NoError(t, err)
	assert.Equal(t, "fupromo", d.Code)
	assert.False(t, d.PreviouslyShortened)

	again, err := f.links.Shorten(context.Background(), "https://example.com/a", "other", f.alice)
	require.NoError(t, err)
	assert.Equal(t, "fupromo", again.Code, "vanity is ignored for an existing mapping")
	assert.True(t, again.PreviouslyShortened)
}

func TestVanityExclusivity(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.links.Shorten(context.Background(), "https://a.example.com", "mine", f.alice)
	require.NoError(t, err)

	_, err = f.links.Shorten(context.Background(), "https://b.example.com", "mine", f.bob)
	assertKind(t, err, domain.KindForbidden, "Vanity string 'mine' has been taken")
}

func TestAnonymousVanityRejected(t *testing.T) {
	f := newFixture(t, "")

	for _, url := range []string{"https://example.com", "not a url", ""} {
		_, err := f.links.Shorten(context.Background(), url, "vain", domain.Anonymous{})
		assertKind(t, err, domain.KindUnauthorized, "Invalid credentials")
	}
}

func TestShortenValidation(t *testing.T) {
	f := newFixture(t, "")

	tests := []struct {
		name   string
		url    string
		vanity string
	}{
		{"empty", "", ""},
		{"relative", "/just/a/path", ""},
		{"ftp scheme", "ftp://example.com/file", ""},
		{"no host", "https://", ""},
		{"too long", "https://example.com/" + strings.Repeat("a", maxURLLength), ""},
		{"bad vanity", "https://example.com", "has space"},
		{"long vanity", "https://example.com", strings.Repeat("v", 65)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.links.Shorten(context.Background(), tt.url, tt.vanity, f.alice)
			assertKind(t, err, domain.KindBadRequest, "")
		})
	}
}

func TestDeletedCodeIsReusable(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	d, err := f.links.Shorten(ctx, "https://old.example.com", "reuse", f.alice)
	require.NoError(t, err)
	require.NoError(t, f.links.SoftDelete(ctx, d.ID, f.alice))

	_, err = f.links.Resolve(ctx, "reuse", domain.RequestMeta{})
	assertKind(t, err, domain.KindNotFound, "URL has been deleted")

	again, err := f.links.Shorten(ctx, "https://new.example.com", "reuse", f.bob)
	require.NoError(t, err)
	assert.Equal(t, "reuse", again.Code)

	long, err := f.links.Resolve(ctx, "reuse", domain.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "https://new.example.com", long)
}

func TestOrphanCleanup(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	only := f.shorten(t, "https://lonely.example.com", f.alice)
	require.NoError(t, f.links.SoftDelete(ctx, only.ID, f.alice))
	target, err := f.store.GetTargetByURL(ctx, "https://lonely.example.com")
	require.NoError(t, err)
	assert.Nil(t, target, "the last reference removes the target")

	a := f.shorten(t, "https://shared.example.com", f.alice)
	b := f.shorten(t, "https://shared.example.com", f.bob)
	before, err := f.links.MappingDetail(ctx, b.ID, f.bob)
	require.NoError(t, err)

	require.NoError(t, f.links.SoftDelete(ctx, a.ID, f.alice))
	target, err = f.store.GetTargetByURL(ctx, "https://shared.example.com")
	require.NoError(t, err)
	assert.NotNil(t, target)

	after, err := f.links.MappingDetail(ctx, b.ID, f.bob)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	err = f.links.SoftDelete(ctx, a.ID, f.alice)
	assertKind(t, err, domain.KindNotFound, "")
}

func TestStateGatedResolution(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	_, err := f.links.Resolve(ctx, "nothing", domain.RequestMeta{})
	assertKind(t, err, domain.KindNotFound, "No matching URL found")

	d := f.shorten(t, "https://example.com", f.alice)
	long, err := f.links.Resolve(ctx, d.Code, domain.RequestMeta{
		IP:        "203.0.113.9",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Referer:   "https://news.example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", long)

	visitors, err := f.links.VisitorsOf(ctx, d.ID, f.alice)
	require.NoError(t, err)
	require.Len(t, visitors, 1)
	assert.Equal(t, "203.0.113.9", visitors[0].IP)
	assert.Equal(t, "Chrome", visitors[0].Browser)
	assert.Equal(t, "Windows", visitors[0].Platform)

	shortURL, err := f.links.ToggleActive(ctx, d.ID, f.alice, false)
	require.NoError(t, err)
	assert.Equal(t, d.ShortURL, shortURL)

	_, err = f.links.Resolve(ctx, d.Code, domain.RequestMeta{})
	assertKind(t, err, domain.KindUnavailable, "URL has been deactivated")

	detail, err := f.links.MappingDetail(ctx, d.ID, f.alice)
	require.NoError(t, err)
	assert.EqualValues(t, 1, detail.Visits, "a deactivated resolve records nothing")
	assert.False(t, detail.Active)

	_, err = f.links.ToggleActive(ctx, d.ID, f.alice, true)
	require.NoError(t, err)
	f.resolveN(t, d.Code, 2)

	detail, err = f.links.MappingDetail(ctx, d.ID, f.alice)
	require.NoError(t, err)
	assert.EqualValues(t, 3, detail.Visits)
	require.Len(t, detail.Visitors, 3)
	assert.True(t, strings.HasPrefix(detail.Visitors[0], testBaseURL+"/api/v1/shorturl/"))
}

func TestResolveUsesCacheAndInvalidates(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	d := f.shorten(t, "https://example.com", f.alice)
	f.resolveN(t, d.Code, 1)
	cached, ok := f.cache.Get(ctx, d.Code)
	require.True(t, ok)
	assert.Equal(t, "https://example.com", cached.LongURL)

	_, err := f.links.Retarget(ctx, d.ID, "https://elsewhere.example.com", f.alice)
	require.NoError(t, err)
	_, ok = f.cache.Get(ctx, d.Code)
	assert.False(t, ok)

	long, err := f.links.Resolve(ctx, d.Code, domain.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "https://elsewhere.example.com", long)
}

// pausingStore holds the first code lookup after it has read the row, until
// release is closed.
type pausingStore struct {
	ports.Store
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func (p *pausingStore) GetMappingByCode(ctx context.Context, code string) (*domain.ShortMapping, error) {
	m, err := p.Store.GetMappingByCode(ctx, code)
	p.once.Do(func() {
		close(p.reached)
		<-p.release
	})
	return m, err
}

func TestResolveDoesNotCacheRowReadBeforeInvalidation(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	d := f.shorten(t, "https://example.com", f.alice)

	anon, err := f.store.EnsureAnonymousOwner(ctx)
	require.NoError(t, err)
	store := &pausingStore{Store: f.store, reached: make(chan struct{}), release: make(chan struct{})}
	cache := newMapCache()
	links := NewLinkService(store, anon.ID, LinkOptions{BaseURL: testBaseURL, CodeLength: 5, Cache: cache})

	done := make(chan error, 1)
	go func() {
		_, err := links.Resolve(ctx, d.Code, domain.RequestMeta{})
		done <- err
	}()
	<-store.reached

	_, err = links.ToggleActive(ctx, d.ID, f.alice, false)
	require.NoError(t, err)
	close(store.release)
	require.NoError(t, <-done)

	_, ok := cache.Get(ctx, d.Code)
	assert.False(t, ok, "the row read before deactivation must not be cached")

	_, err = links.Resolve(ctx, d.Code, domain.RequestMeta{})
	assertKind(t, err, domain.KindUnavailable, "URL has been deactivated")
}

type failingTxStore struct {
	ports.Store
}

func (failingTxStore) InTx(context.Context, func(q ports.Queries) error) error {
	return errors.New("database is locked")
}

func TestResolveSurvivesVisitFailure(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	d := f.shorten(t, "https://example.com", f.alice)

	anon, err := f.store.EnsureAnonymousOwner(ctx)
	require.NoError(t, err)
	events := &recordingEvents{}
	links := NewLinkService(failingTxStore{Store: f.store}, anon.ID, LinkOptions{BaseURL: testBaseURL, CodeLength: 5, Events: events})

	before := testutil.ToFloat64(metrics.VisitFailures)
	long, err := links.Resolve(ctx, d.Code, domain.RequestMeta{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", long)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.VisitFailures))
	assert.Empty(t, events.kinds(), "no visited event without a recorded visit")

	detail, err := f.links.MappingDetail(ctx, d.ID, f.alice)
	require.NoError(t, err)
	assert.Zero(t, detail.Visits)
}

func TestPopularityOrdering(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	m1 := f.shorten(t, "https://one.example.com", f.alice)
	m2 := f.shorten(t, "https://two.example.com", f.alice)
	m0 := f.shorten(t, "https://zero.example.com", f.bob)
	f.resolveN(t, m1.Code, 2)
	f.resolveN(t, m2.Code, 3)

	popular, err := f.links.Popular(ctx, 10)
	require.NoError(t, err)
	require.Len(t, popular, 3)
	assert.Equal(t, m2.Code, popular[0].Code)
	assert.EqualValues(t, 3, popular[0].Visits)
	assert.Equal(t, m1.Code, popular[1].Code)
	assert.Equal(t, m0.Code, popular[2].Code)
	assert.Zero(t, popular[2].Visits)

	influential, err := f.links.InfluentialOwners(ctx)
	require.NoError(t, err)
	require.Len(t, influential, 2)
	assert.Equal(t, f.alice.Email, influential[0].Email)
	assert.EqualValues(t, 5, influential[0].Visits)
	assert.Equal(t, f.bob.Email, influential[1].Email)
}

func TestEmptyQueries(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	_, err := f.links.Recent(ctx, 5)
	assertKind(t, err, domain.KindNotFound, "No url found")
	_, err = f.links.Popular(ctx, 5)
	assertKind(t, err, domain.KindNotFound, "No URL found")
	_, err = f.links.ListForOwner(ctx, f.alice)
	assertKind(t, err, domain.KindNotFound, "No shortened url found")
	_, err = f.links.InfluentialOwners(ctx)
	assertKind(t, err, domain.KindNotFound, "No user found")

	d := f.shorten(t, "https://example.com", f.alice)
	_, err = f.links.VisitorsOf(ctx, d.ID, f.alice)
	assertKind(t, err, domain.KindNotFound, "No visitor found for this URL")
}

func TestOwnershipIsolation(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	d := f.shorten(t, "https://private.example.com", f.alice)
	f.resolveN(t, d.Code, 1)
	visitors, err := f.links.VisitorsOf(ctx, d.ID, f.alice)
	require.NoError(t, err)

	notFound := "No URL found with id '" + strconv.FormatInt(d.ID, 10) + "'"
	_, err = f.links.MappingDetail(ctx, d.ID, f.bob)
	assertKind(t, err, domain.KindNotFound, notFound)
	_, err = f.links.VisitorsOf(ctx, d.ID, f.bob)
	assertKind(t, err, domain.KindNotFound, notFound)
	_, err = f.links.VisitorDetail(ctx, d.ID, visitors[0].ID, f.bob)
	assertKind(t, err, domain.KindNotFound, notFound)
	_, err = f.links.Retarget(ctx, d.ID, "https://mine.example.com", f.bob)
	assertKind(t, err, domain.KindNotFound, notFound)
	err = f.links.SoftDelete(ctx, d.ID, f.bob)
	assertKind(t, err, domain.KindNotFound, notFound)

	// Toggle checks existence first, then ownership.
	_, err = f.links.ToggleActive(ctx, d.ID, f.bob, false)
	assertKind(t, err, domain.KindUnauthorized, "Invalid user access")
	_, err = f.links.ToggleActive(ctx, 9999, f.bob, false)
	assertKind(t, err, domain.KindNotFound, "No url with the id 9999")

	v, err := f.links.VisitorDetail(ctx, d.ID, visitors[0].ID, f.alice)
	require.NoError(t, err)
	assert.Equal(t, visitors[0].ID, v.ID)
}

func TestVisitorDetailScopedToMapping(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	a := f.shorten(t, "https://a.example.com", f.alice)
	b := f.shorten(t, "https://b.example.com", f.alice)
	f.resolveN(t, a.Code, 1)
	visitors, err := f.links.VisitorsOf(ctx, a.ID, f.alice)
	require.NoError(t, err)

	_, err = f.links.VisitorDetail(ctx, b.ID, visitors[0].ID, f.alice)
	assertKind(t, err, domain.KindNotFound, "")
}

func TestRegisteredOnlyOperations(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	anon := domain.Anonymous{}
	d := f.shorten(t, "https://anon.example.com", anon)

	checks := map[string]func() error{
		"retarget": func() error { _, err := f.links.Retarget(ctx, d.ID, "https://x.example.com", anon); return err },
		"delete":   func() error { return f.links.SoftDelete(ctx, d.ID, anon) },
		"toggle":   func() error { _, err := f.links.ToggleActive(ctx, d.ID, anon, false); return err },
		"list":     func() error { _, err := f.links.ListForOwner(ctx, anon); return err },
		"detail":   func() error { _, err := f.links.MappingDetail(ctx, d.ID, anon); return err },
		"visitors": func() error { _, err := f.links.VisitorsOf(ctx, d.ID, anon); return err },
		"visitor":  func() error { _, err := f.links.VisitorDetail(ctx, d.ID, 1, anon); return err },
	}
	for name, check := range checks {
		t.Run(name, func(t *testing.T) {
			assertKind(t, check(), domain.KindUnauthorized, "Invalid credentials")
		})
	}
}

func TestRetarget(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	a := f.shorten(t, "https://first.example.com", f.alice)
	other := f.shorten(t, "https://second.example.com", f.alice)

	_, err := f.links.Retarget(ctx, a.ID, "nope", f.alice)
	assertKind(t, err, domain.KindBadRequest, "")

	_, err = f.links.Retarget(ctx, a.ID, "https://second.example.com", f.alice)
	assertKind(t, err, domain.KindForbidden, "You already have a shortened url '"+other.Code+"'")

	same, err := f.links.Retarget(ctx, a.ID, "https://first.example.com", f.alice)
	require.NoError(t, err)
	assert.Equal(t, a.Code, same.Code)

	moved, err := f.links.Retarget(ctx, a.ID, "https://third.example.com", f.alice)
	require.NoError(t, err)
	assert.Equal(t, a.Code, moved.Code)
	assert.Equal(t, "https://third.example.com", moved.LongURL)

	old, err := f.store.GetTargetByURL(ctx, "https://first.example.com")
	require.NoError(t, err)
	assert.Nil(t, old, "the orphaned target is collected")

	_, err = f.links.Retarget(ctx, 4242, "https://x.example.com", f.alice)
	assertKind(t, err, domain.KindNotFound, "No URL found with id '4242'")
}

func TestLifecycleEvents(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	d := f.shorten(t, "https://events.example.com", f.alice)
	f.shorten(t, "https://events.example.com", f.alice)
	f.resolveN(t, d.Code, 1)
	_, err := f.links.ToggleActive(ctx, d.ID, f.alice, false)
	require.NoError(t, err)
	_, err = f.links.ToggleActive(ctx, d.ID, f.alice, true)
	require.NoError(t, err)
	_, err = f.links.Retarget(ctx, d.ID, "https://moved.example.com", f.alice)
	require.NoError(t, err)
	require.NoError(t, f.links.SoftDelete(ctx, d.ID, f.alice))

	assert.Equal(t, []domain.EventKind{
		domain.EventCreated,
		domain.EventVisited,
		domain.EventDeactivated,
		domain.EventActivated,
		domain.EventRetargeted,
		domain.EventDeleted,
	}, f.events.kinds())
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultLimit, clampLimit(0))
	assert.Equal(t, defaultLimit, clampLimit(-4))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, maxLimit, clampLimit(1000))
}

var _ ports.ResolveCache = (*mapCache)(nil)
