package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/wadjakorntonsri/fusly/pkg/core/domain"
	"github.com/wadjakorntonsri/fusly/pkg/ports"
)

func newPostgresStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in -short mode")
	}
	tc.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("fusly"),
		tcpostgres.WithUsername("fusly"),
		tcpostgres.WithPassword("fusly"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(context.Background()) })

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := Open(ctx, dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgresStore(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	require.Equal(t, dialectPostgres, s.dialect)

	anon, err := s.EnsureAnonymousOwner(ctx)
	require.NoError(t, err)
	alice := seedOwner(t, s, "alice@example.com")

	m := seedMapping(t, s, alice, "pg1", "https://pg.example.com")
	seedMapping(t, s, anon, "pg2", "https://pg.example.com")

	err = s.CreateMapping(ctx, &domain.ShortMapping{Code: "pg1", TargetID: m.TargetID, OwnerID: anon.ID, Active: true})
	assert.ErrorIs(t, err, ports.ErrConflict)

	visit(t, s, m.ID, 2)

	popular, err := s.PopularMappings(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"pg1", "pg2"}, codes(popular))

	influential, err := s.InfluentialOwners(ctx)
	require.NoError(t, err)
	require.Len(t, influential, 1)
	assert.EqualValues(t, 2, influential[0].Visits)

	require.NoError(t, s.SoftDeleteMapping(ctx, m.ID))
	got, err := s.GetMappingByCode(ctx, "pg1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Deleted)
}
