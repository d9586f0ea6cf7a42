package ports

import (
	"context"
	"errors"

	"github.com/wadjakorntonsri/fusly/pkg/core/domain"
)

// ErrConflict is returned by a Queries write that hit a uniqueness constraint.
var ErrConflict = errors.New("unique constraint violated")

// Queries defines storage operations. Lookups return (nil, nil) when nothing matches.
type Queries interface {
	// Owners
	CreateOwner(ctx context.Context, owner *domain.Owner) error
	EnsureAnonymousOwner(ctx context.Context) (*domain.Owner, error)
	GetOwnerByID(ctx context.Context, id int64) (*domain.Owner, error)
	GetOwnerByEmail(ctx context.Context, email string) (*domain.Owner, error)
	CountOwnerMappings(ctx context.Context, ownerID int64) (int64, error)

	// Long targets
	GetTargetByURL(ctx context.Context, url string) (*domain.LongTarget, error)
	EnsureTarget(ctx context.Context, url string) (*domain.LongTarget, error)
	DeleteTargetIfOrphaned(ctx context.Context, targetID int64) (bool, error)

	// Short mappings; only live (non-deleted) rows unless stated otherwise
	CreateMapping(ctx context.Context, m *domain.ShortMapping) error
	CodeTaken(ctx context.Context, code string) (bool, error)
	GetMappingByCode(ctx context.Context, code string) (*domain.ShortMapping, error) // includes deleted
	GetMapping(ctx context.Context, id int64) (*domain.ShortMapping, error)
	GetOwnedMapping(ctx context.Context, id, ownerID int64) (*domain.ShortMapping, error)
	FindOwnedMappingByURL(ctx context.Context, ownerID int64, url string) (*domain.ShortMapping, error)
	SetMappingTarget(ctx context.Context, id, targetID int64) error
	SetMappingActive(ctx context.Context, id int64, active bool) error
	SoftDeleteMapping(ctx context.Context, id int64) error

	// Visit ledger
	RecordVisit(ctx context.Context, visitor *domain.Visitor) error
	CountVisits(ctx context.Context, mappingID int64) (int64, error)
	ListVisitors(ctx context.Context, mappingID int64) ([]domain.Visitor, error)
	GetVisitor(ctx context.Context, mappingID, visitorID int64) (*domain.Visitor, error)

	// Rankings
	RecentMappings(ctx context.Context, limit int) ([]domain.ShortMapping, error)
	PopularMappings(ctx context.Context, limit int) ([]domain.ShortMapping, error)
	ListOwnerMappings(ctx context.Context, ownerID int64) ([]domain.ShortMapping, error)
	InfluentialOwners(ctx context.Context) ([]domain.OwnerRank, error)

	// Migration between stores
	Dump(ctx context.Context) ([]domain.ExportedMapping, error)
	ImportMapping(ctx context.Context, m domain.ExportedMapping) (bool, error)
}

// Store is a Queries bound to a database that can also run a transaction.
type Store interface {
	Queries
	// InTx runs fn against a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(q Queries) error) error
	Close() error
}

// ResolveCache keeps resolve-time mapping state keyed by code.
type ResolveCache interface {
	Get(ctx context.Context, code string) (*domain.ShortMapping, bool)
	Set(ctx context.Context, m *domain.ShortMapping)
	Invalidate(ctx context.Context, code string)
}

// EventPublisher fans mapping lifecycle events out to other systems.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
	Close() error
}

// LinkService defines the business logic operations
type LinkService interface {
	Shorten(ctx context.Context, longURL, vanity string, id domain.Identity) (*domain.MappingDetail, error)
	Retarget(ctx context.Context, mappingID int64, newLongURL string, id domain.Identity) (*domain.MappingDetail, error)
	SoftDelete(ctx context.Context, mappingID int64, id domain.Identity) error
	ToggleActive(ctx context.Context, mappingID int64, id domain.Identity, active bool) (string, error)
	Resolve(ctx context.Context, code string, meta domain.RequestMeta) (string, error)

	// Queries
	Recent(ctx context.Context, limit int) ([]domain.MappingDetail, error)
	Popular(ctx context.Context, limit int) ([]domain.MappingDetail, error)
	ListForOwner(ctx context.Context, id domain.Identity) ([]domain.MappingDetail, error)
	MappingDetail(ctx context.Context, mappingID int64, id domain.Identity) (*domain.MappingDetail, error)
	VisitorsOf(ctx context.Context, mappingID int64, id domain.Identity) ([]domain.Visitor, error)
	VisitorDetail(ctx context.Context, mappingID, visitorID int64, id domain.Identity) (*domain.Visitor, error)
	InfluentialOwners(ctx context.Context) ([]domain.OwnerRank, error)
}

// OwnerService defines registration and credential checks
type OwnerService interface {
	Register(ctx context.Context, email, firstName, lastName, password string) (*domain.Owner, error)
	Authenticate(ctx context.Context, email, password string) (domain.Identity, error)
	LoginExternal(ctx context.Context, email, firstName, lastName string) (domain.Identity, error)
	Lookup(ctx context.Context, email string) (domain.Identity, error)
	Details(ctx context.Context, id domain.Identity) (*domain.OwnerDetail, error)
}
