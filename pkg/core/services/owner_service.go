package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/wadjakorntonsri/fusly/pkg/core/domain"
	"github.com/wadjakorntonsri/fusly/pkg/ports"
)

type OwnerService struct {
	store  ports.Store
	logger *zap.Logger
}

func NewOwnerService(store ports.Store, logger *zap.Logger) *OwnerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OwnerService{store: store, logger: logger}
}

func (s *OwnerService) Register(ctx context.Context, email, firstName, lastName, password string) (*domain.Owner, error) {
	email = strings.TrimSpace(email)
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if email == "" || firstName == "" || lastName == "" || password == "" {
		return nil, domain.BadRequest("first_name, last_name, email and password are required")
	}
	if !validEmail(email) {
		return nil, domain.BadRequest("Invalid email address")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, domain.Internal("could not hash password", err)
	}
	owner := &domain.Owner{
		Email:        email,
		FirstName:    firstName,
		LastName:     lastName,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateOwner(ctx, owner); err != nil {
		if errors.Is(err, ports.ErrConflict) {
			return nil, domain.Forbidden("Email already exist.")
		}
		return nil, err
	}
	s.logger.Info("owner registered", zap.Int64("owner_id", owner.ID))
	return owner, nil
}

func (s *OwnerService) Authenticate(ctx context.Context, email, password string) (domain.Identity, error) {
	owner, err := s.store.GetOwnerByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}
	if owner == nil || owner.Anonymous || owner.PasswordHash == "" {
		return nil, domain.Unauthorized("Invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(owner.PasswordHash), []byte(password)); err != nil {
		return nil, domain.Unauthorized("Invalid credentials")
	}
	return registered(owner), nil
}

// LoginExternal finds or creates a password-less owner for an email verified
// by an external provider.
func (s *OwnerService) LoginExternal(ctx context.Context, email, firstName, lastName string) (domain.Identity, error) {
	if !validEmail(email) || email == domain.AnonymousEmail {
		return nil, domain.Unauthorized("Invalid credentials")
	}
	owner, err := s.store.GetOwnerByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if owner != nil {
		return registered(owner), nil
	}

	owner = &domain.Owner{Email: email, FirstName: firstName, LastName: lastName}
	err = s.store.CreateOwner(ctx, owner)
	if errors.Is(err, ports.ErrConflict) {
		// Lost a race with a concurrent first login.
		owner, err = s.store.GetOwnerByEmail(ctx, email)
		if err == nil && owner == nil {
			err = errors.New("owner vanished after conflict")
		}
	}
	if err != nil {
		return nil, err
	}
	return registered(owner), nil
}

// Lookup resolves a token subject back to an identity.
func (s *OwnerService) Lookup(ctx context.Context, email string) (domain.Identity, error) {
	owner, err := s.store.GetOwnerByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if owner == nil || owner.Anonymous {
		return nil, domain.Unauthorized("Invalid credentials")
	}
	return registered(owner), nil
}

func (s *OwnerService) Details(ctx context.Context, id domain.Identity) (*domain.OwnerDetail, error) {
	reg, err := requireRegistered(id)
	if err != nil {
		return nil, err
	}
	owner, err := s.store.GetOwnerByID(ctx, reg.OwnerID)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, domain.NotFound("No user found")
	}
	n, err := s.store.CountOwnerMappings(ctx, owner.ID)
	if err != nil {
		return nil, err
	}
	return &domain.OwnerDetail{Owner: *owner, Mappings: n}, nil
}

func registered(o *domain.Owner) domain.Registered {
	return domain.Registered{OwnerID: o.ID, Email: o.Email}
}

var _ ports.OwnerService = (*OwnerService)(nil)
