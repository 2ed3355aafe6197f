// Package auth turns credentials into tokens and tokens back into principals.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/authgateway/internal/autherr"
	"github.com/example/authgateway/internal/authority"
	"github.com/example/authgateway/internal/password"
	"github.com/example/authgateway/internal/token"
)

const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

var (
	ErrUserExists  = errors.New("auth: user already exists")
	ErrInvalidUser = errors.New("auth: username, password and role are required")
)

// User is a stored account. Role is a single tag such as ADMIN or USER.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// UserStore is the credential store. FindByUsername returns (nil, nil) when
// the user does not exist. Save returns ErrUserExists on a duplicate username
// and sets u.ID on success.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
	Save(ctx context.Context, u *User) error
	List(ctx context.Context) ([]*User, error)
}

// Result is an issued or validated token with its derived authorities.
type Result struct {
	Token       string
	Claims      token.Claims
	Authorities authority.Set
}

type Service struct {
	store  UserStore
	hasher *password.Hasher
	codec  *token.Codec
	mapper authority.Mapper
	log    zerolog.Logger
}

func NewService(store UserStore, hasher *password.Hasher, codec *token.Codec, mapper authority.Mapper, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		hasher: hasher,
		codec:  codec,
		mapper: mapper,
		log:    log.With().Str("component", "auth").Logger(),
	}
}

// Login checks username/password against the store and issues a token.
// Unknown users and wrong passwords both yield autherr.ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, plain string) (Result, error) {
	u, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return Result{}, fmt.Errorf("auth: lookup user: %w", err)
	}
	if u == nil {
		s.hasher.VerifyDummy(plain)
		s.log.Info().Str("username", username).Str("reason", "unknown_user").Msg("login failed")
		return Result{}, autherr.ErrInvalidCredentials
	}
	if !s.hasher.Verify(plain, u.PasswordHash) {
		s.log.Info().Str("username", username).Str("reason", "bad_password").Msg("login failed")
		return Result{}, autherr.ErrInvalidCredentials
	}

	raw, claims, err := s.codec.Issue(u.Username, u.Role)
	if err != nil {
		return Result{}, fmt.Errorf("auth: issue token: %w", err)
	}
	s.log.Info().Str("username", u.Username).Str("role", u.Role).Time("expires_at", claims.ExpiresAt).Msg("token issued")
	return Result{Token: raw, Claims: claims, Authorities: s.mapper.Map(claims)}, nil
}

// Validate verifies raw and maps its authorities.
func (s *Service) Validate(raw string) (Result, error) {
	claims, err := s.codec.Validate(raw)
	if err != nil {
		return Result{}, err
	}
	return Result{Token: raw, Claims: claims, Authorities: s.mapper.Map(claims)}, nil
}

// Register hashes plain and stores a new user with role.
func (s *Service) Register(ctx context.Context, username, plain, role string) (*User, error) {
	username = strings.TrimSpace(username)
	role = strings.ToUpper(strings.TrimSpace(role))
	if username == "" || plain == "" || role == "" || strings.Contains(role, ",") {
		return nil, ErrInvalidUser
	}
	hash, err := s.hasher.Hash(plain)
	if err != nil {
		return nil, err
	}
	u := &User{Username: username, PasswordHash: hash, Role: role, CreatedAt: time.Now().UTC()}
	if err := s.store.Save(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info().Str("username", username).Str("role", role).Msg("user registered")
	return u, nil
}

// Users lists stored users.
func (s *Service) Users(ctx context.Context) ([]*User, error) {
	return s.store.List(ctx)
}

// SeedUser is an account created at startup when missing.
type SeedUser struct {
	Username string
	Password string
	Role     string
}

// DefaultSeed is the bootstrap admin and user accounts.
var DefaultSeed = []SeedUser{
	{Username: "admin", Password: "123456", Role: RoleAdmin},
	{Username: "user", Password: "password", Role: RoleUser},
}

// Seed creates each seed user that does not exist yet.
func (s *Service) Seed(ctx context.Context, users []SeedUser) error {
	for _, su := range users {
		existing, err := s.store.FindByUsername(ctx, su.Username)
		if err != nil {
			return fmt.Errorf("auth: seed %s: %w", su.Username, err)
		}
		if existing != nil {
			continue
		}
		if _, err := s.Register(ctx, su.Username, su.Password, su.Role); err != nil && !errors.Is(err, ErrUserExists) {
			return fmt.Errorf("auth: seed %s: %w", su.Username, err)
		}
	}
	return nil
}
