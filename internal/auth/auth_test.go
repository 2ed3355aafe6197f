package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/authgateway/internal/autherr"
	"github.com/example/authgateway/internal/authority"
	"github.com/example/authgateway/internal/password"
	"github.com/example/authgateway/internal/token"
)

type fakeStore struct {
	mu      sync.Mutex
	users   map[string]*User
	seq     int64
	lookups int
	failErr error
}

func newFakeStore() *fakeStore { return &fakeStore{users: map[string]*User{}} }

func (f *fakeStore) FindByUsername(_ context.Context, name string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.failErr != nil {
		return nil, f.failErr
	}
	if u, ok := f.users[name]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) Save(_ context.Context, u *User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[u.Username]; ok {
		return ErrUserExists
	}
	f.seq++
	u.ID = f.seq
	cp := *u
	f.users[u.Username] = &cp
	return nil
}

func (f *fakeStore) List(context.Context) ([]*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*User, 0, len(f.users))
	for _, u := range f.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func newTestService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	codec, err := token.NewCodec(token.Config{Secret: []byte("0123456789abcdef0123456789abcdef"), TTL: time.Hour})
	require.NoError(t, err)
	store := newFakeStore()
	svc := NewService(store, password.NewHasher(password.WithCost(bcrypt.MinCost)), codec, authority.Default(), zerolog.Nop())
	require.NoError(t, svc.Seed(context.Background(), DefaultSeed))
	return svc, store
}

func TestLoginAndValidate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Login(ctx, "admin", "123456")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "admin", res.Claims.Subject)
	assert.Equal(t, "ADMIN", res.Claims.Role)
	assert.Equal(t, []string{"ROLE_ADMIN"}, res.Authorities.Strings())

	v, err := svc.Validate(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "admin", v.Claims.Subject)
	assert.Equal(t, "ADMIN", v.Claims.Role)
	assert.True(t, v.Authorities.Has("ROLE_ADMIN"))
}

func TestLoginInvalidCredentialsAreIndistinguishable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, errBadPass := svc.Login(ctx, "admin", "wrongpass")
	_, errUnknown := svc.Login(ctx, "nobody", "123456")
	require.Error(t, errBadPass)
	require.Error(t, errUnknown)
	assert.ErrorIs(t, errBadPass, autherr.ErrInvalidCredentials)
	assert.ErrorIs(t, errUnknown, autherr.ErrInvalidCredentials)
	assert.Equal(t, errBadPass.Error(), errUnknown.Error())
}

func TestLoginStoreFailure(t *testing.T) {
	svc, store := newTestService(t)
	store.failErr = errors.New("connection refused")

	_, err := svc.Login(context.Background(), "admin", "123456")
	require.Error(t, err)
	assert.NotErrorIs(t, err, autherr.ErrInvalidCredentials)
	assert.Equal(t, autherr.Kind(""), autherr.KindOf(err))
}

func TestLoginReadsCurrentStoreState(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	before := store.lookups

	_, err := svc.Register(ctx, "late", "s3cret", "user")
	require.NoError(t, err)
	res, err := svc.Login(ctx, "late", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "USER", res.Claims.Role)

	_, err = svc.Login(ctx, "late", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, before+2, store.lookups)
}

func TestValidateClassifiesFailures(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Validate("garbage")
	assert.ErrorIs(t, err, autherr.ErrMalformed)

	res, err := svc.Login(context.Background(), "user", "password")
	require.NoError(t, err)
	last := res.Token[len(res.Token)-1]
	repl := "A"
	if last == 'A' {
		repl = "B"
	}
	tampered := res.Token[:len(res.Token)-1] + repl
	_, err = svc.Validate(tampered)
	require.Error(t, err)
	assert.True(t, autherr.IsTokenFailure(err))
}

func TestRegister(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, " carol ", "pw", " auditor ")
	require.NoError(t, err)
	assert.Equal(t, "carol", u.Username)
	assert.Equal(t, "AUDITOR", u.Role)
	assert.NotZero(t, u.ID)
	assert.NotEqual(t, "pw", u.PasswordHash)

	_, err = svc.Register(ctx, "carol", "pw", "USER")
	assert.ErrorIs(t, err, ErrUserExists)

	for _, in := range [][3]string{{"", "pw", "USER"}, {"dave", "", "USER"}, {"dave", "pw", ""}, {"dave", "pw", "A,B"}} {
		_, err = svc.Register(ctx, in[0], in[1], in[2])
		assert.ErrorIs(t, err, ErrInvalidUser, "%v", in)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	svc, store := newTestService(t)
	require.NoError(t, svc.Seed(context.Background(), DefaultSeed))
	users, err := svc.Users(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, "ADMIN", store.users["admin"].Role)
	assert.Equal(t, "USER", store.users["user"].Role)
}
