package mongo

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pribylovaa/account-service/internal/config"
	"github.com/pribylovaa/account-service/internal/models"
	"github.com/pribylovaa/account-service/internal/storage"
)

const testTimeout = 10 * time.Second

// TestMain поднимает MongoDB в контейнере один раз на пакет.
// Без GO_TEST_INTEGRATION интеграционные тесты пропускаются.
func TestMain(m *testing.M) {
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		os.Exit(m.Run())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	mongoC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7.0",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start mongo testcontainer: %v\n", err)
		os.Exit(1)
	}

	host, err := mongoC.Host(ctx)
	if err != nil {
		_ = mongoC.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := mongoC.MappedPort(ctx, "27017/tcp")
	if err != nil {
		_ = mongoC.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get mapped port: %v\n", err)
		os.Exit(1)
	}

	_ = os.Setenv("MONGO_URL", fmt.Sprintf("mongodb://%s:%s", host, port.Port()))

	code := m.Run()

	_ = mongoC.Terminate(context.Background())
	os.Exit(code)
}

// mustNewMongo подключается к отдельной БД на тест и удаляет её по завершении.
func mustNewMongo(t *testing.T) *Mongo {
	t.Helper()

	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("set GO_TEST_INTEGRATION=1 to run MongoDB tests")
	}

	base := strings.TrimRight(os.Getenv("MONGO_URL"), "/")
	cfg := config.MongoConfig{URL: base + "/accounts_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	m, err := New(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = m.db.Drop(ctx)
		_ = m.Close(ctx)
	})

	return m
}

func fakeUser() *models.User {
	return &models.User{
		Username:     strings.ToLower(gofakeit.Username()) + gofakeit.DigitN(4),
		Email:        strings.ToLower(gofakeit.Email()),
		FullName:     gofakeit.Name(),
		Avatar:       gofakeit.URL(),
		PasswordHash: "$2a$10$hash",
	}
}

func TestDatabaseFromURI(t *testing.T) {
	t.Parallel()

	require.Equal(t, "accounts", databaseFromURI("mongodb://localhost:27017"))
	require.Equal(t, "accounts", databaseFromURI("mongodb://localhost:27017/"))
	require.Equal(t, "users_db", databaseFromURI("mongodb://localhost:27017/users_db?retryWrites=true"))
	require.Equal(t, "accounts", databaseFromURI("://bad"))
}

func TestSaveAndLookup(t *testing.T) {
	m := mustNewMongo(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	u := fakeUser()
	require.NoError(t, m.SaveUser(ctx, u))
	require.NotEmpty(t, u.ID)
	require.False(t, u.CreatedAt.IsZero())

	byName, err := m.UserByLogin(ctx, u.Username, "")
	require.NoError(t, err)
	require.Equal(t, u.ID, byName.ID)
	require.Equal(t, u.PasswordHash, byName.PasswordHash)

	byEmail, err := m.UserByLogin(ctx, "", u.Email)
	require.NoError(t, err)
	require.Equal(t, u.ID, byEmail.ID)

	// Совпадение по одному из полей достаточно.
	either, err := m.UserByLogin(ctx, "nobody", u.Email)
	require.NoError(t, err)
	require.Equal(t, u.ID, either.ID)

	_, err = m.UserByLogin(ctx, "nobody", "nobody@x.com")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = m.UserByLogin(ctx, "", "")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSaveUser_Duplicate(t *testing.T) {
	m := mustNewMongo(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	u := fakeUser()
	require.NoError(t, m.SaveUser(ctx, u))

	sameName := fakeUser()
	sameName.Username = u.Username
	require.ErrorIs(t, m.SaveUser(ctx, sameName), storage.ErrAlreadyExists)

	sameEmail := fakeUser()
	sameEmail.Email = u.Email
	require.ErrorIs(t, m.SaveUser(ctx, sameEmail), storage.ErrAlreadyExists)
}

func TestProfileByID_HidesSecrets(t *testing.T) {
	m := mustNewMongo(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	u := fakeUser()
	require.NoError(t, m.SaveUser(ctx, u))
	require.NoError(t, m.SetRefreshToken(ctx, u.ID, "rt-1"))

	p, err := m.ProfileByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Username, p.Username)
	require.Empty(t, p.PasswordHash)
	require.Empty(t, p.RefreshToken)

	full, err := m.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "rt-1", full.RefreshToken)

	_, err = m.ProfileByID(ctx, "not-an-object-id")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = m.UserByID(ctx, "65f1c0ffee0000000000abcd")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRefreshTokenLifecycle(t *testing.T) {
	m := mustNewMongo(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	u := fakeUser()
	require.NoError(t, m.SaveUser(ctx, u))
	require.NoError(t, m.SetRefreshToken(ctx, u.ID, "rt-1"))

	ok, err := m.RotateRefreshToken(ctx, u.ID, "rt-1", "rt-2")
	require.NoError(t, err)
	require.True(t, ok)

	// Старый токен больше не подходит.
	ok, err = m.RotateRefreshToken(ctx, u.ID, "rt-1", "rt-3")
	require.NoError(t, err)
	require.False(t, ok)

	got, err := m.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "rt-2", got.RefreshToken)

	require.NoError(t, m.ClearRefreshToken(ctx, u.ID))
	got, err = m.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, got.RefreshToken)

	// Пустой новый токен снимает текущий, но только при совпадении старого.
	require.NoError(t, m.SetRefreshToken(ctx, u.ID, "rt-5"))
	ok, err = m.RotateRefreshToken(ctx, u.ID, "rt-4", "")
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = m.RotateRefreshToken(ctx, u.ID, "rt-5", "")
	require.NoError(t, err)
	require.True(t, ok)
	got, err = m.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, got.RefreshToken)

	_, err = m.RotateRefreshToken(ctx, "65f1c0ffee0000000000abcd", "a", "b")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.ErrorIs(t, m.SetRefreshToken(ctx, "65f1c0ffee0000000000abcd", "x"), storage.ErrNotFound)
	require.ErrorIs(t, m.ClearRefreshToken(ctx, "bad"), storage.ErrNotFound)
}

func TestRotateRefreshToken_SingleWinner(t *testing.T) {
	m := mustNewMongo(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	u := fakeUser()
	require.NoError(t, m.SaveUser(ctx, u))
	require.NoError(t, m.SetRefreshToken(ctx, u.ID, "rt-0"))

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := m.RotateRefreshToken(ctx, u.ID, "rt-0", fmt.Sprintf("rt-next-%d", i))
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()
	require.Equal(t, 1, wins)
}
