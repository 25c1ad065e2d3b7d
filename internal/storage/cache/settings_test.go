//go:build integration

package cache

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/storefront/internal/domain/settings"
)

var testClient *redis.Client

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start redis: %v", err)
	}
	defer func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			log.Printf("terminate redis: %v", err)
		}
	}()

	endpoint, err := ctr.Endpoint(ctx, "")
	if err != nil {
		log.Fatalf("endpoint: %v", err)
	}
	testClient, err = NewClient(fmt.Sprintf("redis://%s/0", endpoint), "", 0)
	if err != nil {
		log.Fatalf("client: %v", err)
	}
	defer testClient.Close()

	return m.Run()
}

type countingRepo struct {
	s     settings.Settings
	err   error
	gets  atomic.Int32
	saves atomic.Int32
}

func (r *countingRepo) Get(_ context.Context) (settings.Settings, error) {
	r.gets.Add(1)
	return r.s, r.err
}

func (r *countingRepo) Save(_ context.Context, s settings.Settings) error {
	r.saves.Add(1)
	r.s = s
	return nil
}

func TestSettingsCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testClient.FlushDB(ctx).Err())

	repo := &countingRepo{s: settings.Default()}
	cache := NewSettingsCache(testClient, repo, time.Minute)

	first, err := cache.Get(ctx)
	require.NoError(t, err)
	second, err := cache.Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(1), repo.gets.Load())
	assert.True(t, first.VATPercent.Equal(second.VATPercent))
	assert.Equal(t, first.StoreName, second.StoreName)

	ttl, err := testClient.TTL(ctx, SettingsKey).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
}

func TestSettingsCache_SaveRefreshes(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testClient.FlushDB(ctx).Err())

	repo := &countingRepo{s: settings.Default()}
	cache := NewSettingsCache(testClient, repo, time.Minute)

	_, err := cache.Get(ctx)
	require.NoError(t, err)

	updated := settings.Default()
	updated.StoreName = "Renamed"
	require.NoError(t, cache.Save(ctx, updated))

	got, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.StoreName)
	assert.Equal(t, int32(1), repo.gets.Load())

	require.NoError(t, cache.Invalidate(ctx))
	_, err = cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), repo.gets.Load())
}

func TestSettingsCache_RepositoryError(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testClient.FlushDB(ctx).Err())

	repo := &countingRepo{err: errors.New("db down")}
	cache := NewSettingsCache(testClient, repo, time.Minute)

	_, err := cache.Get(ctx)
	require.Error(t, err)

	n, err := testClient.Exists(ctx, SettingsKey).Result()
	require.NoError(t, err)
	assert.Zero(t, n, "errors must not be cached")
}
