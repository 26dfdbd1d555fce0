//go:build e2e

// Package e2e runs the DynamoDB store and the catalog service against
// DynamoDB Local in a container.
// Run with: go test -tags=e2e -v ./e2e/...
package e2e

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jacentio/catalog/batch"
	"github.com/jacentio/catalog/catalog"
	"github.com/jacentio/catalog/product"
	"github.com/jacentio/catalog/store"
)

var endpoint string

func TestMain(m *testing.M) {
	ctx := context.Background()

	terminate, err := startDynamoLocal(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start dynamodb-local: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	terminate()
	os.Exit(code)
}

// startDynamoLocal runs DynamoDB Local and points endpoint at it.
func startDynamoLocal(ctx context.Context) (func(), error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "amazon/dynamodb-local:latest",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"-jar", "DynamoDBLocal.jar", "-inMemory", "-sharedDb"},
			WaitingFor:   wait.ForListeningPort("8000/tcp").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		return nil, err
	}
	terminate := func() { _ = container.Terminate(ctx) }

	host, err := container.Host(ctx)
	if err != nil {
		terminate()
		return nil, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "8000")
	if err != nil {
		terminate()
		return nil, fmt.Errorf("container port: %w", err)
	}

	endpoint = "http://" + host + ":" + port.Port()
	return terminate, nil
}

// newStore creates a fresh table for the calling test.
func newStore(t *testing.T) *store.Dynamo {
	t.Helper()
	ctx := context.Background()

	client, err := store.NewClient(ctx, store.ClientOptions{
		Region:    "us-east-1",
		Endpoint:  endpoint,
		AccessKey: "local",
		SecretKey: "local",
	})
	require.NoError(t, err)

	cfg := store.DefaultConfig()
	cfg.Table = "catalog-e2e-" + uuid.NewString()[:8]
	require.NoError(t, store.EnsureTable(ctx, client, cfg))
	return store.NewDynamo(client, cfg)
}

func doc(id, name string) store.Document {
	return store.Document{"id": id, "name": name, "price": 1.5, "status": "active"}
}

func TestDynamo_ItemLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	created, err := s.Create(ctx, "tools", doc(id, "Hammer"))
	require.NoError(t, err)
	require.NotEmpty(t, created.ETag())

	_, err = s.Create(ctx, "tools", doc(id, "Hammer"))
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	got, err := s.Read(ctx, id, "tools")
	require.NoError(t, err)
	assert.Equal(t, "Hammer", got["name"])
	assert.Equal(t, created.ETag(), got.ETag())

	patched, err := s.Patch(ctx, id, "tools", []store.Field{{Name: "name", Value: "Claw Hammer"}}, created.ETag())
	require.NoError(t, err)
	assert.NotEqual(t, created.ETag(), patched.ETag())

	_, err = s.Patch(ctx, id, "tools", []store.Field{{Name: "name", Value: "Stale"}}, created.ETag())
	assert.ErrorIs(t, err, store.ErrPreconditionFailed)

	_, err = s.Patch(ctx, uuid.NewString(), "tools", []store.Field{{Name: "name", Value: "Ghost"}}, "")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Items are scoped by partition.
	_, err = s.Read(ctx, id, "garden")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Delete(ctx, id, "tools", patched.ETag()))
	assert.ErrorIs(t, s.Delete(ctx, id, "tools", ""), store.ErrNotFound)
}

func TestDynamo_BatchCommits(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	existing, err := s.Create(ctx, "tools", doc(uuid.NewString(), "Saw"))
	require.NoError(t, err)
	doomed, err := s.Create(ctx, "tools", doc(uuid.NewString(), "Drill"))
	require.NoError(t, err)

	newID := uuid.NewString()
	results, err := s.BatchExecute(ctx, "tools", []store.Operation{
		{Kind: store.OpCreate, ID: newID, Document: doc(newID, "Level")},
		{Kind: store.OpPatch, ID: existing.ID(), Set: []store.Field{{Name: "price", Value: 9.5}}, IfMatch: existing.ETag()},
		{Kind: store.OpDelete, ID: doomed.ID()},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, http.StatusCreated, results[0].Status)
	assert.Equal(t, http.StatusOK, results[1].Status)
	assert.Equal(t, http.StatusNoContent, results[2].Status)
	assert.EqualValues(t, 9.5, results[1].Document["price"])

	_, err = s.Read(ctx, newID, "tools")
	require.NoError(t, err)
	_, err = s.Read(ctx, doomed.ID(), "tools")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDynamo_BatchRejectedAsAWhole(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	existing, err := s.Create(ctx, "tools", doc(uuid.NewString(), "Saw"))
	require.NoError(t, err)

	newID := uuid.NewString()
	_, err = s.BatchExecute(ctx, "tools", []store.Operation{
		{Kind: store.OpCreate, ID: newID, Document: doc(newID, "Level")},
		{Kind: store.OpPatch, ID: existing.ID(), Set: []store.Field{{Name: "price", Value: 2.0}}, IfMatch: "stale"},
	})

	var batchErr *store.BatchError
	require.True(t, errors.As(err, &batchErr), "got %v", err)
	assert.Equal(t, 1, batchErr.FailedIndex)
	require.Len(t, batchErr.Results, 2)
	assert.Equal(t, http.StatusFailedDependency, batchErr.Results[0].Status)
	assert.Equal(t, http.StatusPreconditionFailed, batchErr.Results[1].Status)

	_, err = s.Read(ctx, newID, "tools")
	assert.ErrorIs(t, err, store.ErrNotFound)

	unchanged, err := s.Read(ctx, existing.ID(), "tools")
	require.NoError(t, err)
	assert.Equal(t, existing.ETag(), unchanged.ETag())
}

func TestDynamo_QueryPages(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i := range 5 {
		_, err := s.Create(ctx, "tools", doc(uuid.NewString(), fmt.Sprintf("tool-%d", i)))
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, "garden", doc(uuid.NewString(), "Rake"))
	require.NoError(t, err)

	seen := map[string]bool{}
	req := store.QueryRequest{PartitionKey: "tools", Limit: 2}
	for pages := 0; ; pages++ {
		require.Less(t, pages, 5, "query did not terminate")
		page, err := s.Query(ctx, req)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(page.Documents), 2)
		for _, d := range page.Documents {
			assert.False(t, seen[d.ID()], "duplicate %s", d.ID())
			seen[d.ID()] = true
		}
		if page.NextToken == "" {
			break
		}
		req.StartToken = page.NextToken
	}
	assert.Len(t, seen, 5)

	all, err := s.Query(ctx, store.QueryRequest{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, all.Documents, 6)
}

func TestCatalog_OverDynamo(t *testing.T) {
	svc := catalog.New(newStore(t), catalog.DefaultConfig(), zerolog.Nop())
	ctx := context.Background()

	res, err := svc.Batch(ctx, []batch.WriteRequest{
		batch.Create(product.Draft{Category: "Tools", Name: "Hammer", Price: 10}),
		batch.Create(product.Draft{Category: "garden", Name: "Rake", Price: 4}),
		batch.Create(product.Draft{Category: "TOOLS", Name: "Saw", Price: 7}),
	})
	require.NoError(t, err)
	require.Len(t, res.Succeeded, 3)
	assert.Empty(t, res.Failed)

	page, err := svc.List(ctx, "tools", "", 1)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.NotEmpty(t, page.ContinuationToken)

	next, err := svc.List(ctx, "tools", page.ContinuationToken, 1)
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	assert.NotEqual(t, page.Items[0].ID, next.Items[0].ID)

	item := page.Items[0]
	updated, err := svc.Update(ctx, item.ID, item.Category, map[string]any{"price": 11.0}, item.ETag)
	require.NoError(t, err)
	assert.Equal(t, 11.0, updated.Price)

	_, err = svc.Update(ctx, item.ID, item.Category, map[string]any{"price": 12.0}, item.ETag)
	assert.ErrorIs(t, err, store.ErrPreconditionFailed)
}
