package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/catalog/internal/config"
	"github.com/jacentio/catalog/store/memstore"
)

func TestOpenStore_Memory(t *testing.T) {
	s, err := OpenStore(context.Background(), config.Default(), zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &memstore.Store{}, s)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "cosmos"
	_, err := OpenStore(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "cosmos")
}

func TestNewServer_ServesHealth(t *testing.T) {
	server, err := NewServer(context.Background(), config.Default(), zerolog.Nop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
