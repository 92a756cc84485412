package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shipline/internal/blob"
	"shipline/internal/config"
	"shipline/internal/engine"
	"shipline/internal/store"
)

func TestBuildDefaultsToSQLiteAndFilesystem(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	svc, err := Build(ctx, dir, nil, zap.NewNop())
	require.NoError(t, err)
	defer svc.Close()

	assert.Equal(t, store.DriverSQLite, svc.Slots.Driver())
	assert.Equal(t, blob.DriverFilesystem, svc.Blobs.Driver())
	assert.FileExists(t, filepath.Join(dir, ".shipline", "shipline.db"))

	res, err := svc.Engine.CreateShipment(ctx, engine.ShipmentCreateOptions{Type: "Export", Date: "2024-06-01", NumAnimals: 1})
	require.NoError(t, err)
	assert.Equal(t, "EXPORT-001", res.Shipment.ShipmentNumber)
}

func TestBuildMemoryBackends(t *testing.T) {
	cfg, err := config.FromYAML([]byte("store:\n  driver: memory\nblob:\n  driver: memory\nmail:\n  delay: 0s\n"))
	require.NoError(t, err)
	svc, err := Build(context.Background(), t.TempDir(), cfg, nil)
	require.NoError(t, err)
	defer svc.Close()
	assert.Equal(t, store.DriverMemory, svc.Slots.Driver())
	assert.Equal(t, blob.DriverMemory, svc.Blobs.Driver())
	assert.NotNil(t, svc.Metrics)
}
