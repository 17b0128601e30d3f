package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"fluxrepair/pkg/domain"
)

func TestOpenStoreDrivers(t *testing.T) {
	ctx := context.Background()

	mem, err := OpenStore(ctx, StorageConfig{})
	require.NoError(t, err)
	require.NoError(t, mem.Close())

	lite, err := OpenStore(ctx, StorageConfig{Driver: StorageSQLite, SQLitePath: filepath.Join(t.TempDir(), "l.db")})
	require.NoError(t, err)
	defer func() { _ = lite.Close() }()

	l := New("run-1", lite)
	require.NoError(t, l.Append(ctx, domain.Outcome{Index: 0, Classification: domain.ClassRepairSucceeded, ReactionsAdded: []string{"R1"}}))
	rows, err := lite.Load(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "run-1", rows[0].RunID)

	_, err = OpenStore(ctx, StorageConfig{Driver: "etcd"})
	require.Error(t, err)

	_, err = OpenStore(ctx, StorageConfig{Driver: StorageRedis})
	require.Error(t, err)
}
