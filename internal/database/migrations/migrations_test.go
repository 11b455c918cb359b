package migrations

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	src, err := EmbeddedSource()
	require.NoError(t, err)
	defer src.Close()

	var versions []uint
	version, err := src.First()
	for err == nil {
		versions = append(versions, version)

		up, _, upErr := src.ReadUp(version)
		require.NoError(t, upErr, "up migration %d", version)
		body, _ := io.ReadAll(up)
		up.Close()
		assert.NotEmpty(t, body)

		down, _, downErr := src.ReadDown(version)
		require.NoError(t, downErr, "down migration %d", version)
		down.Close()

		version, err = src.Next(version)
	}
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, []uint{1, 2}, versions)
}

func TestInitializeRejectsMissingDir(t *testing.T) {
	r := NewRunner(nil, MigrateOptions{MigrationsDir: "/does/not/exist"}, nil)
	err := r.Initialize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
	assert.NoError(t, r.Close())
}
