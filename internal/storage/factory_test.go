package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLocal(t *testing.T) {
	b, err := Build(context.Background(), Options{Kind: "LOCAL", LocalRoot: filepath.Join(t.TempDir(), "u")})
	require.NoError(t, err)
	assert.Equal(t, KindLocal, b.Kind())
}

func TestBuildRemoteRequiresRoot(t *testing.T) {
	_, err := Build(context.Background(), Options{Kind: KindRemote})
	assert.Error(t, err)
}

func TestBuildUnsupported(t *testing.T) {
	_, err := Build(context.Background(), Options{Kind: "ftp"})
	assert.Error(t, err)
}

func TestRegisterFactory(t *testing.T) {
	kind := Kind("factorytestcustom")
	RegisterFactory(kind, func(ctx context.Context, opts Options) (Backend, error) {
		return newRemoteBackend(newFakeDrive(), nil, RemoteOptions{RootFolderID: "r", Bucketing: true})
	})
	b, err := Build(context.Background(), Options{Kind: kind})
	require.NoError(t, err)
	assert.Equal(t, KindRemote, b.Kind())
}
