package objectstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapml/internal/testutil"
)

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "processed/processed.csv", want: "processed/processed.csv"},
		{key: "/models//model.json", want: "models/model.json"},
		{key: "raw/./a.csv", want: "raw/a.csv"},
		{key: "", wantErr: true},
		{key: "/", wantErr: true},
		{key: "../secret", wantErr: true},
		{key: "raw/../../x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := CleanKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocal_PutGetListDelete(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := Open(ctx, Config{Backend: "local", Root: root}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Put(ctx, "raw/prices/stock.csv", strings.NewReader("a,b\n1,2\n")))
	require.NoError(t, store.Put(ctx, "raw/readme.txt", strings.NewReader("hi")))
	require.NoError(t, store.Put(ctx, "models/model.json", strings.NewReader("{}")))

	rc, err := store.Get(ctx, "raw/prices/stock.csv")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))

	keys, err := store.List(ctx, "raw/")
	require.NoError(t, err)
	assert.Equal(t, []string{"raw/prices/stock.csv", "raw/readme.txt"}, keys)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, store.Put(ctx, "models/model.json", bytes.NewBufferString(`{"v":2}`)))
	rc, err = store.Get(ctx, "models/model.json")
	require.NoError(t, err)
	data, _ = io.ReadAll(rc)
	_ = rc.Close()
	assert.Equal(t, `{"v":2}`, string(data), "put overwrites")

	require.NoError(t, store.Delete(ctx, "raw/readme.txt"))
	assert.ErrorIs(t, store.Delete(ctx, "raw/readme.txt"), ErrNotExist)

	_, err = store.Get(ctx, "missing.csv")
	assert.ErrorIs(t, err, ErrNotExist)

	assert.True(t, strings.HasPrefix(store.URI("models/model.json"), "file://"))
}

func TestPutFileGetFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewLocal(filepath.Join(dir, "bucket"), nil)
	require.NoError(t, err)

	src := testutil.WriteFile(t, dir, "split/X_train.csv", "Open\n1\n")
	require.NoError(t, PutFile(ctx, store, Join("split", "X_train.csv"), src))

	dst := filepath.Join(dir, "download", "nested", "X_train.csv")
	require.NoError(t, GetFile(ctx, store, "split/X_train.csv", dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "Open\n1\n", string(got))

	err = GetFile(ctx, store, "split/none.csv", dst)
	assert.ErrorIs(t, err, ErrNotExist)

	assert.Error(t, PutFile(ctx, store, "x", filepath.Join(dir, "no-such-file")))
}

func TestOpen_Backends(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, []string{"gcs", "local", "s3"}, Backends())

	_, err := Open(ctx, Config{Backend: "azure"}, nil)
	var unknown *UnknownBackendError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "azure", unknown.Backend)

	_, err = Open(ctx, Config{Backend: "local"}, nil)
	assert.Error(t, err, "local requires a root")

	_, err = Open(ctx, Config{Backend: "s3"}, nil)
	assert.Error(t, err, "s3 requires a bucket")

	_, err = Open(ctx, Config{Backend: "gcs"}, nil)
	assert.Error(t, err, "gcs requires a bucket")

	s3Store, err := Open(ctx, Config{
		Backend:      "s3",
		Bucket:       "models",
		Region:       "us-east-1",
		Endpoint:     "http://127.0.0.1:9000",
		UsePathStyle: true,
		Anonymous:    true,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "s3://models/models/model.json", s3Store.URI("models/model.json"))

	gcsStore, err := Open(ctx, Config{
		Backend:   "gcs",
		Bucket:    "raw-data",
		Endpoint:  "http://127.0.0.1:4443/storage/v1/",
		Anonymous: true,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "gs://raw-data/raw/stock.csv", gcsStore.URI("raw/stock.csv"))
	assert.NoError(t, gcsStore.Close())
}
