package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves the subset of the path-style S3 REST API the backend uses.
type fakeS3 struct {
	bucket string

	mu      sync.Mutex
	objects map[string][]byte
	paths   []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, r.Method+" "+r.URL.Path)

	bucketPrefix := "/" + f.bucket
	if r.URL.Path == bucketPrefix || r.URL.Path == bucketPrefix+"/" {
		if r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2" {
			f.list(w, r.URL.Query().Get("prefix"))
			return
		}
		http.Error(w, "unsupported bucket request", http.StatusBadRequest)
		return
	}
	if !strings.HasPrefix(r.URL.Path, bucketPrefix+"/") {
		http.Error(w, "wrong bucket", http.StatusBadRequest)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, bucketPrefix+"/")

	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.objects[key] = data
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message><Key>%s</Key></Error>`, key)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		_, _ = w.Write(data)
	case http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) list(w http.ResponseWriter, prefix string) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&b, "<Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>", f.bucket, prefix, len(keys))
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(f.objects[k]))
	}
	b.WriteString("</ListBucketResult>")

	w.Header().Set("Content-Type", "application/xml")
	_, _ = io.WriteString(w, b.String())
}

func (f *fakeS3) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func newFakeS3Store(t *testing.T) (*S3, *fakeS3) {
	t.Helper()
	t.Setenv("AWS_CONFIG_FILE", "/nonexistent/config")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/nonexistent/credentials")

	fake := &fakeS3{bucket: "models", objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewS3(context.Background(), Config{
		Bucket:          "models",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		UsePathStyle:    true,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	}, nil)
	require.NoError(t, err)
	return store, fake
}

func TestS3_PutGetListDelete(t *testing.T) {
	ctx := context.Background()
	store, fake := newFakeS3Store(t)

	require.NoError(t, store.Put(ctx, "/raw//prices.csv", strings.NewReader("Date,Open\n")))
	require.NoError(t, store.Put(ctx, "models/model.json", io.NopCloser(strings.NewReader(`{"w":[1]}`))))

	assert.Contains(t, fake.requests(), "PUT /models/raw/prices.csv")
	assert.Contains(t, fake.requests(), "PUT /models/models/model.json")

	rc, err := store.Get(ctx, "raw/prices.csv")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "Date,Open\n", string(data))

	keys, err := store.List(ctx, "raw/")
	require.NoError(t, err)
	assert.Equal(t, []string{"raw/prices.csv"}, keys)

	keys, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"models/model.json", "raw/prices.csv"}, keys)

	require.NoError(t, store.Delete(ctx, "raw/prices.csv"))
	assert.Contains(t, fake.requests(), "DELETE /models/raw/prices.csv")

	keys, err = store.List(ctx, "raw/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	assert.Equal(t, "s3://models/raw/prices.csv", store.URI("raw/prices.csv"))
}

func TestS3_MissingObjects(t *testing.T) {
	ctx := context.Background()
	store, fake := newFakeS3Store(t)

	_, err := store.Get(ctx, "raw/missing.csv")
	require.ErrorIs(t, err, ErrNotExist)
	assert.Contains(t, err.Error(), "s3://models/raw/missing.csv")

	err = store.Delete(ctx, "raw/missing.csv")
	require.ErrorIs(t, err, ErrNotExist)

	// Missing deletes stop at the existence check.
	assert.Contains(t, fake.requests(), "HEAD /models/raw/missing.csv")
	assert.NotContains(t, fake.requests(), "DELETE /models/raw/missing.csv")

	_, err = store.Get(ctx, "../escape")
	assert.Error(t, err)
	assert.NotContains(t, fake.requests(), "GET /models/../escape")
}
