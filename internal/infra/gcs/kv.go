package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-sync/internal/kvstore"
)

// errNotFound is returned by objects when an object does not exist.
var errNotFound = errors.New("object not found")

// objects is the subset of bucket operations the store needs.
type objects interface {
	read(ctx context.Context, name string) ([]byte, error)
	write(ctx context.Context, name string, data []byte) error
	remove(ctx context.Context, name string) error
	list(ctx context.Context, prefix string) ([]string, error)
}

// KV is a kvstore.Store where each key is one object under the location
// prefix. Values are written as text/plain.
type KV struct {
	objects objects
	prefix  string
	client  *storage.Client
}

// NewKV opens a store at loc using Application Default Credentials.
func NewKV(ctx context.Context, loc Location) (*KV, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewKV: create storage client: %w", err)
	}
	return &KV{
		objects: &bucketObjects{bkt: client.Bucket(loc.Bucket)},
		prefix:  loc.Prefix,
		client:  client,
	}, nil
}

// Close closes the storage client.
func (s *KV) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *KV) objectName(key string) string {
	return s.prefix + key
}

// Get implements kvstore.Store.
func (s *KV) Get(ctx context.Context, key string) (string, bool, error) {
	data, err := s.objects.read(ctx, s.objectName(key))
	if errors.Is(err, errNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("KV.Get %s: %w", key, err)
	}
	return string(data), true, nil
}

// Set implements kvstore.Store.
func (s *KV) Set(ctx context.Context, key, value string) error {
	if err := s.objects.write(ctx, s.objectName(key), []byte(value)); err != nil {
		return fmt.Errorf("KV.Set %s: %w", key, err)
	}
	return nil
}

// Delete implements kvstore.Store. Deleting a missing key is not an error.
func (s *KV) Delete(ctx context.Context, key string) error {
	err := s.objects.remove(ctx, s.objectName(key))
	if err != nil && !errors.Is(err, errNotFound) {
		return fmt.Errorf("KV.Delete %s: %w", key, err)
	}
	return nil
}

// Keys implements kvstore.Store.
func (s *KV) Keys(ctx context.Context, prefix string) ([]string, error) {
	names, err := s.objects.list(ctx, s.objectName(prefix))
	if err != nil {
		return nil, fmt.Errorf("KV.Keys: %w", err)
	}
	keys := make([]string, 0, len(names))
	for _, name := range names {
		keys = append(keys, strings.TrimPrefix(name, s.prefix))
	}
	return keys, nil
}

var _ kvstore.Store = (*KV)(nil)

// bucketObjects talks to a real bucket.
type bucketObjects struct {
	bkt *storage.BucketHandle
}

func (b *bucketObjects) read(ctx context.Context, name string) ([]byte, error) {
	r, err := b.bkt.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object: %w", err)
	}
	return data, nil
}

func (b *bucketObjects) write(ctx context.Context, name string, data []byte) error {
	w := b.bkt.Object(name).NewWriter(ctx)
	w.ContentType = "text/plain; charset=utf-8"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write GCS object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

func (b *bucketObjects) remove(ctx context.Context, name string) error {
	err := b.bkt.Object(name).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return errNotFound
	}
	return err
}

func (b *bucketObjects) list(ctx context.Context, prefix string) ([]string, error) {
	it := b.bkt.Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list GCS objects: %w", err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}
