// Package storage puts, deletes and lists course media on a GCS bucket
// and hands back the public URL for every object it writes.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type Client interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	PublicURL(key string) string
	KeyFromURL(url string) string
}

type Bucket struct {
	client  *storage.Client
	name    string
	baseURL string
}

func New(ctx context.Context, bucket string, baseURL string, opts ...option.ClientOption) (*Bucket, error) {
	cl, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	return &Bucket{
		client:  cl,
		name:    bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (b *Bucket) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	w := b.client.Bucket(b.name).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, body); err != nil {
		w.Close()
		return "", fmt.Errorf("writing object[%s]: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing object[%s]: %w", key, err)
	}

	return b.PublicURL(key), nil
}

func (b *Bucket) Delete(ctx context.Context, key string) error {
	err := b.client.Bucket(b.name).Object(key).Delete(ctx)
	if err != nil && err != storage.ErrObjectNotExist {
		return fmt.Errorf("deleting object[%s]: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every object below prefix. Used for whole-folder
// teardown when a course is destroyed.
func (b *Bucket) DeletePrefix(ctx context.Context, prefix string) error {
	bkt := b.client.Bucket(b.name)
	it := bkt.Objects(ctx, &storage.Query{Prefix: prefix})

	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("listing prefix[%s]: %w", prefix, err)
		}

		if err := bkt.Object(attrs.Name).Delete(ctx); err != nil && err != storage.ErrObjectNotExist {
			return fmt.Errorf("deleting object[%s]: %w", attrs.Name, err)
		}
	}
}

func (b *Bucket) PublicURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", b.baseURL, b.name, key)
}

// Key layout helpers shared by course upload and reconciliation.

func VideoKey(courseID, sectionID, lectureID string) string {
	return fmt.Sprintf("courses/%s/section-%s/lecture-%s.mp4", courseID, sectionID, lectureID)
}

func ThumbnailKey(courseID string) string {
	return fmt.Sprintf("courses/%s/thumbnail.jpeg", courseID)
}

func CoursePrefix(courseID string) string {
	return fmt.Sprintf("courses/%s/", courseID)
}

// KeyFromURL turns a stored public URL back into the object key.
func (b *Bucket) KeyFromURL(url string) string {
	return strings.TrimPrefix(url, b.PublicURL(""))
}
