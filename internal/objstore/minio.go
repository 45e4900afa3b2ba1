package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// Config holds the connection settings for the MinIO-backed client.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string

	// Buckets are created at startup if missing.
	Buckets []string

	// OpTimeout bounds each store operation. Zero disables the bound.
	OpTimeout time.Duration
}

// Client is the MinIO-backed Store. It holds a single underlying client
// shared by all callers; Reconnect swaps it out under a generation
// counter so a burst of failures triggers exactly one rebuild.
type Client struct {
	cfg Config

	mu  sync.RWMutex
	mc  *minio.Client
	gen uint64
}

// New connects to the object store and ensures the configured buckets
// exist.
func New(ctx context.Context, cfg Config) (*Client, error) {
	mc, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	c := &Client{cfg: cfg, mc: mc}
	for _, bucket := range cfg.Buckets {
		if err := c.ensureBucket(ctx, bucket); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func dial(cfg Config) (*minio.Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to object store %s: %w", cfg.Endpoint, err)
	}
	return mc, nil
}

// Generation returns the current connection generation. Callers that hit
// a transport error pass it to Reconnect so concurrent failures do not
// stampede the endpoint with rebuilds.
func (c *Client) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Reconnect rebuilds the underlying client unless another caller already
// reconnected past gen, in which case it is a no-op.
func (c *Client) Reconnect(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return nil
	}
	mc, err := dial(c.cfg)
	if err != nil {
		return fmt.Errorf("reconnecting object store: %w", err)
	}
	c.mc = mc
	c.gen++
	log.Warn().Uint64("generation", c.gen).Msg("object store client rebuilt")
	return nil
}

func (c *Client) client() *minio.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mc
}

// do runs op against the current client and, when it fails with a
// transport error, rebuilds the connection once and retries. Not-found
// results and context expiry are returned as-is: neither gets better on
// a fresh connection. All ops routed through here are idempotent.
func (c *Client) do(ctx context.Context, op func(mc *minio.Client) error) error {
	gen := c.Generation()
	err := op(c.client())
	if err == nil || isNotFound(err) || ctx.Err() != nil {
		return err
	}
	if rErr := c.Reconnect(ctx, gen); rErr != nil {
		return err
	}
	return op(c.client())
}

func (c *Client) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.OpTimeout)
}

func (c *Client) ensureBucket(ctx context.Context, name string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	exists, err := c.client().BucketExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", name, err)
	}
	if exists {
		return nil
	}
	if err := c.client().MakeBucket(ctx, name, minio.MakeBucketOptions{Region: c.cfg.Region}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", name, err)
	}
	log.Info().Str("bucket", name).Msg("bucket created")
	return nil
}

// Upload stores data under bucket/key with the given user metadata.
func (c *Client) Upload(ctx context.Context, bucket, key string, data []byte, metadata map[string]string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	err := c.do(ctx, func(mc *minio.Client) error {
		_, err := mc.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType:  "application/octet-stream",
			UserMetadata: metadata,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("uploading %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Download fetches the full object at bucket/key. Returns ErrNotFound
// when the object does not exist.
func (c *Client) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	var data []byte
	err := c.do(ctx, func(mc *minio.Client) error {
		obj, err := mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return err
		}
		defer obj.Close()
		// GetObject is lazy; a missing key only surfaces on the first read.
		data, err = io.ReadAll(obj)
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("downloading %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// List returns objects under prefix, up to limit (0 means no cap).
// Listing streams results and is not retried; callers re-run the whole
// listing on failure.
func (c *Client) List(ctx context.Context, bucket, prefix string, limit int) ([]ObjectInfo, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var infos []ObjectInfo
	for obj := range c.client().ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			if isNotFound(obj.Err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("listing %s/%s: %w", bucket, prefix, obj.Err)
		}
		infos = append(infos, ObjectInfo{
			Key:      obj.Key,
			Size:     obj.Size,
			ETag:     obj.ETag,
			Modified: obj.LastModified,
		})
		if limit > 0 && len(infos) >= limit {
			// cancel stops the listing goroutine on early exit
			break
		}
	}
	return infos, nil
}

// Delete removes the object at bucket/key. Deleting a missing object is
// not an error, matching S3 semantics.
func (c *Client) Delete(ctx context.Context, bucket, key string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	err := c.do(ctx, func(mc *minio.Client) error {
		return mc.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	})
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Exists reports whether an object is stored at bucket/key.
func (c *Client) Exists(ctx context.Context, bucket, key string) (bool, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	err := c.do(ctx, func(mc *minio.Client) error {
		_, err := mc.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// HealthCheck probes the store by listing buckets. Failures are folded
// into the result rather than returned, so callers can always report
// latency alongside status.
func (c *Client) HealthCheck(ctx context.Context) *Health {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	start := time.Now()
	buckets, err := c.client().ListBuckets(ctx)
	h := &Health{Latency: time.Since(start).String()}
	if err != nil {
		h.Error = err.Error()
		return h
	}
	h.Healthy = true
	for _, b := range buckets {
		h.Buckets = append(h.Buckets, b.Name)
	}
	return h
}

// isNotFound must run before any wrapping: minio error responses are
// concrete values, not wrapped chains.
func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound
}
