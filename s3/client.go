// Package s3 reads archive files held on S3-backed storage nodes.
//
// Objects are laid out like any node root: "<prefix>/<acquisition>/<file>".
// The client lists them and computes their MD5 digests by streaming, so
// files can be classified and registered without staging them locally.
//
// # Authentication
//
// The client uses AWS SDK default credential chain:
//  1. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
//  2. Shared credentials file (~/.aws/credentials)
//  3. IAM role (if running on EC2)
//
// Without AWS_ACCESS_KEY_ID the client falls back to anonymous access,
// which is enough for public archive buckets.
//
// # Usage Example
//
//	client, err := s3.New(ctx, s3.Config{
//		Region: "us-east-1",
//		Bucket: "chime-archive",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	objs, err := client.ListObjects(ctx, "archive/")
//	for _, o := range objs {
//		sum, size, err := client.MD5Object(ctx, o.Key)
//		...
//	}
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/chime-experiment/dataindex"
	"github.com/chime-experiment/dataindex/checksum"
	"github.com/chime-experiment/dataindex/perf"
)

// API is the subset of the S3 client used here.
type API interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ProgressFunc is called periodically while the object at key is being
// read, with the bytes read so far and the time since the read started.
type ProgressFunc func(key string, read, total int64, elapsed time.Duration)

// Client wraps the S3 API for one bucket.
type Client struct {
	api          API
	bucket       string
	logger       logrus.FieldLogger
	progressFunc ProgressFunc
	bufSize      int
}

// Config holds S3 client configuration.
type Config struct {
	// Region is the AWS region (optional, defaults to us-east-1)
	Region string

	// Bucket holds the node's objects
	Bucket string

	// Endpoint overrides the service endpoint (e.g. a Ceph or MinIO
	// gateway). Path-style addressing is used when set.
	Endpoint string
}

// DefaultConfig returns a default S3 configuration.
func DefaultConfig() Config {
	return Config{
		Region: "us-east-1",
		Bucket: "chime-archive",
	}
}

// New creates a new S3 client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	// If no credentials provided in env, use anonymous
	if os.Getenv("AWS_ACCESS_KEY_ID") == "" {
		opts = append(opts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithAPI(api, cfg.Bucket), nil
}

// NewWithAPI creates a client around an existing API implementation.
func NewWithAPI(api API, bucket string) *Client {
	return &Client{
		api:     api,
		bucket:  bucket,
		logger:  logrus.StandardLogger(),
		bufSize: checksum.DefaultBufferSize,
	}
}

// SetLogger sets a custom logger for the client.
func (c *Client) SetLogger(logger logrus.FieldLogger) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c.logger = logger
}

// SetProgressFunc sets a callback for progress updates while reading objects.
func (c *Client) SetProgressFunc(fn ProgressFunc) {
	c.progressFunc = fn
}

// Bucket returns the bucket the client reads from.
func (c *Client) Bucket() string {
	return c.bucket
}

// Object is one listed S3 object.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time

	// AcqName and FileName are the last two key components. They are
	// empty for keys that are not of the form ".../<acq>/<file>".
	AcqName  string
	FileName string
}

// ListObjects lists every object under prefix. Directory markers (keys
// ending in "/") are skipped.
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]Object, error) {
	logger := c.logger.WithFields(logrus.Fields{
		"bucket": c.bucket,
		"prefix": prefix,
	})
	logger.Debug("listing S3 objects")

	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil || strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			o := Object{Key: *obj.Key}
			if obj.Size != nil {
				o.Size = *obj.Size
			}
			if obj.LastModified != nil {
				o.LastModified = *obj.LastModified
			}
			if acq, file, err := dataindex.SplitRelativePath(o.Key); err == nil {
				o.AcqName, o.FileName = acq, file
			}
			objects = append(objects, o)
		}
	}

	logger.WithField("count", len(objects)).Info("listed S3 objects")
	return objects, nil
}

// ParseURL splits a node root of the form "s3://bucket/prefix". ok is
// false for roots that are not S3 URLs.
func ParseURL(root string) (bucket, prefix string, ok bool) {
	rest, found := strings.CutPrefix(root, "s3://")
	if !found {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", false
	}
	return bucket, strings.Trim(prefix, "/"), true
}

// NodeStore reads a storage node's files from the objects under a key
// prefix, addressing them by "<acq>/<file>" relative paths.
type NodeStore struct {
	client *Client
	prefix string
}

// NodeStore returns a store rooted at prefix.
func (c *Client) NodeStore(prefix string) *NodeStore {
	return &NodeStore{client: c, prefix: strings.Trim(prefix, "/")}
}

func (s *NodeStore) key(rel string) string {
	if s.prefix == "" {
		return rel
	}
	return path.Join(s.prefix, rel)
}

// Exists reports whether the object for rel exists.
func (s *NodeStore) Exists(ctx context.Context, rel string) (bool, error) {
	return s.client.ObjectExists(ctx, s.key(rel))
}

// MD5 streams the object for rel and returns its digest.
func (s *NodeStore) MD5(ctx context.Context, rel string) (string, error) {
	sum, _, err := s.client.MD5Object(ctx, s.key(rel))
	return sum, err
}

// ObjectExists checks if an object exists in S3.
func (c *Client) ObjectExists(ctx context.Context, key string) (bool, error) {
	if err := validateS3Key(key); err != nil {
		return false, fmt.Errorf("invalid S3 key: %w", err)
	}

	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) || strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404") {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

// MD5Object streams an object and returns its MD5 digest (32 lowercase hex
// characters) and the number of bytes read. Memory use is bounded by the
// checksum buffer size.
func (c *Client) MD5Object(ctx context.Context, key string) (string, int64, error) {
	if err := validateS3Key(key); err != nil {
		return "", 0, fmt.Errorf("invalid S3 key: %w", err)
	}

	logger := c.logger.WithFields(logrus.Fields{
		"bucket": c.bucket,
		"key":    key,
	})

	resp, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to get object: %w", err)
	}
	defer resp.Body.Close()

	var total int64
	if resp.ContentLength != nil {
		total = *resp.ContentLength
	}

	start := time.Now()
	pr := newProgressReader(key, resp.Body, logger, c.progressFunc, total, 5*time.Second)
	sum, err := checksum.MD5Reader(pr, c.bufSize)
	if err != nil {
		return "", pr.read, fmt.Errorf("failed to read object: %w", err)
	}
	if total > 0 && pr.read != total {
		return "", pr.read, fmt.Errorf("short read: got %d of %d bytes", pr.read, total)
	}

	perf.ObserveChecksum(pr.read, time.Since(start))

	logger.WithFields(logrus.Fields{
		"size":   humanBytes(pr.read),
		"md5sum": sum,
	}).Debug("s3 object digested")
	return sum, pr.read, nil
}

// progressReader wraps an io.Reader and logs periodic read progress.
// It is single-threaded and not concurrency-safe.
type progressReader struct {
	key          string
	r            io.Reader
	logger       logrus.FieldLogger
	progressFunc ProgressFunc
	total        int64
	read         int64
	started      time.Time
	lastLog      time.Time
	interval     time.Duration
}

func newProgressReader(key string, r io.Reader, logger logrus.FieldLogger, progressFunc ProgressFunc, total int64, interval time.Duration) *progressReader {
	return &progressReader{key: key, r: r, logger: logger, progressFunc: progressFunc, total: total, started: time.Now(), interval: interval}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		now := time.Now()
		if p.lastLog.IsZero() || now.Sub(p.lastLog) >= p.interval {
			p.log(now)
			p.lastLog = now
		}
	}
	return n, err
}

func (p *progressReader) log(now time.Time) {
	percent := float64(0)
	if p.total > 0 {
		percent = (float64(p.read) / float64(p.total)) * 100
	}
	elapsed := now.Sub(p.started)
	var rate float64
	if elapsed > 0 {
		rate = float64(p.read) / elapsed.Seconds()
	}
	p.logger.WithFields(logrus.Fields{
		"read":     humanBytes(p.read),
		"total":    humanBytes(p.total),
		"percent":  fmt.Sprintf("%.1f", percent),
		"avg_rate": humanBytes(int64(rate)) + "/s",
	}).Debug("s3 read progress")

	if p.progressFunc != nil {
		p.progressFunc(p.key, p.read, p.total, elapsed)
	}
}

func humanBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GiB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MiB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KiB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// validateS3Key rejects keys that cannot name an archive object.
func validateS3Key(key string) error {
	if key == "" {
		return fmt.Errorf("S3 key cannot be empty")
	}
	if len(key) > 1024 {
		return fmt.Errorf("S3 key too long: %d characters (max 1024)", len(key))
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("S3 key contains path traversal: %s", key)
		}
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("S3 key should not start with /: %s", key)
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("S3 key contains null byte")
	}
	return nil
}
