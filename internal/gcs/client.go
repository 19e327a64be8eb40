// ABOUTME: GCS publisher mirroring updated database files into a bucket
// ABOUTME: Supports ADC authentication, a custom endpoint, and emulator mode

package gcs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Config holds GCS publisher configuration.
type Config struct {
	// Bucket is the GCS bucket name.
	Bucket string

	// Prefix is prepended to object names, e.g. "clamav/".
	Prefix string

	// CredentialsFile is the path to service account JSON (optional).
	// If empty, uses Application Default Credentials (ADC).
	CredentialsFile string

	// Endpoint overrides the storage API endpoint (optional).
	Endpoint string

	// EmulatorHost is the GCS emulator host (e.g., "localhost:4443").
	// When set, uploads use the JSON API over plain HTTP instead of the SDK.
	EmulatorHost string
}

// Validate checks that required fields are set.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Prefix, "..") {
		return fmt.Errorf("invalid prefix %q", c.Prefix)
	}
	return nil
}

// ConfigFromURI builds a config from a gs://bucket/prefix destination.
func ConfigFromURI(uri string) (Config, error) {
	bucket, prefix, err := ParseGCSURI(uri)
	if err != nil {
		return Config{}, err
	}
	return Config{Bucket: bucket, Prefix: prefix}, nil
}

// Publisher uploads files to GCS.
type Publisher struct {
	storageClient *storage.Client
	httpClient    *http.Client
	bucket        string
	prefix        string
	emulatorHost  string
	logger        *slog.Logger
}

// NewPublisher creates a publisher. STORAGE_EMULATOR_HOST is honored when
// EmulatorHost is not configured.
func NewPublisher(ctx context.Context, cfg Config, logger *slog.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	emulatorHost := cfg.EmulatorHost
	if emulatorHost == "" {
		emulatorHost = os.Getenv("STORAGE_EMULATOR_HOST")
	}

	p := &Publisher{
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger,
	}

	if emulatorHost != "" {
		p.httpClient = &http.Client{}
		p.emulatorHost = strings.TrimPrefix(emulatorHost, "http://")
		return p, nil
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	p.storageClient = client
	return p, nil
}

// Close closes the storage client.
func (p *Publisher) Close() error {
	if p.storageClient != nil {
		return p.storageClient.Close()
	}
	return nil
}

// IsEmulatorMode returns true if the publisher talks to an emulator.
func (p *Publisher) IsEmulatorMode() bool {
	return p.emulatorHost != ""
}

// ObjectName returns the object a database file is stored under.
func (p *Publisher) ObjectName(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return path.Join(p.prefix, name), nil
}

// PublishFile uploads the file at localPath as name.
func (p *Publisher) PublishFile(ctx context.Context, name, localPath string) error {
	object, err := p.ObjectName(name)
	if err != nil {
		return err
	}

	checksum, err := ComputeSHA256(localPath)
	if err != nil {
		return err
	}

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer file.Close()

	if p.emulatorHost != "" {
		err = p.uploadViaHTTP(ctx, object, file)
	} else {
		err = p.uploadViaSDK(ctx, object, checksum, file)
	}
	if err != nil {
		return err
	}

	p.logger.Debug("published file",
		slog.String("bucket", p.bucket),
		slog.String("object", object),
		slog.String("sha256", checksum),
	)
	return nil
}

func (p *Publisher) uploadViaSDK(ctx context.Context, object, checksum string, r io.Reader) error {
	w := p.storageClient.Bucket(p.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.Metadata = map[string]string{"sha256": checksum}

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("uploading %s/%s: %w", p.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing %s/%s: %w", p.bucket, object, err)
	}
	return nil
}

// uploadViaHTTP uses a simple media upload, which fake-gcs-server supports.
func (p *Publisher) uploadViaHTTP(ctx context.Context, object string, r io.Reader) error {
	uploadURL := fmt.Sprintf("http://%s/upload/storage/v1/b/%s/o?uploadType=media&name=%s",
		p.emulatorHost, url.PathEscape(p.bucket), url.QueryEscape(object))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, r)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request to %s: %w", uploadURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("uploading object %s/%s: HTTP %d", p.bucket, object, resp.StatusCode)
	}
	return nil
}

// ParseGCSURI parses a gs:// URI into bucket and object path.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if uri == "" {
		return "", "", errors.New("empty URI")
	}
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: must start with gs://")
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if parts[0] == "" {
		return "", "", errors.New("invalid GCS URI: missing bucket")
	}

	bucket = parts[0]
	if len(parts) > 1 {
		object = parts[1]
	}
	return bucket, object, nil
}

// ComputeSHA256 computes the SHA256 hash of a file.
func ComputeSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("computing hash: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
