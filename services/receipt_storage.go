package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/HSouheill/barrim_settlement/config"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// GCSReceiptStorage signs receipt upload and read URLs on a Cloud Storage bucket.
// Receipt bytes never pass through this service.
type GCSReceiptStorage struct {
	client *storage.Client
	bucket string
}

// NewGCSReceiptStorage creates the receipt store using the Firebase service account when one is configured
func NewGCSReceiptStorage(ctx context.Context, cfg config.StorageConfig, fb config.FirebaseConfig) (*GCSReceiptStorage, error) {
	var opts []option.ClientOption
	if creds, err := fb.CredentialsJSON(); err == nil && len(creds) > 0 {
		opts = append(opts, option.WithCredentialsJSON(creds))
	} else if fb.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(fb.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	log.WithField("bucket", cfg.ReceiptBucket).Info("receipt storage ready")
	return &GCSReceiptStorage{client: client, bucket: cfg.ReceiptBucket}, nil
}

func (s *GCSReceiptStorage) Bucket() string { return s.bucket }

// UploadURL signs a PUT URL; the client must send the same Content-Type
func (s *GCSReceiptStorage) UploadURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	url, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      http.MethodPut,
		ContentType: contentType,
		Expires:     time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign upload url: %w", err)
	}
	return url, nil
}

// ReadURL signs a GET URL for a stored receipt
func (s *GCSReceiptStorage) ReadURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	url, err := s.client.Bucket(bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign read url: %w", err)
	}
	return url, nil
}

func (s *GCSReceiptStorage) Close() error {
	return s.client.Close()
}
