// internal/services/storage_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/pha-gateway/internal/config"
	"github.com/javajoker/pha-gateway/internal/models"
)

// StorageService keeps exported reports in S3, or on local disk when AWS is not configured.
type StorageService struct {
	s3Client *s3.S3
	config   *config.Config
}

type StoredReport struct {
	Key         string    `json:"key"`
	URL         string    `json:"url,omitempty"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	// Set for local storage only
	LocalPath string `json:"-"`
}

func NewStorageService(config *config.Config) (*StorageService, error) {
	if config.AWS.AccessKeyID == "" {
		// Local development stores exports on disk
		return &StorageService{config: config}, nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(config.AWS.Region),
		Credentials: credentials.NewStaticCredentials(
			config.AWS.AccessKeyID,
			config.AWS.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &StorageService{
		s3Client: s3.New(sess),
		config:   config,
	}, nil
}

func (s *StorageService) UsesS3() bool {
	return s.s3Client != nil
}

func (s *StorageService) StoreReport(ctx context.Context, analysisID string, report *models.ExportedReport) (*StoredReport, error) {
	key := s.generateKey(analysisID, report.Format)
	contentType := report.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if s.s3Client != nil {
		return s.storeToS3(ctx, key, contentType, report)
	}
	return s.storeToLocal(key, contentType, report)
}

func (s *StorageService) storeToS3(ctx context.Context, key, contentType string, report *models.ExportedReport) (*StoredReport, error) {
	_, err := s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.config.AWS.S3Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(report.Body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(report.Body))),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload report to S3: %w", err)
	}

	ttl := s.config.AWS.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	url, err := s.GeneratePresignedURL(key, report.Filename, ttl)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"key": key, "size": len(report.Body)}).Info("Report uploaded to S3")
	return &StoredReport{
		Key:         key,
		URL:         url,
		Filename:    report.Filename,
		ContentType: contentType,
		Size:        int64(len(report.Body)),
		ExpiresAt:   time.Now().Add(ttl).UTC(),
	}, nil
}

func (s *StorageService) storeToLocal(key, contentType string, report *models.ExportedReport) (*StoredReport, error) {
	dir := s.config.AWS.LocalExportDir
	if dir == "" {
		dir = "./exports"
	}

	path := filepath.Join(dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := os.WriteFile(path, report.Body, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}

	return &StoredReport{
		Key:         key,
		Filename:    report.Filename,
		ContentType: contentType,
		Size:        int64(len(report.Body)),
		LocalPath:   path,
	}, nil
}

func (s *StorageService) DeleteReport(ctx context.Context, key string) error {
	if s.s3Client == nil {
		dir := s.config.AWS.LocalExportDir
		if dir == "" {
			dir = "./exports"
		}
		if err := os.Remove(filepath.Join(dir, filepath.FromSlash(key))); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete report: %w", err)
		}
		return nil
	}

	_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.AWS.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete report from S3: %w", err)
	}
	return nil
}

func (s *StorageService) GeneratePresignedURL(key, filename string, expiration time.Duration) (string, error) {
	if s.s3Client == nil {
		return "", fmt.Errorf("S3 client not configured")
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.config.AWS.S3Bucket),
		Key:    aws.String(key),
	}
	if filename != "" {
		input.ResponseContentDisposition = aws.String(fmt.Sprintf(`attachment; filename="%s"`, filename))
	}

	req, _ := s.s3Client.GetObjectRequest(input)
	url, err := req.Presign(expiration)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url, nil
}

func (s *StorageService) generateKey(analysisID, format string) string {
	id := uuid.New()
	timestamp := time.Now().Format("20060102")
	ext := strings.TrimPrefix(strings.ToLower(format), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("reports/%s/%s_%s.%s", safeSegment(analysisID), timestamp, id.String()[:8], safeSegment(ext))
}

func safeSegment(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
	if cleaned == "" {
		return "unknown"
	}
	return cleaned
}
