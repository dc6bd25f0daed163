package migrate

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"gitlab.com/tozd/go/errors"

	"github.com/chmdznr/case-attachment-migrator/pkg/models"
)

// Archiver keeps a copy of a staged file before it is removed.
type Archiver interface {
	Archive(ctx context.Context, destinationCaseID, name, localPath string) error
}

// MinioArchiver copies staged files into a MinIO bucket.
type MinioArchiver struct {
	client *minio.Client
	bucket string
	folder string
}

// NewMinioArchiver creates an archiver for the project's archive target
func NewMinioArchiver(target models.Archive) (*MinioArchiver, error) {
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client, err := minio.New(target.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(target.AccessKey, target.SecretKey, ""),
		Secure:       !target.Insecure,
		Transport:    tr,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, errors.Errorf("failed to initialize MinIO client: %w", err)
	}

	return &MinioArchiver{
		client: client,
		bucket: target.Bucket,
		folder: strings.Trim(target.Folder, "/"),
	}, nil
}

// objectName places archived files under <folder>/<destination case id>/.
func (a *MinioArchiver) objectName(destinationCaseID, name string) string {
	return strings.TrimPrefix(path.Join(a.folder, destinationCaseID, name), "/")
}

func (a *MinioArchiver) Archive(ctx context.Context, destinationCaseID, name, localPath string) error {
	object := a.objectName(destinationCaseID, name)
	_, err := a.client.FPutObject(ctx, a.bucket, object, localPath, minio.PutObjectOptions{
		ContentType:  contentType(name),
		UserMetadata: map[string]string{"case_id": destinationCaseID},
	})
	if err != nil {
		var minioErr minio.ErrorResponse
		if errors.As(err, &minioErr) {
			return errors.Errorf("archiving %s to %s/%s: %s (%s)", name, a.bucket, object, minioErr.Message, minioErr.Code)
		}
		return errors.Errorf("archiving %s to %s/%s: %w", name, a.bucket, object, err)
	}
	return nil
}

func contentType(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(lower, ".docx"):
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case strings.HasSuffix(lower, ".zip"):
		return "application/zip"
	}
	return "application/octet-stream"
}
