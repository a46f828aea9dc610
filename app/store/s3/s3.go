package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/lysyi3m/listing-comb/app/retry"
	"github.com/lysyi3m/listing-comb/app/store"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/tags"
)

const roleTag = "public-role"

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Store keeps assets as objects in one bucket. Folders are zero-length
// objects whose key ends with a slash; asset ids are object keys.
type Store struct {
	client *minio.Client
	bucket string
}

var _ store.RemoteStore = (*Store)(nil)

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("endpoint and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *Store) FindByName(ctx context.Context, q store.Query) (*store.Asset, error) {
	key := objectKey(q.Name, q.ParentID, q.Folder)

	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat object: %w", classify(err))
	}

	return &store.Asset{ID: key, Name: q.Name, Folder: q.Folder, ParentID: q.ParentID}, nil
}

func (s *Store) CreateFolder(ctx context.Context, name string) (*store.Asset, error) {
	key := objectKey(name, "", true)

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(nil), 0, minio.PutObjectOptions{
		ContentType: "application/x-directory",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create folder: %w", classify(err))
	}

	return &store.Asset{ID: key, Name: name, Folder: true}, nil
}

func (s *Store) CreateFile(ctx context.Context, name, parentID, mimeType string, content io.Reader) (*store.Asset, error) {
	key := objectKey(name, parentID, false)
	if err := s.put(ctx, key, mimeType, content); err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return &store.Asset{ID: key, Name: name, ParentID: parentID}, nil
}

func (s *Store) UpdateFileContent(ctx context.Context, id, mimeType string, content io.Reader) error {
	if err := s.put(ctx, id, mimeType, content); err != nil {
		return fmt.Errorf("failed to update file: %w", err)
	}
	return nil
}

func (s *Store) SetPublicRole(ctx context.Context, id string, role store.Role) error {
	t, err := tags.NewTags(map[string]string{roleTag: string(role)}, true)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to build tags: %w", err))
	}

	if err := s.client.PutObjectTagging(ctx, s.bucket, id, t, minio.PutObjectTaggingOptions{}); err != nil {
		return fmt.Errorf("failed to tag object: %w", classify(err))
	}
	return nil
}

// GetPublicRole returns the role stored in the object tags, empty when the
// object was never shared.
func (s *Store) GetPublicRole(ctx context.Context, id string) (store.Role, error) {
	t, err := s.client.GetObjectTagging(ctx, s.bucket, id, minio.GetObjectTaggingOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get object tags: %w", classify(err))
	}
	return store.Role(t.ToMap()[roleTag]), nil
}

func (s *Store) GetFileContent(ctx context.Context, id string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", classify(err))
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", classify(err))
	}
	return data, nil
}

func (s *Store) put(ctx context.Context, key, mimeType string, content io.Reader) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return retry.Permanent(err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	return classify(err)
}

func objectKey(name, parentID string, folder bool) string {
	name = strings.Trim(name, "/")
	if folder {
		return name + "/"
	}
	if parentID != "" {
		return strings.TrimSuffix(parentID, "/") + "/" + name
	}
	return name
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return retry.Permanent(fmt.Errorf("%w: %w", store.ErrNotFound, err))
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "NoSuchBucket":
		return retry.Permanent(err)
	}
	return err
}
