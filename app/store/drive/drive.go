package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/lysyi3m/listing-comb/app/retry"
	"github.com/lysyi3m/listing-comb/app/store"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Store keeps assets in Google Drive using a service account.
type Store struct {
	service *gdrive.Service
}

var _ store.RemoteStore = (*Store)(nil)

func New(ctx context.Context, credentialsFile string) (*Store, error) {
	if _, err := os.Stat(credentialsFile); err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	service, err := gdrive.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(gdrive.DriveScope))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &Store{service: service}, nil
}

func (s *Store) FindByName(ctx context.Context, q store.Query) (*store.Asset, error) {
	list, err := s.service.Files.List().
		Q(buildQuery(q)).
		Spaces("drive").
		Fields("files(id, name, mimeType, parents)").
		PageSize(10).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list files: %w", err))
	}

	if len(list.Files) == 0 {
		return nil, nil
	}
	return toAsset(list.Files[0]), nil
}

func (s *Store) CreateFolder(ctx context.Context, name string) (*store.Asset, error) {
	file, err := s.service.Files.Create(&gdrive.File{
		Name:     name,
		MimeType: store.FolderMimeType,
	}).Fields("id, name, mimeType").Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Errorf("failed to create folder: %w", err))
	}
	return toAsset(file), nil
}

func (s *Store) CreateFile(ctx context.Context, name, parentID, mimeType string, content io.Reader) (*store.Asset, error) {
	metadata := &gdrive.File{Name: name, MimeType: mimeType}
	if parentID != "" {
		metadata.Parents = []string{parentID}
	}

	file, err := s.service.Files.Create(metadata).
		Media(content, googleapi.ContentType(mimeType)).
		Fields("id, name, mimeType, parents").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(fmt.Errorf("failed to create file: %w", err))
	}
	return toAsset(file), nil
}

func (s *Store) UpdateFileContent(ctx context.Context, id, mimeType string, content io.Reader) error {
	_, err := s.service.Files.Update(id, &gdrive.File{}).
		Media(content, googleapi.ContentType(mimeType)).
		Context(ctx).
		Do()
	if err != nil {
		return classify(fmt.Errorf("failed to update file: %w", err))
	}
	return nil
}

func (s *Store) SetPublicRole(ctx context.Context, id string, role store.Role) error {
	_, err := s.service.Permissions.Create(id, &gdrive.Permission{
		Type: "anyone",
		Role: string(role),
	}).Context(ctx).Do()
	if err != nil {
		return classify(fmt.Errorf("failed to set permission: %w", err))
	}
	return nil
}

func (s *Store) GetFileContent(ctx context.Context, id string) ([]byte, error) {
	resp, err := s.service.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, classify(fmt.Errorf("failed to download file: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file content: %w", err)
	}
	return data, nil
}

func buildQuery(q store.Query) string {
	parts := []string{
		fmt.Sprintf("name='%s'", escape(q.Name)),
		"trashed=false",
	}
	if q.Folder {
		parts = append(parts, fmt.Sprintf("mimeType='%s'", store.FolderMimeType))
	} else {
		parts = append(parts, fmt.Sprintf("mimeType!='%s'", store.FolderMimeType))
	}
	if q.ParentID != "" {
		parts = append(parts, fmt.Sprintf("'%s' in parents", escape(q.ParentID)))
	}
	return strings.Join(parts, " and ")
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func toAsset(file *gdrive.File) *store.Asset {
	asset := &store.Asset{
		ID:     file.Id,
		Name:   file.Name,
		Folder: file.MimeType == store.FolderMimeType,
	}
	if len(file.Parents) > 0 {
		asset.ParentID = file.Parents[0]
	}
	return asset
}

// classify marks client errors other than rate limiting as not retryable.
func classify(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.Code {
	case http.StatusNotFound:
		return retry.Permanent(fmt.Errorf("%w: %w", store.ErrNotFound, err))
	case http.StatusBadRequest, http.StatusUnauthorized:
		return retry.Permanent(err)
	}
	return err
}
