package store

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
)

const (
	FolderMimeType      = "application/vnd.google-apps.folder"
	SpreadsheetMimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	CSVMimeType         = "text/csv"
	JPEGMimeType        = "image/jpeg"
	BinaryMimeType      = "application/octet-stream"
)

var ErrNotFound = errors.New("asset not found")

type Role string

const (
	RoleReader Role = "reader"
	RoleWriter Role = "writer"
)

type Asset struct {
	ID       string
	Name     string
	Folder   bool
	ParentID string
}

// Query selects an asset by exact name. Folder restricts the match to
// containers; ParentID, when set, restricts it to one container.
type Query struct {
	Name     string
	ParentID string
	Folder   bool
}

// RemoteStore is a named-blob store with folders and public access roles.
// FindByName returns (nil, nil) when nothing matches.
type RemoteStore interface {
	FindByName(ctx context.Context, q Query) (*Asset, error)
	CreateFolder(ctx context.Context, name string) (*Asset, error)
	CreateFile(ctx context.Context, name, parentID, mimeType string, content io.Reader) (*Asset, error)
	UpdateFileContent(ctx context.Context, id, mimeType string, content io.Reader) error
	SetPublicRole(ctx context.Context, id string, role Role) error
	GetFileContent(ctx context.Context, id string) ([]byte, error)
}

func MimeType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		return SpreadsheetMimeType
	case ".csv":
		return CSVMimeType
	case ".jpg", ".jpeg":
		return JPEGMimeType
	case ".xml":
		return "application/xml"
	default:
		return BinaryMimeType
	}
}
