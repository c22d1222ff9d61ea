package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"

	"db-chat-go/internal/model"
)

// ErrArtifactNotFound 表示快照产物尚未生成或已被清除。
var ErrArtifactNotFound = errors.New("artifact not found")

const (
	documentObject = "snapshot.md"
	metadataObject = "metadata.json"
)

// ArtifactRepository 持久化快照文档与元数据存储。
type ArtifactRepository interface {
	SaveDocument(ctx context.Context, doc string) error
	// LoadDocument 在文档不存在时返回 ErrArtifactNotFound。
	LoadDocument(ctx context.Context) (string, error)
	SaveMetadata(ctx context.Context, store model.MetadataStore) error
	// LoadMetadata 在元数据不存在时返回 ErrArtifactNotFound。
	LoadMetadata(ctx context.Context) (model.MetadataStore, error)
	DeleteMetadata(ctx context.Context) error
}

// blobStore 是产物仓库依赖的最小对象存储接口。
type blobStore interface {
	put(ctx context.Context, key string, body []byte, contentType string) error
	get(ctx context.Context, key string) ([]byte, error)
	remove(ctx context.Context, key string) error
}

type artifactRepository struct {
	blobs  blobStore
	prefix string
}

// NewLocalArtifactRepository 把产物写到 dir/<database>/ 下。
func NewLocalArtifactRepository(dir, database string) ArtifactRepository {
	return &artifactRepository{blobs: &fileBlobStore{root: dir}, prefix: database}
}

// NewMinIOArtifactRepository 把产物写到 bucket 内 prefix/<database>/ 下。
func NewMinIOArtifactRepository(client *minio.Client, bucket, prefix, database string) ArtifactRepository {
	return &artifactRepository{
		blobs:  &minioBlobStore{client: client, bucket: bucket},
		prefix: path.Join(strings.Trim(prefix, "/"), database),
	}
}

func (r *artifactRepository) key(name string) string {
	return path.Join(r.prefix, name)
}

func (r *artifactRepository) SaveDocument(ctx context.Context, doc string) error {
	if err := r.blobs.put(ctx, r.key(documentObject), []byte(doc), "text/markdown; charset=utf-8"); err != nil {
		return fmt.Errorf("save snapshot document: %w", err)
	}
	return nil
}

func (r *artifactRepository) LoadDocument(ctx context.Context) (string, error) {
	body, err := r.blobs.get(ctx, r.key(documentObject))
	if err != nil {
		return "", fmt.Errorf("load snapshot document: %w", err)
	}
	return string(body), nil
}

func (r *artifactRepository) SaveMetadata(ctx context.Context, store model.MetadataStore) error {
	body, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata store: %w", err)
	}
	if err := r.blobs.put(ctx, r.key(metadataObject), body, "application/json"); err != nil {
		return fmt.Errorf("save metadata store: %w", err)
	}
	return nil
}

func (r *artifactRepository) LoadMetadata(ctx context.Context) (model.MetadataStore, error) {
	body, err := r.blobs.get(ctx, r.key(metadataObject))
	if err != nil {
		return nil, fmt.Errorf("load metadata store: %w", err)
	}
	var store model.MetadataStore
	if err := json.Unmarshal(body, &store); err != nil {
		return nil, fmt.Errorf("decode metadata store: %w", err)
	}
	return store, nil
}

func (r *artifactRepository) DeleteMetadata(ctx context.Context) error {
	if err := r.blobs.remove(ctx, r.key(metadataObject)); err != nil && !errors.Is(err, ErrArtifactNotFound) {
		return fmt.Errorf("delete metadata store: %w", err)
	}
	return nil
}

type fileBlobStore struct {
	root string
}

func (s *fileBlobStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// put 先写临时文件再 rename，读方不会看到半个文件。
func (s *fileBlobStore) put(_ context.Context, key string, body []byte, _ string) error {
	target := s.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (s *fileBlobStore) get(_ context.Context, key string) ([]byte, error) {
	body, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrArtifactNotFound
	}
	return body, err
}

func (s *fileBlobStore) remove(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrArtifactNotFound
	}
	return err
}

type minioBlobStore struct {
	client *minio.Client
	bucket string
}

func (s *minioBlobStore) put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (s *minioBlobStore) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	defer obj.Close()
	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapMinioErr(err)
	}
	return body, nil
}

func (s *minioBlobStore) remove(ctx context.Context, key string) error {
	return mapMinioErr(s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}))
}

func mapMinioErr(err error) error {
	if err == nil {
		return nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrArtifactNotFound
	}
	return err
}
