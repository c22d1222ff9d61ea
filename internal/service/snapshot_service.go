package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"db-chat-go/internal/model"
	"db-chat-go/internal/repository"
	"db-chat-go/pkg/log"
	"db-chat-go/pkg/tasks"
)

// SnapshotBuilder 是快照构建流程，由 pipeline.SnapshotProcessor 实现。
type SnapshotBuilder interface {
	Database() string
	Build(ctx context.Context) (*model.Snapshot, error)
	Clear(ctx context.Context) error
	Process(ctx context.Context, task tasks.SnapshotTask) error
}

// TaskProducer 把快照任务投递到队列。
type TaskProducer func(ctx context.Context, task tasks.SnapshotTask) error

// SnapshotService 管理快照产物的生命周期。同一目标库同一时刻只允许一个构建或清除。
type SnapshotService interface {
	// Build 同步构建；已有构建进行中时返回 ErrSnapshotBuildInProgress。
	Build(ctx context.Context) (*model.Snapshot, error)
	// Enqueue 把构建请求投递到 Kafka；未配置队列时返回 ErrConfig。
	Enqueue(ctx context.Context, requestedBy string) error
	Clear(ctx context.Context) error
	Status(ctx context.Context) (*model.SnapshotStatus, error)
	Document(ctx context.Context) (string, error)
	// Process 消费队列任务，会等待正在进行的构建结束。
	Process(ctx context.Context, task tasks.SnapshotTask) error
}

type snapshotService struct {
	builder   SnapshotBuilder
	artifacts repository.ArtifactRepository
	produce   TaskProducer
	slot      chan struct{}
}

// NewSnapshotService 创建一个新的 SnapshotService。produce 为 nil 时不支持排队构建。
func NewSnapshotService(builder SnapshotBuilder, artifacts repository.ArtifactRepository, produce TaskProducer) SnapshotService {
	return &snapshotService{
		builder:   builder,
		artifacts: artifacts,
		produce:   produce,
		slot:      make(chan struct{}, 1),
	}
}

func (s *snapshotService) tryAcquire() bool {
	select {
	case s.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *snapshotService) acquire(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *snapshotService) release() { <-s.slot }

func (s *snapshotService) Build(ctx context.Context) (*model.Snapshot, error) {
	if !s.tryAcquire() {
		return nil, ErrSnapshotBuildInProgress
	}
	defer s.release()
	return s.builder.Build(ctx)
}

func (s *snapshotService) Enqueue(ctx context.Context, requestedBy string) error {
	if s.produce == nil {
		return fmt.Errorf("%w: snapshot queue is disabled", ErrConfig)
	}
	task := tasks.SnapshotTask{
		Action:      tasks.ActionBuild,
		Database:    s.builder.Database(),
		RequestedBy: requestedBy,
		RequestedAt: time.Now(),
	}
	if err := s.produce(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue snapshot task: %w", err)
	}
	log.Infof("快照构建任务已投递, database: %s, requestedBy: %s", task.Database, requestedBy)
	return nil
}

func (s *snapshotService) Clear(ctx context.Context) error {
	if !s.tryAcquire() {
		return ErrSnapshotBuildInProgress
	}
	defer s.release()
	if err := s.builder.Clear(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrMetadataIO, err)
	}
	return nil
}

func (s *snapshotService) Process(ctx context.Context, task tasks.SnapshotTask) error {
	if task.Database != "" && task.Database != s.builder.Database() {
		log.Warnf("忽略其他数据库的快照任务: %s (当前: %s)", task.Database, s.builder.Database())
		return nil
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return s.builder.Process(ctx, task)
}

func (s *snapshotService) Status(ctx context.Context) (*model.SnapshotStatus, error) {
	status := &model.SnapshotStatus{Tables: []string{}, Building: len(s.slot) > 0}

	store, err := s.artifacts.LoadMetadata(ctx)
	switch {
	case errors.Is(err, repository.ErrArtifactNotFound):
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrMetadataIO, err)
	default:
		status.Exists = true
		status.Tables = store.TableNames()
	}

	doc, err := s.artifacts.LoadDocument(ctx)
	switch {
	case errors.Is(err, repository.ErrArtifactNotFound):
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrMetadataIO, err)
	default:
		status.DocumentSize = len(doc)
	}
	return status, nil
}

// Document 返回当前快照文档；从未构建时返回 repository.ErrArtifactNotFound。
func (s *snapshotService) Document(ctx context.Context) (string, error) {
	doc, err := s.artifacts.LoadDocument(ctx)
	if errors.Is(err, repository.ErrArtifactNotFound) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMetadataIO, err)
	}
	return doc, nil
}
