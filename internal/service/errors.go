// Package service 包含了应用的业务逻辑层。
package service

import "errors"

// 服务层错误分类。调用方用 errors.Is 区分，原始错误通过 %w 保留。
var (
	ErrConfig                  = errors.New("service not configured")
	ErrClassificationParse     = errors.New("malformed classification response")
	ErrDescriptionGeneration   = errors.New("table description generation failed")
	ErrCompletion              = errors.New("completion call failed")
	ErrMetadataIO              = errors.New("snapshot artifact I/O failed")
	ErrSnapshotBuildInProgress = errors.New("snapshot build already in progress")
)
