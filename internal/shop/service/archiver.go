package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/timbercraft/tcs-mes/internal/shop/entity"
	"go.uber.org/zap"
)

// =============================================================================
// 快照归档 — 锁定时固化的快照额外存一份到对象存储
// 归档尽力而为：MinIO不可用时业务流程不受影响，只记录日志。
// =============================================================================

// SnapshotArchiver 快照归档器
type SnapshotArchiver struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewSnapshotArchiver 创建快照归档器
// client 可为空，此时 Archive 直接跳过。
func NewSnapshotArchiver(client *minio.Client, bucket string, logger *zap.Logger) *SnapshotArchiver {
	return &SnapshotArchiver{client: client, bucket: bucket, logger: logger}
}

// Archive 归档一份快照
// kind 为快照类型（pricing/bom），对象路径带日期与项目ID便于追溯。
func (a *SnapshotArchiver) Archive(ctx context.Context, projectID, kind string, snapshot entity.JSONB) {
	if a.client == nil {
		return
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		a.logger.Warn("序列化快照失败", zap.String("kind", kind), zap.Error(err))
		return
	}

	objectName := fmt.Sprintf("snapshots/%s/%s/%s_%s.json",
		projectID, kind, time.Now().Format("20060102T150405"), kind)
	_, err = a.client.PutObject(ctx, a.bucket, objectName,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: "application/json",
		})
	if err != nil {
		a.logger.Warn("归档快照到对象存储失败",
			zap.String("project_id", projectID),
			zap.String("kind", kind),
			zap.Error(err))
		return
	}

	a.logger.Info("快照已归档",
		zap.String("project_id", projectID),
		zap.String("object", objectName))
}
