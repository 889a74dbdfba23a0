package service

import (
	"context"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/timbercraft/tcs-mes/internal/config"
	"github.com/timbercraft/tcs-mes/internal/shop/entity"
	"github.com/timbercraft/tcs-mes/internal/shop/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 服务集合
type Services struct {
	Gate        *GateService
	Lock        *EntityLockService
	Guard       *LockGuard
	ChangeOrder *ChangeOrderService
	StopAction  *StopActionService
	Notifier    Notifier
	Bus         *EventBus
}

// NewServices 创建服务集合
func NewServices(db *gorm.DB, repos *repository.Repositories, rdb *redis.Client, cfg *config.Config, logger *zap.Logger) *Services {
	// 初始化MinIO客户端（快照归档用，可选）
	var minioClient *minio.Client
	if cfg.MinIO.Endpoint != "" {
		var err error
		minioClient, err = minio.New(cfg.MinIO.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
			Secure: cfg.MinIO.UseSSL,
		})
		if err != nil {
			logger.Warn("MinIO初始化失败，快照归档停用", zap.Error(err))
			minioClient = nil
		}
	}
	archiver := NewSnapshotArchiver(minioClient, cfg.MinIO.Bucket, logger)

	bus := NewEventBus(rdb, logger, cfg.Workflow.EventMaxAttempts, cfg.Workflow.EventRetryBackoff)

	var notifier Notifier
	if cfg.Workflow.WebhookURL != "" {
		notifier = NewWebhookNotifier(cfg.Workflow.WebhookURL, logger)
	} else {
		notifier = NewLogNotifier(logger)
	}

	guard := NewLockGuard(db, repos.Lock, logger)
	lockSvc := NewEntityLockService(db, repos, archiver, bus, logger)
	gateSvc := NewGateService(repos, lockSvc, bus, rdb, logger)
	stopSvc := NewStopActionService(repos, logger)
	coSvc := NewChangeOrderService(db, repos, lockSvc, guard, bus, logger)

	svcs := &Services{
		Gate:        gateSvc,
		Lock:        lockSvc,
		Guard:       guard,
		ChangeOrder: coSvc,
		StopAction:  stopSvc,
		Notifier:    notifier,
		Bus:         bus,
	}
	svcs.registerWorkflowListeners(repos, logger)
	return svcs
}

// registerWorkflowListeners 注册变更单生命周期的事件监听器
// 监听器均幂等：停工执行与恢复依赖审计记录与状态守卫，重复投递无副作用。
func (s *Services) registerWorkflowListeners(repos *repository.Repositories, logger *zap.Logger) {
	s.Bus.Subscribe(EventChangeOrderSubmitted, "notify-submitted", func(ctx context.Context, evt Event) error {
		co, err := repos.ChangeOrder.FindByID(ctx, evt.ChangeOrderID)
		if err != nil {
			return err
		}
		return s.Notifier.NotifySubmitted(ctx, co)
	})

	s.Bus.Subscribe(EventChangeOrderApproved, "stop-actions-execute", func(ctx context.Context, evt Event) error {
		co, err := repos.ChangeOrder.FindByID(ctx, evt.ChangeOrderID)
		if err != nil {
			return err
		}
		summary, err := s.StopAction.Execute(ctx, co, approverOf(co))
		if err != nil {
			return err
		}
		if err := s.Notifier.NotifyApproved(ctx, co, summary); err != nil {
			logger.Warn("发送审批通知失败", zap.Error(err))
		}
		return nil
	})

	s.Bus.Subscribe(EventChangeOrderApplied, "stop-actions-revert", func(ctx context.Context, evt Event) error {
		co, err := repos.ChangeOrder.FindByID(ctx, evt.ChangeOrderID)
		if err != nil {
			return err
		}
		summary, err := s.StopAction.Revert(ctx, co, applierOf(co))
		if err != nil {
			return err
		}
		if err := s.Notifier.NotifyApplied(ctx, co, summary); err != nil {
			logger.Warn("发送实施通知失败", zap.Error(err))
		}
		return nil
	})

	s.Bus.Subscribe(EventChangeOrderCancelled, "stop-actions-revert", func(ctx context.Context, evt Event) error {
		co, err := repos.ChangeOrder.FindByID(ctx, evt.ChangeOrderID)
		if err != nil {
			return err
		}
		executed, _ := evt.Payload["stop_actions_executed"].(bool)
		if executed {
			if _, err := s.StopAction.Revert(ctx, co, cancellerOf(co)); err != nil {
				return err
			}
		}
		if err := s.Notifier.NotifyCancelled(ctx, co, executed); err != nil {
			logger.Warn("发送撤销通知失败", zap.Error(err))
		}
		return nil
	})
}

func approverOf(co *entity.ChangeOrder) string {
	if co.ApprovedBy != nil {
		return *co.ApprovedBy
	}
	return "system"
}

func applierOf(co *entity.ChangeOrder) string {
	if co.AppliedBy != nil {
		return *co.AppliedBy
	}
	return "system"
}

func cancellerOf(co *entity.ChangeOrder) string {
	if co.CancelledBy != nil {
		return *co.CancelledBy
	}
	return "system"
}
