package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/timbercraft/tcs-mes/internal/config"
	"github.com/timbercraft/tcs-mes/internal/middleware"
	"github.com/timbercraft/tcs-mes/internal/shop/entity"
	"github.com/timbercraft/tcs-mes/internal/shop/handler"
	"github.com/timbercraft/tcs-mes/internal/shop/repository"
	"github.com/timbercraft/tcs-mes/internal/shop/service"
	"github.com/timbercraft/tcs-mes/internal/shop/sse"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting tcs-mes service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	// 初始化数据库
	db, err := initDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	if err := migrate(db, zapLogger); err != nil {
		zapLogger.Fatal("Failed to migrate database", zap.Error(err))
	}
	seedGates(db, zapLogger)

	// 初始化Redis
	rdb := initRedis(cfg.Redis)

	// 仓储与服务
	repos := repository.NewRepositories(db)
	services := service.NewServices(db, repos, rdb, cfg, zapLogger)
	registerSSEBridge(services.Bus)
	handlers := handler.NewHandlers(services)

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	registerRoutes(router, handlers, cfg)

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: 0, // Disable for SSE long-lived connections
	}

	// 启动服务器
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}

// migrate 建表与约束
// 活跃锁唯一性和变更单编号序列AutoMigrate表达不了，用原始SQL补。
func migrate(db *gorm.DB, zapLogger *zap.Logger) error {
	if err := db.AutoMigrate(
		&entity.Project{},
		&entity.Room{},
		&entity.Cabinet{},
		&entity.CabinetSection{},
		&entity.Door{},
		&entity.Drawer{},
		&entity.Shelf{},
		&entity.Pullout{},
		&entity.BomLine{},
		&entity.Task{},
		&entity.PurchaseOrder{},
		&entity.Gate{},
		&entity.GateRequirement{},
		&entity.GateEvaluation{},
		&entity.EntityLock{},
		&entity.ChangeOrder{},
		&entity.ChangeOrderLine{},
		&entity.ChangeOrderStopAction{},
	); err != nil {
		return err
	}

	migrationSQL := []string{
		// 同一元组最多一条活跃锁；幂等创建依赖此索引的 ON CONFLICT DO NOTHING
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_active_entity_locks
			ON entity_locks (project_id, entity_type, COALESCE(entity_id, ''), lock_level)
			WHERE unlocked_at IS NULL`,
		"CREATE SEQUENCE IF NOT EXISTS change_order_number_seq START 1",
		"CREATE INDEX IF NOT EXISTS idx_stop_actions_active ON change_order_stop_actions (change_order_id) WHERE reverted_at IS NULL",
		"CREATE INDEX IF NOT EXISTS idx_gate_evaluations_project_gate ON gate_evaluations (project_id, gate_key, evaluated_at DESC)",
	}
	for _, sql := range migrationSQL {
		if err := db.Exec(sql).Error; err != nil {
			zapLogger.Warn("Migration warning", zap.String("sql", sql), zap.Error(err))
		}
	}
	return nil
}

// seedGates 初始化标准门禁配置（已有门禁时跳过）
func seedGates(db *gorm.DB, zapLogger *zap.Logger) {
	var count int64
	if err := db.Model(&entity.Gate{}).Count(&count).Error; err != nil || count > 0 {
		return
	}

	gates := []struct {
		gate         entity.Gate
		requirements []entity.GateRequirement
	}{
		{
			gate: entity.Gate{
				GateKey:            "design_signoff",
				Stage:              entity.ProjectStageDesign,
				Name:               "设计确认",
				Description:        "客户确认设计后冻结全部设计实体",
				Sequence:           1,
				IsBlocking:         true,
				IsActive:           true,
				AppliesDesignLock:  true,
				CreatesTasksOnPass: true,
				TaskTemplates: entity.JSONBArray{
					map[string]interface{}{"title": "生成车间图纸", "priority": "high"},
					map[string]interface{}{"title": "编制物料清单", "priority": "high"},
				},
			},
			requirements: []entity.GateRequirement{
				{RequirementType: entity.RequirementTypeFieldNotNull, TargetField: "client_name", ErrorMessage: "项目缺少客户名称", ActionLabel: "补全项目信息", Sequence: 1},
				{RequirementType: entity.RequirementTypeFieldNotNull, TargetField: "quoted_price", ErrorMessage: "项目缺少报价", ActionLabel: "录入报价", Sequence: 2},
				{RequirementType: entity.RequirementTypeMinRooms, MinCount: 1, ErrorMessage: "项目至少需要一个房间", ActionLabel: "添加房间", Sequence: 3},
				{RequirementType: entity.RequirementTypeMinCabinets, MinCount: 1, ErrorMessage: "项目至少需要一个柜体", ActionLabel: "添加柜体", Sequence: 4},
			},
		},
		{
			gate: entity.Gate{
				GateKey:                "procurement_release",
				Stage:                  entity.ProjectStageSourcing,
				Name:                   "采购放行",
				Description:            "BOM定稿后冻结采购物料行",
				Sequence:               1,
				IsBlocking:             true,
				IsActive:               true,
				AppliesProcurementLock: true,
			},
			requirements: []entity.GateRequirement{
				{RequirementType: entity.RequirementTypeMinBomLines, MinCount: 1, ErrorMessage: "物料清单为空", ActionLabel: "编制物料清单", Sequence: 1},
			},
		},
		{
			gate: entity.Gate{
				GateKey:               "production_release",
				Stage:                 entity.ProjectStageProduction,
				Name:                  "投产放行",
				Description:           "投产后冻结制造尺寸",
				Sequence:              1,
				IsBlocking:            true,
				IsActive:              true,
				AppliesProductionLock: true,
				CreatesTasksOnPass:    true,
				TaskTemplates: entity.JSONBArray{
					map[string]interface{}{"title": "排产下料", "priority": "critical"},
				},
			},
			requirements: []entity.GateRequirement{
				{RequirementType: entity.RequirementTypeTasksCompleted, ErrorMessage: "存在未完成的前置任务", ActionLabel: "完成任务", Sequence: 1},
			},
		},
	}

	for _, g := range gates {
		g.gate.ID = uuid.New().String()[:32]
		if err := db.Create(&g.gate).Error; err != nil {
			zapLogger.Warn("Seed gate warning", zap.String("gate", g.gate.GateKey), zap.Error(err))
			continue
		}
		for i := range g.requirements {
			g.requirements[i].ID = uuid.New().String()[:32]
			g.requirements[i].GateID = g.gate.ID
			if err := db.Create(&g.requirements[i]).Error; err != nil {
				zapLogger.Warn("Seed requirement warning", zap.Error(err))
			}
		}
	}
	zapLogger.Info("Seeded default gates", zap.Int("count", len(gates)))
}

// registerSSEBridge 把工作流事件桥接到SSE推送
func registerSSEBridge(bus *service.EventBus) {
	bus.Subscribe(service.EventGateEvaluated, "sse-bridge", func(ctx context.Context, evt service.Event) error {
		passed, _ := evt.Payload["passed"].(bool)
		sse.PublishGateUpdate(evt.ProjectID, evt.GateKey, passed)
		return nil
	})
	bus.Subscribe(service.EventLocksApplied, "sse-bridge", func(ctx context.Context, evt service.Event) error {
		sse.PublishLockUpdate(evt.ProjectID, evt.GateKey, "applied")
		return nil
	})
	for _, name := range []string{
		service.EventChangeOrderSubmitted,
		service.EventChangeOrderApproved,
		service.EventChangeOrderApplied,
		service.EventChangeOrderCancelled,
	} {
		eventName := name
		bus.Subscribe(eventName, "sse-bridge", func(ctx context.Context, evt service.Event) error {
			sse.PublishChangeOrderUpdate(evt.ProjectID, evt.ChangeOrderID, eventName)
			return nil
		})
	}
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, cfg *config.Config) {
	// 健康检查
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 版本信息
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	// API v1
	v1 := r.Group("/api/v1")
	{
		// SSE 实时推送（需要认证，支持 query param token）
		sseGroup := v1.Group("/sse")
		sseGroup.Use(middleware.JWTAuth(cfg.JWT.Secret))
		{
			sseGroup.GET("/events", h.SSE.Stream)
		}

		// 需要认证的接口
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(cfg.JWT.Secret))
		{
			// 门禁配置
			authorized.GET("/gates", h.Gate.ListByStage)

			// 项目门禁与锁定
			projects := authorized.Group("/projects/:id")
			{
				projects.POST("/gates/:gate_key/evaluate", h.Gate.Evaluate)
				projects.POST("/gates/:gate_key/pass", middleware.RequirePermission("gate.pass"), h.Gate.Pass)
				projects.GET("/gates/:gate_key/status", h.Gate.Status)
				projects.GET("/gate-evaluations", h.Gate.History)

				projects.GET("/locks", h.Lock.Info)
				projects.GET("/locks/check", h.Lock.CheckField)

				projects.POST("/change-orders", h.ChangeOrder.Create)
				projects.GET("/change-orders", h.ChangeOrder.List)
			}

			// 变更单
			changeOrders := authorized.Group("/change-orders/:co_id")
			{
				changeOrders.GET("", h.ChangeOrder.Get)
				changeOrders.GET("/impact", h.ChangeOrder.PreviewImpact)
				changeOrders.POST("/lines", h.ChangeOrder.AddLine)
				changeOrders.POST("/submit", h.ChangeOrder.Submit)
				changeOrders.POST("/approve", middleware.RequireRole("shop_manager"), h.ChangeOrder.Approve)
				changeOrders.POST("/apply", middleware.RequirePermission("change_order.apply"), h.ChangeOrder.Apply)
				changeOrders.POST("/cancel", middleware.RequirePermission("change_order.cancel"), h.ChangeOrder.Cancel)
			}

			// 可锁实体写入口（经锁定守卫）
			authorized.PATCH("/entities/:entity_type/:entity_id", h.Entity.Update)
		}
	}
}
