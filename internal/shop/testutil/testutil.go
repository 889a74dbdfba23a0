package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/timbercraft/tcs-mes/internal/config"
	"github.com/timbercraft/tcs-mes/internal/middleware"
	"github.com/timbercraft/tcs-mes/internal/shop/entity"
	"github.com/timbercraft/tcs-mes/internal/shop/repository"
	"github.com/timbercraft/tcs-mes/internal/shop/service"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	TestSchema = "test_shop"
	JWTSecret  = "tcs-mes-jwt-secret-key-2025"
)

// projectRoot returns the project root directory by looking for go.mod
func projectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// loadEnv loads .env from the project root
func loadEnv() {
	root := projectRoot()
	if root != "" {
		godotenv.Load(filepath.Join(root, ".env"))
	}
}

// SetupTestDB creates a test database connection using a dedicated test schema.
// Each test gets an isolated schema that is cleaned up after the test.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	loadEnv()

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "tcs")
	password := getEnv("DB_PASSWORD", "tcs123")
	dbname := getEnv("DB_NAME", "tcs_mes")

	baseDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	// Create a unique test schema for isolation
	schemaName := fmt.Sprintf("%s_%d", TestSchema, time.Now().UnixNano()%1000000)

	// First: create schema using a temporary connection
	setupDB, err := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to database for schema setup: %v", err)
	}
	setupDB.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName))
	sqlSetup, _ := setupDB.DB()
	sqlSetup.Close()

	// Second: open connection with search_path in DSN so ALL pooled connections use test schema
	testDSN := fmt.Sprintf("%s search_path=%s", baseDSN, schemaName)
	db, err := gorm.Open(postgres.Open(testDSN), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	// Migrate test tables
	err = db.AutoMigrate(
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
	)
	if err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	// Partial unique index and CO number sequence are raw SQL
	db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uniq_active_entity_locks
		ON entity_locks (project_id, entity_type, COALESCE(entity_id, ''), lock_level)
		WHERE unlocked_at IS NULL`)
	db.Exec("CREATE SEQUENCE IF NOT EXISTS change_order_number_seq START 1")

	// Cleanup on test completion
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		// Reconnect to drop the schema
		cleanDB, cleanErr := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if cleanErr == nil {
			cleanDB.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
			sqlClean, _ := cleanDB.DB()
			if sqlClean != nil {
				sqlClean.Close()
			}
		}
	})

	return db
}

// SetupServices wires repositories and services against the test database.
// No redis, no minio, log-only notifier, single delivery attempt.
func SetupServices(t *testing.T, db *gorm.DB) (*service.Services, *repository.Repositories) {
	t.Helper()
	repos := repository.NewRepositories(db)
	cfg := &config.Config{}
	cfg.Workflow.EventMaxAttempts = 1
	svcs := service.NewServices(db, repos, nil, cfg, zap.NewNop())
	return svcs, repos
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, name, email string, roles, permissions []string) string {
	if roles == nil {
		roles = []string{}
	}
	if permissions == nil {
		permissions = []string{}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"uid":   userID,
		"name":  name,
		"email": email,
		"roles": roles,
		"perms": permissions,
		"iss":   "tcs-mes",
		"iat":   now.Unix(),
		"exp":   now.Add(24 * time.Hour).Unix(),
		"jti":   fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// DefaultTestToken returns a token for a default admin test user
func DefaultTestToken() string {
	return GenerateTestToken(
		"test-user-001",
		"Test Admin",
		"admin@test.com",
		[]string{"shop_admin"},
		[]string{"*"},
	)
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body into a handler.Response-like map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedProject creates a test project
func SeedProject(t *testing.T, db *gorm.DB, name string) *entity.Project {
	t.Helper()
	now := time.Now()
	project := &entity.Project{
		ID:            uuid.New().String()[:32],
		ProjectNumber: fmt.Sprintf("TCW-%d", now.UnixNano()%1000000),
		Name:          name,
		ClientName:    "Test Client",
		Stage:         entity.ProjectStageDesign,
		QuotedPrice:   45000,
		CreatedBy:     "test-user-001",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := db.Create(project).Error; err != nil {
		t.Fatalf("Failed to seed project: %v", err)
	}
	return project
}

// SeedRoom creates a test room
func SeedRoom(t *testing.T, db *gorm.DB, projectID, name string) *entity.Room {
	t.Helper()
	now := time.Now()
	room := &entity.Room{
		ID:          uuid.New().String()[:32],
		ProjectID:   projectID,
		Name:        name,
		RoomType:    "kitchen",
		QuotedPrice: 25000,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.Create(room).Error; err != nil {
		t.Fatalf("Failed to seed room: %v", err)
	}
	return room
}

// SeedCabinet creates a test cabinet
func SeedCabinet(t *testing.T, db *gorm.DB, projectID string) *entity.Cabinet {
	t.Helper()
	now := time.Now()
	cabinet := &entity.Cabinet{
		ID:            uuid.New().String()[:32],
		ProjectID:     projectID,
		CabinetNumber: 1,
		CabinetType:   "base",
		WidthInches:   36,
		HeightInches:  34.5,
		DepthInches:   24,
		BoxMaterial:   "maple_ply",
		FinishType:    "clear_coat",
		QCStatus:      "pending",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := db.Create(cabinet).Error; err != nil {
		t.Fatalf("Failed to seed cabinet: %v", err)
	}
	return cabinet
}

// SeedBomLine creates a test BOM line
func SeedBomLine(t *testing.T, db *gorm.DB, projectID, componentName string) *entity.BomLine {
	t.Helper()
	now := time.Now()
	line := &entity.BomLine{
		ID:                uuid.New().String()[:32],
		ProjectID:         projectID,
		ComponentName:     componentName,
		MaterialCode:      "MPL-3/4",
		QuantityRequired:  4,
		UnitOfMeasure:     "sheet",
		UnitCost:          85,
		TotalMaterialCost: 340,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := db.Create(line).Error; err != nil {
		t.Fatalf("Failed to seed BOM line: %v", err)
	}
	return line
}

// SeedTask creates a test task
func SeedTask(t *testing.T, db *gorm.DB, projectID, title, status string) *entity.Task {
	t.Helper()
	now := time.Now()
	task := &entity.Task{
		ID:        uuid.New().String()[:32],
		ProjectID: projectID,
		Title:     title,
		Status:    status,
		Priority:  entity.TaskPriorityMedium,
		CreatedBy: "test-user-001",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(task).Error; err != nil {
		t.Fatalf("Failed to seed task: %v", err)
	}
	return task
}

// SeedPurchaseOrder creates a test purchase order
func SeedPurchaseOrder(t *testing.T, db *gorm.DB, projectID, status string) *entity.PurchaseOrder {
	t.Helper()
	now := time.Now()
	po := &entity.PurchaseOrder{
		ID:          uuid.New().String()[:32],
		POCode:      fmt.Sprintf("PO-%d", now.UnixNano()%10000000),
		ProjectID:   projectID,
		Status:      status,
		TotalAmount: 1200,
		CreatedBy:   "test-user-001",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.Create(po).Error; err != nil {
		t.Fatalf("Failed to seed purchase order: %v", err)
	}
	return po
}

// SeedGate creates a test gate with the given lock categories
func SeedGate(t *testing.T, db *gorm.DB, gateKey, stage string, design, procurement, production bool) *entity.Gate {
	t.Helper()
	now := time.Now()
	gate := &entity.Gate{
		ID:                     uuid.New().String()[:32],
		GateKey:                gateKey,
		Stage:                  stage,
		Name:                   gateKey,
		Sequence:               1,
		IsBlocking:             true,
		IsActive:               true,
		AppliesDesignLock:      design,
		AppliesProcurementLock: procurement,
		AppliesProductionLock:  production,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := db.Create(gate).Error; err != nil {
		t.Fatalf("Failed to seed gate: %v", err)
	}
	return gate
}

// SeedRequirement attaches a requirement to a gate
func SeedRequirement(t *testing.T, db *gorm.DB, gateID string, req entity.GateRequirement) *entity.GateRequirement {
	t.Helper()
	req.ID = uuid.New().String()[:32]
	req.GateID = gateID
	req.CreatedAt = time.Now()
	if err := db.Create(&req).Error; err != nil {
		t.Fatalf("Failed to seed gate requirement: %v", err)
	}
	return &req
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
