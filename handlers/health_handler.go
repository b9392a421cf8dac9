package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"polls-backend/database"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// SystemInfo contains basic system metrics and information
type SystemInfo struct {
	Status       string    `json:"status"`
	Version      string    `json:"version"`
	Uptime       string    `json:"uptime"`
	StartTime    time.Time `json:"start_time"`
	CurrentTime  time.Time `json:"current_time"`
	GoVersion    string    `json:"go_version"`
	NumGoroutine int       `json:"num_goroutine"`
	NumCPU       int       `json:"num_cpu"`
	DBStatus     string    `json:"db_status"`
	RedisStatus  string    `json:"redis_status"`
}

// Version 应用版本，可通过构建参数注入
var Version = "0.1.0"

// Pinger 是 Redis 客户端中健康检查需要的部分
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// HealthHandler 健康检查
type HealthHandler struct {
	db        *gorm.DB
	redis     Pinger
	startTime time.Time
}

// NewHealthHandler redis 为 nil 表示未启用 Redis
func NewHealthHandler(db *gorm.DB, redis Pinger) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, startTime: time.Now()}
}

// Health 提供基本健康检查端点
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// Status 提供详细的系统状态信息。数据库不可用时返回503。
func (h *HealthHandler) Status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	info := SystemInfo{
		Status:       "ok",
		Version:      Version,
		Uptime:       time.Since(h.startTime).String(),
		StartTime:    h.startTime,
		CurrentTime:  time.Now(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		DBStatus:     "ok",
		RedisStatus:  "disabled",
	}

	if err := database.Ping(ctx, h.db); err != nil {
		info.DBStatus = "error"
		info.Status = "degraded"
	}
	if h.redis != nil {
		info.RedisStatus = "ok"
		if err := h.redis.Ping(ctx).Err(); err != nil {
			// Redis 故障不改变整体状态
			info.RedisStatus = "error"
		}
	}

	status := http.StatusOK
	if info.DBStatus != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, info)
}
