package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"polls-backend/config"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const pingTimeout = 5 * time.Second

// Open 按配置打开数据库连接，连接失败时按指数退避重试
func Open(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger, logLevel logger.LogLevel) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop()
	}

	gormConfig := &gorm.Config{
		Logger:         NewGormLogger(log, logLevel),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	retries := cfg.ConnectRetries
	if retries == 0 {
		retries = 1
	}

	db, err := backoff.Retry(ctx, func() (*gorm.DB, error) {
		dialector, err := Dialector(cfg.Driver, cfg.URL)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		db, err := gorm.Open(dialector, gormConfig)
		if err != nil {
			return nil, err
		}
		if err := Ping(ctx, db); err != nil {
			_ = Close(db)
			return nil, err
		}
		return db, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(retries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("连接数据库失败，稍后重试", zap.String("driver", cfg.Driver), zap.Duration("retry_in", next), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if err := configurePool(db, cfg); err != nil {
		_ = Close(db)
		return nil, err
	}

	log.Info("数据库连接成功", zap.String("driver", cfg.Driver))
	return db, nil
}

// Dialector 根据驱动名构造gorm方言
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case config.DriverSQLite:
		return sqlite.Open(SQLiteDSN(dsn)), nil
	case config.DriverMySQL:
		return mysql.Open(dsn), nil
	case config.DriverPostgres:
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

// SQLiteDSN 为SQLite连接补充外键和忙等待参数
func SQLiteDSN(dsn string) string {
	params := []string{}
	if !strings.Contains(dsn, "_foreign_keys") && !strings.Contains(dsn, "_fk=") {
		params = append(params, "_foreign_keys=on")
	}
	if !strings.Contains(dsn, "_busy_timeout") {
		params = append(params, "_busy_timeout=5000")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// configurePool sqlite只允许一个连接，写事务在连接上排队，避免"database is locked"
func configurePool(db *gorm.DB, cfg config.DatabaseConfig) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("获取底层连接失败: %w", err)
	}

	if cfg.Driver == config.DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		return nil
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return nil
}

// Ping 检查数据库连通性
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return sqlDB.PingContext(pingCtx)
}

// Close 关闭数据库连接
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NewGormLogger SQL日志写入zap
func NewGormLogger(log *zap.Logger, level logger.LogLevel) logger.Interface {
	return logger.New(
		zap.NewStdLog(log.Named("gorm")),
		logger.Config{
			SlowThreshold:             time.Second, // 慢SQL阈值
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true, // 忽略ErrRecordNotFound错误
			Colorful:                  false,
		},
	)
}

// LogLevelFor 开发环境打印全部SQL，其余环境只记录告警
func LogLevelFor(environment string) logger.LogLevel {
	if environment == "development" {
		return logger.Info
	}
	return logger.Warn
}
