package migrations

import (
	"fmt"

	"polls-backend/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Run 迁移全部模型，并确认投票唯一索引存在
func Run(db *gorm.DB, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	log.Info("执行迁移: polls, poll_options, votes")
	if err := db.AutoMigrate(&models.Poll{}, &models.PollOption{}, &models.Vote{}); err != nil {
		return fmt.Errorf("迁移模型失败: %w", err)
	}

	return EnsureVoteUniqueIndex(db, log)
}

// EnsureVoteUniqueIndex 旧库可能缺少 (participant_id, poll_id) 唯一索引，缺失时补建
func EnsureVoteUniqueIndex(db *gorm.DB, log *zap.Logger) error {
	if db.Migrator().HasIndex(&models.Vote{}, models.VoteUniqueIndex) {
		log.Debug("迁移跳过: 唯一索引已存在", zap.String("index", models.VoteUniqueIndex))
		return nil
	}

	if err := db.Migrator().CreateIndex(&models.Vote{}, models.VoteUniqueIndex); err != nil {
		log.Error("迁移失败: 无法创建唯一索引", zap.String("index", models.VoteUniqueIndex), zap.Error(err))
		return err
	}
	log.Info("迁移成功: 已创建唯一索引", zap.String("index", models.VoteUniqueIndex))
	return nil
}
