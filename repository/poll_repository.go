package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"polls-backend/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PollStore 定义投票数据访问接口
type PollStore interface {
	// 投票活动
	GetPollByID(ctx context.Context, id uint) (*models.Poll, error)
	InsertPoll(ctx context.Context, poll *models.Poll) error
	UpdatePollTitle(ctx context.Context, id uint, title string) error
	ListAllPolls(ctx context.Context) ([]models.Poll, error)
	FindPollsWithDeleteAtBefore(ctx context.Context, ts time.Time) ([]uint, error)
	DeletePolls(ctx context.Context, ids []uint) (int64, error)

	// 投票选项
	GetOptionByIDAndPoll(ctx context.Context, optionID, pollID uint) (*models.PollOption, error)
	IncrementOptionTally(ctx context.Context, optionID uint) error

	// 投票记录
	InsertVote(ctx context.Context, vote *models.Vote) error
	HasVoted(ctx context.Context, pollID uint, participantID string) (bool, error)
	ListVotes(ctx context.Context, pollID uint) ([]models.Vote, error)
	CountVotesByOption(ctx context.Context, pollID uint) (map[uint]int64, error)

	// Transaction runs fn against a store bound to a single database
	// transaction. Option reads inside fn take row locks.
	Transaction(ctx context.Context, fn func(tx PollStore) error) error
}

// GormPollRepository 基于gorm的投票数据仓库
type GormPollRepository struct {
	db        *gorm.DB
	forUpdate bool
}

var _ PollStore = (*GormPollRepository)(nil)

// NewGormPollRepository 创建投票数据仓库
func NewGormPollRepository(db *gorm.DB) *GormPollRepository {
	return &GormPollRepository{db: db}
}

func orderedOptions(db *gorm.DB) *gorm.DB {
	return db.Order("poll_options.id ASC")
}

// GetPollByID 获取投票及其选项
func (r *GormPollRepository) GetPollByID(ctx context.Context, id uint) (*models.Poll, error) {
	var poll models.Poll
	err := r.db.WithContext(ctx).Preload("Options", orderedOptions).First(&poll, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPollNotFound
		}
		return nil, fmt.Errorf("failed to get poll %d: %w", id, err)
	}
	return &poll, nil
}

// InsertPoll 在同一事务中写入投票和全部选项
func (r *GormPollRepository) InsertPoll(ctx context.Context, poll *models.Poll) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Options").Create(poll).Error; err != nil {
			return fmt.Errorf("failed to create poll: %w", err)
		}
		if len(poll.Options) == 0 {
			return nil
		}
		for i := range poll.Options {
			poll.Options[i].PollID = poll.ID
		}
		if err := tx.Create(&poll.Options).Error; err != nil {
			return fmt.Errorf("failed to create poll options: %w", err)
		}
		return nil
	})
}

// UpdatePollTitle 只更新标题字段
func (r *GormPollRepository) UpdatePollTitle(ctx context.Context, id uint, title string) error {
	err := r.db.WithContext(ctx).Model(&models.Poll{}).Where("id = ?", id).UpdateColumn("title", title).Error
	if err != nil {
		return fmt.Errorf("failed to update poll %d: %w", id, err)
	}
	return nil
}

// ListAllPolls 按创建时间倒序返回全部投票
func (r *GormPollRepository) ListAllPolls(ctx context.Context) ([]models.Poll, error) {
	var polls []models.Poll
	err := r.db.WithContext(ctx).
		Preload("Options", orderedOptions).
		Order("created_at DESC").Order("id DESC").
		Find(&polls).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list polls: %w", err)
	}
	return polls, nil
}

// FindPollsWithDeleteAtBefore 查找 delete_at <= ts 的投票ID
func (r *GormPollRepository) FindPollsWithDeleteAtBefore(ctx context.Context, ts time.Time) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Poll{}).
		Where("delete_at IS NOT NULL AND delete_at <= ?", ts).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find expired polls: %w", err)
	}
	return ids, nil
}

// DeletePolls 删除投票及其选项和投票记录，返回删除的投票数
func (r *GormPollRepository) DeletePolls(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 顺序与外键方向一致，不依赖数据库的级联删除
		if err := tx.Where("poll_id IN ?", ids).Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("poll_id IN ?", ids).Delete(&models.PollOption{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&models.Poll{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete polls: %w", err)
	}
	return deleted, nil
}

// GetOptionByIDAndPoll 获取属于指定投票的选项；事务内加行锁
func (r *GormPollRepository) GetOptionByIDAndPoll(ctx context.Context, optionID, pollID uint) (*models.PollOption, error) {
	q := r.db.WithContext(ctx)
	if r.forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var option models.PollOption
	err := q.Where("id = ? AND poll_id = ?", optionID, pollID).First(&option).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOptionNotFound
		}
		return nil, fmt.Errorf("failed to get option %d: %w", optionID, err)
	}
	return &option, nil
}

// IncrementOptionTally 原子增加选项票数，只写 votes 字段
func (r *GormPollRepository) IncrementOptionTally(ctx context.Context, optionID uint) error {
	res := r.db.WithContext(ctx).Model(&models.PollOption{}).
		Where("id = ?", optionID).
		UpdateColumn("votes", gorm.Expr("votes + ?", 1))
	if res.Error != nil {
		return fmt.Errorf("failed to increment option %d: %w", optionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrOptionNotFound
	}
	return nil
}

// InsertVote 写入投票记录；唯一约束冲突返回 ErrDuplicateVote
func (r *GormPollRepository) InsertVote(ctx context.Context, vote *models.Vote) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(vote).Error; err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicateVote
		}
		return fmt.Errorf("failed to insert vote: %w", err)
	}
	return nil
}

// HasVoted 检查参与者是否已在该投票中投过票
func (r *GormPollRepository) HasVoted(ctx context.Context, pollID uint, participantID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Vote{}).
		Where("poll_id = ? AND participant_id = ?", pollID, participantID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check vote: %w", err)
	}
	return count > 0, nil
}

// ListVotes 返回投票的全部投票记录
func (r *GormPollRepository) ListVotes(ctx context.Context, pollID uint) ([]models.Vote, error) {
	var votes []models.Vote
	err := r.db.WithContext(ctx).Where("poll_id = ?", pollID).Order("id ASC").Find(&votes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	return votes, nil
}

type optionCount struct {
	OptionID uint
	Total    int64
}

// CountVotesByOption 按选项统计投票记录数
func (r *GormPollRepository) CountVotesByOption(ctx context.Context, pollID uint) (map[uint]int64, error) {
	var rows []optionCount
	err := r.db.WithContext(ctx).Model(&models.Vote{}).
		Select("option_id, COUNT(*) AS total").
		Where("poll_id = ?", pollID).
		Group("option_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count votes: %w", err)
	}

	counts := make(map[uint]int64, len(rows))
	for _, row := range rows {
		counts[row.OptionID] = row.Total
	}
	return counts, nil
}

// Transaction 在单个数据库事务中执行fn
func (r *GormPollRepository) Transaction(ctx context.Context, fn func(tx PollStore) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormPollRepository{db: tx, forUpdate: true})
	})
}
