package repository

import (
	"context"
	"errors"
	"sync"

	"polls-backend/cache"
	"polls-backend/models"

	"go.uber.org/zap"
)

// PollCache 定义投票缓存接口
type PollCache interface {
	GetPoll(ctx context.Context, id uint) (*models.Poll, error)
	Generation(ctx context.Context, id uint) (string, error)
	SetPoll(ctx context.Context, poll *models.Poll, gen string) error
	SetMissing(ctx context.Context, id uint, gen string) error
	DeletePolls(ctx context.Context, ids ...uint) error
}

// CachedPollRepository 实现带缓存的投票数据仓库。只缓存 GetPollByID，
// 写操作提交后删除相关缓存；事务内的读取全部走数据库。
// 回填以读库前取得的缓存代际为条件，读库期间提交的写入不会被旧快照覆盖。
type CachedPollRepository struct {
	PollStore
	cache  PollCache
	logger *zap.Logger
}

var _ PollStore = (*CachedPollRepository)(nil)

// NewCachedPollRepository 创建带缓存的投票数据仓库
func NewCachedPollRepository(store PollStore, c PollCache, logger *zap.Logger) *CachedPollRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedPollRepository{PollStore: store, cache: c, logger: logger}
}

// GetPollByID 获取投票活动详情
func (r *CachedPollRepository) GetPollByID(ctx context.Context, id uint) (*models.Poll, error) {
	// 1. 尝试从缓存获取
	poll, err := r.cache.GetPoll(ctx, id)
	switch {
	case err == nil:
		return poll, nil
	case errors.Is(err, cache.ErrCachedMiss):
		return nil, ErrPollNotFound
	case !errors.Is(err, cache.ErrKeyNotFound):
		r.logger.Warn("读取投票缓存失败", zap.Uint("poll_id", id), zap.Error(err))
	}

	// 2. 缓存未命中，先取代际再读库；取不到代际时不回填
	gen, gerr := r.cache.Generation(ctx, id)
	if gerr != nil {
		r.logger.Warn("读取缓存代际失败", zap.Uint("poll_id", id), zap.Error(gerr))
		return r.PollStore.GetPollByID(ctx, id)
	}

	poll, err = r.PollStore.GetPollByID(ctx, id)
	if errors.Is(err, ErrPollNotFound) {
		r.fill(id, r.cache.SetMissing(ctx, id, gen))
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	// 3. 回填缓存；缓存错误只记录日志，不影响返回结果
	r.fill(id, r.cache.SetPoll(ctx, poll, gen))
	return poll, nil
}

func (r *CachedPollRepository) fill(id uint, err error) {
	switch {
	case err == nil:
	case errors.Is(err, cache.ErrStaleGeneration):
		r.logger.Debug("缓存已失效，放弃回填", zap.Uint("poll_id", id))
	default:
		r.logger.Warn("写入投票缓存失败", zap.Uint("poll_id", id), zap.Error(err))
	}
}

// InsertPoll 新ID可能命中之前缓存的空值，写入后删除
func (r *CachedPollRepository) InsertPoll(ctx context.Context, poll *models.Poll) error {
	if err := r.PollStore.InsertPoll(ctx, poll); err != nil {
		return err
	}
	r.invalidate(ctx, poll.ID)
	return nil
}

func (r *CachedPollRepository) UpdatePollTitle(ctx context.Context, id uint, title string) error {
	if err := r.PollStore.UpdatePollTitle(ctx, id, title); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

func (r *CachedPollRepository) DeletePolls(ctx context.Context, ids []uint) (int64, error) {
	n, err := r.PollStore.DeletePolls(ctx, ids)
	if err != nil {
		return n, err
	}
	r.invalidate(ctx, ids...)
	return n, nil
}

// Transaction 事务提交后删除事务内修改过的投票缓存
func (r *CachedPollRepository) Transaction(ctx context.Context, fn func(tx PollStore) error) error {
	tracker := &touchTracker{}
	err := r.PollStore.Transaction(ctx, func(tx PollStore) error {
		return fn(&trackingStore{PollStore: tx, touched: tracker})
	})
	if err != nil {
		return err
	}
	r.invalidate(ctx, tracker.ids()...)
	return nil
}

func (r *CachedPollRepository) invalidate(ctx context.Context, ids ...uint) {
	if len(ids) == 0 {
		return
	}
	if err := r.cache.DeletePolls(ctx, ids...); err != nil {
		r.logger.Warn("删除投票缓存失败", zap.Uints("poll_ids", ids), zap.Error(err))
	}
}

type touchTracker struct {
	mu  sync.Mutex
	set map[uint]struct{}
}

func (t *touchTracker) add(ids ...uint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.set == nil {
		t.set = make(map[uint]struct{})
	}
	for _, id := range ids {
		t.set[id] = struct{}{}
	}
}

func (t *touchTracker) ids() []uint {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]uint, 0, len(t.set))
	for id := range t.set {
		out = append(out, id)
	}
	return out
}

// trackingStore 记录事务内写过的投票ID
type trackingStore struct {
	PollStore
	touched *touchTracker
}

func (s *trackingStore) InsertPoll(ctx context.Context, poll *models.Poll) error {
	if err := s.PollStore.InsertPoll(ctx, poll); err != nil {
		return err
	}
	s.touched.add(poll.ID)
	return nil
}

func (s *trackingStore) UpdatePollTitle(ctx context.Context, id uint, title string) error {
	s.touched.add(id)
	return s.PollStore.UpdatePollTitle(ctx, id, title)
}

func (s *trackingStore) DeletePolls(ctx context.Context, ids []uint) (int64, error) {
	s.touched.add(ids...)
	return s.PollStore.DeletePolls(ctx, ids)
}

func (s *trackingStore) GetOptionByIDAndPoll(ctx context.Context, optionID, pollID uint) (*models.PollOption, error) {
	option, err := s.PollStore.GetOptionByIDAndPoll(ctx, optionID, pollID)
	if err == nil {
		s.touched.add(pollID)
	}
	return option, err
}

func (s *trackingStore) InsertVote(ctx context.Context, vote *models.Vote) error {
	s.touched.add(vote.PollID)
	return s.PollStore.InsertVote(ctx, vote)
}

func (s *trackingStore) Transaction(ctx context.Context, fn func(tx PollStore) error) error {
	return s.PollStore.Transaction(ctx, func(tx PollStore) error {
		return fn(&trackingStore{PollStore: tx, touched: s.touched})
	})
}
