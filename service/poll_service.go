package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"polls-backend/cache"
	"polls-backend/lifecycle"
	"polls-backend/metrics"
	"polls-backend/models"
	"polls-backend/repository"

	"go.uber.org/zap"
)

const (
	MinOptions       = 2
	MaxDurationHours = 24 * 365
)

// PollService 投票服务接口
type PollService interface {
	// 投票管理
	CreatePoll(ctx context.Context, input CreatePollInput) (*models.Poll, error)
	ListPolls(ctx context.Context, query ListQuery) (*PollPage, error)
	GetPoll(ctx context.Context, id uint) (*models.Poll, error)
	UpdatePollTitle(ctx context.Context, id uint, title string) (*models.Poll, error)
	DeletePoll(ctx context.Context, id uint) error

	// 投票操作
	CastVote(ctx context.Context, pollID uint, participantID string, optionID uint) (*models.Poll, error)
	ListVotes(ctx context.Context, pollID uint) ([]models.Vote, error)
	AuditPoll(ctx context.Context, pollID uint) (*PollAudit, error)

	// Sweep removes polls whose delete_at has passed and returns how many
	// were removed.
	Sweep(ctx context.Context) (int64, error)
}

type CreatePollInput struct {
	Title         string
	Options       []string
	DurationHours int
}

// ListQuery filters and pages a listing. Limit 0 means no limit.
type ListQuery struct {
	Search string
	Status models.PollStatus
	Limit  int
	Offset int
}

// PollPage is one page of ranked polls. Count is the total before paging.
type PollPage struct {
	Count int
	Polls []models.Poll
}

type OptionAudit struct {
	OptionID   uint   `json:"option_id"`
	Text       string `json:"text"`
	Tally      int64  `json:"tally"`
	Counted    int64  `json:"counted"`
	Consistent bool   `json:"consistent"`
}

// PollAudit compares each option's stored tally with its recorded votes.
type PollAudit struct {
	PollID     uint          `json:"poll_id"`
	Options    []OptionAudit `json:"options"`
	Consistent bool          `json:"consistent"`
}

// Locker serializes work on one key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// VoterFilter is a probabilistic record of who voted where. A false answer
// from MightHaveVoted must mean the participant has definitely not voted.
type VoterFilter interface {
	MightHaveVoted(ctx context.Context, pollID uint, participantID string) (bool, error)
	MarkVoted(ctx context.Context, pollID uint, participantID string, expireAt time.Time) error
}

// PollServiceImpl 投票服务实现
type PollServiceImpl struct {
	store   repository.PollStore
	clock   lifecycle.Clock
	locker  Locker
	voters  VoterFilter
	metrics *metrics.Metrics
	logger  *zap.Logger
}

var _ PollService = (*PollServiceImpl)(nil)

// Option configures a PollServiceImpl
type Option func(*PollServiceImpl)

func WithClock(clock lifecycle.Clock) Option {
	return func(s *PollServiceImpl) { s.clock = clock }
}

func WithLocker(locker Locker) Option {
	return func(s *PollServiceImpl) { s.locker = locker }
}

func WithVoterFilter(f VoterFilter) Option {
	return func(s *PollServiceImpl) { s.voters = f }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *PollServiceImpl) { s.metrics = m }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *PollServiceImpl) { s.logger = logger }
}

// NewPollService 创建投票服务。默认使用系统时钟和进程内锁。
func NewPollService(store repository.PollStore, opts ...Option) *PollServiceImpl {
	s := &PollServiceImpl{
		store:  store,
		clock:  lifecycle.SystemClock{},
		locker: cache.NewLocalLocker(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PollServiceImpl) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *PollServiceImpl) withStatus(poll *models.Poll, now time.Time) *models.Poll {
	poll.Status = lifecycle.DeriveStatus(poll, now)
	return poll
}

// translate maps store errors onto the service taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrPollNotFound):
		return ErrPollNotFound
	case errors.Is(err, repository.ErrDuplicateVote):
		return ErrDuplicateVote
	case errors.Is(err, repository.ErrOptionNotFound):
		return ErrInvalidOption
	}
	return err
}

func normalizeText(field, value string, max int) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", validationError("%s is required", field)
	}
	if utf8.RuneCountInString(value) > max {
		return "", validationError("%s must be at most %d characters", field, max)
	}
	return value, nil
}

// CreatePoll 创建投票及其选项，截止时间由创建时刻计算
func (s *PollServiceImpl) CreatePoll(ctx context.Context, input CreatePollInput) (*models.Poll, error) {
	title, err := normalizeText("title", input.Title, models.MaxTitleLength)
	if err != nil {
		return nil, err
	}
	if len(input.Options) < MinOptions {
		return nil, validationError("a poll must have at least %d options", MinOptions)
	}
	if input.DurationHours < 0 || input.DurationHours > MaxDurationHours {
		return nil, validationError("duration_hours must be between 0 and %d", MaxDurationHours)
	}

	options := make([]models.PollOption, 0, len(input.Options))
	for i, raw := range input.Options {
		text, err := normalizeText(fmt.Sprintf("options[%d]", i), raw, models.MaxOptionTextLength)
		if err != nil {
			return nil, err
		}
		options = append(options, models.PollOption{Text: text})
	}

	now := s.now()
	schedule, err := lifecycle.ComputeSchedule(input.DurationHours, now)
	if err != nil {
		return nil, validationError("%v", err)
	}

	poll := &models.Poll{
		Title:     title,
		CreatedAt: now,
		ExpiresAt: schedule.ExpiresAt,
		DeleteAt:  &schedule.DeleteAt,
		Options:   options,
	}
	if err := s.store.InsertPoll(ctx, poll); err != nil {
		return nil, err
	}

	s.metrics.RecordPollCreated()
	s.logger.Info("poll created",
		zap.Uint("poll_id", poll.ID),
		zap.Int("options", len(poll.Options)),
		zap.Time("expires_at", poll.ExpiresAt))
	return s.withStatus(poll, now), nil
}

// ListPolls ranks all polls against a single now, then filters and pages.
func (s *PollServiceImpl) ListPolls(ctx context.Context, query ListQuery) (*PollPage, error) {
	if query.Limit < 0 || query.Offset < 0 {
		return nil, validationError("limit and offset must not be negative")
	}
	if query.Status != "" && !query.Status.Valid() {
		return nil, validationError("unknown status %q", query.Status)
	}

	now := s.now()
	polls, err := s.store.ListAllPolls(ctx)
	if err != nil {
		return nil, err
	}
	ranked := RankPolls(polls, now)

	search := strings.ToLower(strings.TrimSpace(query.Search))
	filtered := ranked[:0]
	for _, poll := range ranked {
		if search != "" && !strings.Contains(strings.ToLower(poll.Title), search) {
			continue
		}
		if query.Status != "" && poll.Status != query.Status {
			continue
		}
		filtered = append(filtered, poll)
	}

	page := &PollPage{Count: len(filtered)}
	start := min(query.Offset, len(filtered))
	end := len(filtered)
	if query.Limit > 0 {
		end = min(start+query.Limit, len(filtered))
	}
	page.Polls = filtered[start:end]
	return page, nil
}

// GetPoll returns a poll regardless of its status.
func (s *PollServiceImpl) GetPoll(ctx context.Context, id uint) (*models.Poll, error) {
	poll, err := s.store.GetPollByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return s.withStatus(poll, s.now()), nil
}

// UpdatePollTitle changes only the title. Options and deadlines are fixed at
// creation.
func (s *PollServiceImpl) UpdatePollTitle(ctx context.Context, id uint, title string) (*models.Poll, error) {
	title, err := normalizeText("title", title, models.MaxTitleLength)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetPollByID(ctx, id); err != nil {
		return nil, translate(err)
	}
	if err := s.store.UpdatePollTitle(ctx, id, title); err != nil {
		return nil, err
	}
	return s.GetPoll(ctx, id)
}

// DeletePoll removes a poll with its options and votes.
func (s *PollServiceImpl) DeletePoll(ctx context.Context, id uint) error {
	n, err := s.store.DeletePolls(ctx, []uint{id})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPollNotFound
	}
	s.logger.Info("poll deleted", zap.Uint("poll_id", id))
	return nil
}

// CastVote 投票。同一投票上的写操作先取得投票级锁，再在单个事务中完成
// 重复检查、选项校验、计数加一和投票记录写入。数据库唯一索引是最终保障，
// 插入时的唯一约束冲突同样视为重复投票。
func (s *PollServiceImpl) CastVote(ctx context.Context, pollID uint, participantID string, optionID uint) (*models.Poll, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" || optionID == 0 {
		s.metrics.RecordVote(metrics.OutcomeInvalid)
		return nil, validationError("participant_id and option_id are required")
	}
	if utf8.RuneCountInString(participantID) > models.MaxParticipantIDLength {
		s.metrics.RecordVote(metrics.OutcomeInvalid)
		return nil, validationError("participant_id must be at most %d characters", models.MaxParticipantIDLength)
	}

	var (
		now     time.Time
		updated *models.Poll
	)
	err := s.locker.WithLock(ctx, fmt.Sprintf("poll:%d", pollID), func() error {
		poll, err := s.store.GetPollByID(ctx, pollID)
		if err != nil {
			return translate(err)
		}
		// waiting for the lock can take a while; read the clock once it is held
		now = s.now()
		if !lifecycle.IsOpen(poll, now) {
			return ErrPollClosed
		}

		checkVoted := s.mightHaveVoted(ctx, pollID, participantID)

		return s.store.Transaction(ctx, func(tx repository.PollStore) error {
			if checkVoted {
				voted, err := tx.HasVoted(ctx, pollID, participantID)
				if err != nil {
					return err
				}
				if voted {
					return ErrDuplicateVote
				}
			}

			option, err := tx.GetOptionByIDAndPoll(ctx, optionID, pollID)
			if err != nil {
				if !errors.Is(err, repository.ErrOptionNotFound) {
					return err
				}
				// the duplicate check was skipped; keep its precedence
				if !checkVoted {
					voted, herr := tx.HasVoted(ctx, pollID, participantID)
					if herr != nil {
						return herr
					}
					if voted {
						return ErrDuplicateVote
					}
				}
				return ErrInvalidOption
			}

			if err := tx.IncrementOptionTally(ctx, option.ID); err != nil {
				return translate(err)
			}
			vote := &models.Vote{
				ParticipantID: participantID,
				PollID:        pollID,
				OptionID:      option.ID,
				CreatedAt:     now,
			}
			if err := tx.InsertVote(ctx, vote); err != nil {
				return translate(err)
			}

			updated, err = tx.GetPollByID(ctx, pollID)
			return translate(err)
		})
	})
	if err != nil {
		s.recordVoteFailure(pollID, err)
		return nil, err
	}

	s.markVoted(ctx, updated, participantID)
	s.metrics.RecordVote(metrics.OutcomeAccepted)
	s.logger.Debug("vote accepted", zap.Uint("poll_id", pollID), zap.Uint("option_id", optionID))
	return s.withStatus(updated, now), nil
}

// mightHaveVoted consults the voter filter. Any filter error means "maybe".
func (s *PollServiceImpl) mightHaveVoted(ctx context.Context, pollID uint, participantID string) bool {
	if s.voters == nil {
		return true
	}
	maybe, err := s.voters.MightHaveVoted(ctx, pollID, participantID)
	if err != nil {
		s.logger.Warn("voter filter lookup failed", zap.Uint("poll_id", pollID), zap.Error(err))
		return true
	}
	return maybe
}

func (s *PollServiceImpl) markVoted(ctx context.Context, poll *models.Poll, participantID string) {
	if s.voters == nil {
		return
	}
	expireAt := poll.ExpiresAt.Add(lifecycle.GracePeriod)
	if poll.DeleteAt != nil {
		expireAt = *poll.DeleteAt
	}
	if err := s.voters.MarkVoted(ctx, poll.ID, participantID, expireAt); err != nil {
		s.logger.Warn("voter filter update failed", zap.Uint("poll_id", poll.ID), zap.Error(err))
	}
}

func (s *PollServiceImpl) recordVoteFailure(pollID uint, err error) {
	switch {
	case errors.Is(err, ErrDuplicateVote):
		s.metrics.RecordVote(metrics.OutcomeDuplicate)
	case errors.Is(err, ErrPollClosed):
		s.metrics.RecordVote(metrics.OutcomeClosed)
	case errors.Is(err, ErrInvalidOption):
		s.metrics.RecordVote(metrics.OutcomeInvalidOption)
	case errors.Is(err, ErrPollNotFound):
		s.metrics.RecordVote(metrics.OutcomeNotFound)
	default:
		s.metrics.RecordVote(metrics.OutcomeError)
		s.logger.Error("vote failed", zap.Uint("poll_id", pollID), zap.Error(err))
	}
}

// ListVotes returns the recorded votes of a poll.
func (s *PollServiceImpl) ListVotes(ctx context.Context, pollID uint) ([]models.Vote, error) {
	if _, err := s.store.GetPollByID(ctx, pollID); err != nil {
		return nil, translate(err)
	}
	return s.store.ListVotes(ctx, pollID)
}

// AuditPoll reads the poll and its vote counts in one transaction.
func (s *PollServiceImpl) AuditPoll(ctx context.Context, pollID uint) (*PollAudit, error) {
	var audit *PollAudit
	err := s.store.Transaction(ctx, func(tx repository.PollStore) error {
		poll, err := tx.GetPollByID(ctx, pollID)
		if err != nil {
			return translate(err)
		}
		counts, err := tx.CountVotesByOption(ctx, pollID)
		if err != nil {
			return err
		}

		audit = &PollAudit{PollID: poll.ID, Consistent: true, Options: make([]OptionAudit, 0, len(poll.Options))}
		for _, opt := range poll.Options {
			entry := OptionAudit{
				OptionID: opt.ID,
				Text:     opt.Text,
				Tally:    opt.Votes,
				Counted:  counts[opt.ID],
			}
			entry.Consistent = entry.Tally == entry.Counted
			audit.Consistent = audit.Consistent && entry.Consistent
			audit.Options = append(audit.Options, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audit, nil
}

// Sweep 删除 delete_at 已到期的投票
func (s *PollServiceImpl) Sweep(ctx context.Context) (int64, error) {
	start := time.Now()
	now := s.now()

	ids, err := s.store.FindPollsWithDeleteAtBefore(ctx, now)
	if err != nil {
		return 0, err
	}

	var removed int64
	if len(ids) > 0 {
		removed, err = s.store.DeletePolls(ctx, ids)
		if err != nil {
			return 0, err
		}
	}

	s.metrics.RecordSweep(removed, time.Since(start))
	if removed > 0 {
		s.logger.Info("expired polls swept", zap.Int64("removed", removed), zap.Time("now", now))
	}
	return removed, nil
}
