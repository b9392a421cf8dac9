package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"polls-backend/cache"
	"polls-backend/lifecycle"
	"polls-backend/metrics"
	"polls-backend/models"
	"polls-backend/repository"
	"polls-backend/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *PollServiceImpl
	db      *gorm.DB
	clock   *lifecycle.FixedClock
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	clock := lifecycle.NewFixedClock(t0)
	m := metrics.New()
	opts = append([]Option{WithClock(clock), WithMetrics(m)}, opts...)
	return &fixture{
		svc:     NewPollService(repository.NewGormPollRepository(db), opts...),
		db:      db,
		clock:   clock,
		metrics: m,
	}
}

func (f *fixture) createPoll(t *testing.T, title string, hours int, options ...string) *models.Poll {
	t.Helper()
	if len(options) == 0 {
		options = []string{"yes", "no"}
	}
	poll, err := f.svc.CreatePoll(context.Background(), CreatePollInput{Title: title, Options: options, DurationHours: hours})
	require.NoError(t, err)
	return poll
}

func (f *fixture) voteRows(t *testing.T, pollID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Vote{}).Where("poll_id = ?", pollID).Count(&n).Error)
	return n
}

// counterValue reads a counter from the registry; outcome selects the
// series of a labelled counter.
func counterValue(t *testing.T, m *metrics.Metrics, name, outcome string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if outcome == "" {
				return metric.GetCounter().GetValue()
			}
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == outcome {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func totalTally(poll *models.Poll) int64 {
	var total int64
	for _, opt := range poll.Options {
		total += opt.Votes
	}
	return total
}

func TestCreatePoll_Schedule(t *testing.T) {
	f := newFixture(t)

	poll := f.createPoll(t, "  Qual linguagem você mais usa?  ", 24, "Python", "Go")

	assert.NotZero(t, poll.ID)
	assert.Equal(t, "Qual linguagem você mais usa?", poll.Title)
	assert.Equal(t, models.StatusOpen, poll.Status)
	assert.True(t, poll.CreatedAt.Equal(t0))
	assert.True(t, poll.ExpiresAt.Equal(t0.Add(24*time.Hour)))
	require.NotNil(t, poll.DeleteAt)
	assert.True(t, poll.DeleteAt.Equal(t0.Add(96*time.Hour)))
	require.Len(t, poll.Options, 2)
	for _, opt := range poll.Options {
		assert.Zero(t, opt.Votes)
		assert.Equal(t, poll.ID, opt.PollID)
	}
	assert.Equal(t, 1.0, counterValue(t, f.metrics, "polls_created_total", ""))
}

func TestCreatePoll_ZeroDurationIsClosedImmediately(t *testing.T) {
	f := newFixture(t)
	poll := f.createPoll(t, "instant", 0)

	assert.Equal(t, models.StatusClosed, poll.Status)

	_, err := f.svc.CastVote(context.Background(), poll.ID, "p", poll.Options[0].ID)
	assert.ErrorIs(t, err, ErrPollClosed)
}

func TestCreatePoll_Validation(t *testing.T) {
	f := newFixture(t)
	long := strings.Repeat("x", models.MaxTitleLength+1)

	tests := []struct {
		name  string
		input CreatePollInput
	}{
		{"empty title", CreatePollInput{Title: "   ", Options: []string{"a", "b"}, DurationHours: 1}},
		{"title too long", CreatePollInput{Title: long, Options: []string{"a", "b"}, DurationHours: 1}},
		{"one option", CreatePollInput{Title: "t", Options: []string{"a"}, DurationHours: 1}},
		{"blank option", CreatePollInput{Title: "t", Options: []string{"a", " "}, DurationHours: 1}},
		{"option too long", CreatePollInput{Title: "t", Options: []string{"a", long}, DurationHours: 1}},
		{"negative duration", CreatePollInput{Title: "t", Options: []string{"a", "b"}, DurationHours: -1}},
		{"duration too long", CreatePollInput{Title: "t", Options: []string{"a", "b"}, DurationHours: MaxDurationHours + 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreatePoll(context.Background(), tt.input)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	page, err := f.svc.ListPolls(context.Background(), ListQuery{})
	require.NoError(t, err)
	assert.Zero(t, page.Count)
}

func TestCastVote_Accepted(t *testing.T) {
	f := newFixture(t)
	poll := f.createPoll(t, "vote", 24, "a", "b")

	updated, err := f.svc.CastVote(context.Background(), poll.ID, "participant-1", poll.Options[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, updated.Status)
	assert.Equal(t, int64(0), updated.Options[0].Votes)
	assert.Equal(t, int64(1), updated.Options[1].Votes)
	assert.Equal(t, int64(1), f.voteRows(t, poll.ID))
	assert.Equal(t, 1.0, counterValue(t, f.metrics, "polls_votes_total", metrics.OutcomeAccepted))
}

func TestCastVote_InvalidOption(t *testing.T) {
	f := newFixture(t)
	poll := f.createPoll(t, "target", 24)
	other := f.createPoll(t, "other", 24)

	for _, optionID := range []uint{9999, other.Options[0].ID} {
		_, err := f.svc.CastVote(context.Background(), poll.ID, "p", optionID)
		assert.ErrorIs(t, err, ErrInvalidOption)
	}

	got, err := f.svc.GetPoll(context.Background(), poll.ID)
	require.NoError(t, err)
	assert.Zero(t, totalTally(got))
	assert.Zero(t, f.voteRows(t, poll.ID))
	assert.Zero(t, f.voteRows(t, other.ID))
}

func TestCastVote_AfterExpiry(t *testing.T) {
	f := newFixture(t)
	poll := f.createPoll(t, "short", 1)

	f.clock.Advance(time.Hour)
	_, err := f.svc.CastVote(context.Background(), poll.ID, "p", poll.Options[0].ID)
	assert.ErrorIs(t, err, ErrPollClosed)

	got, err := f.svc.GetPoll(context.Background(), poll.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, got.Status)
	assert.Zero(t, totalTally(got))
	assert.Zero(t, f.voteRows(t, poll.ID))
}

func TestCastVote_DuplicateSequential(t *testing.T) {
	f := newFixture(t)
	poll := f.createPoll(t, "twice", 24)
	ctx := context.Background()

	_, err := f.svc.CastVote(ctx, poll.ID, "p", poll.Options[0].ID)
	require.NoError(t, err)

	_, err = f.svc.CastVote(ctx, poll.ID, "p", poll.Options[1].ID)
	assert.ErrorIs(t, err, ErrDuplicateVote)

	// duplicate is reported before an invalid option
	_, err = f.svc.CastVote(ctx, poll.ID, "p", 9999)
	assert.ErrorIs(t, err, ErrDuplicateVote)

	got, err := f.svc.GetPoll(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), totalTally(got))
	assert.Equal(t, int64(1), got.Options[0].Votes)
	assert.Equal(t, 2.0, counterValue(t, f.metrics, "polls_votes_total", metrics.OutcomeDuplicate))
}

func TestCastVote_SameParticipantAcrossPolls(t *testing.T) {
	f := newFixture(t)
	a := f.createPoll(t, "a", 24)
	b := f.createPoll(t, "b", 24)

	_, err := f.svc.CastVote(context.Background(), a.ID, "p", a.Options[0].ID)
	require.NoError(t, err)
	_, err = f.svc.CastVote(context.Background(), b.ID, "p", b.Options[0].ID)
	require.NoError(t, err)
}

func TestCastVote_NotFoundAndInvalidInput(t *testing.T) {
	f := newFixture(t)
	poll := f.createPoll(t, "p", 24)
	ctx := context.Background()

	_, err := f.svc.CastVote(ctx, 4242, "p", 1)
	assert.ErrorIs(t, err, ErrPollNotFound)

	_, err = f.svc.CastVote(ctx, poll.ID, "  ", poll.Options[0].ID)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CastVote(ctx, poll.ID, "p", 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CastVote(ctx, poll.ID, strings.Repeat("p", models.MaxParticipantIDLength+1), poll.Options[0].ID)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCastVote_ConcurrentSameParticipant(t *testing.T) {
	f := newFixture(t)
	poll := f.createPoll(t, "race", 24, "a", "b", "c")

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		dupes     int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.CastVote(context.Background(), poll.ID, "same", poll.Options[i%3].ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, ErrDuplicateVote):
				dupes++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, dupes)

	got, err := f.svc.GetPoll(context.Background(), poll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), totalTally(got))
	assert.Equal(t, int64(1), f.voteRows(t, poll.ID))
}

func TestCastVote_ConcurrentParticipantsKeepTallyConsistent(t *testing.T) {
	f := newFixture(t)
	poll := f.createPoll(t, "crowd", 24, "a", "b")

	const workers = 30
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.CastVote(context.Background(), poll.ID, fmt.Sprintf("p-%d", i), poll.Options[i%2].ID)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	audit, err := f.svc.AuditPoll(context.Background(), poll.ID)
	require.NoError(t, err)
	assert.True(t, audit.Consistent)
	require.Len(t, audit.Options, 2)
	assert.Equal(t, int64(15), audit.Options[0].Tally)
	assert.Equal(t, int64(15), audit.Options[1].Counted)
}

func TestCastVote_WithVoterFilter(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.SetTime(t0)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, WithVoterFilter(cache.NewVoterFilter(client)))
	poll := f.createPoll(t, "bloom", 24)
	ctx := context.Background()

	_, err := f.svc.CastVote(ctx, poll.ID, "p", poll.Options[0].ID)
	require.NoError(t, err)

	key := fmt.Sprintf("bloom:votes:%d", poll.ID)
	require.True(t, mr.Exists(key))
	assert.Equal(t, 96*time.Hour, mr.TTL(key))

	_, err = f.svc.CastVote(ctx, poll.ID, "p", poll.Options[1].ID)
	assert.ErrorIs(t, err, ErrDuplicateVote)

	// a filter without the participant still lets the unique index decide
	mr.FlushAll()
	_, err = f.svc.CastVote(ctx, poll.ID, "p", poll.Options[1].ID)
	assert.ErrorIs(t, err, ErrDuplicateVote)
	_, err = f.svc.CastVote(ctx, poll.ID, "p", 9999)
	assert.ErrorIs(t, err, ErrDuplicateVote)

	// filter outage falls back to the database check
	mr.Close()
	_, err = f.svc.CastVote(ctx, poll.ID, "q", poll.Options[1].ID)
	require.NoError(t, err)
}

func TestCastVote_WithRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, WithLocker(cache.NewRedisLocker(client, 5*time.Second, nil)))
	poll := f.createPoll(t, "locked", 24)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.CastVote(context.Background(), poll.ID, fmt.Sprintf("p-%d", i), poll.Options[0].ID)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := f.svc.GetPoll(context.Background(), poll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Options[0].Votes)
}

func TestListPolls_Ranking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	closedOld := f.createPoll(t, "closed old", 1)
	f.clock.Advance(time.Minute)
	openOld := f.createPoll(t, "open old", 48)
	f.clock.Advance(time.Minute)
	closedNew := f.createPoll(t, "closed new", 1)
	f.clock.Advance(time.Minute)
	openNew := f.createPoll(t, "open new", 48)

	f.clock.Advance(2 * time.Hour)

	page, err := f.svc.ListPolls(ctx, ListQuery{})
	require.NoError(t, err)
	require.Equal(t, 4, page.Count)

	ids := make([]uint, 0, len(page.Polls))
	for _, p := range page.Polls {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []uint{openNew.ID, openOld.ID, closedNew.ID, closedOld.ID}, ids)
	assert.Equal(t, models.StatusOpen, page.Polls[0].Status)
	assert.Equal(t, models.StatusClosed, page.Polls[3].Status)
}

func TestListPolls_FilterAndPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.createPoll(t, fmt.Sprintf("Go question %d", i), 24)
		f.clock.Advance(time.Second)
	}
	f.createPoll(t, "Python question", 0)

	page, err := f.svc.ListPolls(ctx, ListQuery{Search: "go", Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Count)
	require.Len(t, page.Polls, 2)
	assert.Equal(t, "Go question 3", page.Polls[0].Title)
	assert.Equal(t, "Go question 2", page.Polls[1].Title)

	page, err = f.svc.ListPolls(ctx, ListQuery{Status: models.StatusClosed})
	require.NoError(t, err)
	require.Equal(t, 1, page.Count)
	assert.Equal(t, "Python question", page.Polls[0].Title)

	page, err = f.svc.ListPolls(ctx, ListQuery{Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 6, page.Count)
	assert.Empty(t, page.Polls)

	_, err = f.svc.ListPolls(ctx, ListQuery{Status: "Archived"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.ListPolls(ctx, ListQuery{Limit: -1})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doomed := f.createPoll(t, "doomed", 1)
	_, err := f.svc.CastVote(ctx, doomed.ID, "p", doomed.Options[0].ID)
	require.NoError(t, err)
	survivor := f.createPoll(t, "survivor", 48)

	// closed but still inside the grace period
	f.clock.Set(doomed.DeleteAt.Add(-time.Second))
	got, err := f.svc.GetPoll(ctx, doomed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, got.Status)
	removed, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	f.clock.Set(*doomed.DeleteAt)
	got, err = f.svc.GetPoll(ctx, doomed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingDeletion, got.Status)

	removed, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = f.svc.GetPoll(ctx, doomed.ID)
	assert.ErrorIs(t, err, ErrPollNotFound)
	assert.Zero(t, f.voteRows(t, doomed.ID))
	var options int64
	require.NoError(t, f.db.Model(&models.PollOption{}).Where("poll_id = ?", doomed.ID).Count(&options).Error)
	assert.Zero(t, options)

	_, err = f.svc.GetPoll(ctx, survivor.ID)
	assert.NoError(t, err)

	removed, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestUpdatePollTitle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	poll := f.createPoll(t, "before", 24)

	updated, err := f.svc.UpdatePollTitle(ctx, poll.ID, " after ")
	require.NoError(t, err)
	assert.Equal(t, "after", updated.Title)
	assert.True(t, poll.ExpiresAt.Equal(updated.ExpiresAt))
	assert.True(t, poll.DeleteAt.Equal(*updated.DeleteAt))

	_, err = f.svc.UpdatePollTitle(ctx, poll.ID, "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.UpdatePollTitle(ctx, 999, "x")
	assert.ErrorIs(t, err, ErrPollNotFound)
}

func TestDeletePoll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	poll := f.createPoll(t, "bye", 24)
	_, err := f.svc.CastVote(ctx, poll.ID, "p", poll.Options[0].ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeletePoll(ctx, poll.ID))
	assert.Zero(t, f.voteRows(t, poll.ID))
	assert.ErrorIs(t, f.svc.DeletePoll(ctx, poll.ID), ErrPollNotFound)
}

func TestListVotesAndAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	poll := f.createPoll(t, "audit", 24)

	for i := 0; i < 3; i++ {
		_, err := f.svc.CastVote(ctx, poll.ID, fmt.Sprintf("p-%d", i), poll.Options[0].ID)
		require.NoError(t, err)
	}

	votes, err := f.svc.ListVotes(ctx, poll.ID)
	require.NoError(t, err)
	assert.Len(t, votes, 3)

	audit, err := f.svc.AuditPoll(ctx, poll.ID)
	require.NoError(t, err)
	assert.True(t, audit.Consistent)

	// drift the stored tally behind the service's back
	require.NoError(t, f.db.Model(&models.PollOption{}).Where("id = ?", poll.Options[1].ID).UpdateColumn("votes", 2).Error)
	audit, err = f.svc.AuditPoll(ctx, poll.ID)
	require.NoError(t, err)
	assert.False(t, audit.Consistent)
	assert.False(t, audit.Options[1].Consistent)

	_, err = f.svc.ListVotes(ctx, 999)
	assert.ErrorIs(t, err, ErrPollNotFound)
	_, err = f.svc.AuditPoll(ctx, 999)
	assert.ErrorIs(t, err, ErrPollNotFound)
}

func TestSeedSamplePolls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := SeedSamplePolls(ctx, f.svc, true)
	require.NoError(t, err)
	require.Len(t, created, 3)
	assert.True(t, created[0].ExpiresAt.Equal(t0.Add(12*time.Hour)))
	assert.Len(t, created[2].Options, 4)

	created, err = SeedSamplePolls(ctx, f.svc, true)
	require.NoError(t, err)
	assert.Empty(t, created)

	created, err = SeedSamplePolls(ctx, f.svc, false)
	require.NoError(t, err)
	assert.Len(t, created, 3)
}
