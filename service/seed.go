package service

import (
	"context"

	"polls-backend/models"
)

// SamplePolls 示例投票数据
var SamplePolls = []CreatePollInput{
	{
		Title:         "Qual seu sistema operacional favorito?",
		Options:       []string{"Windows", "Linux", "macOS"},
		DurationHours: 12,
	},
	{
		Title:         "Qual linguagem você mais usa?",
		Options:       []string{"Python", "JavaScript", "Java", "C#"},
		DurationHours: 24,
	},
	{
		Title:         "Qual seu editor de código preferido?",
		Options:       []string{"VS Code", "PyCharm", "Vim", "Sublime Text"},
		DurationHours: 48,
	},
}

// SeedSamplePolls creates SamplePolls. With onlyIfEmpty set nothing is
// created when any poll already exists.
func SeedSamplePolls(ctx context.Context, svc PollService, onlyIfEmpty bool) ([]*models.Poll, error) {
	if onlyIfEmpty {
		page, err := svc.ListPolls(ctx, ListQuery{Limit: 1})
		if err != nil {
			return nil, err
		}
		if page.Count > 0 {
			return nil, nil
		}
	}

	created := make([]*models.Poll, 0, len(SamplePolls))
	for _, input := range SamplePolls {
		poll, err := svc.CreatePoll(ctx, input)
		if err != nil {
			return created, err
		}
		created = append(created, poll)
	}
	return created, nil
}
