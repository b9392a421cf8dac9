package service

import (
	"sort"
	"time"

	"polls-backend/lifecycle"
	"polls-backend/models"
)

// RankPolls sets each poll's status at now and orders open polls first,
// then everything else, newest first within each group. The input slice is
// sorted in place and returned.
func RankPolls(polls []models.Poll, now time.Time) []models.Poll {
	for i := range polls {
		polls[i].Status = lifecycle.DeriveStatus(&polls[i], now)
	}

	sort.SliceStable(polls, func(i, j int) bool {
		pi, pj := priority(polls[i].Status), priority(polls[j].Status)
		if pi != pj {
			return pi < pj
		}
		if !polls[i].CreatedAt.Equal(polls[j].CreatedAt) {
			return polls[i].CreatedAt.After(polls[j].CreatedAt)
		}
		return polls[i].ID > polls[j].ID
	})
	return polls
}

func priority(status models.PollStatus) int {
	if status == models.StatusOpen {
		return 0
	}
	return 1
}
