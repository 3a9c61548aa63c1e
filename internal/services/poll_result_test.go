package services

import (
	"testing"
	"time"

	"polity/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var resultEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func resultPoll(pollType models.PollType, options string) *models.Poll {
	poll := &models.Poll{Type: pollType, Active: true, TenantID: 1}
	poll.ID = 10
	poll.CreatedAt = resultEpoch
	if options != "" {
		poll.OptionsPayload = datatypes.JSON(options)
	}
	return poll
}

func resultMember(userID uint, authority float64) models.Membership {
	return models.Membership{
		TenantID:         1,
		UserID:           userID,
		Role:             models.RoleMember,
		AuthorityPercent: authority,
		JoinedAt:         resultEpoch.Add(-time.Hour),
	}
}

func vote(voterID uint, slot int64, value int) models.Vote {
	return models.Vote{PollID: 10, VoterID: voterID, BallotSlot: slot, Value: &value}
}

func TestComputeResult_MultipleChoiceTieIsUndecided(t *testing.T) {
	result, err := ComputeResult(ResultInput{
		Poll:      resultPoll(models.PollTypeMultipleChoice, `{"options":["a","b","c"]}`),
		Votes:     []models.Vote{vote(1, 0, 0), vote(2, 0, 1)},
		Members:   []models.Membership{resultMember(1, 40), resultMember(2, 40), resultMember(3, 20)},
		Threshold: 50,
		Now:       resultEpoch,
	})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeUndecided, result.Outcome)
	require.Nil(t, result.WinningOption)
	require.Equal(t, []float64{50, 50, 0}, result.OptionWeights)
	require.InDelta(t, 80, result.ParticipationPercent, 0.001)
}

func TestComputeResult_ShareWeightsByAuthority(t *testing.T) {
	result, err := ComputeResult(ResultInput{
		Poll: resultPoll(models.PollTypeShare, `{"options":["parks","roads"]}`),
		Votes: []models.Vote{
			vote(1, 0, 25), vote(1, 1, 75),
			vote(2, 0, 100),
			vote(3, 1, 40), // 未完成的选票不计入
		},
		Members:   []models.Membership{resultMember(1, 80), resultMember(2, 10), resultMember(3, 10)},
		Threshold: 50,
		Now:       resultEpoch,
	})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeCompleted, result.Outcome)
	require.Equal(t, 2, result.Participants)
	require.InDelta(t, 90, result.ParticipationPercent, 0.001)
	// parks = 25*80 + 100*10 = 3000, roads = 75*80 = 6000
	require.Equal(t, []float64{33.33, 66.67}, result.OptionWeights)
	require.NotNil(t, result.WinningOption)
	require.Equal(t, 1, *result.WinningOption)
}

func TestComputeResult_ExcludesLateAndRemovedMembers(t *testing.T) {
	late := resultMember(2, 50)
	late.JoinedAt = resultEpoch.Add(time.Minute)
	removed := resultMember(3, 0)
	removed.DeletedAt = gorm.DeletedAt{Time: resultEpoch, Valid: true}
	observer := resultMember(4, 0)
	observer.Role = models.RoleObserver

	result, err := ComputeResult(ResultInput{
		Poll:      resultPoll(models.PollTypePolicyChange, ""),
		Votes:     []models.Vote{vote(1, 0, models.PolicyVoteNo), vote(2, 0, models.PolicyVoteYes), vote(4, 0, models.PolicyVoteYes)},
		Members:   []models.Membership{resultMember(1, 50), late, removed, observer},
		Threshold: 50,
		Now:       resultEpoch,
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.EligibleVoters)
	require.Equal(t, 1, result.Participants)
	require.Equal(t, models.OutcomeNegative, result.Outcome)
	require.InDelta(t, 100, result.NoShare, 0.001)
}

func TestComputeResult_ZeroThresholdWithoutVotes(t *testing.T) {
	result, err := ComputeResult(ResultInput{
		Poll:      resultPoll(models.PollTypeShare, `{"options":["x","y"]}`),
		Members:   []models.Membership{resultMember(1, 100)},
		Threshold: 0,
		Now:       resultEpoch,
	})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeInsufficientAuthority, result.Outcome)
}

func TestComputeResult_AuthorityIncludesLateMembersInDistribution(t *testing.T) {
	late := resultMember(3, 0)
	late.JoinedAt = resultEpoch.Add(time.Minute)

	result, err := ComputeResult(ResultInput{
		Poll:      resultPoll(models.PollTypeAuthority, ""),
		Votes:     []models.Vote{vote(1, 3, 50), vote(1, 2, 50)},
		Members:   []models.Membership{resultMember(1, 100), resultMember(2, 0), late},
		Threshold: 50,
		Now:       resultEpoch,
	})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeCompleted, result.Outcome)
	require.Equal(t, map[uint]float64{1: 0, 2: 50, 3: 50}, result.Distribution)
}
