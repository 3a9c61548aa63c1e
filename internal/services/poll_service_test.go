package services

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"polity/internal/models"
	"polity/internal/tenancy"

	"github.com/stretchr/testify/suite"
)

type pollSuite struct {
	engineSuite
}

func TestPollSuite(t *testing.T) {
	suite.Run(t, new(pollSuite))
}

func (s *pollSuite) TestAuthorityPollRedistributesByWeightedVotes() {
	ids := s.addMembers(s.scope, map[string]float64{"alice": 50, "bob": 30, "carol": 20})
	s.clock.Advance(time.Minute)

	poll := s.newPoll(models.PollTypeAuthority)
	s.Require().NotNil(poll.ExclusiveSlot)
	s.Require().Equal(s.clock.Now().Add(72*time.Hour), poll.Deadline)

	s.castAllocation(poll.ID, ids["alice"], ids["alice"], 60)
	receipt := s.castAllocation(poll.ID, ids["alice"], ids["bob"], 40)
	s.Require().True(receipt.BallotComplete)
	s.Require().Equal(100, receipt.BallotTotal)

	_, err := s.polls.SubmitBallot(s.ctx, s.scope, ids["bob"], poll.ID, []Allocation{
		{Target: int64(ids["alice"]), Value: 100},
	})
	s.Require().NoError(err)

	// 权威投票不会提前结束
	completion, err := s.polls.EvaluateCompletion(s.ctx, s.scope, poll.ID)
	s.Require().NoError(err)
	s.Require().Nil(completion)

	s.passDeadline()
	completion, err = s.polls.EvaluateCompletion(s.ctx, s.scope, poll.ID)
	s.Require().NoError(err)
	s.Require().NotNil(completion)
	s.Equal(models.OutcomeCompleted, completion.Result.Outcome)
	s.Equal(models.CloseReasonDeadline, completion.Result.CloseReason)
	s.InDelta(80, completion.Result.ParticipationPercent, 0.001)
	s.Equal(3, completion.Result.EligibleVoters)
	s.Equal(2, completion.Result.Participants)

	s.InDelta(75, s.authorityOf(s.scope, ids["alice"]), 0.001)
	s.InDelta(25, s.authorityOf(s.scope, ids["bob"]), 0.001)
	s.InDelta(0, s.authorityOf(s.scope, ids["carol"]), 0.001)
	s.Equal(int64(totalAuthorityUnits), s.totalUnits(s.scope))

	closed := s.reloadPoll(poll.ID)
	s.False(closed.Active)
	s.Nil(closed.ExclusiveSlot)
	s.NotNil(closed.CompletedAt)
	result, err := closed.Result()
	s.Require().NoError(err)
	s.Require().NotNil(result)
	s.InDelta(75, result.Distribution[ids["alice"]], 0.001)
	s.Equal(1, s.notifier.count(NotificationPollCompleted))
}

func (s *pollSuite) TestPolicyChangePositiveOverridesActivePolicy() {
	ids := s.addMembers(s.scope, map[string]float64{"alice": 55, "bob": 45})
	old, err := s.policies.Create(s.scope, CreatePolicyInput{Title: "Old charter", OwnerUserID: ids["bob"]})
	s.Require().NoError(err)
	s.Require().NoError(s.db.Model(old).Update("status", models.PolicyStatusActive).Error)
	draft, err := s.policies.Create(s.scope, CreatePolicyInput{Title: "New charter", OwnerUserID: ids["alice"]})
	s.Require().NoError(err)
	s.clock.Advance(time.Minute)

	poll, err := s.polls.AddPoll(s.ctx, s.scope, CreatePollInput{
		Type:        models.PollTypePolicyChange,
		Name:        "Adopt the new charter",
		PolicyID:    &draft.ID,
		OwnerUserID: ids["alice"],
	})
	s.Require().NoError(err)
	s.Equal(models.PolicyStatusVoting, s.reloadPolicy(draft.ID).Status)

	s.Require().NoError(s.castValue(poll.ID, ids["alice"], models.PolicyVoteYes))
	s.Require().NoError(s.castValue(poll.ID, ids["bob"], models.PolicyVoteNo))

	completion, err := s.polls.EvaluateCompletion(s.ctx, s.scope, poll.ID)
	s.Require().NoError(err)
	s.Require().NotNil(completion)
	s.Equal(models.CloseReasonEarly, completion.Result.CloseReason)
	s.Equal(models.OutcomePositive, completion.Result.Outcome)
	s.InDelta(55, completion.Result.YesShare, 0.001)
	s.InDelta(45, completion.Result.NoShare, 0.001)
	s.Equal(models.PolicyStatusActive, completion.PolicyStatus)

	s.Equal(models.PolicyStatusActive, s.reloadPolicy(draft.ID).Status)
	s.Equal(models.PolicyStatusOverridden, s.reloadPolicy(old.ID).Status)
	active, err := s.policies.GetActive(s.scope)
	s.Require().NoError(err)
	s.Equal(draft.ID, active.ID)

	// 政策表决不影响权威
	s.InDelta(55, s.authorityOf(s.scope, ids["alice"]), 0.001)
}

func (s *pollSuite) TestUndecidedPolicyIsRejected() {
	ids := s.addMembers(s.scope, map[string]float64{"alice": 50, "bob": 50})
	draft, err := s.policies.Create(s.scope, CreatePolicyInput{Title: "Split decision"})
	s.Require().NoError(err)
	s.clock.Advance(time.Minute)

	poll, err := s.polls.AddPoll(s.ctx, s.scope, CreatePollInput{
		Type:     models.PollTypePolicyChange,
		Name:     "Split decision",
		PolicyID: &draft.ID,
	})
	s.Require().NoError(err)
	s.Require().NoError(s.castValue(poll.ID, ids["alice"], models.PolicyVoteYes))
	s.Require().NoError(s.castValue(poll.ID, ids["bob"], models.PolicyVoteNo))

	completion, err := s.polls.EvaluateCompletion(s.ctx, s.scope, poll.ID)
	s.Require().NoError(err)
	s.Require().NotNil(completion)
	s.Equal(models.OutcomeUndecided, completion.Result.Outcome)
	s.Equal(models.PolicyStatusRejected, s.reloadPolicy(draft.ID).Status)
}

func (s *pollSuite) TestInsufficientParticipationLeavesAuthorityUntouched() {
	ids := s.addMembers(s.scope, map[string]float64{"alice": 30, "bob": 70})
	s.clock.Advance(time.Minute)

	poll := s.newPoll(models.PollTypeAuthority)
	_, err := s.polls.SubmitBallot(s.ctx, s.scope, ids["alice"], poll.ID, []Allocation{
		{Target: int64(ids["alice"]), Value: 100},
	})
	s.Require().NoError(err)

	s.passDeadline()
	completion, err := s.polls.EvaluateCompletion(s.ctx, s.scope, poll.ID)
	s.Require().NoError(err)
	s.Require().NotNil(completion)
	s.Equal(models.OutcomeInsufficientParticipation, completion.Result.Outcome)
	s.InDelta(30, completion.Result.ParticipationPercent, 0.001)
	s.InDelta(50, completion.Result.Threshold, 0.001)
	s.Nil(completion.Result.Distribution)

	s.InDelta(30, s.authorityOf(s.scope, ids["alice"]), 0.001)
	s.InDelta(70, s.authorityOf(s.scope, ids["bob"]), 0.001)
	s.False(s.reloadPoll(poll.ID).Active)
}

func (s *pollSuite) TestInsufficientParticipationRejectsPolledPolicyOnly() {
	ids := s.addMembers(s.scope, map[string]float64{"alice": 30, "bob": 70})
	current, err := s.policies.Create(s.scope, CreatePolicyInput{Title: "Current"})
	s.Require().NoError(err)
	s.Require().NoError(s.db.Model(current).Update("status", models.PolicyStatusActive).Error)
	draft, err := s.policies.Create(s.scope, CreatePolicyInput{Title: "Proposal"})
	s.Require().NoError(err)
	s.clock.Advance(time.Minute)

	poll, err := s.polls.AddPoll(s.ctx, s.scope, CreatePollInput{
		Type:     models.PollTypePolicyChange,
		Name:     "Proposal",
		PolicyID: &draft.ID,
	})
	s.Require().NoError(err)
	s.Require().NoError(s.castValue(poll.ID, ids["alice"], models.PolicyVoteYes))

	s.passDeadline()
	completion, err := s.polls.EvaluateCompletion(s.ctx, s.scope, poll.ID)
	s.Require().NoError(err)
	s.Require().NotNil(completion)
	s.Equal(models.OutcomeInsufficientParticipation, completion.Result.Outcome)
	s.Equal(models.PolicyStatusRejected, s.reloadPolicy(draft.ID).Status)
	s.Equal(models.PolicyStatusActive, s.reloadPolicy(current.ID).Status)
	s.InDelta(30, s.authorityOf(s.scope, ids["alice"]), 0.001)
}

func (s *pollSuite) TestExclusivePollTypesRejectConcurrentPolls() {
	s.addMembers(s.scope, map[string]float64{"alice": 100})
	s.clock.Advance(time.Minute)

	first := s.newPoll(models.PollTypeAuthority)
	_, err := s.polls.AddPoll(s.ctx, s.scope, CreatePollInput{Type: models.PollTypeAuthority, Name: "again"})
	s.Require().ErrorIs(err, ErrConflict)

	var count int64
	s.Require().NoError(s.db.Model(&models.Poll{}).Where("type = ?", models.PollTypeAuthority).Count(&count).Error)
	s.Equal(int64(1), count)

	// 单选投票可以并行
	s.newPoll(models.PollTypeMultipleChoice, "red", "blue")
	s.newPoll(models.PollTypeMultipleChoice, "left", "right")

	// 关闭后可以再次发起
	s.passDeadline()
	completion, err := s.polls.EvaluateCompletion(s.ctx, s.scope, first.ID)
	s.Require().NoError(err)
	s.Require().NotNil(completion)
	s.newPoll(models.PollTypeAuthority)
}

func (s *pollSuite) TestConcurrentExclusivePollCreation() {
	s.addMembers(s.scope, map[string]float64{"alice": 100})

	var wg sync.WaitGroup
	var created, conflicts atomic.Int32
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.polls.AddPoll(s.ctx, s.scope, CreatePollInput{Type: models.PollTypeAuthority, Name: "race"})
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), created.Load())
	s.Equal(int32(5), conflicts.Load())
}

func (s *pollSuite) TestAddPollValidation() {
	ids := s.addMembers(s.scope, map[string]float64{"alice": 100})

	_, err := s.polls.AddPoll(s.ctx, s.scope, CreatePollInput{Type: models.PollTypePolicyChange, Name: "no policy"})
	s.ErrorIs(err, ErrInvalidInput)

	_, err = s.polls.AddPoll(s.ctx, s.scope, CreatePollInput{Type: models.PollTypeMultipleChoice, Name: "one", Options: []string{"only"}})
	s.ErrorIs(err, ErrInvalidInput)

	_, err = s.polls.AddPoll(s.ctx, s.scope, CreatePollInput{Type: "referendum", Name: "unknown"})
	s.ErrorIs(err, ErrInvalidInput)

	_, err = s.polls.AddPoll(s.ctx, s.scope, CreatePollInput{
		Type:             models.PollTypeAuthority,
		Name:             "frequency override",
		SettingsOverride: map[models.SettingKey]float64{models.SettingVotingFrequency: 7},
	})
	s.ErrorIs(err, ErrInvalidInput)

	adopted, err := s.policies.Create(s.scope, CreatePolicyInput{Title: "Adopted", OwnerUserID: ids["alice"]})
	s.Require().NoError(err)
	s.Require().NoError(s.db.Model(adopted).Update("status", models.PolicyStatusActive).Error)
	_, err = s.polls.AddPoll(s.ctx, s.scope, CreatePollInput{Type: models.PollTypePolicyChange, Name: "not a draft", PolicyID: &adopted.ID})
	s.ErrorIs(err, ErrInvalidInput)

	_, err = s.polls.AddPoll(s.ctx, tenancy.Scope{}, CreatePollInput{Type: models.PollTypeAuthority, Name: "no tenant"})
	s.ErrorIs(err, ErrTenantResolution)

	var count int64
	s.Require().NoError(s.db.Model(&models.Poll{}).Count(&count).Error)
	s.Zero(count)
}

func (s *pollSuite) TestPollSettingsOverride() {
	ids := s.addMembers(s.scope, map[string]float64{"alice": 20, "bob": 80})
	s.clock.Advance(time.Minute)

	poll, err := s.polls.AddPoll(s.ctx, s.scope, CreatePollInput{
		Type:    models.PollTypeMultipleChoice,
		Name:    "Quick question",
		Options: []string{"yes", "no"},
		SettingsOverride: map[models.SettingKey]float64{
			models.SettingVotingDuration:       1,
			models.SettingMinimumParticipation: 10,
		},
	})
	s.Require().NoError(err)
	s.Equal(s.clock.Now().Add(time.Hour), poll.Deadline)

	value, err := s.settings.GetEffectiveSetting(s.scope, models.SettingMinimumParticipation, &poll.ID)
	s.Require().NoError(err)
	s.InDelta(10, value, 0.001)

	s.Require().NoError(s.castValue(poll.ID, ids["alice"], 1))
	s.clock.Advance(2 * time.Hour)
	completion, err := s.polls.EvaluateCompletion(s.ctx, s.scope, poll.ID)
	s.Require().NoError(err)
	s.Require().NotNil(completion)
	s.Equal(models.OutcomePositive, completion.Result.Outcome)
	s.Require().NotNil(completion.Result.WinningOption)
	s.Equal(1, *completion.Result.WinningOption)
}

func (s *pollSuite) TestCastVoteEligibility() {
	ids := s.addMembers(s.scope, map[string]float64{"alice": 60, "bob": 40})
	observer := s.createUser(s.scope, "olga")
	_, err := s.members.AddMember(s.ctx, s.scope, AddMemberInput{UserID: observer, Role: models.RoleObserver})
	s.Require().NoError(err)
	outsider := s.createUser(s.scope, "oscar")
	s.clock.Advance(time.Minute)

	poll := s.newPoll(models.PollTypeMultipleChoice, "tea", "coffee")

	s.clock.Advance(time.Minute)
	late := s.createUser(s.scope, "dave")
	_, err = s.members.AddMember(s.ctx, s.scope, AddMemberInput{UserID: late, Role: models.RoleMember})
	s.Require().NoError(err)

	s.ErrorIs(s.castValue(poll.ID, late, 0), ErrNotEligible)
	s.ErrorIs(s.castValue(poll.ID, observer, 0), ErrNotEligible)
	s.ErrorIs(s.castValue(poll.ID, outsider, 0), ErrNotEligible)

	s.Require().NoError(s.castValue(poll.ID, ids["alice"], 0))
	s.ErrorIs(s.castValue(poll.ID, ids["alice"], 1), ErrAlreadyVoted)
	s.ErrorIs(s.castValue(poll.ID, ids["bob"], 5), ErrInvalidInput)

	s.passDeadline()
	s.ErrorIs(s.castValue(poll.ID, ids["bob"], 1), ErrPollClosed)

	var count int64
	s.Require().NoError(s.db.Model(&models.Vote{}).Where("poll_id = ?", poll.ID).Count(&count).Error)
	s.Equal(int64(1), count)
}

func (s *pollSuite) TestAllocationLimits() {
	ids := s.addMembers(s.scope, map[string]float64{"alice": 60, "bob": 40})
	outsider := s.createUser(s.scope, "oscar")
	s.clock.Advance(time.Minute)
	poll := s.newPoll(models.PollTypeAuthority)
	alice, bob := ids["alice"], ids["bob"]

	receipt := s.castAllocation(poll.ID, alice, alice, 70)
	s.False(receipt.BallotComplete)
	s.Equal(70, receipt.BallotTotal)

	_, err := s.polls.CastVote(s.ctx, s.scope, CastVoteInput{PollID: poll.ID, VoterID: alice, VotedUserID: &bob, Value: 40})
	s.ErrorIs(err, ErrInvalidAllocation)
	_, err = s.polls.CastVote(s.ctx, s.scope, CastVoteInput{PollID: poll.ID, VoterID: alice, VotedUserID: &alice, Value: 10})
	s.ErrorIs(err, ErrAlreadyVoted)
	_, err = s.polls.CastVote(s.ctx, s.scope, CastVoteInput{PollID: poll.ID, VoterID: alice, VotedUserID: &bob, Value: 0})
	s.ErrorIs(err, ErrInvalidAllocation)
	_, err = s.polls.CastVote(s.ctx, s.scope, CastVoteInput{PollID: poll.ID, VoterID: alice, VotedUserID: &outsider, Value: 10})
	s.ErrorIs(err, ErrInvalidInput)

	_, err = s.polls.SubmitBallot(s.ctx, s.scope, ids["bob"], poll.ID, []Allocation{
		{Target: int64(ids["alice"]), Value: 50},
		{Target: int64(ids["bob"]), Value: 40},
	})
	s.ErrorIs(err, ErrInvalidAllocation)
	_, err = s.polls.SubmitBallot(s.ctx, s.scope, ids["bob"], poll.ID, []Allocation{
		{Target: int64(ids["alice"]), Value: 50},
		{Target: int64(ids["alice"]), Value: 50},
	})
	s.ErrorIs(err, ErrInvalidInput)
}

func (s *pollSuite) TestSubmitBallotReplacesAndRetractRemoves() {
	ids := s.addMembers(s.scope, map[string]float64{"alice": 60, "bob": 40})
	s.clock.Advance(time.Minute)
	poll := s.newPoll(models.PollTypeAuthority)

	s.castAllocation(poll.ID, ids["alice"], ids["alice"], 70)
	_, err := s.polls.SubmitBallot(s.ctx, s.scope, ids["alice"], poll.ID, []Allocation{
		{Target: int64(ids["bob"]), Value: 100},
	})
	s.Require().NoError(err)

	ballot, err := s.polls.GetBallot(s.scope, poll.ID, ids["alice"])
	s.Require().NoError(err)
	s.Require().Len(ballot, 1)
	s.Require().NotNil(ballot[0].VotedUserID)
	s.Equal(ids["bob"], *ballot[0].VotedUserID)
	s.Equal(100, *ballot[0].Value)

	deleted, err := s.polls.RetractBallot(s.ctx, s.scope, ids["alice"], poll.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)
	ballot, err = s.polls.GetBallot(s.scope, poll.ID, ids["alice"])
	s.Require().NoError(err)
	s.Empty(ballot)
}

func (s *pollSuite) TestShareEarlyCompletionWaitsForCompleteBallots() {
	ids := s.addMembers(s.scope, map[string]float64{"alice": 60, "bob": 40})
	s.clock.Advance(time.Minute)
	poll := s.newPoll(models.PollTypeShare, "parks", "roads")

	first, second := 0, 1
	_, err := s.polls.CastVote(s.ctx, s.scope, CastVoteInput{PollID: poll.ID, VoterID: ids["alice"], Option: &first, Value: 50})
	s.Require().NoError(err)
	_, err = s.polls.SubmitBallot(s.ctx, s.scope, ids["bob"], poll.ID, []Allocation{{Target: 0, Value: 100}})
	s.Require().NoError(err)

	completion, err := s.polls.EvaluateCompletion(s.ctx, s.scope, poll.ID)
	s.Require().NoError(err)
	s.Nil(completion, "alice has only allocated half of her ballot")

	_, err = s.polls.CastVote(s.ctx, s.scope, CastVoteInput{PollID: poll.ID, VoterID: ids["alice"], Option: &second, Value: 50})
	s.Require().NoError(err)

	completion, err = s.polls.EvaluateCompletion(s.ctx, s.scope, poll.ID)
	s.Require().NoError(err)
	s.Require().NotNil(completion)
	s.Equal(models.OutcomeCompleted, completion.Result.Outcome)
	s.Equal([]float64{70, 30}, completion.Result.OptionWeights)
	s.Require().NotNil(completion.Result.WinningOption)
	s.Equal(0, *completion.Result.WinningOption)
}

func (s *pollSuite) TestConcurrentVotesPersistOnce() {
	ids := s.addMembers(s.scope, map[string]float64{"alice": 100})
	s.clock.Advance(time.Minute)
	poll := s.newPoll(models.PollTypeMultipleChoice, "north", "south")

	var wg sync.WaitGroup
	var ok, duplicate atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.castValue(poll.ID, ids["alice"], 0)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrAlreadyVoted):
				duplicate.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), ok.Load())
	s.Equal(int32(7), duplicate.Load())
	var count int64
	s.Require().NoError(s.db.Model(&models.Vote{}).Where("poll_id = ?", poll.ID).Count(&count).Error)
	s.Equal(int64(1), count)
}

func (s *pollSuite) TestConcurrentAllocationsNeverExceedHundred() {
	ids := s.addMembers(s.scope, map[string]float64{"a1": 20, "a2": 20, "a3": 20, "a4": 20, "a5": 20})
	s.clock.Advance(time.Minute)
	poll := s.newPoll(models.PollTypeAuthority)

	var wg sync.WaitGroup
	var ok, rejected atomic.Int32
	for _, target := range ids {
		wg.Add(1)
		go func(target uint) {
			defer wg.Done()
			_, err := s.polls.CastVote(s.ctx, s.scope, CastVoteInput{PollID: poll.ID, VoterID: ids["a1"], VotedUserID: &target, Value: 30})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrInvalidAllocation):
				rejected.Add(1)
			}
		}(target)
	}
	wg.Wait()

	s.Equal(int32(3), ok.Load())
	s.Equal(int32(2), rejected.Load())
	ballot, err := s.polls.GetBallot(s.scope, poll.ID, ids["a1"])
	s.Require().NoError(err)
	total := 0
	for _, v := range ballot {
		total += *v.Value
	}
	s.Equal(90, total)
}

func (s *pollSuite) TestEvaluateCompletionRunsOnce() {
	ids := s.addMembers(s.scope, map[string]float64{"alice": 100})
	s.clock.Advance(time.Minute)
	poll := s.newPoll(models.PollTypeMultipleChoice, "yes", "no")
	s.Require().NoError(s.castValue(poll.ID, ids["alice"], 0))

	var wg sync.WaitGroup
	var completions atomic.Int32
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			completion, err := s.polls.EvaluateCompletion(s.ctx, s.scope, poll.ID)
			if err == nil && completion != nil {
				completions.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), completions.Load())

	completion, err := s.polls.EvaluateCompletion(s.ctx, s.scope, poll.ID)
	s.Require().NoError(err)
	s.Nil(completion)
	s.Equal(1, s.notifier.count(NotificationPollCompleted))
}

func (s *pollSuite) TestEarlyCompletionNeedsEligibleVoters() {
	s.clock.Advance(time.Minute)
	poll := s.newPoll(models.PollTypeMultipleChoice, "a", "b")

	completion, err := s.polls.EvaluateCompletion(s.ctx, s.scope, poll.ID)
	s.Require().NoError(err)
	s.Nil(completion)

	s.passDeadline()
	completion, err = s.polls.EvaluateCompletion(s.ctx, s.scope, poll.ID)
	s.Require().NoError(err)
	s.Require().NotNil(completion)
	s.Equal(models.OutcomeInsufficientParticipation, completion.Result.Outcome)
}

func (s *pollSuite) TestEarlyCloseRecheckedAfterBallotRetracted() {
	ids := s.addMembers(s.scope, map[string]float64{"alice": 60, "bob": 40})
	s.clock.Advance(time.Minute)
	poll := s.newPoll(models.PollTypeMultipleChoice, "a", "b")
	s.Require().NoError(s.castValue(poll.ID, ids["alice"], 1))
	s.Require().NoError(s.castValue(poll.ID, ids["bob"], 0))

	reason, err := s.polls.dueReason(s.db, poll)
	s.Require().NoError(err)
	s.Equal(models.CloseReasonEarly, reason)

	// bob 在判断之后、关闭之前撤回了选票
	deleted, err := s.polls.RetractBallot(s.ctx, s.scope, ids["bob"], poll.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)

	completion, err := s.polls.closePoll(s.ctx, poll, reason)
	s.Require().NoError(err)
	s.Nil(completion)

	stored := s.reloadPoll(poll.ID)
	s.True(stored.Active)
	s.Nil(stored.CompletedAt)
	s.Empty(stored.ResultSummary)
	s.Equal(0, s.notifier.count(NotificationPollCompleted))

	// 重新投票后可以正常提前结束
	s.Require().NoError(s.castValue(poll.ID, ids["bob"], 1))
	completion, err = s.polls.EvaluateCompletion(s.ctx, s.scope, poll.ID)
	s.Require().NoError(err)
	s.Require().NotNil(completion)
	s.Equal(models.CloseReasonEarly, completion.Result.CloseReason)
	s.Equal(2, completion.Result.Participants)
}

func (s *pollSuite) TestVotesHiddenUntilClosed() {
	ids := s.addMembers(s.scope, map[string]float64{"alice": 100})
	s.clock.Advance(time.Minute)
	poll := s.newPoll(models.PollTypeMultipleChoice, "a", "b")
	s.Require().NoError(s.castValue(poll.ID, ids["alice"], 1))

	_, err := s.polls.GetVotes(s.scope, poll.ID)
	s.ErrorIs(err, ErrInvalidInput)
	view, err := s.polls.GetPollResult(s.scope, poll.ID)
	s.Require().NoError(err)
	s.Nil(view.Result)

	_, err = s.polls.EvaluateCompletion(s.ctx, s.scope, poll.ID)
	s.Require().NoError(err)

	votes, err := s.polls.GetVotes(s.scope, poll.ID)
	s.Require().NoError(err)
	s.Len(votes, 1)
	view, err = s.polls.GetPollResult(s.scope, poll.ID)
	s.Require().NoError(err)
	s.Require().NotNil(view.Result)
	s.Equal(models.OutcomePositive, view.Result.Outcome)
}

func (s *pollSuite) TestTenantIsolation() {
	other := s.createTenant("Globex", "globex.example.com")
	otherScope := tenancy.For(other.ID)
	otherIDs := s.addMembers(otherScope, map[string]float64{"zed": 100})
	s.addMembers(s.scope, map[string]float64{"alice": 100})
	s.clock.Advance(time.Minute)

	foreign, err := s.polls.AddPoll(s.ctx, otherScope, CreatePollInput{Type: models.PollTypeAuthority, Name: "Globex authority"})
	s.Require().NoError(err)
	// 不同租户可以各自有一个进行中的权威投票
	s.newPoll(models.PollTypeAuthority)

	_, err = s.polls.GetPoll(s.scope, foreign.ID)
	s.ErrorIs(err, ErrNotFound)
	zed := otherIDs["zed"]
	_, err = s.polls.CastVote(s.ctx, s.scope, CastVoteInput{PollID: foreign.ID, VoterID: zed, VotedUserID: &zed, Value: 100})
	s.ErrorIs(err, ErrNotFound)
	_, err = s.polls.EvaluateCompletion(s.ctx, s.scope, foreign.ID)
	s.ErrorIs(err, ErrNotFound)

	polls, err := s.polls.GetActivePolls(s.scope)
	s.Require().NoError(err)
	s.Require().Len(polls, 1)
	s.Equal(s.tenant.ID, polls[0].TenantID)

	_, err = s.members.GetMembership(s.scope, otherIDs["zed"])
	s.ErrorIs(err, ErrNotFound)
}

func (s *pollSuite) TestNotificationFailureDoesNotFailCreation() {
	s.notifier.err = errors.New("redis unavailable")
	poll := s.newPoll(models.PollTypeMultipleChoice, "a", "b")
	s.NotZero(poll.ID)
	s.Equal(1, s.notifier.count(NotificationPollStarted))
}
