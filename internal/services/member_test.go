package services

import (
	"testing"
	"time"

	"polity/internal/models"

	"github.com/stretchr/testify/suite"
)

type memberSuite struct {
	engineSuite
}

func TestMemberSuite(t *testing.T) {
	suite.Run(t, new(memberSuite))
}

func (s *memberSuite) TestFirstVotingMemberHoldsAllAuthority() {
	observer := s.createUser(s.scope, "olga")
	m, err := s.members.AddMember(s.ctx, s.scope, AddMemberInput{UserID: observer, Role: models.RoleObserver})
	s.Require().NoError(err)
	s.Zero(m.AuthorityPercent)

	alice := s.createUser(s.scope, "alice")
	m, err = s.members.AddMember(s.ctx, s.scope, AddMemberInput{UserID: alice, IsTenantAdmin: true})
	s.Require().NoError(err)
	s.Equal(models.RoleMember, m.Role)
	s.InDelta(100, m.AuthorityPercent, 0.001)
	s.InDelta(100, m.InitialAuthorityPercent, 0.001)

	bob := s.createUser(s.scope, "bob")
	m, err = s.members.AddMember(s.ctx, s.scope, AddMemberInput{UserID: bob})
	s.Require().NoError(err)
	s.Zero(m.AuthorityPercent)
	s.Equal(int64(totalAuthorityUnits), s.totalUnits(s.scope))

	_, err = s.members.AddMember(s.ctx, s.scope, AddMemberInput{UserID: bob})
	s.ErrorIs(err, ErrConflict)
	_, err = s.members.AddMember(s.ctx, s.scope, AddMemberInput{UserID: 9999})
	s.ErrorIs(err, ErrNotFound)
	_, err = s.members.AddMember(s.ctx, s.scope, AddMemberInput{UserID: bob, Role: "delegate"})
	s.ErrorIs(err, ErrInvalidInput)
}

func (s *memberSuite) TestRemovalRenormalizesRemainingMembers() {
	ids := s.addMembers(s.scope, map[string]float64{"alice": 60, "bob": 30, "carol": 10})

	s.Require().NoError(s.members.RemoveMember(s.ctx, s.scope, ids["alice"]))
	s.InDelta(75, s.authorityOf(s.scope, ids["bob"]), 0.001)
	s.InDelta(25, s.authorityOf(s.scope, ids["carol"]), 0.001)
	s.Equal(int64(totalAuthorityUnits), s.totalUnits(s.scope))

	_, err := s.members.GetMembership(s.scope, ids["alice"])
	s.ErrorIs(err, ErrNotFound)
	s.ErrorIs(s.members.RemoveMember(s.ctx, s.scope, ids["alice"]), ErrNotFound)
}

func (s *memberSuite) TestRemovalSplitsEquallyWhenRemainingHoldNothing() {
	ids := s.addMembers(s.scope, map[string]float64{"alice": 100, "bob": 0, "carol": 0})

	s.Require().NoError(s.members.RemoveMember(s.ctx, s.scope, ids["alice"]))
	s.InDelta(50, s.authorityOf(s.scope, ids["bob"]), 0.001)
	s.InDelta(50, s.authorityOf(s.scope, ids["carol"]), 0.001)
}

func (s *memberSuite) TestRemovingLastMemberLeavesEmptyDistribution() {
	ids := s.addMembers(s.scope, map[string]float64{"alice": 100})
	s.Require().NoError(s.members.RemoveMember(s.ctx, s.scope, ids["alice"]))

	dist, err := s.authority.GetDistribution(s.scope)
	s.Require().NoError(err)
	s.Empty(dist.Members)

	// 重新加入时恢复原记录，作为唯一成员重新获得全部权威
	s.clock.Advance(time.Hour)
	m, err := s.members.AddMember(s.ctx, s.scope, AddMemberInput{UserID: ids["alice"]})
	s.Require().NoError(err)
	s.InDelta(100, m.AuthorityPercent, 0.001)
	s.True(m.JoinedAt.Equal(s.clock.Now()))

	var rows int64
	s.Require().NoError(s.db.Unscoped().Model(&models.Membership{}).Where("user_id = ?", ids["alice"]).Count(&rows).Error)
	s.Equal(int64(1), rows)
}

func (s *memberSuite) TestRejoinedMemberIsNotEligibleForRunningPoll() {
	ids := s.addMembers(s.scope, map[string]float64{"alice": 50, "bob": 50})
	s.Require().NoError(s.members.RemoveMember(s.ctx, s.scope, ids["bob"]))
	s.clock.Advance(time.Minute)
	poll := s.newPoll(models.PollTypeMultipleChoice, "a", "b")

	s.clock.Advance(time.Minute)
	m, err := s.members.AddMember(s.ctx, s.scope, AddMemberInput{UserID: ids["bob"]})
	s.Require().NoError(err)
	s.Zero(m.AuthorityPercent)

	s.ErrorIs(s.castValue(poll.ID, ids["bob"], 0), ErrNotEligible)
}

func (s *memberSuite) TestSetDistributionValidation() {
	ids := s.addMembers(s.scope, map[string]float64{"alice": 50, "bob": 50})

	err := s.authority.SetDistribution(s.ctx, s.scope, map[uint]float64{ids["alice"]: 70, ids["bob"]: 20})
	s.ErrorIs(err, ErrInvalidAllocation)
	err = s.authority.SetDistribution(s.ctx, s.scope, map[uint]float64{ids["alice"]: 100})
	s.ErrorIs(err, ErrInvalidAllocation)
	err = s.authority.SetDistribution(s.ctx, s.scope, map[uint]float64{ids["alice"]: 120, ids["bob"]: -20})
	s.ErrorIs(err, ErrInvalidAllocation)

	s.Require().NoError(s.authority.SetDistribution(s.ctx, s.scope, map[uint]float64{ids["alice"]: 33.33, ids["bob"]: 66.67}))
	dist, err := s.authority.GetDistribution(s.scope)
	s.Require().NoError(err)
	s.InDelta(100, dist.Total, 0.001)
	s.Len(dist.Members, 2)
}

func (s *memberSuite) TestListMembersByRole() {
	s.addMembers(s.scope, map[string]float64{"alice": 100})
	observer := s.createUser(s.scope, "olga")
	_, err := s.members.AddMember(s.ctx, s.scope, AddMemberInput{UserID: observer, Role: models.RoleObserver})
	s.Require().NoError(err)

	members, total, err := s.members.List(s.scope, string(models.RoleObserver), nil)
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Require().Len(members, 1)
	s.Require().NotNil(members[0].User)
	s.Equal("olga", members[0].User.Name)
}
