package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"polity/internal/models"
	"polity/internal/tenancy"

	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

// engineSuite 每个用例一个全新的数据库、时钟和一个默认租户
type engineSuite struct {
	suite.Suite
	ctx       context.Context
	db        *gorm.DB
	clock     *testClock
	notifier  *recordingNotifier
	tenants   *TenantService
	users     *UserService
	members   *MemberService
	authority *AuthorityService
	policies  *PolicyService
	settings  *SettingsService
	polls     *PollService
	tenant    *models.Tenant
	scope     tenancy.Scope
}

func (s *engineSuite) SetupTest() {
	s.ctx = context.Background()
	s.db = openTestDB(s.T())
	seedDefaults(s.T(), s.db)

	s.clock = newTestClock()
	s.notifier = &recordingNotifier{}
	s.tenants = NewTenantService(s.db, "")
	s.users = NewUserService(s.db)
	s.members = NewMemberService(s.db)
	s.members.SetClock(s.clock.Now)
	s.authority = NewAuthorityService(s.db)
	s.policies = NewPolicyService(s.db)
	s.settings = NewSettingsService(s.db)
	s.polls = NewPollService(s.db, s.notifier)
	s.polls.SetClock(s.clock.Now)

	s.tenant = s.createTenant("Acme", "acme.example.com")
	s.scope = tenancy.For(s.tenant.ID)
}

func (s *engineSuite) createTenant(name, hostname string) *models.Tenant {
	tenant, err := s.tenants.Create(CreateTenantInput{Name: name, Hostname: hostname})
	s.Require().NoError(err)
	return tenant
}

func (s *engineSuite) createUser(scope tenancy.Scope, name string) uint {
	username := fmt.Sprintf("%s-%d", name, scope.TenantID())
	user, err := s.users.Create(CreateUserInput{
		Username: username,
		Email:    username + "@example.com",
		Name:     name,
	})
	s.Require().NoError(err)
	return user.ID
}

// addMembers 添加有投票权的成员并设定权威分布，返回 名字 -> 用户ID
func (s *engineSuite) addMembers(scope tenancy.Scope, authority map[string]float64) map[string]uint {
	names := make([]string, 0, len(authority))
	for name := range authority {
		names = append(names, name)
	}
	slices.Sort(names)

	ids := make(map[string]uint, len(names))
	percents := make(map[uint]float64, len(names))
	for _, name := range names {
		userID := s.createUser(scope, name)
		_, err := s.members.AddMember(s.ctx, scope, AddMemberInput{UserID: userID, Role: models.RoleMember})
		s.Require().NoError(err)
		ids[name] = userID
		percents[userID] = authority[name]
	}
	s.Require().NoError(s.authority.SetDistribution(s.ctx, scope, percents))
	return ids
}

func (s *engineSuite) authorityOf(scope tenancy.Scope, userID uint) float64 {
	m, err := s.members.GetMembership(scope, userID)
	s.Require().NoError(err)
	return m.AuthorityPercent
}

// totalAuthorityUnits 租户有投票权成员的权威之和（单位）
func (s *engineSuite) totalUnits(scope tenancy.Scope) int64 {
	dist, err := s.authority.GetDistribution(scope)
	s.Require().NoError(err)
	var total int64
	for _, m := range dist.Members {
		total += toUnits(m.AuthorityPercent)
	}
	return total
}

func (s *engineSuite) newPoll(pollType models.PollType, options ...string) *models.Poll {
	poll, err := s.polls.AddPoll(s.ctx, s.scope, CreatePollInput{
		Type:    pollType,
		Name:    fmt.Sprintf("%s poll", pollType),
		Options: options,
	})
	s.Require().NoError(err)
	return poll
}

func (s *engineSuite) castAllocation(pollID, voterID, targetID uint, value int) *VoteReceipt {
	receipt, err := s.polls.CastVote(s.ctx, s.scope, CastVoteInput{
		PollID:      pollID,
		VoterID:     voterID,
		VotedUserID: &targetID,
		Value:       value,
	})
	s.Require().NoError(err)
	return receipt
}

func (s *engineSuite) castValue(pollID, voterID uint, value int) error {
	_, err := s.polls.CastVote(s.ctx, s.scope, CastVoteInput{PollID: pollID, VoterID: voterID, Value: value})
	return err
}

func (s *engineSuite) passDeadline() {
	s.clock.Advance(73 * time.Hour)
}

func (s *engineSuite) reloadPoll(pollID uint) *models.Poll {
	poll, err := s.polls.GetPoll(s.scope, pollID)
	s.Require().NoError(err)
	return poll
}

func (s *engineSuite) reloadPolicy(policyID uint) *models.Policy {
	policy, err := s.policies.GetByID(s.scope, policyID)
	s.Require().NoError(err)
	return policy
}
