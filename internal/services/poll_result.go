package services

import (
	"fmt"
	"slices"
	"time"

	"polity/internal/models"
)

// ResultInput 计算结果所需的数据，均在结束投票的事务内读取
type ResultInput struct {
	Poll      *models.Poll
	Votes     []models.Vote
	Members   []models.Membership // 租户全部未删除的成员
	Threshold float64             // 最低参与权威（百分比）
	Now       time.Time
}

// ballotSet 按投票人整理的选票
type ballotSet struct {
	poll        *models.Poll
	eligible    map[uint]int64         // 有资格的投票人 -> 当前权威（单位）
	values      map[uint]int           // 单值选票：投票人 -> 取值
	allocations map[uint]map[int64]int // 分配选票：投票人 -> 目标 -> 份额
}

// isEligibleVoter 有投票角色、未被移除、且在投票创建之前加入
func isEligibleVoter(m *models.Membership, poll *models.Poll) bool {
	return m.CanVote() && !m.DeletedAt.Valid && m.JoinedAt.Before(poll.CreatedAt)
}

func collectBallots(poll *models.Poll, votes []models.Vote, members []models.Membership) *ballotSet {
	b := &ballotSet{
		poll:        poll,
		eligible:    make(map[uint]int64),
		values:      make(map[uint]int),
		allocations: make(map[uint]map[int64]int),
	}
	for i := range members {
		if isEligibleVoter(&members[i], poll) {
			b.eligible[members[i].UserID] = toUnits(members[i].AuthorityPercent)
		}
	}
	for _, v := range votes {
		if v.PollID != poll.ID || v.Value == nil {
			continue
		}
		if _, ok := b.eligible[v.VoterID]; !ok {
			continue
		}
		if poll.Type.IsAllocation() {
			if b.allocations[v.VoterID] == nil {
				b.allocations[v.VoterID] = make(map[int64]int)
			}
			b.allocations[v.VoterID][v.BallotSlot] = *v.Value
			continue
		}
		b.values[v.VoterID] = *v.Value
	}
	return b
}

// complete 选票是否完整：单值选票已投出，分配选票份额之和为100
func (b *ballotSet) complete(voterID uint) bool {
	if !b.poll.Type.IsAllocation() {
		_, ok := b.values[voterID]
		return ok
	}
	total := 0
	for _, v := range b.allocations[voterID] {
		total += v
	}
	return total == fullAllocation
}

// participants 选票完整的投票人，按ID排序
func (b *ballotSet) participants() []uint {
	ids := make([]uint, 0, len(b.eligible))
	for id := range b.eligible {
		if b.complete(id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// allComplete 至少有一名有资格的投票人，且全部完成投票
func (b *ballotSet) allComplete() bool {
	if len(b.eligible) == 0 {
		return false
	}
	for id := range b.eligible {
		if !b.complete(id) {
			return false
		}
	}
	return true
}

// ComputeResult 按投票人当前权威加权计算结果。纯函数，不访问数据库
func ComputeResult(in ResultInput) (*models.PollResult, error) {
	poll := in.Poll
	ballots := collectBallots(poll, in.Votes, in.Members)
	participants := ballots.participants()

	var weight int64
	for _, id := range participants {
		weight += ballots.eligible[id]
	}

	result := &models.PollResult{
		ParticipationPercent: fromUnits(weight),
		Threshold:            in.Threshold,
		EligibleVoters:       len(ballots.eligible),
		Participants:         len(participants),
		ComputedAt:           in.Now,
	}
	if weight < toUnits(in.Threshold) {
		result.Outcome = models.OutcomeInsufficientParticipation
		return result, nil
	}

	switch poll.Type {
	case models.PollTypePolicyChange:
		tallyPolicyChange(result, ballots, participants, weight)
	case models.PollTypeMultipleChoice:
		options, err := poll.Options()
		if err != nil {
			return nil, fmt.Errorf("解析投票选项失败: %w", err)
		}
		tallyMultipleChoice(result, ballots, participants, len(options))
	case models.PollTypeShare:
		options, err := poll.Options()
		if err != nil {
			return nil, fmt.Errorf("解析投票选项失败: %w", err)
		}
		tallyShare(result, ballots, participants, len(options))
	case models.PollTypeAuthority:
		tallyAuthority(result, ballots, participants, in.Members)
	default:
		return nil, fmt.Errorf("%w: 未知投票类型 %s", ErrInvalidInput, poll.Type)
	}
	return result, nil
}

func tallyPolicyChange(result *models.PollResult, b *ballotSet, participants []uint, weight int64) {
	var yes, no int64
	for _, id := range participants {
		switch b.values[id] {
		case models.PolicyVoteYes:
			yes += b.eligible[id]
		case models.PolicyVoteNo:
			no += b.eligible[id]
		}
	}
	if weight > 0 {
		result.YesShare = roundPercent(float64(yes) * 100 / float64(weight))
		result.NoShare = roundPercent(float64(no) * 100 / float64(weight))
	}
	switch {
	case yes > no:
		result.Outcome = models.OutcomePositive
	case no > yes:
		result.Outcome = models.OutcomeNegative
	default:
		result.Outcome = models.OutcomeUndecided
	}
}

func tallyMultipleChoice(result *models.PollResult, b *ballotSet, participants []uint, optionCount int) {
	raw := make(map[int64]int64, optionCount)
	for i := 0; i < optionCount; i++ {
		raw[int64(i)] = 0
	}
	for _, id := range participants {
		option := int64(b.values[id])
		if _, ok := raw[option]; ok {
			raw[option] += b.eligible[id]
		}
	}
	result.OptionWeights = optionPercents(normalizeUnits(raw, totalAuthorityUnits), optionCount)

	if winner, ok := uniqueMax(raw); ok {
		w := int(winner)
		result.WinningOption = &w
		result.Outcome = models.OutcomePositive
		return
	}
	result.Outcome = models.OutcomeUndecided
}

func tallyShare(result *models.PollResult, b *ballotSet, participants []uint, optionCount int) {
	targets := make([]int64, optionCount)
	for i := range targets {
		targets[i] = int64(i)
	}
	ballots := make([]Ballot[int64], 0, len(participants))
	for _, id := range participants {
		ballots = append(ballots, Ballot[int64]{VoterID: id, Allocations: b.allocations[id]})
	}
	raw := weightedScores(targets, ballots, b.eligible)
	if sumUnits(raw) == 0 {
		result.Outcome = models.OutcomeInsufficientAuthority
		return
	}
	result.OptionWeights = optionPercents(normalizeUnits(raw, totalAuthorityUnits), optionCount)
	if winner, ok := uniqueMax(raw); ok {
		w := int(winner)
		result.WinningOption = &w
	}
	result.Outcome = models.OutcomeCompleted
}

func tallyAuthority(result *models.PollResult, b *ballotSet, participants []uint, members []models.Membership) {
	// 重新分配覆盖全部有投票权的成员，包括投票开始后才加入的成员
	current := make(map[uint]int64)
	for i := range members {
		m := &members[i]
		if m.CanVote() && !m.DeletedAt.Valid {
			current[m.UserID] = toUnits(m.AuthorityPercent)
		}
	}

	ballots := make([]Ballot[uint], 0, len(participants))
	for _, id := range participants {
		allocations := make(map[uint]int, len(b.allocations[id]))
		for slot, v := range b.allocations[id] {
			allocations[uint(slot)] = v
		}
		ballots = append(ballots, Ballot[uint]{VoterID: id, Allocations: allocations})
	}

	next, ok := Redistribute(current, ballots)
	if !ok {
		result.Outcome = models.OutcomeInsufficientAuthority
		return
	}
	result.Distribution = make(map[uint]float64, len(next))
	for id, units := range next {
		result.Distribution[id] = fromUnits(units)
	}
	result.Outcome = models.OutcomeCompleted
}

// DistributionUnits 把结果中的分布换回单位
func DistributionUnits(result *models.PollResult) map[uint]int64 {
	units := make(map[uint]int64, len(result.Distribution))
	for id, percent := range result.Distribution {
		units[id] = toUnits(percent)
	}
	return units
}

func optionPercents(units map[int64]int64, optionCount int) []float64 {
	percents := make([]float64, optionCount)
	for i := range percents {
		percents[i] = fromUnits(units[int64(i)])
	}
	return percents
}

// uniqueMax 唯一的最大值，并列或全为0时返回 false
func uniqueMax(raw map[int64]int64) (int64, bool) {
	var best int64 = -1
	var bestValue int64
	tie := false
	for k, v := range raw {
		switch {
		case v > bestValue:
			best, bestValue, tie = k, v, false
		case v == bestValue && v > 0:
			tie = true
		}
	}
	if best < 0 || tie {
		return 0, false
	}
	return best, true
}
