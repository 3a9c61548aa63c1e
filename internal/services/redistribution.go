package services

import (
	"cmp"
	"math"
	"slices"
)

// 权威值以百分之一为单位做整数运算，存储精度为两位小数
const (
	authorityScale      = 100
	totalAuthorityUnits = 100 * authorityScale
	fullAllocation      = 100
)

func toUnits(percent float64) int64 {
	return int64(math.Round(percent * authorityScale))
}

func fromUnits(units int64) float64 {
	return float64(units) / authorityScale
}

// roundPercent 保留两位小数
func roundPercent(v float64) float64 {
	return math.Round(v*authorityScale) / authorityScale
}

// Ballot 一名投票人的完整份额分配，目标为成员ID或选项序号
type Ballot[K cmp.Ordered] struct {
	VoterID     uint
	Allocations map[K]int
}

// weightedScores 计算 raw(k) = Σ allocation(v,k) × authority(v)，
// 未投票的成员不贡献分数，不在 targets 中的目标被忽略
func weightedScores[K cmp.Ordered](targets []K, ballots []Ballot[K], authority map[uint]int64) map[K]int64 {
	raw := make(map[K]int64, len(targets))
	for _, t := range targets {
		raw[t] = 0
	}
	for _, b := range ballots {
		weight := authority[b.VoterID]
		if weight <= 0 {
			continue
		}
		for target, alloc := range b.Allocations {
			if _, ok := raw[target]; !ok || alloc <= 0 {
				continue
			}
			raw[target] += int64(alloc) * weight
		}
	}
	return raw
}

// normalizeUnits 按最大余数法把 raw 按比例缩放到 total，结果之和恰好等于 total。
// 余数相同按键升序分配；raw 为0的键结果恒为0。所有 raw 都为0时返回全0
func normalizeUnits[K cmp.Ordered](raw map[K]int64, total int64) map[K]int64 {
	keys := make([]K, 0, len(raw))
	var sum int64
	for k, v := range raw {
		keys = append(keys, k)
		if v > 0 {
			sum += v
		}
	}
	slices.Sort(keys)

	result := make(map[K]int64, len(raw))
	if sum == 0 {
		for _, k := range keys {
			result[k] = 0
		}
		return result
	}

	remainders := make(map[K]int64, len(raw))
	var allocated int64
	for _, k := range keys {
		v := max(raw[k], 0)
		result[k] = v * total / sum
		remainders[k] = v * total % sum
		allocated += result[k]
	}

	candidates := make([]K, 0, len(keys))
	for _, k := range keys {
		if remainders[k] > 0 {
			candidates = append(candidates, k)
		}
	}
	slices.SortStableFunc(candidates, func(a, b K) int {
		return cmp.Compare(remainders[b], remainders[a])
	})

	// 剩余单位数严格小于余数非零的键数
	for i := int64(0); i < total-allocated; i++ {
		result[candidates[i]]++
	}
	return result
}

// Redistribute 根据完整选票和成员当前权威计算新的权威分布。
// current 为全部有投票权成员的当前权威（单位），返回值覆盖 current 中的每个成员。
// 参与者权威之和为0时返回 false，原分布保持不变
func Redistribute(current map[uint]int64, ballots []Ballot[uint]) (map[uint]int64, bool) {
	members := make([]uint, 0, len(current))
	for id := range current {
		members = append(members, id)
	}
	raw := weightedScores(members, ballots, current)

	var sum int64
	for _, v := range raw {
		sum += v
	}
	if sum == 0 {
		return nil, false
	}
	return normalizeUnits(raw, totalAuthorityUnits), true
}

// rebalance 成员变动后把剩余成员的权威重新归一到100，全部为0时平均分配
func rebalance(current map[uint]int64) map[uint]int64 {
	if len(current) == 0 {
		return map[uint]int64{}
	}
	raw := make(map[uint]int64, len(current))
	var sum int64
	for id, units := range current {
		raw[id] = max(units, 0)
		sum += raw[id]
	}
	if sum == 0 {
		for id := range raw {
			raw[id] = 1
		}
	}
	return normalizeUnits(raw, totalAuthorityUnits)
}

func sumUnits[K comparable](units map[K]int64) int64 {
	var sum int64
	for _, v := range units {
		sum += v
	}
	return sum
}
