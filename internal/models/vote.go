package models

import "time"

// Vote 一行投票记录，只追加不修改；改票为同一事务内的删除加插入
//
// BallotSlot 区分同一投票人的多行记录：权威投票为被分配的成员ID，
// 份额投票为选项序号，其余类型为0。(poll_id, voter_id, ballot_slot) 唯一。
type Vote struct {
	ID uint `gorm:"primarykey" json:"id"`
	TenantOwned
	PollID      uint      `gorm:"not null;uniqueIndex:idx_votes_ballot" json:"poll_id"`
	VoterID     uint      `gorm:"not null;uniqueIndex:idx_votes_ballot;index" json:"voter_id"`
	BallotSlot  int64     `gorm:"not null;uniqueIndex:idx_votes_ballot" json:"ballot_slot"`
	VotedUserID *uint     `json:"voted_user_id,omitempty"`
	Value       *int      `json:"value"`
	VotedAt     time.Time `gorm:"not null" json:"voted_at"`
}

// TableName 表名
func (Vote) TableName() string {
	return "votes"
}
