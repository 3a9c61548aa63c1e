package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// PollType 投票类型，固定四种
type PollType string

const (
	PollTypeAuthority      PollType = "authority"       // 权威分配，结束后重新计算成员权威
	PollTypeMultipleChoice PollType = "multiple_choice" // 单选
	PollTypePolicyChange   PollType = "policy_change"   // 政策表决
	PollTypeShare          PollType = "share"           // 份额分配
)

// PollTypes 全部投票类型
func PollTypes() []PollType {
	return []PollType{PollTypeAuthority, PollTypeMultipleChoice, PollTypePolicyChange, PollTypeShare}
}

// Valid 是否为已知类型
func (t PollType) Valid() bool {
	switch t {
	case PollTypeAuthority, PollTypeMultipleChoice, PollTypePolicyChange, PollTypeShare:
		return true
	}
	return false
}

// AllowsConcurrent 同一租户是否允许同时存在多个进行中的该类投票
func (t PollType) AllowsConcurrent() bool {
	return t == PollTypeMultipleChoice || t == PollTypeShare
}

// SupportsEarlyCompletion 全部有资格的投票人完成投票后是否可以提前结束
func (t PollType) SupportsEarlyCompletion() bool {
	return t != PollTypeAuthority
}

// IsAllocation 选票是否为总和100的份额分配
func (t PollType) IsAllocation() bool {
	return t == PollTypeAuthority || t == PollTypeShare
}

// 政策表决的取值
const (
	PolicyVoteNo  = 0
	PolicyVoteYes = 1
)

// Poll 投票
type Poll struct {
	BaseModel
	TenantID     uint       `json:"tenant_id" gorm:"not null;index;uniqueIndex:idx_polls_tenant_slot"`
	Type         PollType   `json:"type" gorm:"size:30;not null;index"`
	Name         string     `json:"name" gorm:"size:200;not null"`
	QuestionBody string     `json:"question_body" gorm:"type:text"`
	OwnerUserID  uint       `json:"owner_user_id" gorm:"not null"`
	PolicyID     *uint      `json:"policy_id,omitempty" gorm:"index"`
	Deadline     time.Time  `json:"deadline" gorm:"not null;index"`
	Active       bool       `json:"active" gorm:"not null;index"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	// ExclusiveSlot 不允许并发的类型在进行中时记录类型名，结束时清空；
	// 与 TenantID 的唯一索引保证同一租户同类投票最多一个进行中
	ExclusiveSlot *string `json:"-" gorm:"size:30;uniqueIndex:idx_polls_tenant_slot"`

	OptionsPayload datatypes.JSON `json:"options_payload,omitempty"`
	ResultSummary  datatypes.JSON `json:"result_summary,omitempty"`

	// 关联
	Votes   []Vote       `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"-"`
	Setting *PollSetting `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"setting,omitempty"`
	Policy  *Policy      `gorm:"foreignKey:PolicyID" json:"policy,omitempty"`
}

// TableName 表名
func (Poll) TableName() string {
	return "polls"
}

func (p *Poll) GetTenantID() uint {
	return p.TenantID
}

func (p *Poll) SetTenantID(tenantID uint) {
	p.TenantID = tenantID
}

// PollOptions 单选与份额投票的选项
type PollOptions struct {
	Options []string `json:"options"`
}

// Options 解析选项列表
func (p *Poll) Options() ([]string, error) {
	if len(p.OptionsPayload) == 0 {
		return nil, nil
	}
	var opts PollOptions
	if err := json.Unmarshal(p.OptionsPayload, &opts); err != nil {
		return nil, err
	}
	return opts.Options, nil
}

// Result 解析结果，未结束的投票返回 nil
func (p *Poll) Result() (*PollResult, error) {
	if len(p.ResultSummary) == 0 {
		return nil, nil
	}
	var result PollResult
	if err := json.Unmarshal(p.ResultSummary, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PollOutcome 投票结果
type PollOutcome string

const (
	OutcomePositive                  PollOutcome = "positive"
	OutcomeNegative                  PollOutcome = "negative"
	OutcomeUndecided                 PollOutcome = "undecided"
	OutcomeInsufficientParticipation PollOutcome = "insufficient_participation"
	OutcomeInsufficientAuthority     PollOutcome = "insufficient_authority"
	OutcomeCompleted                 PollOutcome = "completed"
)

// 结束原因
const (
	CloseReasonDeadline = "deadline"
	CloseReasonEarly    = "all_voted"
)

// PollResult 序列化到 Poll.ResultSummary 的结果
type PollResult struct {
	Outcome              PollOutcome `json:"outcome"`
	CloseReason          string      `json:"close_reason"`
	ParticipationPercent float64     `json:"participation_percent"`
	Threshold            float64     `json:"threshold"`
	EligibleVoters       int         `json:"eligible_voters"`
	Participants         int         `json:"participants"`

	// 政策表决
	YesShare float64 `json:"yes_share,omitempty"`
	NoShare  float64 `json:"no_share,omitempty"`

	// 单选与份额
	WinningOption *int      `json:"winning_option,omitempty"`
	OptionWeights []float64 `json:"option_weights,omitempty"`

	// 权威投票：用户ID -> 新权威值
	Distribution map[uint]float64 `json:"distribution,omitempty"`

	ComputedAt time.Time `json:"computed_at"`
}
