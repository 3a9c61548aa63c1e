package services

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"polity/internal/models"
	"polity/internal/tenancy"
	"polity/pkg/logger"
	"polity/pkg/pagination"

	"gorm.io/gorm"
)

// TenantService 租户注册与主机名解析。租户表本身不归属任何租户，
// 这里的查询都是跨租户的
type TenantService struct {
	db         *gorm.DB
	baseDomain string
}

// TenantStats 租户统计信息
type TenantStats struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Inactive int64 `json:"inactive"`
}

// CreateTenantInput 创建租户参数
type CreateTenantInput struct {
	Name     string
	Hostname string
	Language string
}

// NewTenantService baseDomain 非空时 <子域名>.<baseDomain> 按子域名解析
func NewTenantService(db *gorm.DB, baseDomain string) *TenantService {
	return &TenantService{
		db:         db,
		baseDomain: models.NormalizeHostname(baseDomain),
	}
}

// ResolveByHost 根据请求的 Host 解析租户：先完整匹配主机名，再匹配子域名标签。
// 停用的租户不会被解析
func (s *TenantService) ResolveByHost(host string) (*models.Tenant, error) {
	hostname := models.NormalizeHostname(host)
	if hostname == "" {
		return nil, fmt.Errorf("%w: 缺少主机名", tenancy.ErrTenantResolution)
	}

	candidates := []string{hostname}
	if label := s.subdomainLabel(hostname); label != "" && label != hostname {
		candidates = append(candidates, label)
	}

	for _, candidate := range candidates {
		var tenant models.Tenant
		err := s.db.Where("hostname = ? AND status = ?", candidate, models.TenantStatusActive).First(&tenant).Error
		if err == nil {
			return &tenant, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: 主机 %s 没有对应的租户", tenancy.ErrTenantResolution, hostname)
}

func (s *TenantService) subdomainLabel(hostname string) string {
	if s.baseDomain != "" {
		suffix := "." + s.baseDomain
		if strings.HasSuffix(hostname, suffix) {
			return strings.TrimSuffix(hostname, suffix)
		}
		return ""
	}
	if idx := strings.Index(hostname, "."); idx > 0 {
		return hostname[:idx]
	}
	return ""
}

// Create 创建租户
func (s *TenantService) Create(input CreateTenantInput) (*models.Tenant, error) {
	if err := s.ValidateCreateParams(input.Name, input.Hostname); err != nil {
		return nil, err
	}
	language := input.Language
	if language == "" {
		language = "en"
	}

	tenant := &models.Tenant{
		Name:     strings.TrimSpace(input.Name),
		Hostname: models.NormalizeHostname(input.Hostname),
		Language: language,
		Status:   models.TenantStatusActive,
	}
	if err := s.db.Create(tenant).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("%w: 主机名 %s 已被使用", ErrConflict, tenant.Hostname)
		}
		return nil, err
	}

	logger.ForTenant(tenant.ID).WithField("hostname", tenant.Hostname).Info("租户已创建")
	return tenant, nil
}

// GetByID 根据ID获取租户
func (s *TenantService) GetByID(id uint) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.db.First(&tenant, id).Error; err != nil {
		return nil, notFound(err, "租户")
	}
	return &tenant, nil
}

// GetWithFiltersAndPage 组合查询（分页版本）
func (s *TenantService) GetWithFiltersAndPage(status, keyword string, page *pagination.PageParams) ([]*models.Tenant, int64, error) {
	var tenants []*models.Tenant
	var total int64

	query := s.db.Model(&models.Tenant{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if keyword != "" {
		searchPattern := fmt.Sprintf("%%%s%%", keyword)
		query = query.Where("name LIKE ? OR hostname LIKE ?", searchPattern, searchPattern)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("id ASC").Scopes(page.Paginate()).Find(&tenants).Error; err != nil {
		return nil, 0, err
	}

	if len(tenants) == 0 {
		return tenants, total, nil
	}

	// 统计每个租户的成员数量
	ids := make([]uint, len(tenants))
	for i := range tenants {
		ids[i] = tenants[i].ID
	}
	var counts []struct {
		TenantID uint
		Count    int64
	}
	err := s.db.Model(&models.Membership{}).
		Select("tenant_id, COUNT(*) AS count").
		Where("tenant_id IN ?", ids).
		Group("tenant_id").
		Scan(&counts).Error
	if err != nil {
		return nil, 0, err
	}
	byTenant := make(map[uint]int, len(counts))
	for _, row := range counts {
		byTenant[row.TenantID] = int(row.Count)
	}
	for i := range tenants {
		tenants[i].MemberCount = byTenant[tenants[i].ID]
	}
	return tenants, total, nil
}

// ListActive 获取所有激活的租户
func (s *TenantService) ListActive() ([]models.Tenant, error) {
	var tenants []models.Tenant
	err := s.db.Where("status = ?", models.TenantStatusActive).Order("id ASC").Find(&tenants).Error
	return tenants, err
}

// Activate 激活租户
func (s *TenantService) Activate(id uint) (*models.Tenant, error) {
	return s.setStatus(id, models.TenantStatusActive)
}

// Deactivate 停用租户，停用后不再解析，调度器也会跳过
func (s *TenantService) Deactivate(id uint) (*models.Tenant, error) {
	return s.setStatus(id, models.TenantStatusInactive)
}

func (s *TenantService) setStatus(id uint, status string) (*models.Tenant, error) {
	tenant, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}
	tenant.Status = status
	if err := s.db.Model(tenant).Update("status", status).Error; err != nil {
		return nil, err
	}
	logger.ForTenant(id).WithField("status", status).Info("租户状态已更新")
	return tenant, nil
}

// GetStats 获取租户统计
func (s *TenantService) GetStats() (*TenantStats, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := s.db.Model(&models.Tenant{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &TenantStats{}
	for _, row := range rows {
		stats.Total += row.Count
		if row.Status == models.TenantStatusActive {
			stats.Active += row.Count
		}
	}
	stats.Inactive = stats.Total - stats.Active
	return stats, nil
}

// ========== 验证相关方法 ==========

// ValidateName 名称长度按字符计算
func (s *TenantService) ValidateName(name string) bool {
	runeCount := utf8.RuneCountInString(strings.TrimSpace(name))
	return runeCount >= 2 && runeCount <= 100
}

// ValidateHostname 主机名只允许小写字母、数字、点和连字符
func (s *TenantService) ValidateHostname(hostname string) bool {
	hostname = models.NormalizeHostname(hostname)
	if hostname == "" || len(hostname) > 255 {
		return false
	}
	for _, r := range hostname {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '-') {
			return false
		}
	}
	return !strings.HasPrefix(hostname, ".") && !strings.HasPrefix(hostname, "-")
}

// ValidateCreateParams 校验创建参数
func (s *TenantService) ValidateCreateParams(name, hostname string) error {
	if !s.ValidateName(name) {
		return fmt.Errorf("%w: 租户名称长度必须在2-100个字符之间", ErrInvalidInput)
	}
	if !s.ValidateHostname(hostname) {
		return fmt.Errorf("%w: 主机名格式无效", ErrInvalidInput)
	}
	return nil
}
