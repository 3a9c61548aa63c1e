package services

import (
	"fmt"
	"regexp"
	"strings"

	"polity/internal/models"

	"gorm.io/gorm"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// UserService 用户身份记录
type UserService struct {
	db *gorm.DB
}

// CreateUserInput 创建用户参数
type CreateUserInput struct {
	Username        string
	Email           string
	Name            string
	IsPlatformAdmin bool
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// Create 创建用户
func (s *UserService) Create(input CreateUserInput) (*models.User, error) {
	if err := s.ValidateCreateParams(input); err != nil {
		return nil, err
	}
	user := &models.User{
		Username:        strings.TrimSpace(input.Username),
		Email:           strings.ToLower(strings.TrimSpace(input.Email)),
		Name:            strings.TrimSpace(input.Name),
		Status:          models.UserStatusActive,
		IsPlatformAdmin: input.IsPlatformAdmin,
	}
	if err := s.db.Create(user).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("%w: 用户名或邮箱已存在", ErrConflict)
		}
		return nil, err
	}
	return user, nil
}

// GetByID 根据ID获取用户
func (s *UserService) GetByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		return nil, notFound(err, "用户")
	}
	return &user, nil
}

// GetByUsername 根据用户名获取用户
func (s *UserService) GetByUsername(username string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, notFound(err, "用户")
	}
	return &user, nil
}

// ValidateCreateParams 校验创建参数
func (s *UserService) ValidateCreateParams(input CreateUserInput) error {
	username := strings.TrimSpace(input.Username)
	if len(username) < 3 || len(username) > 50 {
		return fmt.Errorf("%w: 用户名长度必须在3-50个字符之间", ErrInvalidInput)
	}
	if !emailPattern.MatchString(strings.TrimSpace(input.Email)) {
		return fmt.Errorf("%w: 邮箱格式无效", ErrInvalidInput)
	}
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("%w: 姓名不能为空", ErrInvalidInput)
	}
	return nil
}
