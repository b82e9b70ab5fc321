package contactctrl

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"crmhub/src/storage/postgres"
)

type Contact struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"not null;index" json:"name"`
	Email       string    `gorm:"uniqueIndex;not null" json:"email"`
	Phone       string    `json:"phone"`
	Company     string    `gorm:"index" json:"company"`
	Position    string    `json:"position"`
	Location    string    `json:"location"`
	Status      string    `gorm:"default:Active" json:"status"`
	LastContact string    `gorm:"column:last_contact" json:"last_contact"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

type ContactService struct {
	db *gorm.DB
}

func NewContactService(db *gorm.DB) (*ContactService, error) {
	if err := db.AutoMigrate(&Contact{}); err != nil {
		return nil, fmt.Errorf("failed to migrate contacts table: %v", err)
	}
	return &ContactService{db: db}, nil
}

func (s *ContactService) GetByID(ctx context.Context, id uint) (*Contact, error) {
	var contact Contact
	result := s.db.WithContext(ctx).First(&contact, id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get contact: %v", result.Error)
	}
	return &contact, nil
}

func (s *ContactService) List(ctx context.Context, search string, offset, limit int) ([]Contact, error) {
	var contacts []Contact
	result := s.searchQuery(ctx, search).
		Order("id").
		Limit(limit).
		Offset(offset).
		Find(&contacts)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list contacts: %v", result.Error)
	}
	return contacts, nil
}

func (s *ContactService) Count(ctx context.Context, search string) (int64, error) {
	var count int64
	result := s.searchQuery(ctx, search).Model(&Contact{}).Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count contacts: %v", result.Error)
	}
	return count, nil
}

func (s *ContactService) searchQuery(ctx context.Context, search string) *gorm.DB {
	q := s.db.WithContext(ctx)
	if search != "" {
		pattern := "%" + search + "%"
		q = q.Where(
			"name ILIKE ? OR email ILIKE ? OR company ILIKE ? OR position ILIKE ?",
			pattern, pattern, pattern, pattern,
		)
	}
	return q
}

func (s *ContactService) Create(ctx context.Context, contact *Contact) error {
	result := s.db.WithContext(ctx).Create(contact)
	if result.Error != nil {
		return postgres.Classify(result.Error)
	}
	return nil
}

func (s *ContactService) Update(ctx context.Context, id uint, updates map[string]interface{}) (*Contact, error) {
	result := s.db.WithContext(ctx).Model(&Contact{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return nil, postgres.Classify(result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, id)
}

func (s *ContactService) Delete(ctx context.Context, id uint) (bool, error) {
	result := s.db.WithContext(ctx).Delete(&Contact{}, id)
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete contact: %v", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *ContactService) DeleteAll(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("1 = 1").Delete(&Contact{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete contacts: %v", result.Error)
	}
	return result.RowsAffected, nil
}
