package leadctrl

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"crmhub/src/storage/postgres"
)

type Lead struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"not null;index" json:"name"`
	Company    string    `gorm:"not null;index" json:"company"`
	Email      string    `gorm:"not null;uniqueIndex" json:"email"`
	Phone      string    `json:"phone"`
	Source     string    `json:"source"`
	Status     string    `gorm:"default:New" json:"status"`
	Score      int       `gorm:"default:0" json:"score"`
	Value      string    `json:"value"`
	AssignedTo string    `gorm:"column:assigned_to" json:"assigned_to"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Lead) TableName() string {
	return "leads"
}

// ListParams are the optional filters for List and Count. Nil/empty fields
// are skipped.
type ListParams struct {
	Search     string
	Status     []string
	Source     []string
	AssignedTo []string
	ScoreMin   *int
	ScoreMax   *int
	Offset     int
	Limit      int
}

// Summary aggregates lead statistics for the dashboard.
type Summary struct {
	TotalLeads     int64 `json:"total_leads"`
	QualifiedLeads int64 `json:"qualified_leads"`
	AvgScore       int   `json:"avg_score"`
	TotalValue     int64 `json:"total_value"`
}

type LeadService struct {
	db *gorm.DB
}

func NewLeadService(db *gorm.DB) (*LeadService, error) {
	if err := db.AutoMigrate(&Lead{}); err != nil {
		return nil, fmt.Errorf("failed to migrate leads table: %v", err)
	}
	return &LeadService{db: db}, nil
}

func (s *LeadService) GetByID(ctx context.Context, id uint) (*Lead, error) {
	var lead Lead
	result := s.db.WithContext(ctx).First(&lead, id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lead: %v", result.Error)
	}
	return &lead, nil
}

func (s *LeadService) List(ctx context.Context, p ListParams) ([]Lead, error) {
	var leads []Lead
	result := s.filtered(ctx, p).
		Order("id").
		Limit(p.Limit).
		Offset(p.Offset).
		Find(&leads)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list leads: %v", result.Error)
	}
	return leads, nil
}

func (s *LeadService) Count(ctx context.Context, p ListParams) (int64, error) {
	var count int64
	result := s.filtered(ctx, p).Model(&Lead{}).Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count leads: %v", result.Error)
	}
	return count, nil
}

func (s *LeadService) filtered(ctx context.Context, p ListParams) *gorm.DB {
	q := s.db.WithContext(ctx)
	if p.Search != "" {
		pattern := "%" + p.Search + "%"
		q = q.Where(
			"name ILIKE ? OR company ILIKE ? OR email ILIKE ? OR phone ILIKE ? OR source ILIKE ?",
			pattern, pattern, pattern, pattern, pattern,
		)
	}
	if len(p.Status) > 0 {
		q = q.Where("status IN ?", p.Status)
	}
	if len(p.Source) > 0 {
		q = q.Where("source IN ?", p.Source)
	}
	if len(p.AssignedTo) > 0 {
		q = q.Where("assigned_to IN ?", p.AssignedTo)
	}
	if p.ScoreMin != nil {
		q = q.Where("score >= ?", *p.ScoreMin)
	}
	if p.ScoreMax != nil {
		q = q.Where("score <= ?", *p.ScoreMax)
	}
	return q
}

func (s *LeadService) Create(ctx context.Context, lead *Lead) error {
	result := s.db.WithContext(ctx).Create(lead)
	if result.Error != nil {
		return postgres.Classify(result.Error)
	}
	return nil
}

// Update applies the given column updates and returns the fresh row, or nil
// when the lead does not exist.
func (s *LeadService) Update(ctx context.Context, id uint, updates map[string]interface{}) (*Lead, error) {
	result := s.db.WithContext(ctx).Model(&Lead{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return nil, postgres.Classify(result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, id)
}

func (s *LeadService) Delete(ctx context.Context, id uint) (bool, error) {
	result := s.db.WithContext(ctx).Delete(&Lead{}, id)
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete lead: %v", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *LeadService) DeleteAll(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("1 = 1").Delete(&Lead{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete leads: %v", result.Error)
	}
	return result.RowsAffected, nil
}

// Summary computes dashboard statistics. Lead values are free-form strings
// like "$12,000"; unparseable ones are skipped.
func (s *LeadService) Summary(ctx context.Context) (*Summary, error) {
	var sum Summary

	if err := s.db.WithContext(ctx).Model(&Lead{}).Count(&sum.TotalLeads).Error; err != nil {
		return nil, fmt.Errorf("failed to count leads: %v", err)
	}
	if err := s.db.WithContext(ctx).Model(&Lead{}).
		Where("status = ?", "Qualified").Count(&sum.QualifiedLeads).Error; err != nil {
		return nil, fmt.Errorf("failed to count qualified leads: %v", err)
	}

	var avg *float64
	if err := s.db.WithContext(ctx).Model(&Lead{}).
		Select("AVG(score)").Scan(&avg).Error; err != nil {
		return nil, fmt.Errorf("failed to average scores: %v", err)
	}
	if avg != nil {
		sum.AvgScore = int(*avg + 0.5)
	}

	var values []string
	if err := s.db.WithContext(ctx).Model(&Lead{}).
		Where("value IS NOT NULL AND value <> ''").
		Pluck("value", &values).Error; err != nil {
		return nil, fmt.Errorf("failed to load lead values: %v", err)
	}
	for _, v := range values {
		sum.TotalValue += parseMoney(v)
	}

	return &sum, nil
}

// FilterOptions returns the distinct values of each filterable field.
func (s *LeadService) FilterOptions(ctx context.Context) (map[string][]string, error) {
	options := make(map[string][]string)
	for field, column := range map[string]string{
		"status":      "status",
		"source":      "source",
		"assigned_to": "assigned_to",
	} {
		var values []string
		err := s.db.WithContext(ctx).Model(&Lead{}).
			Distinct(column).
			Where(column+" IS NOT NULL AND "+column+" <> ''").
			Order(column).
			Pluck(column, &values).Error
		if err != nil {
			return nil, fmt.Errorf("failed to load filter options for %s: %v", field, err)
		}
		options[field] = values
	}
	return options, nil
}

func parseMoney(v string) int64 {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(v)
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return int64(f)
}
