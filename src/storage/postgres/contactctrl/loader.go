package contactctrl

import (
	"context"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"crmhub/src/core/ingest"
	"crmhub/src/storage/postgres"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Loader adapts contacts to the generic ingestion pipeline.
type Loader struct {
	db      *gorm.DB
	factory *postgres.Factory
}

func NewLoaderFactory(factory *postgres.Factory) ingest.LoaderFactory[Contact] {
	return func(ctx context.Context) (ingest.Loader[Contact], error) {
		db, err := factory.Open(ctx)
		if err != nil {
			return nil, err
		}
		if err := db.AutoMigrate(&Contact{}); err != nil {
			_ = factory.Close(db)
			return nil, err
		}
		return &Loader{db: db, factory: factory}, nil
	}
}

func (l *Loader) Convert(row ingest.Row) (Contact, error) {
	for _, field := range []string{"name", "email"} {
		if strings.TrimSpace(row[field]) == "" {
			return Contact{}, &ingest.ValidationError{Field: field, Reason: "required field is empty"}
		}
	}
	email := strings.TrimSpace(row["email"])
	if !emailPattern.MatchString(email) {
		return Contact{}, &ingest.ValidationError{Field: "email", Reason: "invalid email format"}
	}

	contact := Contact{
		Name:        strings.TrimSpace(row["name"]),
		Email:       email,
		Phone:       strings.TrimSpace(row["phone"]),
		Company:     strings.TrimSpace(row["company"]),
		Position:    strings.TrimSpace(row["position"]),
		Location:    strings.TrimSpace(row["location"]),
		Status:      strings.TrimSpace(row["status"]),
		LastContact: strings.TrimSpace(row["last_contact"]),
	}
	if contact.Status == "" {
		contact.Status = "Active"
	}
	return contact, nil
}

func (l *Loader) Key(contact Contact) string {
	return strings.ToLower(contact.Email)
}

func (l *Loader) Describe(contact Contact) string {
	if contact.Email != "" {
		return contact.Email
	}
	return contact.Name
}

func (l *Loader) ExistingKeys(ctx context.Context, keys []string) (map[string]struct{}, error) {
	var emails []string
	err := l.db.WithContext(ctx).Model(&Contact{}).
		Where("LOWER(email) IN ?", keys).
		Pluck("email", &emails).Error
	if err != nil {
		return nil, postgres.Classify(err)
	}
	existing := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		existing[strings.ToLower(e)] = struct{}{}
	}
	return existing, nil
}

func (l *Loader) BulkInsert(ctx context.Context, contacts []Contact) error {
	if err := l.db.WithContext(ctx).Create(&contacts).Error; err != nil {
		return postgres.Classify(err)
	}
	return nil
}

func (l *Loader) InsertOne(ctx context.Context, contact Contact) error {
	if err := l.db.WithContext(ctx).Create(&contact).Error; err != nil {
		return postgres.Classify(err)
	}
	return nil
}

func (l *Loader) Close() error {
	return l.factory.Close(l.db)
}
