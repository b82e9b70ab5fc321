package leadctrl

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"crmhub/src/core/ingest"
	"crmhub/src/storage/postgres"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Loader adapts leads to the generic ingestion pipeline. Each Loader owns
// its session; the pipeline closes it when the run finishes.
type Loader struct {
	db      *gorm.DB
	factory *postgres.Factory
}

// NewLoaderFactory returns a factory that binds each ingestion run to a
// fresh session opened with the current credential.
func NewLoaderFactory(factory *postgres.Factory) ingest.LoaderFactory[Lead] {
	return func(ctx context.Context) (ingest.Loader[Lead], error) {
		db, err := factory.Open(ctx)
		if err != nil {
			return nil, err
		}
		if err := db.AutoMigrate(&Lead{}); err != nil {
			_ = factory.Close(db)
			return nil, err
		}
		return &Loader{db: db, factory: factory}, nil
	}
}

func (l *Loader) Convert(row ingest.Row) (Lead, error) {
	for _, field := range []string{"name", "company", "email"} {
		if strings.TrimSpace(row[field]) == "" {
			return Lead{}, &ingest.ValidationError{Field: field, Reason: "required field is empty"}
		}
	}
	email := strings.TrimSpace(row["email"])
	if !emailPattern.MatchString(email) {
		return Lead{}, &ingest.ValidationError{Field: "email", Reason: "invalid email format"}
	}

	lead := Lead{
		Name:       strings.TrimSpace(row["name"]),
		Company:    strings.TrimSpace(row["company"]),
		Email:      email,
		Phone:      strings.TrimSpace(row["phone"]),
		Source:     strings.TrimSpace(row["source"]),
		Status:     strings.TrimSpace(row["status"]),
		Value:      strings.TrimSpace(row["value"]),
		AssignedTo: strings.TrimSpace(row["assigned_to"]),
	}
	if lead.Status == "" {
		lead.Status = "New"
	}
	if raw := strings.TrimSpace(row["score"]); raw != "" {
		score, err := strconv.Atoi(raw)
		if err != nil {
			return Lead{}, &ingest.ValidationError{Field: "score", Reason: "must be an integer"}
		}
		if score < 0 || score > 100 {
			return Lead{}, &ingest.ValidationError{Field: "score", Reason: "must be between 0 and 100"}
		}
		lead.Score = score
	}
	return lead, nil
}

func (l *Loader) Key(lead Lead) string {
	return strings.ToLower(lead.Email)
}

func (l *Loader) Describe(lead Lead) string {
	if lead.Email != "" {
		return lead.Email
	}
	return lead.Name
}

func (l *Loader) ExistingKeys(ctx context.Context, keys []string) (map[string]struct{}, error) {
	var emails []string
	err := l.db.WithContext(ctx).Model(&Lead{}).
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

func (l *Loader) BulkInsert(ctx context.Context, leads []Lead) error {
	if err := l.db.WithContext(ctx).Create(&leads).Error; err != nil {
		return postgres.Classify(err)
	}
	return nil
}

func (l *Loader) InsertOne(ctx context.Context, lead Lead) error {
	if err := l.db.WithContext(ctx).Create(&lead).Error; err != nil {
		return postgres.Classify(err)
	}
	return nil
}

func (l *Loader) Close() error {
	return l.factory.Close(l.db)
}
