package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gosimple/slug"
	"github.com/vreid/kakunin/internal/pkg/verification"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type matchRow struct {
	ID string `gorm:"primaryKey;type:varchar(64)"`

	HomeTeam string `gorm:"not null"`
	AwayTeam string `gorm:"not null"`
	HomeKey  string `gorm:"index;not null"`
	AwayKey  string `gorm:"index;not null"`

	HomeScore int `gorm:"not null"`
	AwayScore int `gorm:"not null"`

	Submitter     string    `gorm:"not null"`
	SubmitterTeam string    `gorm:"type:varchar(8);not null"`
	SubmittedAt   time.Time `gorm:"index;not null"`

	Status                string `gorm:"type:varchar(16);index;not null"`
	RequiredVerifications int    `gorm:"not null;default:3"`
	TrustScore            int    `gorm:"not null;default:0"`

	Resolution       string `gorm:"type:text"`
	FlaggedForReview bool   `gorm:"not null;default:false"`
	FinalizedAt      *time.Time
}

func (matchRow) TableName() string { return "matches" }

type verificationRow struct {
	ID uint `gorm:"primaryKey"`

	MatchID string `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_match_attester"`
	Seq     int    `gorm:"not null"`

	Attester     string `gorm:"not null;uniqueIndex:idx_match_attester"`
	AttesterName string

	Team     string `gorm:"type:varchar(8);not null"`
	Role     string `gorm:"type:varchar(16);not null"`
	Tier     string `gorm:"type:varchar(16);not null"`
	Verified bool   `gorm:"not null"`

	ClaimHome *int
	ClaimAway *int
	Reason    string `gorm:"type:text"`

	Timestamp time.Time `gorm:"not null"`
}

func (verificationRow) TableName() string { return "match_verifications" }

type eventRow struct {
	ID string `gorm:"primaryKey;type:varchar(64)"`

	MatchID string `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_match_event_seq"`
	Seq     int    `gorm:"not null;uniqueIndex:idx_match_event_seq"`
	Kind    string `gorm:"type:varchar(32);not null"`
	Body    string `gorm:"type:text;not null"`

	CreatedAt time.Time
}

func (eventRow) TableName() string { return "match_events" }

// GormRepository is the relational ledger backend. Rows for a match are
// locked with SELECT ... FOR UPDATE where the dialect supports it.
type GormRepository struct {
	db    *gorm.DB
	locks *KeyedMutex
}

func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	err := db.AutoMigrate(&matchRow{}, &verificationRow{}, &eventRow{})
	if err != nil {
		return nil, fmt.Errorf("failed to migrate ledger tables: %w", err)
	}

	return &GormRepository{
		db:    db,
		locks: NewKeyedMutex(),
	}, nil
}

func (r *GormRepository) Shutdown() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}

	//nolint:wrapcheck
	return sqlDB.Close()
}

func (r *GormRepository) Create(ctx context.Context, match *verification.MatchResult) error {
	row, err := toMatchRow(match)
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64

		err := tx.Model(&matchRow{}).Where("id = ?", match.ID).Count(&count).Error
		if err != nil {
			return fmt.Errorf("failed to check match: %w", err)
		}

		if count > 0 {
			return fmt.Errorf("%w: %s", ErrMatchExists, match.ID)
		}

		err = tx.Create(&row).Error
		if err != nil {
			return fmt.Errorf("failed to create match: %w", err)
		}

		return insertVerifications(tx, match.ID, 0, match.Verifications)
	})
}

func (r *GormRepository) Get(ctx context.Context, id string) (*verification.MatchResult, error) {
	return loadRows(r.db.WithContext(ctx), id, false)
}

func (r *GormRepository) List(ctx context.Context, filter Filter) (Page, error) {
	filter = filter.Normalize()

	query := r.db.WithContext(ctx).Model(&matchRow{})

	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}

	if filter.Team != "" {
		key := slug.Make(filter.Team)
		query = query.Where("home_key = ? OR away_key = ?", key, key)
	}

	query = query.Session(&gorm.Session{})

	var total int64

	err := query.Count(&total).Error
	if err != nil {
		return Page{}, fmt.Errorf("failed to count matches: %w", err)
	}

	var rows []matchRow

	err = query.Order("submitted_at desc").Order("id desc").
		Limit(filter.Limit).Offset(filter.Offset).
		Find(&rows).Error
	if err != nil {
		return Page{}, fmt.Errorf("failed to list matches: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	byMatch := map[string][]verificationRow{}

	if len(ids) > 0 {
		var entries []verificationRow

		err = r.db.WithContext(ctx).Where("match_id IN ?", ids).Order("seq asc").Find(&entries).Error
		if err != nil {
			return Page{}, fmt.Errorf("failed to list verifications: %w", err)
		}

		for _, entry := range entries {
			byMatch[entry.MatchID] = append(byMatch[entry.MatchID], entry)
		}
	}

	matches := make([]*verification.MatchResult, 0, len(rows))

	for _, row := range rows {
		match, err := fromRows(row, byMatch[row.ID])
		if err != nil {
			return Page{}, err
		}

		matches = append(matches, match)
	}

	return Page{
		Matches: matches,
		Total:   int(total),
		HasMore: filter.Offset+len(matches) < int(total),
	}, nil
}

func (r *GormRepository) Mutate(ctx context.Context, id string, fn MutateFunc) (*verification.MatchResult, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	var result *verification.MatchResult

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		match, err := loadRows(tx, id, true)
		if err != nil {
			return err
		}

		before := snapshot(match.Verifications)

		err = fn(match)
		if err != nil {
			return err
		}

		match.ID = id

		err = checkAppendOnly(before, match.Verifications)
		if err != nil {
			return err
		}

		err = insertVerifications(tx, id, len(before), match.Verifications[len(before):])
		if err != nil {
			return err
		}

		row, err := toMatchRow(match)
		if err != nil {
			return err
		}

		err = tx.Save(&row).Error
		if err != nil {
			return fmt.Errorf("failed to update match: %w", err)
		}

		result = match

		return nil
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return result, nil
}

func (r *GormRepository) AppendEvent(ctx context.Context, event verification.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	unlock := r.locks.Lock(event.MatchID)
	defer unlock()

	//nolint:wrapcheck
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var header matchRow

		err := forUpdate(tx).Select("id").Where("id = ?", event.MatchID).First(&header).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrMatchNotFound, event.MatchID)
		}

		if err != nil {
			return fmt.Errorf("failed to lock match: %w", err)
		}

		var seq int64

		err = tx.Model(&eventRow{}).Where("match_id = ?", event.MatchID).Count(&seq).Error
		if err != nil {
			return fmt.Errorf("failed to count events: %w", err)
		}

		row := eventRow{
			ID:        event.ID,
			MatchID:   event.MatchID,
			Seq:       int(seq),
			Kind:      string(event.Kind()),
			Body:      string(body),
			CreatedAt: event.Timestamp,
		}

		err = tx.Create(&row).Error
		if err != nil {
			return fmt.Errorf("failed to create event: %w", err)
		}

		return nil
	})
}

func (r *GormRepository) Events(ctx context.Context, matchID string) ([]verification.Event, error) {
	db := r.db.WithContext(ctx)

	var count int64

	err := db.Model(&matchRow{}).Where("id = ?", matchID).Count(&count).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check match: %w", err)
	}

	if count == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}

	var rows []eventRow

	err = db.Where("match_id = ?", matchID).Order("seq asc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]verification.Event, 0, len(rows))

	for _, row := range rows {
		var event verification.Event

		err := json.Unmarshal([]byte(row.Body), &event)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %s: %w", row.ID, err)
		}

		events = append(events, event)
	}

	return events, nil
}

func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	return tx
}

func loadRows(db *gorm.DB, id string, lock bool) (*verification.MatchResult, error) {
	query := db
	if lock {
		query = forUpdate(db)
	}

	var row matchRow

	err := query.Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load match %s: %w", id, err)
	}

	var entries []verificationRow

	err = db.Where("match_id = ?", id).Order("seq asc").Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load verifications for %s: %w", id, err)
	}

	return fromRows(row, entries)
}

func insertVerifications(tx *gorm.DB, id string, offset int, verifications []verification.Verification) error {
	if len(verifications) == 0 {
		return nil
	}

	rows := make([]verificationRow, 0, len(verifications))

	for i, v := range verifications {
		row := verificationRow{
			MatchID:      id,
			Seq:          offset + i,
			Attester:     v.Attester,
			AttesterName: v.AttesterName,
			Team:         string(v.Team),
			Role:         string(v.Role),
			Tier:         string(v.Tier),
			Verified:     v.Verified,
			Reason:       v.Reason,
			Timestamp:    v.Timestamp,
		}

		if v.Claim != nil {
			home, away := v.Claim.Home, v.Claim.Away
			row.ClaimHome = &home
			row.ClaimAway = &away
		}

		rows = append(rows, row)
	}

	err := tx.Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to append verifications: %w", err)
	}

	return nil
}

func toMatchRow(match *verification.MatchResult) (matchRow, error) {
	row := matchRow{
		ID:                    match.ID,
		HomeTeam:              match.HomeTeam,
		AwayTeam:              match.AwayTeam,
		HomeKey:               slug.Make(match.HomeTeam),
		AwayKey:               slug.Make(match.AwayTeam),
		HomeScore:             match.HomeScore,
		AwayScore:             match.AwayScore,
		Submitter:             match.Submitter,
		SubmitterTeam:         string(match.SubmitterTeam),
		SubmittedAt:           match.SubmittedAt,
		Status:                string(match.Status),
		RequiredVerifications: match.RequiredVerifications,
		TrustScore:            match.TrustScore,
		Resolution:            "",
		FlaggedForReview:      match.FlaggedForReview,
		FinalizedAt:           match.FinalizedAt,
	}

	if match.Resolution != nil {
		data, err := json.Marshal(match.Resolution)
		if err != nil {
			return row, fmt.Errorf("failed to marshal resolution: %w", err)
		}

		row.Resolution = string(data)
	}

	return row, nil
}

func fromRows(row matchRow, entries []verificationRow) (*verification.MatchResult, error) {
	match := &verification.MatchResult{
		ID:                    row.ID,
		HomeTeam:              row.HomeTeam,
		AwayTeam:              row.AwayTeam,
		HomeScore:             row.HomeScore,
		AwayScore:             row.AwayScore,
		Submitter:             row.Submitter,
		SubmitterTeam:         verification.Side(row.SubmitterTeam),
		SubmittedAt:           row.SubmittedAt,
		Verifications:         make([]verification.Verification, 0, len(entries)),
		Status:                verification.Status(row.Status),
		RequiredVerifications: row.RequiredVerifications,
		TrustScore:            row.TrustScore,
		FlaggedForReview:      row.FlaggedForReview,
		FinalizedAt:           row.FinalizedAt,
	}

	if row.Resolution != "" {
		var resolution verification.Resolution

		err := json.Unmarshal([]byte(row.Resolution), &resolution)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal resolution for %s: %w", row.ID, err)
		}

		match.Resolution = &resolution
	}

	for _, entry := range entries {
		v := verification.Verification{
			Attester:     entry.Attester,
			AttesterName: entry.AttesterName,
			Team:         verification.Side(entry.Team),
			Role:         verification.Role(entry.Role),
			Tier:         verification.Tier(entry.Tier),
			Verified:     entry.Verified,
			Reason:       entry.Reason,
			Timestamp:    entry.Timestamp,
		}

		if entry.ClaimHome != nil && entry.ClaimAway != nil {
			v.Claim = &verification.Score{Home: *entry.ClaimHome, Away: *entry.ClaimAway}
		}

		match.Verifications = append(match.Verifications, v)
	}

	match.Consensus = verification.CheckConsensus(match)

	return match, nil
}
