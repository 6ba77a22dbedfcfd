package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/gosimple/slug"
	"github.com/samber/do/v2"
	"github.com/vreid/kakunin/internal/pkg/common"
	"github.com/vreid/kakunin/internal/pkg/verification"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var (
	ErrMatchNotFound = errors.New("match not found")
	ErrMatchExists   = errors.New("match already exists")
	ErrLedgerRewrite = errors.New("recorded verifications cannot be changed or removed")
	ErrBucketMissing = errors.New("ledger bucket doesn't exist")
)

type Filter struct {
	Status verification.Status
	Team   string
	Limit  int
	Offset int
}

type Page struct {
	Matches []*verification.MatchResult `json:"matches"`
	Total   int                         `json:"total"`
	HasMore bool                        `json:"has_more"`
}

// MutateFunc may append verifications and change header fields. Returning an
// error aborts the mutation without writing anything.
type MutateFunc func(match *verification.MatchResult) error

// Repository stores match headers with their append-only verification
// ledger and event timeline. Mutate runs atomically per match.
type Repository interface {
	Create(ctx context.Context, match *verification.MatchResult) error
	Get(ctx context.Context, id string) (*verification.MatchResult, error)
	List(ctx context.Context, filter Filter) (Page, error)
	Mutate(ctx context.Context, id string, fn MutateFunc) (*verification.MatchResult, error)

	AppendEvent(ctx context.Context, event verification.Event) error
	Events(ctx context.Context, matchID string) ([]verification.Event, error)
}

func NewRepository(i do.Injector) (Repository, error) {
	store := do.MustInvokeNamed[string](i, "store")

	switch store {
	case common.StoreBolt, "":
		databaseService := do.MustInvoke[*common.DatabaseService](i)

		return NewBoltRepository(databaseService.DB), nil
	case common.StorePostgres, common.StoreSQLite:
		db, err := common.OpenGorm(store, do.MustInvokeNamed[string](i, "database-url"))
		if err != nil {
			return nil, err //nolint:wrapcheck
		}

		repository, err := NewGormRepository(db)
		if err != nil {
			return nil, err
		}

		return repository, nil
	default:
		return nil, fmt.Errorf("%w: %s", common.ErrUnknownStore, store)
	}
}

func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}

	f.Limit = min(f.Limit, MaxPageSize)
	f.Offset = max(f.Offset, 0)
	f.Team = strings.TrimSpace(f.Team)

	return f
}

func (f Filter) Matches(match *verification.MatchResult) bool {
	if f.Status != "" && match.Status != f.Status {
		return false
	}

	if f.Team != "" {
		key := slug.Make(f.Team)

		return slug.Make(match.HomeTeam) == key || slug.Make(match.AwayTeam) == key
	}

	return true
}

func page(matches []*verification.MatchResult, filter Filter) Page {
	slices.SortStableFunc(matches, func(a, b *verification.MatchResult) int {
		if c := b.SubmittedAt.Compare(a.SubmittedAt); c != 0 {
			return c
		}

		return strings.Compare(b.ID, a.ID)
	})

	total := len(matches)
	start := min(filter.Offset, total)
	end := min(start+filter.Limit, total)

	return Page{
		Matches: matches[start:end],
		Total:   total,
		HasMore: end < total,
	}
}

func checkAppendOnly(before, after []verification.Verification) error {
	if len(after) < len(before) {
		return ErrLedgerRewrite
	}

	for i := range before {
		if !sameVerification(before[i], after[i]) {
			return fmt.Errorf("%w: entry %d by %s", ErrLedgerRewrite, i, before[i].Attester)
		}
	}

	return nil
}

func sameVerification(a, b verification.Verification) bool {
	sameClaim := (a.Claim == nil && b.Claim == nil) ||
		(a.Claim != nil && b.Claim != nil && *a.Claim == *b.Claim)

	return sameClaim &&
		a.Attester == b.Attester &&
		a.AttesterName == b.AttesterName &&
		a.Team == b.Team &&
		a.Role == b.Role &&
		a.Tier == b.Tier &&
		a.Verified == b.Verified &&
		a.Reason == b.Reason &&
		a.Timestamp.Equal(b.Timestamp)
}

func snapshot(verifications []verification.Verification) []verification.Verification {
	result := make([]verification.Verification, len(verifications))

	for i, v := range verifications {
		if v.Claim != nil {
			claim := *v.Claim
			v.Claim = &claim
		}

		result[i] = v
	}

	return result
}
