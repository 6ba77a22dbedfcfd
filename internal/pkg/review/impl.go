package review

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/samber/do/v2"
	"github.com/vreid/kakunin/internal/pkg/ledger"
	"github.com/vreid/kakunin/internal/pkg/notify"
	"github.com/vreid/kakunin/internal/pkg/verification"
	"go.uber.org/zap"
)

const (
	DefaultThreshold = 30
	DefaultMinAge    = time.Hour
	DefaultInterval  = 5 * time.Minute
)

type Notice struct {
	MatchID    string    `json:"match_id"`
	TrustScore int       `json:"trust_score"`
	Threshold  int       `json:"threshold"`
	FlaggedAt  time.Time `json:"flagged_at"`
}

// ReviewService periodically flags pending matches whose attestations carry
// too little trust to settle on their own.
type ReviewService struct {
	Repository ledger.Repository
	Publisher  notify.Publisher
	Logger     *zap.Logger

	Threshold int
	MinAge    time.Duration
	Interval  time.Duration

	Now func() time.Time

	scheduler gocron.Scheduler
}

func NewReviewService(i do.Injector) (*ReviewService, error) {
	repository := do.MustInvoke[ledger.Repository](i)
	publisher := do.MustInvoke[notify.Publisher](i)
	logger := do.MustInvoke[*zap.Logger](i).Named("review")

	threshold := do.MustInvokeNamed[int](i, "review-threshold")
	minAge := do.MustInvokeNamed[time.Duration](i, "review-min-age")
	interval := do.MustInvokeNamed[time.Duration](i, "review-interval")

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	result := &ReviewService{
		Repository: repository,
		Publisher:  publisher,
		Logger:     logger,

		Threshold: threshold,
		MinAge:    minAge,
		Interval:  interval,

		Now: time.Now,

		scheduler: scheduler,
	}

	return result, nil
}

// Start schedules the sweep. A non-positive interval disables it.
func (s *ReviewService) Start() error {
	if s.Interval <= 0 {
		s.Logger.Info("review sweep disabled")

		return nil
	}

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.Interval),
		gocron.NewTask(s.run),
		gocron.WithName("review-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule review sweep: %w", err)
	}

	s.scheduler.Start()

	s.Logger.Info("review sweep scheduled",
		zap.Duration("interval", s.Interval),
		zap.Int("threshold", s.Threshold),
		zap.Duration("min_age", s.MinAge))

	return nil
}

func (s *ReviewService) Shutdown() error {
	err := s.scheduler.Shutdown()
	if err != nil {
		return fmt.Errorf("failed to shutdown scheduler: %w", err)
	}

	return nil
}

// Due reports whether a match should be flagged at now.
func (s *ReviewService) Due(match *verification.MatchResult, now time.Time) bool {
	return !match.FlaggedForReview &&
		verification.NeedsReview(match, s.Threshold) &&
		now.Sub(match.SubmittedAt) >= s.MinAge
}

// Sweep flags every due pending match and returns how many were flagged.
func (s *ReviewService) Sweep(ctx context.Context) (int, error) {
	now := s.Now()
	due := []string{}

	filter := ledger.Filter{
		Status: verification.StatusPending,
		Limit:  ledger.MaxPageSize,
		Offset: 0,
	}

	for {
		page, err := s.Repository.List(ctx, filter)
		if err != nil {
			return 0, fmt.Errorf("failed to list pending matches: %w", err)
		}

		for _, match := range page.Matches {
			if s.Due(match, now) {
				due = append(due, match.ID)
			}
		}

		if !page.HasMore {
			break
		}

		filter.Offset += len(page.Matches)
	}

	flagged := 0

	for _, matchID := range due {
		changed := false

		match, err := s.Repository.Mutate(ctx, matchID, func(match *verification.MatchResult) error {
			changed = s.Due(match, now)
			if changed {
				match.FlaggedForReview = true
			}

			return nil
		})
		if err != nil {
			return flagged, fmt.Errorf("failed to flag match %s: %w", matchID, err)
		}

		if !changed {
			continue
		}

		flagged++

		s.Logger.Info("match flagged for review",
			zap.String("match_id", match.ID),
			zap.Int("trust_score", match.TrustScore))

		err = s.Publisher.Publish(ctx, notify.ReviewTopic, Notice{
			MatchID:    match.ID,
			TrustScore: match.TrustScore,
			Threshold:  s.Threshold,
			FlaggedAt:  now,
		})
		if err != nil {
			s.Logger.Warn("failed to publish review notice", zap.String("match_id", match.ID), zap.Error(err))
		}
	}

	return flagged, nil
}

func (s *ReviewService) run() {
	flagged, err := s.Sweep(context.Background())
	if err != nil {
		s.Logger.Error("review sweep failed", zap.Error(err))

		return
	}

	if flagged > 0 {
		s.Logger.Info("review sweep finished", zap.Int("flagged", flagged))
	}
}
