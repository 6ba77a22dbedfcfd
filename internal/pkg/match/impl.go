package match

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/samber/do/v2"
	"github.com/vreid/kakunin/internal/pkg/common"
	"github.com/vreid/kakunin/internal/pkg/ledger"
	"github.com/vreid/kakunin/internal/pkg/notify"
	"github.com/vreid/kakunin/internal/pkg/reputation"
	"github.com/vreid/kakunin/internal/pkg/verification"
	"go.uber.org/zap"
)

type TierSource interface {
	TierFor(attester string) (verification.Tier, error)
}

type MatchService struct {
	Repository ledger.Repository
	Publisher  notify.Publisher
	Tiers      TierSource
	Logger     *zap.Logger

	OutcomeSink chan<- reputation.Outcome

	Policy          verification.Policy
	SignatureSecret string

	Validate  *validator.Validate
	Sanitizer *bluemonday.Policy

	Now func() time.Time
}

func NewMatchService(i do.Injector) (*MatchService, error) {
	repository := do.MustInvoke[ledger.Repository](i)
	publisher := do.MustInvoke[notify.Publisher](i)
	reputationService := do.MustInvoke[*reputation.ReputationService](i)
	logger := do.MustInvoke[*zap.Logger](i).Named("match")

	outcomeSink := do.MustInvokeNamed[chan<- reputation.Outcome](i, "outcome-sink")

	policy := do.MustInvokeNamed[verification.Policy](i, "policy")
	signatureSecret := do.MustInvokeNamed[string](i, "signature-secret")

	result := &MatchService{
		Repository: repository,
		Publisher:  publisher,
		Tiers:      reputationService,
		Logger:     logger,

		OutcomeSink: outcomeSink,

		Policy:          policy,
		SignatureSecret: signatureSecret,

		Validate:  NewValidator(),
		Sanitizer: bluemonday.StrictPolicy(),

		Now: time.Now,
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(result.Routes)

	return result, nil
}

// NewValidator reports field errors under their JSON or query names.
func NewValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		for _, key := range []string{"json", "query"} {
			name, _, _ := strings.Cut(field.Tag.Get(key), ",")
			if name != "" && name != "-" {
				return name
			}
		}

		return field.Name
	})

	return validate
}

func (s *MatchService) Submit(ctx context.Context, req SubmitRequest) (*verification.MatchResult, error) {
	err := s.Validate.Struct(req)
	if err != nil {
		return nil, fmt.Errorf("invalid submission: %w", err)
	}

	matchID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate match ID: %w", err)
	}

	match, err := s.Policy.NewMatchResult(
		matchID.String(),
		req.HomeTeam,
		req.AwayTeam,
		*req.HomeScore,
		*req.AwayScore,
		req.Submitter,
		verification.Side(req.SubmitterTeam),
		s.Now().UTC())
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	err = s.Repository.Create(ctx, match)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	s.Logger.Info("match submitted",
		zap.String("match_id", match.ID),
		zap.String("submitter", match.Submitter),
		zap.Stringer("score", match.Score()))

	s.publish(ctx, match)

	return match, nil
}

func (s *MatchService) Verify(ctx context.Context, matchID string, req VerifyRequest) (*verification.MatchResult, error) {
	err := s.Validate.Struct(req)
	if err != nil {
		return nil, fmt.Errorf("invalid verification: %w", err)
	}

	tier := verification.Tier(req.Tier)
	if tier == "" {
		tier, err = s.Tiers.TierFor(req.Attester)
		if err != nil {
			return nil, fmt.Errorf("failed to look up trust tier: %w", err)
		}
	}

	entry := verification.Verification{
		Attester:     req.Attester,
		AttesterName: s.Sanitizer.Sanitize(req.AttesterName),
		Team:         verification.Side(req.Team),
		Role:         verification.Role(req.Role),
		Tier:         tier,
		Verified:     *req.Verified,
		Claim:        req.Claim.score(),
		Reason:       strings.TrimSpace(s.Sanitizer.Sanitize(req.Reason)),
		Timestamp:    s.Now().UTC(),
	}

	var previous verification.Status

	match, err := s.Repository.Mutate(ctx, matchID, func(match *verification.MatchResult) error {
		previous = match.Status

		return s.Policy.Attest(match, entry)
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	s.Logger.Info("verification recorded",
		zap.String("match_id", match.ID),
		zap.String("attester", entry.Attester),
		zap.Bool("verified", entry.Verified),
		zap.String("status", string(match.Status)),
		zap.Int("trust_score", match.TrustScore))

	if previous != verification.StatusVerified && match.Status == verification.StatusVerified {
		s.settle(ctx, match, match.Score())
	}

	s.publish(ctx, match)

	return match, nil
}

func (s *MatchService) Get(ctx context.Context, matchID string) (*verification.MatchResult, error) {
	//nolint:wrapcheck
	return s.Repository.Get(ctx, matchID)
}

func (s *MatchService) List(ctx context.Context, query ListQuery) (ledger.Page, error) {
	err := s.Validate.Struct(query)
	if err != nil {
		return ledger.Page{}, fmt.Errorf("invalid query: %w", err)
	}

	//nolint:wrapcheck
	return s.Repository.List(ctx, ledger.Filter{
		Status: verification.Status(query.Status),
		Team:   query.Team,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
}

// Eligibility runs the acceptance gate without recording anything. An empty
// role is treated as a captain.
func (s *MatchService) Eligibility(ctx context.Context, matchID string, query EligibilityQuery) (verification.Decision, error) {
	err := s.Validate.Struct(query)
	if err != nil {
		return verification.Decision{}, fmt.Errorf("invalid query: %w", err)
	}

	match, err := s.Repository.Get(ctx, matchID)
	if err != nil {
		return verification.Decision{}, err //nolint:wrapcheck
	}

	role := verification.Role(query.Role)
	if role == "" {
		role = verification.RoleCaptain
	}

	return s.Policy.CanVerify(match, query.Attester, role), nil
}

func (s *MatchService) Resolve(ctx context.Context, matchID string) (verification.Resolution, error) {
	match, err := s.Repository.Get(ctx, matchID)
	if err != nil {
		return verification.Resolution{}, err //nolint:wrapcheck
	}

	if match.Status == verification.StatusFinalized && match.Resolution != nil {
		return *match.Resolution, nil
	}

	//nolint:wrapcheck
	return verification.ResolveDispute(match)
}

func (s *MatchService) Finalize(ctx context.Context, matchID string, req FinalizeRequest) (*verification.MatchResult, error) {
	err := s.Validate.Struct(req)
	if err != nil {
		return nil, fmt.Errorf("invalid finalization: %w", err)
	}

	var (
		previous  verification.Status
		submitted verification.Score
	)

	match, err := s.Repository.Mutate(ctx, matchID, func(match *verification.MatchResult) error {
		previous = match.Status
		submitted = match.Score()

		return s.Policy.Finalize(match, req.Score.score(), s.Now().UTC())
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	s.Logger.Info("match finalized",
		zap.String("match_id", match.ID),
		zap.String("from", string(previous)),
		zap.Stringer("score", match.Score()))

	if previous == verification.StatusDisputed {
		s.settle(ctx, match, submitted)
	}

	s.publish(ctx, match)

	return match, nil
}

func (s *MatchService) AddEvent(ctx context.Context, matchID string, req EventRequest) (verification.Event, error) {
	err := s.Validate.Struct(req)
	if err != nil {
		return verification.Event{}, fmt.Errorf("invalid event: %w", err)
	}

	payload, err := verification.DecodePayload(req.Kind, req.Payload)
	if err != nil {
		return verification.Event{}, err //nolint:wrapcheck
	}

	eventID, err := uuid.NewV7()
	if err != nil {
		return verification.Event{}, fmt.Errorf("failed to generate event ID: %w", err)
	}

	event := verification.Event{
		ID:        eventID.String(),
		MatchID:   matchID,
		Minute:    req.Minute,
		Timestamp: s.Now().UTC(),
		Payload:   payload,
		Metadata:  req.Metadata,
	}

	return event, s.RecordEvent(ctx, event)
}

// RecordEvent validates and appends a fully formed event to the timeline.
func (s *MatchService) RecordEvent(ctx context.Context, event verification.Event) error {
	err := event.Validate()
	if err != nil {
		return err //nolint:wrapcheck
	}

	err = s.Repository.AppendEvent(ctx, event)
	if err != nil {
		return err //nolint:wrapcheck
	}

	s.Logger.Info("event recorded",
		zap.String("match_id", event.MatchID),
		zap.String("event_id", event.ID),
		zap.String("kind", string(event.Kind())))

	err = s.Publisher.Publish(ctx, notify.MatchTopic(event.MatchID), event)
	if err != nil {
		s.Logger.Warn("failed to publish event", zap.String("match_id", event.MatchID), zap.Error(err))
	}

	return nil
}

func (s *MatchService) Events(ctx context.Context, matchID string) ([]verification.Event, error) {
	//nolint:wrapcheck
	return s.Repository.Events(ctx, matchID)
}

func (s *MatchService) Receipt(ctx context.Context, matchID string) (*SignedReceipt, error) {
	match, err := s.Repository.Get(ctx, matchID)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return CreateReceipt(match, []byte(s.SignatureSecret), s.Now())
}

func (s *MatchService) VerifyReceipt(receipt SignedReceipt) bool {
	return VerifyReceipt(receipt, []byte(s.SignatureSecret))
}

func (s *MatchService) settle(ctx context.Context, match *verification.MatchResult, submitted verification.Score) {
	if s.OutcomeSink == nil {
		return
	}

	outcome := reputation.Outcome{
		MatchID:       match.ID,
		Submitted:     submitted,
		Final:         match.Score(),
		Verifications: match.Verifications,
	}

	select {
	case s.OutcomeSink <- outcome:
	case <-ctx.Done():
		s.Logger.Warn("dropped outcome", zap.String("match_id", match.ID), zap.Error(ctx.Err()))
	}
}

func (s *MatchService) publish(ctx context.Context, match *verification.MatchResult) {
	err := s.Publisher.Publish(ctx, notify.MatchTopic(match.ID), NewMatchView(match))
	if err != nil {
		s.Logger.Warn("failed to publish match", zap.String("match_id", match.ID), zap.Error(err))
	}
}
