package reputation

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/vreid/kakunin/internal/pkg/common"
	"github.com/vreid/kakunin/internal/pkg/verification"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const (
	DefaultReputation = 1000
	AgreementReward   = 50
	MisreportPenalty  = 100
)

var (
	ErrScoresBucketNotFound = errors.New("reputation scores bucket doesn't exist")
	ErrCountBucketNotFound  = errors.New("reputation count bucket doesn't exist")
)

type ReputationService struct {
	DatabaseService *common.DatabaseService
	Logger          *zap.Logger

	OutcomeSource <-chan Outcome
}

func NewReputationService(i do.Injector) (*ReputationService, error) {
	databaseService := do.MustInvoke[*common.DatabaseService](i)
	logger := do.MustInvoke[*zap.Logger](i).Named("reputation")
	outcomeSource := do.MustInvokeNamed[<-chan Outcome](i, "outcome-source")

	result := &ReputationService{
		DatabaseService: databaseService,
		Logger:          logger,

		OutcomeSource: outcomeSource,
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(func(e *echo.Echo) {
		apiGroup := e.Group("/api")

		apiGroup.GET("/reputation/:attester", result.GetStanding)
	})

	return result, nil
}

func (s *ReputationService) Start() {
	go s.processOutcomes()
}

// Agrees reports whether an attestation stood behind the settled score. A
// dispute without a counter-claim agrees when the submitted score was overturned.
func Agrees(v verification.Verification, submitted, final verification.Score) bool {
	if v.Claim != nil {
		return *v.Claim == final
	}

	if v.Verified {
		return submitted == final
	}

	return submitted != final
}

func Adjust(reputation int64, agreed bool) int64 {
	if agreed {
		return reputation + AgreementReward
	}

	return max(0, reputation-MisreportPenalty)
}

func (s *ReputationService) HandleOutcome(outcome Outcome) error {
	//nolint:wrapcheck
	return s.DatabaseService.DB.Update(func(tx *bbolt.Tx) error {
		scores := tx.Bucket([]byte(common.ReputationScoresBucket))
		if scores == nil {
			return ErrScoresBucketNotFound
		}

		count := tx.Bucket([]byte(common.ReputationCountBucket))
		if count == nil {
			return ErrCountBucketNotFound
		}

		for _, v := range outcome.Verifications {
			key := []byte(v.Attester)

			reputation := common.BytesToInt64(scores.Get(key), DefaultReputation)
			attestations := common.BytesToInt64(count.Get(key), 0)

			reputation = Adjust(reputation, Agrees(v, outcome.Submitted, outcome.Final))

			err := scores.Put(key, common.Int64ToBytes(reputation))
			if err != nil {
				return fmt.Errorf("failed to put reputation: %w", err)
			}

			err = count.Put(key, common.Int64ToBytes(attestations+1))
			if err != nil {
				return fmt.Errorf("failed to put attestation count: %w", err)
			}
		}

		return nil
	})
}

func (s *ReputationService) Standing(attester string) (Standing, error) {
	result := Standing{
		Attester:     attester,
		Reputation:   DefaultReputation,
		Attestations: 0,
		Tier:         "",
	}

	err := s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		scores := tx.Bucket([]byte(common.ReputationScoresBucket))
		if scores == nil {
			return ErrScoresBucketNotFound
		}

		count := tx.Bucket([]byte(common.ReputationCountBucket))
		if count == nil {
			return ErrCountBucketNotFound
		}

		result.Reputation = common.BytesToInt64(scores.Get([]byte(attester)), DefaultReputation)
		result.Attestations = common.BytesToInt64(count.Get([]byte(attester)), 0)

		return nil
	})
	if err != nil {
		return result, fmt.Errorf("failed to read reputation: %w", err)
	}

	result.Tier = verification.TierForReputation(result.Reputation)

	return result, nil
}

// TierFor is the default trust tier for attestations that don't name one.
func (s *ReputationService) TierFor(attester string) (verification.Tier, error) {
	standing, err := s.Standing(attester)
	if err != nil {
		return "", err
	}

	return standing.Tier, nil
}

func (s *ReputationService) GetStanding(c echo.Context) error {
	attester := c.Param("attester")
	if attester == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "attester is required")
	}

	standing, err := s.Standing(attester)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read reputation")
	}

	//nolint:wrapcheck
	return c.JSONPretty(http.StatusOK, standing, "  ")
}

func (s *ReputationService) processOutcomes() {
	for outcome := range s.OutcomeSource {
		err := s.HandleOutcome(outcome)
		if err != nil {
			s.Logger.Error("failed to apply outcome",
				zap.String("match_id", outcome.MatchID),
				zap.Error(err))

			continue
		}

		s.Logger.Info("applied outcome",
			zap.String("match_id", outcome.MatchID),
			zap.Stringer("final", outcome.Final),
			zap.Int("attestations", len(outcome.Verifications)))
	}
}
