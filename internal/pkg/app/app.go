package app

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/do/v2"
	"github.com/vreid/kakunin/internal/pkg/common"
	"github.com/vreid/kakunin/internal/pkg/evidence"
	"github.com/vreid/kakunin/internal/pkg/ledger"
	"github.com/vreid/kakunin/internal/pkg/match"
	"github.com/vreid/kakunin/internal/pkg/notify"
	"github.com/vreid/kakunin/internal/pkg/reputation"
	"github.com/vreid/kakunin/internal/pkg/review"
	"github.com/vreid/kakunin/internal/pkg/verification"
	"go.uber.org/zap"
)

const OutcomeBuffer = 1000

type Config struct {
	Port    int
	DataDir string

	Store       string
	DatabaseURL string
	ValkeyAddr  string

	SignatureSecret string
	Policy          verification.Policy

	ReviewInterval  time.Duration
	ReviewThreshold int
	ReviewMinAge    time.Duration
}

type KakuninService struct {
	EchoService *common.EchoService `do:""`

	MatchService      *match.MatchService           `do:""`
	EvidenceService   *evidence.EvidenceService     `do:""`
	ReputationService *reputation.ReputationService `do:""`
	ReviewService     *review.ReviewService         `do:""`
}

// New wires the service graph. Nothing is constructed until invoked.
func New(config Config, logger *zap.Logger) do.Injector {
	i := do.New()

	do.ProvideNamedValue(i, "port", config.Port)
	do.ProvideNamedValue(i, "data-dir", config.DataDir)

	do.ProvideNamedValue(i, "store", config.Store)
	do.ProvideNamedValue(i, "database-url", config.DatabaseURL)
	do.ProvideNamedValue(i, "valkey-addr", config.ValkeyAddr)

	do.ProvideNamedValue(i, "signature-secret", config.SignatureSecret)
	do.ProvideNamedValue(i, "policy", config.Policy)

	do.ProvideNamedValue(i, "review-interval", config.ReviewInterval)
	do.ProvideNamedValue(i, "review-threshold", config.ReviewThreshold)
	do.ProvideNamedValue(i, "review-min-age", config.ReviewMinAge)

	do.ProvideValue(i, logger)

	outcomeChan := make(chan reputation.Outcome, OutcomeBuffer)
	var outcomeSource <-chan reputation.Outcome = outcomeChan
	var outcomeSink chan<- reputation.Outcome = outcomeChan

	do.ProvideNamedValue(i, "outcome-source", outcomeSource)
	do.ProvideNamedValue(i, "outcome-sink", outcomeSink)

	do.Provide(i, common.NewDatabaseService)
	do.Provide(i, common.NewEchoService)

	do.Provide(i, ledger.NewRepository)
	do.Provide(i, notify.NewPublisher)

	do.Provide(i, reputation.NewReputationService)
	do.Provide(i, match.NewMatchService)
	do.Provide(i, evidence.NewEvidenceService)
	do.Provide(i, review.NewReviewService)

	do.Provide(i, do.InvokeStruct[KakuninService])

	return i
}

// Start builds the graph and starts the background workers. The HTTP server
// is left to the caller.
func Start(i do.Injector) (*KakuninService, error) {
	kakuninService, err := do.Invoke[KakuninService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create kakunin service: %w", err)
	}

	kakuninService.ReputationService.Start()

	err = kakuninService.ReviewService.Start()
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return &kakuninService, nil
}

// Run serves HTTP until ctx is cancelled, then shuts the graph down.
func Run(ctx context.Context, i do.Injector) error {
	kakuninService, err := Start(i)
	if err != nil {
		return err
	}

	logger := do.MustInvoke[*zap.Logger](i)

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- kakuninService.EchoService.Start()
	}()

	logger.Info("kakunin started")

	select {
	case err = <-serveErr:
	case <-ctx.Done():
	}

	_ = i.Shutdown()

	logger.Info("kakunin stopped")

	return err
}
