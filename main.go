package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"github.com/vreid/kakunin/internal/pkg/app"
	"github.com/vreid/kakunin/internal/pkg/client"
	"github.com/vreid/kakunin/internal/pkg/common"
	"github.com/vreid/kakunin/internal/pkg/match"
	"github.com/vreid/kakunin/internal/pkg/review"
	"github.com/vreid/kakunin/internal/pkg/verification"
)

var errMissingArgument = errors.New("missing argument")

func runServer(ctx context.Context, cmd *cli.Command) error {
	logger, err := common.NewLogger(cmd.Bool("log-development"))
	if err != nil {
		return err //nolint:wrapcheck
	}

	defer func() {
		_ = logger.Sync()
	}()

	i := app.New(app.Config{
		Port:    cmd.Int("port"),
		DataDir: cmd.String("data-dir"),

		Store:       cmd.String("store"),
		DatabaseURL: cmd.String("database-url"),
		ValkeyAddr:  cmd.String("valkey-addr"),

		SignatureSecret: cmd.String("signature-secret"),
		Policy: verification.Policy{
			RequiredVerifications: cmd.Int("required-verifications"),
			DisputeThreshold:      cmd.Int("dispute-threshold"),
			CaptainsOnly:          cmd.Bool("captains-only"),
		},

		ReviewInterval:  cmd.Duration("review-interval"),
		ReviewThreshold: cmd.Int("review-threshold"),
		ReviewMinAge:    cmd.Duration("review-min-age"),
	}, logger)

	//nolint:wrapcheck
	return app.Run(ctx, i)
}

func serverFlag() *cli.StringFlag {
	//nolint:exhaustruct
	return &cli.StringFlag{
		Name:    "server",
		Value:   "http://localhost:3000",
		Sources: cli.EnvVars("KAKUNIN_SERVER"),
	}
}

func newClient(cmd *cli.Command) *client.Client {
	return client.New(cmd.String("server"))
}

func firstArg(cmd *cli.Command, name string) (string, error) {
	value := cmd.Args().First()
	if value == "" {
		return "", fmt.Errorf("%w: %s", errMissingArgument, name)
	}

	return value, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	_, err = fmt.Fprintln(os.Stdout, string(data))

	//nolint:wrapcheck
	return err
}

func intPtr(v int) *int {
	return &v
}

func runSubmit(ctx context.Context, cmd *cli.Command) error {
	result, err := newClient(cmd).Submit(ctx, match.SubmitRequest{
		HomeTeam:      cmd.String("home"),
		AwayTeam:      cmd.String("away"),
		HomeScore:     intPtr(cmd.Int("home-score")),
		AwayScore:     intPtr(cmd.Int("away-score")),
		Submitter:     cmd.String("submitter"),
		SubmitterTeam: cmd.String("submitter-team"),
	})
	if err != nil {
		return err //nolint:wrapcheck
	}

	return printJSON(result)
}

func runVerify(ctx context.Context, cmd *cli.Command) error {
	matchID, err := firstArg(cmd, "match id")
	if err != nil {
		return err
	}

	verified := !cmd.Bool("dispute")

	req := match.VerifyRequest{
		Attester:     cmd.String("attester"),
		AttesterName: cmd.String("attester-name"),
		Team:         cmd.String("team"),
		Role:         cmd.String("role"),
		Tier:         cmd.String("tier"),
		Verified:     &verified,
		Claim:        nil,
		Reason:       cmd.String("reason"),
	}

	if cmd.IsSet("claim-home") || cmd.IsSet("claim-away") {
		req.Claim = &match.ClaimRequest{
			Home: intPtr(cmd.Int("claim-home")),
			Away: intPtr(cmd.Int("claim-away")),
		}
	}

	result, err := newClient(cmd).Verify(ctx, matchID, req)
	if err != nil {
		return err //nolint:wrapcheck
	}

	return printJSON(result)
}

func runShow(ctx context.Context, cmd *cli.Command) error {
	matchID := cmd.Args().First()
	if matchID == "" {
		page, err := newClient(cmd).List(ctx, match.ListQuery{
			Status: cmd.String("status"),
			Team:   cmd.String("team"),
			Limit:  cmd.Int("limit"),
			Offset: cmd.Int("offset"),
		})
		if err != nil {
			return err //nolint:wrapcheck
		}

		return printJSON(page)
	}

	result, err := newClient(cmd).Get(ctx, matchID)
	if err != nil {
		return err //nolint:wrapcheck
	}

	return printJSON(result)
}

func runResolve(ctx context.Context, cmd *cli.Command) error {
	matchID, err := firstArg(cmd, "match id")
	if err != nil {
		return err
	}

	result, err := newClient(cmd).Resolve(ctx, matchID)
	if err != nil {
		return err //nolint:wrapcheck
	}

	return printJSON(result)
}

func runFinalize(ctx context.Context, cmd *cli.Command) error {
	matchID, err := firstArg(cmd, "match id")
	if err != nil {
		return err
	}

	req := match.FinalizeRequest{Score: nil}

	if cmd.IsSet("home-score") || cmd.IsSet("away-score") {
		req.Score = &match.ClaimRequest{
			Home: intPtr(cmd.Int("home-score")),
			Away: intPtr(cmd.Int("away-score")),
		}
	}

	result, err := newClient(cmd).Finalize(ctx, matchID, req)
	if err != nil {
		return err //nolint:wrapcheck
	}

	return printJSON(result)
}

func runReceipt(ctx context.Context, cmd *cli.Command) error {
	matchID, err := firstArg(cmd, "match id")
	if err != nil {
		return err
	}

	result, err := newClient(cmd).Receipt(ctx, matchID)
	if err != nil {
		return err //nolint:wrapcheck
	}

	return printJSON(result)
}

func runReputation(ctx context.Context, cmd *cli.Command) error {
	attester, err := firstArg(cmd, "attester")
	if err != nil {
		return err
	}

	result, err := newClient(cmd).Reputation(ctx, attester)
	if err != nil {
		return err //nolint:wrapcheck
	}

	return printJSON(result)
}

//nolint:funlen,maintidx
func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	//nolint:exhaustruct
	cmd := &cli.Command{
		Name:  "kakunin",
		Usage: "match result consensus and trust scoring",
		Commands: []*cli.Command{
			{
				Name: "server",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Value:   3000, //nolint:mnd
						Sources: cli.EnvVars("KAKUNIN_PORT"),
					},
					&cli.StringFlag{
						Name:    "data-dir",
						Value:   "./kakunin/data",
						Sources: cli.EnvVars("KAKUNIN_DATA_DIR"),
					},
					&cli.StringFlag{
						Name:    "store",
						Value:   common.StoreBolt,
						Usage:   "ledger backend: bolt, postgres or sqlite",
						Sources: cli.EnvVars("KAKUNIN_STORE"),
					},
					&cli.StringFlag{
						Name:    "database-url",
						Sources: cli.EnvVars("KAKUNIN_DATABASE_URL", "DATABASE_URL"),
					},
					&cli.StringFlag{
						Name:    "valkey-addr",
						Sources: cli.EnvVars("KAKUNIN_VALKEY_ADDR"),
					},
					&cli.StringFlag{
						Name:    "signature-secret",
						Value:   "secret",
						Sources: cli.EnvVars("KAKUNIN_SIGNATURE_SECRET"),
					},
					&cli.IntFlag{
						Name:    "required-verifications",
						Value:   verification.DefaultRequiredVerifications,
						Sources: cli.EnvVars("KAKUNIN_REQUIRED_VERIFICATIONS"),
					},
					&cli.IntFlag{
						Name:    "dispute-threshold",
						Value:   verification.DefaultDisputeThreshold,
						Sources: cli.EnvVars("KAKUNIN_DISPUTE_THRESHOLD"),
					},
					&cli.BoolFlag{
						Name:    "captains-only",
						Value:   true,
						Sources: cli.EnvVars("KAKUNIN_CAPTAINS_ONLY"),
					},
					&cli.DurationFlag{
						Name:    "review-interval",
						Value:   review.DefaultInterval,
						Sources: cli.EnvVars("KAKUNIN_REVIEW_INTERVAL"),
					},
					&cli.IntFlag{
						Name:    "review-threshold",
						Value:   review.DefaultThreshold,
						Sources: cli.EnvVars("KAKUNIN_REVIEW_THRESHOLD"),
					},
					&cli.DurationFlag{
						Name:    "review-min-age",
						Value:   review.DefaultMinAge,
						Sources: cli.EnvVars("KAKUNIN_REVIEW_MIN_AGE"),
					},
					&cli.BoolFlag{
						Name:    "log-development",
						Sources: cli.EnvVars("KAKUNIN_LOG_DEVELOPMENT"),
					},
				},
				Action: runServer,
			},
			{
				Name:  "submit",
				Usage: "submit a match result",
				Flags: []cli.Flag{
					serverFlag(),
					&cli.StringFlag{Name: "home", Required: true},
					&cli.StringFlag{Name: "away", Required: true},
					&cli.IntFlag{Name: "home-score", Required: true},
					&cli.IntFlag{Name: "away-score", Required: true},
					&cli.StringFlag{Name: "submitter", Required: true},
					&cli.StringFlag{Name: "submitter-team", Value: string(verification.SideHome)},
				},
				Action: runSubmit,
			},
			{
				Name:      "verify",
				Usage:     "confirm or dispute a match result",
				ArgsUsage: "<match id>",
				Flags: []cli.Flag{
					serverFlag(),
					&cli.StringFlag{Name: "attester", Required: true},
					&cli.StringFlag{Name: "attester-name"},
					&cli.StringFlag{Name: "team", Required: true},
					&cli.StringFlag{Name: "role", Value: string(verification.RoleCaptain)},
					&cli.StringFlag{Name: "tier", Usage: "defaults to the attester's reputation tier"},
					&cli.BoolFlag{Name: "dispute"},
					&cli.IntFlag{Name: "claim-home"},
					&cli.IntFlag{Name: "claim-away"},
					&cli.StringFlag{Name: "reason"},
				},
				Action: runVerify,
			},
			{
				Name:      "show",
				Usage:     "show a match, or list matches when no id is given",
				ArgsUsage: "[match id]",
				Flags: []cli.Flag{
					serverFlag(),
					&cli.StringFlag{Name: "status"},
					&cli.StringFlag{Name: "team"},
					&cli.IntFlag{Name: "limit"},
					&cli.IntFlag{Name: "offset"},
				},
				Action: runShow,
			},
			{
				Name:      "resolve",
				Usage:     "show the weighted resolution of a disputed match",
				ArgsUsage: "<match id>",
				Flags:     []cli.Flag{serverFlag()},
				Action:    runResolve,
			},
			{
				Name:      "finalize",
				Usage:     "finalize a verified or disputed match",
				ArgsUsage: "<match id>",
				Flags: []cli.Flag{
					serverFlag(),
					&cli.IntFlag{Name: "home-score"},
					&cli.IntFlag{Name: "away-score"},
				},
				Action: runFinalize,
			},
			{
				Name:      "receipt",
				Usage:     "fetch the signed receipt of a settled match",
				ArgsUsage: "<match id>",
				Flags:     []cli.Flag{serverFlag()},
				Action:    runReceipt,
			},
			{
				Name:      "reputation",
				Usage:     "show an attester's reputation and trust tier",
				ArgsUsage: "<attester>",
				Flags:     []cli.Flag{serverFlag()},
				Action:    runReputation,
			},
		},
		DefaultCommand: "server",
	}

	err := cmd.Run(ctx, os.Args)

	stop()

	if err != nil {
		log.Fatal(err)
	}
}
