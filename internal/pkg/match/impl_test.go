package match_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/kakunin/internal/pkg/common"
	"github.com/vreid/kakunin/internal/pkg/ledger"
	"github.com/vreid/kakunin/internal/pkg/match"
	"github.com/vreid/kakunin/internal/pkg/notify"
	"github.com/vreid/kakunin/internal/pkg/reputation"
	"github.com/vreid/kakunin/internal/pkg/verification"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	topics []string
}

func (r *recorder) Publish(_ context.Context, topic string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.topics = append(r.topics, topic)

	return nil
}

func (r *recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string{}, r.topics...)
}

type harness struct {
	handler    http.Handler
	service    *match.MatchService
	reputation *reputation.ReputationService
	published  *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	outcomes := make(chan reputation.Outcome, 100)

	var (
		outcomeSource <-chan reputation.Outcome = outcomes
		outcomeSink   chan<- reputation.Outcome = outcomes
	)

	i := do.New()
	do.ProvideNamedValue(i, "port", 0)
	do.ProvideNamedValue(i, "data-dir", t.TempDir())
	do.ProvideNamedValue(i, "store", common.StoreBolt)
	do.ProvideNamedValue(i, "database-url", "")
	do.ProvideNamedValue(i, "valkey-addr", "")
	do.ProvideNamedValue(i, "signature-secret", "secret")
	do.ProvideNamedValue(i, "policy", verification.DefaultPolicy())
	do.ProvideNamedValue(i, "outcome-source", outcomeSource)
	do.ProvideNamedValue(i, "outcome-sink", outcomeSink)
	do.ProvideValue(i, zap.NewNop())

	do.Provide(i, common.NewDatabaseService)
	do.Provide(i, common.NewEchoService)
	do.Provide(i, ledger.NewRepository)
	do.Provide(i, notify.NewPublisher)
	do.Provide(i, reputation.NewReputationService)
	do.Provide(i, match.NewMatchService)

	service := do.MustInvoke[*match.MatchService](i)
	reputationService := do.MustInvoke[*reputation.ReputationService](i)
	reputationService.Start()

	published := &recorder{}
	service.Publisher = published

	t.Cleanup(func() {
		close(outcomes)

		_ = i.Shutdown()
	})

	return &harness{
		handler:    do.MustInvoke[*common.EchoService](i).Handler(),
		service:    service,
		reputation: reputationService,
		published:  published,
	}
}

func (h *harness) call(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader

	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var result T

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result), rec.Body.String())

	return result
}

func message(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	return decode[map[string]string](t, rec)["message"]
}

type view struct {
	verification.MatchResult

	Progress int `json:"progress"`
}

func (h *harness) submit(t *testing.T) view {
	t.Helper()

	rec := h.call(t, http.MethodPost, "/api/matches", map[string]any{
		"home_team":      "Riverside FC",
		"away_team":      "Hill Rovers",
		"home_score":     3,
		"away_score":     1,
		"submitter":      "alice",
		"submitter_team": "home",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	return decode[view](t, rec)
}

func attestation(attester, team, tier string, verified bool) map[string]any {
	return map[string]any{
		"attester":   attester,
		"team":       team,
		"role":       "captain",
		"trust_tier": tier,
		"verified":   verified,
	}
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	created := h.submit(t)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, verification.StatusPending, created.Status)
	assert.Equal(t, 3, created.RequiredVerifications)
	assert.Equal(t, 0, created.Progress)
	assert.Equal(t, 0, created.TrustScore)

	rec := h.call(t, http.MethodGet, "/api/matches/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Riverside FC", decode[view](t, rec).HomeTeam)

	assert.Equal(t, []string{notify.MatchTopic(created.ID)}, h.published.Topics())
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	rec := h.call(t, http.MethodPost, "/api/matches", map[string]any{
		"home_team":      "Riverside FC",
		"away_team":      "riverside fc",
		"home_score":     0,
		"away_score":     0,
		"submitter":      "alice",
		"submitter_team": "home",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, message(t, rec), "away_team")

	rec = h.call(t, http.MethodPost, "/api/matches", map[string]any{
		"home_team":      "Riverside FC",
		"away_team":      "Hill Rovers",
		"away_score":     -1,
		"submitter":      "alice",
		"submitter_team": "middle",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, message(t, rec), "home_score failed required")
	assert.Contains(t, message(t, rec), "submitter_team failed oneof")

	rec = h.call(t, http.MethodGet, "/api/matches/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerificationReachesConsensus(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	created := h.submit(t)
	path := "/api/matches/" + created.ID + "/verifications"

	rec := h.call(t, http.MethodPost, path, attestation("home-captain", "home", "gold", true))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	current := decode[view](t, rec)
	assert.Equal(t, verification.StatusPending, current.Status)
	assert.Equal(t, 33, current.Progress)
	assert.Equal(t, 67, current.TrustScore)
	assert.True(t, current.Consensus.HomeSubmitted)
	assert.False(t, current.Consensus.AwaySubmitted)

	rec = h.call(t, http.MethodPost, path, attestation("home-captain", "home", "gold", true))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, verification.ReasonAlreadyVerified, message(t, rec))

	player := attestation("home-striker", "home", "gold", true)
	player["role"] = "player"

	rec = h.call(t, http.MethodPost, path, player)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, verification.ReasonNotCaptain, message(t, rec))

	rec = h.call(t, http.MethodPost, path, attestation("away-captain", "away", "silver", true))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.call(t, http.MethodPost, path, attestation("home-vice", "home", "", true))
	require.Equal(t, http.StatusCreated, rec.Code)

	current = decode[view](t, rec)
	assert.Equal(t, verification.StatusVerified, current.Status)
	assert.Equal(t, 100, current.Progress)
	assert.Equal(t, verification.TierBronze, current.Verifications[2].Tier)
	assert.True(t, current.Consensus.Resolved)
	assert.False(t, current.Consensus.Discrepancy)

	rec = h.call(t, http.MethodPost, path, attestation("away-vice", "away", "gold", true))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, verification.ReasonMatchClosed, message(t, rec))

	assert.Eventually(t, func() bool {
		standing, err := h.reputation.Standing("away-captain")

		return err == nil && standing.Reputation == 1050
	}, time.Second, 10*time.Millisecond)
}

func TestEligibility(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	created := h.submit(t)
	base := "/api/matches/" + created.ID

	rec := h.call(t, http.MethodGet, base+"/eligibility?attester=home-captain", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[verification.Decision](t, rec).Allowed)

	rec = h.call(t, http.MethodGet, base+"/eligibility?attester=fan&role=player", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, verification.Decision{Allowed: false, Reason: verification.ReasonNotCaptain},
		decode[verification.Decision](t, rec))

	rec = h.call(t, http.MethodGet, base+"/eligibility", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDisputeResolutionAndFinalize(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	created := h.submit(t)
	base := "/api/matches/" + created.ID

	rec := h.call(t, http.MethodPost, base+"/finalize", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.call(t, http.MethodGet, base+"/resolution", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.call(t, http.MethodPost, base+"/verifications", attestation("home-captain", "home", "gold", true))
	require.Equal(t, http.StatusCreated, rec.Code)

	counter := attestation("away-captain", "away", "silver", false)
	counter["claim"] = map[string]int{"home": 2, "away": 2}
	counter["reason"] = "<b>second goal</b> was offside"

	rec = h.call(t, http.MethodPost, base+"/verifications", counter)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	current := decode[view](t, rec)
	assert.Equal(t, verification.StatusDisputed, current.Status)
	assert.True(t, current.Consensus.Discrepancy)
	assert.Equal(t, "second goal was offside", current.Verifications[1].Reason)

	rec = h.call(t, http.MethodGet, base+"/resolution", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resolution := decode[verification.Resolution](t, rec)
	assert.Equal(t, verification.Score{Home: 3, Away: 1}, resolution.Score)
	assert.InDelta(t, 61.538, resolution.Confidence, 0.01)
	require.Len(t, resolution.Groups, 2)

	rec = h.call(t, http.MethodGet, base+"/receipt", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.call(t, http.MethodPost, base+"/finalize", map[string]any{
		"score": map[string]int{"home": 2, "away": 2},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	current = decode[view](t, rec)
	assert.Equal(t, verification.StatusFinalized, current.Status)
	assert.Equal(t, 2, current.HomeScore)
	assert.Equal(t, 2, current.AwayScore)
	require.NotNil(t, current.FinalizedAt)
	require.NotNil(t, current.Resolution)

	rec = h.call(t, http.MethodPost, base+"/finalize", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.call(t, http.MethodGet, base+"/resolution", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Eventually(t, func() bool {
		away, err := h.reputation.Standing("away-captain")
		if err != nil {
			return false
		}

		home, err := h.reputation.Standing("home-captain")

		return err == nil && away.Reputation == 1050 && home.Reputation == 900
	}, time.Second, 10*time.Millisecond)
}

func TestReceipts(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.service.Policy.RequiredVerifications = 1

	created, err := h.service.Submit(context.Background(), match.SubmitRequest{
		HomeTeam:      "Riverside FC",
		AwayTeam:      "Hill Rovers",
		HomeScore:     new(int),
		AwayScore:     new(int),
		Submitter:     "alice",
		SubmitterTeam: "home",
	})
	require.NoError(t, err)

	for _, req := range []map[string]any{
		attestation("home-captain", "home", "platinum", true),
		attestation("away-captain", "away", "platinum", true),
	} {
		rec := h.call(t, http.MethodPost, "/api/matches/"+created.ID+"/verifications", req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := h.call(t, http.MethodGet, "/api/matches/"+created.ID+"/receipt", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	receipt := decode[match.SignedReceipt](t, rec)
	assert.Equal(t, verification.StatusVerified, receipt.Receipt.Status)
	assert.Equal(t, 100, receipt.Receipt.TrustScore)

	rec = h.call(t, http.MethodPost, "/api/receipts/verify", receipt)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[map[string]bool](t, rec)["valid"])

	receipt.Receipt.Score.Home = 5

	rec = h.call(t, http.MethodPost, "/api/receipts/verify", receipt)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[map[string]bool](t, rec)["valid"])
}

func TestEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	created := h.submit(t)
	path := "/api/matches/" + created.ID + "/events"

	rec := h.call(t, http.MethodPost, path, map[string]any{
		"kind":     "goal",
		"minute":   23,
		"payload":  map[string]any{"player_id": "p-9", "team": "home"},
		"metadata": map[string]any{"source": "referee-app"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = h.call(t, http.MethodPost, path, map[string]any{
		"kind":    "card",
		"payload": map[string]any{"player_id": "p-4", "team": "away", "color": "red"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = h.call(t, http.MethodPost, path, map[string]any{
		"kind":    "corner",
		"payload": map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.call(t, http.MethodPost, path, map[string]any{
		"kind":    "goal",
		"minute":  200,
		"payload": map[string]any{"player_id": "p-9", "team": "home"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.call(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	events := decode[[]verification.Event](t, rec)
	require.Len(t, events, 2)
	assert.Equal(t, verification.Goal{PlayerID: "p-9", Team: verification.SideHome}, events[0].Payload)
	assert.JSONEq(t, `{"source":"referee-app"}`, string(events[0].Metadata))
	assert.Equal(t, verification.EventCard, events[1].Kind())

	rec = h.call(t, http.MethodGet, "/api/matches/missing/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestList(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	for range 3 {
		h.submit(t)
	}

	rec := h.call(t, http.MethodGet, "/api/matches?team=hill-rovers&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	page := decode[struct {
		Matches []view `json:"matches"`
		Total   int    `json:"total"`
		HasMore bool   `json:"has_more"`
	}](t, rec)
	assert.Equal(t, 3, page.Total)
	assert.True(t, page.HasMore)
	assert.Len(t, page.Matches, 2)

	rec = h.call(t, http.MethodGet, "/api/matches?status=verified", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[match.MatchPage](t, rec).Total)

	rec = h.call(t, http.MethodGet, "/api/matches?limit=500", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.call(t, http.MethodGet, "/api/matches?status=unknown", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
