package match

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/vreid/kakunin/internal/pkg/ledger"
	"github.com/vreid/kakunin/internal/pkg/verification"
)

func (s *MatchService) Routes(e *echo.Echo) {
	apiGroup := e.Group("/api")

	matchesGroup := apiGroup.Group("/matches")

	matchesGroup.POST("", s.PostMatch)
	matchesGroup.GET("", s.GetMatches)
	matchesGroup.GET("/:id", s.GetMatch)
	matchesGroup.POST("/:id/verifications", s.PostVerification)
	matchesGroup.GET("/:id/eligibility", s.GetEligibility)
	matchesGroup.GET("/:id/resolution", s.GetResolution)
	matchesGroup.POST("/:id/finalize", s.PostFinalize)
	matchesGroup.POST("/:id/events", s.PostEvent)
	matchesGroup.GET("/:id/events", s.GetEvents)
	matchesGroup.GET("/:id/receipt", s.GetReceipt)

	apiGroup.POST("/receipts/verify", s.PostReceiptVerification)
}

func (s *MatchService) PostMatch(c echo.Context) error {
	var req SubmitRequest

	err := c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	match, err := s.Submit(c.Request().Context(), req)
	if err != nil {
		return HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSONPretty(http.StatusCreated, NewMatchView(match), "  ")
}

func (s *MatchService) GetMatches(c echo.Context) error {
	var query ListQuery

	err := new(echo.DefaultBinder).BindQueryParams(c, &query)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}

	page, err := s.List(c.Request().Context(), query)
	if err != nil {
		return HTTPError(err)
	}

	result := MatchPage{
		Matches: make([]MatchView, 0, len(page.Matches)),
		Total:   page.Total,
		HasMore: page.HasMore,
	}

	for _, match := range page.Matches {
		result.Matches = append(result.Matches, NewMatchView(match))
	}

	//nolint:wrapcheck
	return c.JSONPretty(http.StatusOK, result, "  ")
}

func (s *MatchService) GetMatch(c echo.Context) error {
	match, err := s.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSONPretty(http.StatusOK, NewMatchView(match), "  ")
}

func (s *MatchService) PostVerification(c echo.Context) error {
	var req VerifyRequest

	err := c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	match, err := s.Verify(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSONPretty(http.StatusCreated, NewMatchView(match), "  ")
}

func (s *MatchService) GetEligibility(c echo.Context) error {
	var query EligibilityQuery

	err := new(echo.DefaultBinder).BindQueryParams(c, &query)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}

	decision, err := s.Eligibility(c.Request().Context(), c.Param("id"), query)
	if err != nil {
		return HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSONPretty(http.StatusOK, decision, "  ")
}

func (s *MatchService) GetResolution(c echo.Context) error {
	resolution, err := s.Resolve(c.Request().Context(), c.Param("id"))
	if err != nil {
		return HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSONPretty(http.StatusOK, resolution, "  ")
}

func (s *MatchService) PostFinalize(c echo.Context) error {
	var req FinalizeRequest

	if c.Request().ContentLength != 0 {
		err := c.Bind(&req)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	match, err := s.Finalize(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSONPretty(http.StatusOK, NewMatchView(match), "  ")
}

func (s *MatchService) PostEvent(c echo.Context) error {
	var req EventRequest

	err := c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	event, err := s.AddEvent(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSONPretty(http.StatusCreated, event, "  ")
}

func (s *MatchService) GetEvents(c echo.Context) error {
	events, err := s.Events(c.Request().Context(), c.Param("id"))
	if err != nil {
		return HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSONPretty(http.StatusOK, events, "  ")
}

func (s *MatchService) GetReceipt(c echo.Context) error {
	receipt, err := s.Receipt(c.Request().Context(), c.Param("id"))
	if err != nil {
		return HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSONPretty(http.StatusOK, receipt, "  ")
}

func (s *MatchService) PostReceiptVerification(c echo.Context) error {
	var receipt SignedReceipt

	err := c.Bind(&receipt)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	//nolint:wrapcheck
	return c.JSONPretty(http.StatusOK, map[string]bool{"valid": s.VerifyReceipt(receipt)}, "  ")
}

// HTTPError maps service errors onto response codes: precondition violations
// are conflicts, integrity violations are bad requests.
func HTTPError(err error) error {
	var (
		precondition *verification.PreconditionError
		integrity    *verification.IntegrityError
		validation   validator.ValidationErrors
	)

	switch {
	case errors.As(err, &precondition):
		return echo.NewHTTPError(http.StatusConflict, precondition.Reason).SetInternal(err)
	case errors.As(err, &integrity):
		return echo.NewHTTPError(http.StatusBadRequest, integrity.Error()).SetInternal(err)
	case errors.As(err, &validation):
		return echo.NewHTTPError(http.StatusBadRequest, describe(validation)).SetInternal(err)
	case errors.Is(err, ledger.ErrMatchNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "match not found").SetInternal(err)
	case errors.Is(err, ledger.ErrMatchExists), errors.Is(err, ledger.ErrLedgerRewrite):
		return echo.NewHTTPError(http.StatusConflict, err.Error()).SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

func describe(validation validator.ValidationErrors) string {
	problems := make([]string, 0, len(validation))

	for _, fieldError := range validation {
		problem := fmt.Sprintf("%s failed %s", fieldError.Field(), fieldError.Tag())
		if fieldError.Param() != "" {
			problem += "=" + fieldError.Param()
		}

		problems = append(problems, problem)
	}

	return fmt.Sprintf("%s: %s", verification.ErrDataIntegrityViolation, strings.Join(problems, ", "))
}
