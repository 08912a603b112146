package httpapi

import (
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/sensor-dashboard/internal/readings"
)

var validate = newValidator()

// newValidator registers "range_token", which accepts exactly the tokens the
// resolver knows.
func newValidator() *validator.Validate {
	v := validator.New()
	err := v.RegisterValidation("range_token", func(fl validator.FieldLevel) bool {
		return slices.Contains(readings.RangeTokens(), fl.Field().String())
	})
	if err != nil {
		panic(err)
	}
	return v
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *readings.Service) {
	data := func(c *fiber.Ctx) error {
		q, err := parseRangeQuery(c, service.StrictRange())
		if err != nil {
			return err
		}

		result, _, err := service.Query(c.UserContext(), q)
		if err != nil {
			return err
		}
		return c.JSON(result)
	}

	// Older dashboards still poll the unversioned path.
	app.Get("/api/data", data)

	v1 := app.Group("/api/v1")
	v1.Get("/data", data)

	v1.Get("/current", func(c *fiber.Ctx) error {
		q, err := parseRangeQuery(c, service.StrictRange())
		if err != nil {
			return err
		}

		summary, _, err := service.Current(c.UserContext(), q)
		if err != nil {
			return err
		}
		return c.JSON(summary)
	})

	v1.Get("/series", func(c *fiber.Ctx) error {
		keys, err := service.Series(c.UserContext())
		if err != nil {
			return err
		}

		out := make([]string, 0, len(keys))
		for _, k := range keys {
			out = append(out, k.String())
		}
		return c.JSON(out)
	})
}

// ErrorHandler renders every handler error as {"error":true,"message":...}.
// Unavailable sources also name the failing source.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var unavailable *readings.SourceUnavailableError
	switch {
	case errors.As(err, &unavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   true,
			"message": "reading store unavailable",
			"source":  unavailable.Source,
		})
	case errors.Is(err, readings.ErrInvalidRange):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}

	code := fiber.StatusInternalServerError
	message := "internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}

// rangeQuery holds the query parameters shared by the data endpoints.
// The tags only apply in strict mode.
type rangeQuery struct {
	Range string `validate:"omitempty,range_token"`
	Start string `validate:"required_with=End"`
	End   string `validate:"required_with=Start"`
}

func parseRangeQuery(c *fiber.Ctx, strict bool) (readings.RangeQuery, error) {
	q := rangeQuery{
		Range: c.Query("range"),
		Start: c.Query("start"),
		End:   c.Query("end"),
	}

	if strict {
		if err := validate.Struct(q); err != nil {
			return readings.RangeQuery{}, fmt.Errorf("%w: %v", readings.ErrInvalidRange, err)
		}
	}

	return readings.RangeQuery{Range: q.Range, Start: q.Start, End: q.End}, nil
}
