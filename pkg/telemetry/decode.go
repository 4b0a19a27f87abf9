package telemetry

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// ErrMalformedReport wraps every decoding failure: bad JSON, wrong types,
// missing required fields, or trailing data after the object.
var ErrMalformedReport = errors.New("malformed telemetry report")

// reportRequest is the untrusted wire form. Required fields are pointers so a
// missing key can be told apart from a legitimate zero such as lat=0.
type reportRequest struct {
	UserID    *string  `json:"user_id" validate:"required,min=1"`
	Lat       *float64 `json:"lat" validate:"required"`
	Lon       *float64 `json:"lon" validate:"required"`
	AccuracyM *float64 `json:"accuracy_m"`
	UnitLabel *string  `json:"unit_label"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report failures by their wire names, not Go field names.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// DecodeReport reads exactly one JSON object from r and returns it as a Report
// that has passed every validation rule. Errors wrap ErrMalformedReport, or one
// of the coordinate sentinels from Report.Validate.
func DecodeReport(r io.Reader) (Report, error) {
	var req reportRequest

	dec := json.NewDecoder(r)
	if err := dec.Decode(&req); err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrMalformedReport, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Report{}, fmt.Errorf("%w: unexpected data after JSON object", ErrMalformedReport)
	}

	if err := getValidator().Struct(&req); err != nil {
		return Report{}, fmt.Errorf("%w: %s", ErrMalformedReport, describeValidation(err))
	}

	report := Report{
		UserID:    *req.UserID,
		Lat:       *req.Lat,
		Lon:       *req.Lon,
		AccuracyM: req.AccuracyM,
		UnitLabel: req.UnitLabel,
	}
	if err := report.Validate(); err != nil {
		return Report{}, err
	}
	return report, nil
}

// describeValidation turns validator output into a short client-facing message.
func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}

	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", fe.Field()))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must not be empty", fe.Field()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(messages, "; ")
}
