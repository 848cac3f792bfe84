package adapter

import (
	"fmt"

	apperrors "github.com/odvcencio/steplink/pkg/errors"
	"github.com/odvcencio/steplink/pkg/report"
)

// FallbackDescription is used when a failure carries no message.
const FallbackDescription = "Test Failed"

// Skip reasons returned by Classify.
const (
	ReasonPassed        = "passed"
	ReasonDriverHandled = "driver_handled"
	ReasonSDKInternal   = "sdk_internal"
	ReasonNoReporter    = "no_reporter"
)

// Decision says whether a unit's failure should be reported.
type Decision struct {
	Report bool
	Reason string
}

// Classify decides whether err is a reportable test failure. Failures the
// driver already reported and errors carrying one of the SDK's own codes
// are skipped; everything else is reported.
func Classify(err error) Decision {
	if err == nil {
		return Decision{Reason: ReasonPassed}
	}
	code, ok := apperrors.CodeOf(err)
	switch {
	case !ok:
		return Decision{Report: true}
	case code == apperrors.ErrCodeDriverHandled:
		return Decision{Reason: ReasonDriverHandled}
	case apperrors.Known(code):
		return Decision{Reason: ReasonSDKInternal}
	default:
		return Decision{Report: true}
	}
}

// Describe turns a failure into a failed step without a screenshot.
func Describe(err error) report.StepReport {
	description := FallbackDescription
	if err != nil {
		if msg := err.Error(); msg != "" {
			description = msg
		}
	}
	return report.NewStepReport(description, category(err), false)
}

func category(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T", err)
}
