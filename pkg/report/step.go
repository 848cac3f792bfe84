package report

import (
	"bytes"

	"github.com/google/uuid"
)

// StepReport is an immutable record of one reportable step outcome.
// Build it with NewStepReport; WithScreenshot returns a copy.
type StepReport struct {
	id          string
	description string
	message     string
	passed      bool
	screenshot  []byte
}

// NewStepReport creates a step report with a fresh identifier.
func NewStepReport(description, message string, passed bool) StepReport {
	return StepReport{
		id:          uuid.NewString(),
		description: description,
		message:     message,
		passed:      passed,
	}
}

func (s StepReport) ID() string          { return s.id }
func (s StepReport) Description() string { return s.description }
func (s StepReport) Message() string     { return s.message }
func (s StepReport) Passed() bool        { return s.passed }

// HasScreenshot reports whether an image is attached.
func (s StepReport) HasScreenshot() bool { return len(s.screenshot) > 0 }

// Screenshot returns a copy of the attached PNG bytes, or nil.
func (s StepReport) Screenshot() []byte {
	if len(s.screenshot) == 0 {
		return nil
	}
	return bytes.Clone(s.screenshot)
}

// WithScreenshot returns a copy of s carrying png. s itself is unchanged.
func (s StepReport) WithScreenshot(png []byte) StepReport {
	out := s
	out.screenshot = bytes.Clone(png)
	return out
}

// Payload is the wire shape of a step sent to the agent. Screenshot is
// base64 encoded by encoding/json.
type Payload struct {
	ID          string `json:"id,omitempty"`
	Description string `json:"description"`
	Message     string `json:"message,omitempty"`
	Passed      bool   `json:"passed"`
	Screenshot  []byte `json:"screenshot,omitempty"`
}

// Payload converts s to its wire shape.
func (s StepReport) Payload() Payload {
	return Payload{
		ID:          s.id,
		Description: s.description,
		Message:     s.message,
		Passed:      s.passed,
		Screenshot:  s.Screenshot(),
	}
}

// FromPayload rebuilds a StepReport received over the wire.
func FromPayload(p Payload) StepReport {
	return StepReport{
		id:          p.ID,
		description: p.Description,
		message:     p.Message,
		passed:      p.Passed,
		screenshot:  bytes.Clone(p.Screenshot),
	}
}
