package evaluation

import (
	"errors"
	"fmt"

	"github.com/lexiqai/weather-gateway/internal/store"
)

// ErrUnparseable is returned when the evaluator reply does not match the score schema
var ErrUnparseable = errors.New("evaluation: evaluator response could not be parsed")

// Reason a message cannot be evaluated
type Reason string

const (
	ReasonNotFound         Reason = "not_found"
	ReasonNotAssistant     Reason = "not_assistant"
	ReasonEmptyContent     Reason = "empty_content"
	ReasonAlreadyEvaluated Reason = "already_evaluated"
)

// NotEvaluableError reports why a message was skipped. Existing is set
// when the message already has an evaluation.
type NotEvaluableError struct {
	MessageID string
	Reason    Reason
	Existing  *store.Evaluation
}

func (e *NotEvaluableError) Error() string {
	return fmt.Sprintf("message %s is not evaluable: %s", e.MessageID, e.Reason)
}

// IsAlreadyEvaluated reports whether err marks a message that already has an evaluation
func IsAlreadyEvaluated(err error) bool {
	var ne *NotEvaluableError
	return errors.As(err, &ne) && ne.Reason == ReasonAlreadyEvaluated
}
