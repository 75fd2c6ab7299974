package placement

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNotFound is returned when an ad or payment is missing or not visible
// to the caller.
var ErrNotFound = errors.New("not found")

// ValidationError wraps a user-facing validation message. Input is rejected
// before anything is read or written.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// Code is the machine-checkable reason of a Rejection.
type Code string

const (
	CodeInvalidState     Code = "INVALID_STATE"
	CodeAlreadyProcessed Code = "ALREADY_PROCESSED"
	CodeQuotaExhausted   Code = "QUOTA_EXHAUSTED"
	CodeCooldown         Code = "COOLDOWN"
	CodeNotAllowed       Code = "NOT_ALLOWED"
	CodeForbidden        Code = "FORBIDDEN"
	CodePaymentPending   Code = "PAYMENT_PENDING"
	CodeNoFreeCredit     Code = "NO_FREE_CREDIT"
	CodePaymentDeclined  Code = "PAYMENT_DECLINED"
)

// Rejection is a state-guard violation. It carries enough of the current
// state for the caller to correct itself, and guarantees nothing was
// mutated.
type Rejection struct {
	Code Code   `json:"code"`
	Msg  string `json:"error"`

	Status           string     `json:"status,omitempty"`
	Used             *int       `json:"used,omitempty"`
	Limit            *int       `json:"limit,omitempty"`
	NextAvailable    *time.Time `json:"nextAvailable,omitempty"`
	RemainingMinutes *int       `json:"remainingMinutes,omitempty"`
}

func (e *Rejection) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Msg) }

// IsRejection reports whether err is a business-rule rejection with code c.
func IsRejection(err error, c Code) bool {
	var r *Rejection
	return errors.As(err, &r) && r.Code == c
}

func invalidState(what string, current AdStatus) *Rejection {
	return &Rejection{
		Code:   CodeInvalidState,
		Msg:    fmt.Sprintf("%s is not allowed while the ad is %s", what, current),
		Status: string(current),
	}
}

func alreadyProcessed(p *Payment) *Rejection {
	return &Rejection{
		Code:   CodeAlreadyProcessed,
		Msg:    fmt.Sprintf("payment %s already processed", p.OrderID),
		Status: string(p.Status),
	}
}

func quotaExhausted(used, limit int) *Rejection {
	return &Rejection{
		Code:  CodeQuotaExhausted,
		Msg:   fmt.Sprintf("daily jump quota used (%d/%d)", used, limit),
		Used:  &used,
		Limit: &limit,
	}
}

func editsExhausted(used, limit int) *Rejection {
	return &Rejection{
		Code:  CodeQuotaExhausted,
		Msg:   fmt.Sprintf("edit quota used (%d/%d)", used, limit),
		Used:  &used,
		Limit: &limit,
	}
}

// cooldownActive reports the exact next slot and the remaining time rounded
// up to whole minutes for display.
func cooldownActive(next, now time.Time) *Rejection {
	mins := int(math.Ceil(next.Sub(now).Minutes()))
	return &Rejection{
		Code:             CodeCooldown,
		Msg:              fmt.Sprintf("next jump available in %d minute(s)", mins),
		NextAvailable:    &next,
		RemainingMinutes: &mins,
	}
}

func forbidden(reason string) *Rejection {
	return &Rejection{Code: CodeForbidden, Msg: reason}
}
