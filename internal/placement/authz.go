package placement

import "fmt"

// Role of the caller as forwarded by the Gateway.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ParseRole maps the x-user-role header; anything but ADMIN is a user.
func ParseRole(s string) Role {
	if Role(s) == RoleAdmin {
		return RoleAdmin
	}
	return RoleUser
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string
	Role   Role
}

// System is the actor used by scheduled jobs and gateway callbacks.
var System = Actor{UserID: "system", Role: RoleAdmin}

// Capability names an operation that needs an authorization decision.
type Capability string

const (
	CapCreateAd       Capability = "ad:create"
	CapViewAd         Capability = "ad:view"
	CapEditAd         Capability = "ad:edit"
	CapJumpAd         Capability = "ad:jump"
	CapPurchase       Capability = "ad:purchase"
	CapVerifyBusiness Capability = "ad:verify"
	CapModerateAd     Capability = "ad:moderate"
	CapGrantCredits   Capability = "account:grant"
	CapViewAccount    Capability = "account:view"
	CapViewPayment    Capability = "payment:view"
	CapCancelPayment  Capability = "payment:cancel"
	CapApprovePayment Capability = "payment:approve"
	CapRefundPayment  Capability = "payment:refund"
)

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision              { return Decision{Allowed: true} }
func deny(reason string) Decision  { return Decision{Reason: reason} }
func (d Decision) err() *Rejection { return forbidden(d.Reason) }

// Authorize decides whether actor may exercise c. ownerID is the owning
// user of the target ad or payment; it is ignored for capabilities that do
// not target an existing resource.
func Authorize(actor Actor, c Capability, ownerID string) Decision {
	if actor.UserID == "" {
		return deny("missing caller identity")
	}
	switch c {
	case CapCreateAd:
		return allow()
	case CapModerateAd, CapApprovePayment, CapRefundPayment, CapGrantCredits:
		if actor.Role == RoleAdmin {
			return allow()
		}
		return deny(fmt.Sprintf("%s requires the admin role", c))
	case CapViewAd, CapViewPayment, CapCancelPayment, CapViewAccount:
		if actor.Role == RoleAdmin || actor.UserID == ownerID {
			return allow()
		}
		return deny("not the owner")
	case CapEditAd, CapJumpAd, CapPurchase, CapVerifyBusiness:
		if actor.UserID == ownerID {
			return allow()
		}
		return deny("only the owner can do this")
	}
	return deny(fmt.Sprintf("unknown capability %q", c))
}

func authorize(actor Actor, c Capability, ownerID string) error {
	if d := Authorize(actor, c, ownerID); !d.Allowed {
		return d.err()
	}
	return nil
}
