package placement

// HTTP routes. Identity comes from the x-user-id and x-user-role headers
// forwarded by the Gateway; /cron routes use a shared bearer secret.
//
//	GET  /ads                          → public listing (limit, offset)
//	POST /ads                          → checkout a new ad
//	GET  /ads/{id}                     → ad detail (counts a view)
//	POST /ads/{id}/edit                → edit title/description
//	POST /ads/{id}/jump                → manual jump
//	POST /ads/{id}/upgrade             → order a tier upgrade
//	POST /ads/{id}/renew               → order a renewal
//	POST /ads/{id}/verify              → business-number verification
//	POST /ads/{id}/click               → count a click
//	POST /quote                        → price a request without ordering
//	GET  /account                      → caller's credits and paid days
//	POST /payments/confirm             → card/wallet gateway redirect
//	GET  /payments/{id}                → payment detail
//	POST /payments/{id}/cancel         → cancel a pending order
//	POST /admin/ads/{id}/approve       → approve a free ad
//	POST /admin/ads/{id}/reject        → reject a pending ad
//	POST /admin/payments/{id}/approve  → confirm a deposit
//	POST /admin/payments/{id}/refund   → mark refunded
//	POST /admin/users/{id}/credits     → grant free listing credits
//	POST /cron/{job}                   → run one housekeeping job

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"jobmate/placement-service/internal/pricing"
)

// ─── Handler ─────────────────────────────────────────────────────────────────

// Handler exposes the Service over HTTP.
type Handler struct {
	svc        *Service
	cronSecret string
	log        *zap.Logger
}

// NewHandler returns a configured Handler.
func NewHandler(svc *Service, cronSecret string, log *zap.Logger) *Handler {
	return &Handler{svc: svc, cronSecret: cronSecret, log: log}
}

// RegisterRoutes mounts all placement routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ads", h.handleAds)
	mux.HandleFunc("/ads/", h.handleAdAction)
	mux.HandleFunc("/quote", h.handleQuote)
	mux.HandleFunc("/account", h.handleAccount)
	mux.HandleFunc("/payments/", h.handlePaymentAction)
	mux.HandleFunc("/admin/", h.handleAdmin)
	mux.HandleFunc("/cron/", h.handleCron)
}

// ─── Route dispatch ───────────────────────────────────────────────────────────

// handleAds handles GET|POST /ads
func (h *Handler) handleAds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listAds(w, r)
	case http.MethodPost:
		h.checkout(w, r)
	default:
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleAdAction handles GET /ads/{id} and POST /ads/{id}/{action}
func (h *Handler) handleAdAction(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r)
	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		h.getAd(w, r, parts[1])
		return
	case len(parts) != 3:
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	case r.Method != http.MethodPost:
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	adID, action := parts[1], parts[2]
	switch action {
	case "edit":
		h.editAd(w, r, adID)
	case "jump":
		h.jump(w, r, adID)
	case "upgrade":
		h.purchase(w, r, adID, pricing.ModeUpgrade)
	case "renew":
		h.purchase(w, r, adID, pricing.ModeRenew)
	case "verify":
		h.verify(w, r, adID)
	case "click":
		h.click(w, r, adID)
	default:
		jsonError(w, fmt.Sprintf("unknown action %q", action), http.StatusNotFound)
	}
}

// handlePaymentAction handles POST /payments/confirm, GET /payments/{id}
// and POST /payments/{id}/cancel
func (h *Handler) handlePaymentAction(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r)
	switch {
	case len(parts) == 2 && parts[1] == "confirm" && r.Method == http.MethodPost:
		h.confirmPayment(w, r)
	case len(parts) == 2 && r.Method == http.MethodGet:
		h.getPayment(w, r, parts[1])
	case len(parts) == 3 && parts[2] == "cancel" && r.Method == http.MethodPost:
		h.cancelPayment(w, r, parts[1])
	default:
		jsonError(w, "invalid path", http.StatusNotFound)
	}
}

// handleAdmin handles POST /admin/{resource}/{id}/{action}
func (h *Handler) handleAdmin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	parts := pathParts(r)
	if len(parts) != 4 {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	id := parts[2]
	switch parts[1] + "/" + parts[3] {
	case "ads/approve":
		ad, err := h.svc.ApproveAd(r.Context(), actor, id)
		h.respond(w, ad, err)
	case "ads/reject":
		var body struct {
			Reason string `json:"reason"`
		}
		if !decode(w, r, &body) {
			return
		}
		ad, err := h.svc.RejectAd(r.Context(), actor, id, body.Reason)
		h.respond(w, ad, err)
	case "payments/approve":
		p, err := h.svc.ApprovePayment(r.Context(), actor, id)
		h.respond(w, p, err)
	case "payments/refund":
		var body struct {
			Reason string `json:"reason"`
		}
		if !decode(w, r, &body) {
			return
		}
		p, err := h.svc.RefundPayment(r.Context(), actor, id, body.Reason)
		h.respond(w, p, err)
	case "users/credits":
		var body struct {
			Credits int `json:"credits"`
		}
		if !decode(w, r, &body) {
			return
		}
		acc, err := h.svc.GrantFreeCredits(r.Context(), actor, id, body.Credits)
		h.respond(w, acc, err)
	default:
		jsonError(w, "invalid path", http.StatusNotFound)
	}
}

// handleCron handles POST /cron/{job}
func (h *Handler) handleCron(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.cronAuthorized(r) {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	parts := pathParts(r)
	if len(parts) != 2 {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}
	res, err := h.svc.RunJob(r.Context(), parts[1])
	h.respond(w, res, err)
}

func (h *Handler) cronAuthorized(r *http.Request) bool {
	if h.cronSecret == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) == 1
}

// ─── Individual handlers ──────────────────────────────────────────────────────

func (h *Handler) listAds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		jsonError(w, "limit "+err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := queryInt(q.Get("offset"))
	if err != nil {
		jsonError(w, "offset "+err.Error(), http.StatusBadRequest)
		return
	}
	ads, err := h.svc.ListActiveAds(r.Context(), limit, offset)
	h.respond(w, ads, err)
}

// queryInt parses an optional non-negative query parameter; empty is 0.
func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("must be a non-negative integer, got %q", v)
	}
	return n, nil
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body CheckoutRequest
	if !decode(w, r, &body) {
		return
	}
	res, err := h.svc.Checkout(r.Context(), actor, body)
	h.respond(w, res, err)
}

func (h *Handler) getAd(w http.ResponseWriter, r *http.Request, adID string) {
	ad, err := h.svc.GetAd(r.Context(), actorFrom(r), adID)
	h.respond(w, ad, err)
}

func (h *Handler) editAd(w http.ResponseWriter, r *http.Request, adID string) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body Content
	if !decode(w, r, &body) {
		return
	}
	ad, err := h.svc.EditAd(r.Context(), actor, adID, body)
	h.respond(w, ad, err)
}

func (h *Handler) jump(w http.ResponseWriter, r *http.Request, adID string) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	res, err := h.svc.ManualJump(r.Context(), actor, adID)
	h.respond(w, res, err)
}

func (h *Handler) purchase(w http.ResponseWriter, r *http.Request, adID string, mode pricing.Mode) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body PurchaseRequest
	if !decode(w, r, &body) {
		return
	}
	var (
		res *CheckoutResult
		err error
	)
	if mode == pricing.ModeRenew {
		res, err = h.svc.RequestRenew(r.Context(), actor, adID, body)
	} else {
		res, err = h.svc.RequestUpgrade(r.Context(), actor, adID, body)
	}
	h.respond(w, res, err)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request, adID string) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body struct {
		BusinessNumber string `json:"businessNumber"`
	}
	if !decode(w, r, &body) {
		return
	}
	v, err := h.svc.VerifyBusiness(r.Context(), actor, adID, body.BusinessNumber)
	h.respond(w, v, err)
}

func (h *Handler) click(w http.ResponseWriter, r *http.Request, adID string) {
	err := h.svc.RecordClick(r.Context(), adID)
	h.respond(w, map[string]bool{"ok": true}, err)
}

func (h *Handler) handleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		ProductID        string                  `json:"productId"`
		DurationDays     int                     `json:"durationDays"`
		Options          []pricing.OptionRequest `json:"options"`
		Mode             string                  `json:"mode"`
		CurrentProductID string                  `json:"currentProductId"`
	}
	if !decode(w, r, &body) {
		return
	}
	mode, err := pricing.ParseMode(body.Mode)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	q, err := h.svc.Quote(pricing.Request{
		ProductID:        body.ProductID,
		DurationDays:     body.DurationDays,
		Options:          body.Options,
		Mode:             mode,
		CurrentProductID: body.CurrentProductID,
	})
	h.respond(w, q, err)
}

func (h *Handler) handleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	acc, err := h.svc.GetAccount(r.Context(), actor, actor.UserID)
	h.respond(w, acc, err)
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrderID    string `json:"orderId"`
		PaymentKey string `json:"paymentKey"`
		Amount     int64  `json:"amount"`
	}
	if !decode(w, r, &body) {
		return
	}
	p, err := h.svc.ConfirmGatewayPayment(r.Context(), body.OrderID, body.PaymentKey, body.Amount)
	h.respond(w, p, err)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request, paymentID string) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	p, err := h.svc.GetPayment(r.Context(), actor, paymentID)
	h.respond(w, p, err)
}

func (h *Handler) cancelPayment(w http.ResponseWriter, r *http.Request, paymentID string) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !decode(w, r, &body) {
		return
	}
	p, err := h.svc.CancelPayment(r.Context(), actor, paymentID, body.Reason)
	h.respond(w, p, err)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func pathParts(r *http.Request) []string {
	return strings.Split(strings.Trim(r.URL.Path, "/"), "/")
}

func actorFrom(r *http.Request) Actor {
	return Actor{UserID: r.Header.Get("x-user-id"), Role: ParseRole(r.Header.Get("x-user-role"))}
}

func requireActor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	actor := actorFrom(r)
	if actor.UserID == "" {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return Actor{}, false
	}
	return actor, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

// respond writes v, or maps err onto a status code.
func (h *Handler) respond(w http.ResponseWriter, v any, err error) {
	if err == nil {
		jsonOK(w, v)
		return
	}

	var (
		verr *ValidationError
		rej  *Rejection
	)
	switch {
	case errors.As(err, &verr):
		jsonError(w, verr.Msg, http.StatusBadRequest)
	case errors.As(err, &rej):
		writeJSON(w, rejectionStatus(rej.Code), rej)
	case errors.Is(err, ErrNotFound):
		jsonError(w, "not found", http.StatusNotFound)
	default:
		h.log.Error("request failed", zap.Error(err))
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func rejectionStatus(c Code) int {
	switch c {
	case CodeForbidden:
		return http.StatusForbidden
	case CodeQuotaExhausted, CodeCooldown:
		return http.StatusTooManyRequests
	default:
		return http.StatusConflict
	}
}

func jsonOK(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
