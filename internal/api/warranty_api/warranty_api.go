package warranty_api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/StewartGolf/CartBox/internal/auth"
	"github.com/StewartGolf/CartBox/internal/errs"
	"github.com/StewartGolf/CartBox/internal/models"
	"github.com/StewartGolf/CartBox/internal/services/lifecycle"
)

// RateLimiter throttles the public registration endpoint. A nil limiter
// disables throttling.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Options struct {
	RegistrationsPerMinute int64
}

type WarrantyAPI struct {
	svc     *lifecycle.Service
	guard   *auth.Guard
	limiter RateLimiter
	opts    Options
	log     *slog.Logger
}

func New(svc *lifecycle.Service, guard *auth.Guard, limiter RateLimiter, opts Options, log *slog.Logger) *WarrantyAPI {
	if log == nil {
		log = slog.Default()
	}
	if opts.RegistrationsPerMinute <= 0 {
		opts.RegistrationsPerMinute = 30
	}
	return &WarrantyAPI{svc: svc, guard: guard, limiter: limiter, opts: opts, log: log}
}

func (a *WarrantyAPI) Register(r chi.Router) {
	r.Get("/healthz", a.handleHealth)

	r.Route("/registrations", func(r chi.Router) {
		r.With(a.rateLimit).Post("/", a.handleOpenRegistration)
		r.With(a.requireAdmin).Get("/", a.handleListRegistrations)
		r.Get("/{orderRef}", a.handleGetByOrderRef)
	})

	r.Route("/carts", func(r chi.Router) {
		r.Post("/trade-in", a.handleTradeInPickup)
		r.Post("/used-sale", a.handleUsedSale)
		r.Get("/{serial}", a.handleLookup)
		r.With(a.requireAdmin).Get("/{serial}/events", a.handleListCartEvents)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/token", a.handleIssueToken)
		r.With(a.requireAdmin).Post("/purge", a.handlePurge)
	})
}

type errorResponse struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
}

func kindStatus(kind errs.Kind) int {
	switch kind {
	case errs.KindMissingField, errs.KindInvalidDate, errs.KindInvalidDuration:
		return http.StatusBadRequest
	case errs.KindUnauthorized:
		return http.StatusUnauthorized
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindStoreConflictExhausted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *WarrantyAPI) writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := kindStatus(kind)
	if status == http.StatusInternalServerError {
		a.log.Error("request failed", "err", err)
	}

	resp := errorResponse{ErrorKind: string(kind), Message: err.Error()}
	var e *errs.Error
	if errors.As(err, &e) {
		resp.Field = e.Field
		resp.Message = e.Msg
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.New(errs.KindMissingField, "malformed request body")
	}
	return nil
}

func (a *WarrantyAPI) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type openRegistrationRequest struct {
	Serial         string          `json:"serial"`
	Model          string          `json:"model"`
	Customer       models.Customer `json:"customer"`
	Location       string          `json:"location"`
	PurchaseDate   string          `json:"purchase_date"`
	WarrantyMonths int             `json:"warranty_months"`
	OrderRef       string          `json:"order_ref"`
}

func (a *WarrantyAPI) handleOpenRegistration(w http.ResponseWriter, r *http.Request) {
	var req openRegistrationRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	reg, err := a.svc.OpenRegistration(r.Context(), models.OpenRegistrationInput{
		Kind:           models.RegistrationKindNew,
		Serial:         req.Serial,
		Model:          req.Model,
		Customer:       req.Customer,
		Location:       req.Location,
		PurchaseDate:   req.PurchaseDate,
		WarrantyMonths: req.WarrantyMonths,
		OrderRef:       req.OrderRef,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

func (a *WarrantyAPI) handleListRegistrations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	regs, err := a.svc.ListRegistrations(r.Context(), limit, offset)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"registrations": regs})
}

func (a *WarrantyAPI) handleGetByOrderRef(w http.ResponseWriter, r *http.Request) {
	reg, err := a.svc.GetRegistrationByOrderRef(r.Context(), chi.URLParam(r, "orderRef"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

type tradeInRequest struct {
	Serial     string `json:"serial"`
	Model      string `json:"model"`
	Note       string `json:"note"`
	ReturnDate string `json:"return_date"`
}

func (a *WarrantyAPI) handleTradeInPickup(w http.ResponseWriter, r *http.Request) {
	var req tradeInRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	res, err := a.svc.TradeInPickup(r.Context(), models.TradeInPickupInput{
		Serial:     req.Serial,
		Model:      req.Model,
		Note:       req.Note,
		ReturnDate: req.ReturnDate,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"closed_registration": res.Closed,
		"cart":                res.Cart,
	})
}

type usedSaleRequest struct {
	Serial         string          `json:"serial"`
	Model          string          `json:"model"`
	Customer       models.Customer `json:"customer"`
	SaleDate       string          `json:"sale_date"`
	WarrantyMonths int             `json:"warranty_months"`
	OrderRef       string          `json:"order_ref"`
}

func (a *WarrantyAPI) handleUsedSale(w http.ResponseWriter, r *http.Request) {
	var req usedSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	res, err := a.svc.UsedSale(r.Context(), models.UsedSaleInput{
		Serial:         req.Serial,
		Model:          req.Model,
		Customer:       req.Customer,
		SaleDate:       req.SaleDate,
		WarrantyMonths: req.WarrantyMonths,
		OrderRef:       req.OrderRef,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"closed_registration": res.Closed,
		"registration":        res.Created,
		"cart":                res.Cart,
	})
}

func (a *WarrantyAPI) handleLookup(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.Lookup(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *WarrantyAPI) handleListCartEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	evs, err := a.svc.ListCartEvents(r.Context(), chi.URLParam(r, "serial"), limit, offset)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

type issueTokenRequest struct {
	Secret string `json:"secret"`
}

func (a *WarrantyAPI) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.guard.VerifySecret(req.Secret); err != nil {
		a.writeError(w, err)
		return
	}

	token, err := a.guard.IssueToken()
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int64(a.guard.TTL().Seconds()),
	})
}

type purgeRequest struct {
	IDs            []string `json:"ids"`
	OrderRefPrefix string   `json:"order_ref_prefix"`
	EmailDomain    string   `json:"email_domain"`
	CreatedBefore  string   `json:"created_before"`
	DryRun         bool     `json:"dry_run"`
}

func (a *WarrantyAPI) handlePurge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	ids, err := a.svc.PlanPurge(r.Context(), models.PurgeFilter{
		IDs:            req.IDs,
		OrderRefPrefix: req.OrderRefPrefix,
		EmailDomain:    req.EmailDomain,
		CreatedBefore:  req.CreatedBefore,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}

	if req.DryRun {
		writeJSON(w, http.StatusOK, map[string]any{
			"dry_run": true,
			"matched": len(ids),
			"ids":     ids,
		})
		return
	}

	deleted, execErr := a.svc.ExecutePurge(r.Context(), ids)
	if execErr != nil {
		// Deleted batches are not rolled back, report the partial count.
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"deleted": deleted,
			"error":   execErr.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dry_run": false,
		"matched": len(ids),
		"deleted": deleted,
	})
}

// requireAdmin accepts either a bearer token from POST /admin/token or the
// raw shared secret in X-Admin-Secret.
func (a *WarrantyAPI) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret := r.Header.Get("X-Admin-Secret"); secret != "" {
			if err := a.guard.VerifySecret(secret); err != nil {
				a.writeError(w, err)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header || token == "" {
			a.writeError(w, errs.New(errs.KindUnauthorized, "missing admin credentials"))
			return
		}
		if err := a.guard.VerifyToken(token); err != nil {
			a.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *WarrantyAPI) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		allowed, n, err := a.limiter.Allow(r.Context(), "ratelimit:registrations:"+host,
			a.opts.RegistrationsPerMinute, time.Minute)
		if err != nil {
			// Redis being down should not take registrations with it.
			a.log.Warn("rate limiter unavailable", "err", err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			a.log.Info("registration throttled", "addr", host, "count", n)
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				ErrorKind: "RATE_LIMITED",
				Message:   "too many registration attempts, retry later",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
