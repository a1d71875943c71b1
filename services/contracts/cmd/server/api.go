package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/accordsai/contractseal/pkg/did"
	"github.com/accordsai/contractseal/pkg/domain"
	"github.com/accordsai/contractseal/pkg/httpx"
	"github.com/accordsai/contractseal/services/contracts/internal/idempotency"
	"github.com/accordsai/contractseal/services/contracts/internal/signing"
	"github.com/accordsai/contractseal/services/contracts/internal/store"
)

type api struct {
	svc      *signing.Service
	resolver signing.Resolver
	idem     idempotency.Store
	log      *logrus.Entry
}

func (a *api) routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/dids/{did}", a.resolveDID)

	r.Route("/contracts", func(cr chi.Router) {
		cr.Post("/", a.createContract)
		cr.Get("/", a.listContracts)
		cr.Post("/ledger/retry", a.retryLedger)
		cr.Route("/{contract_id}", func(c chi.Router) {
			c.Get("/", a.getContract)
			c.Patch("/terms", a.updateTerms)
			c.Post("/signatures", a.signContract)
			c.Post("/void", a.voidContract)
			c.Post("/suspend", a.transition(a.svc.Suspend))
			c.Post("/resume", a.transition(a.svc.Resume))
			c.Post("/terminate", a.transition(a.svc.Terminate))
			c.Get("/verification", a.verifyState)
			c.Get("/signatures/verification", a.verifySignatures)
			c.Post("/ledger/retry", a.retryLedger)
			c.Get("/events", a.contractEvents)
		})
	})
	return r
}

func (a *api) createContract(w http.ResponseWriter, r *http.Request) {
	body, err := httpx.ReadBody(r)
	if err != nil {
		httpx.WriteError(w, 400, "BAD_REQUEST", err.Error(), nil)
		return
	}
	var req signing.CreateRequest
	if err := httpx.DecodeJSON(body, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	actor := idempotency.ActorContext{ActorDID: req.ProviderDID, IdempotencyKey: r.Header.Get("Idempotency-Key")}
	a.idempotent(w, r, actor, "POST /contracts", body, func() (int, any) {
		c, err := a.svc.Create(r.Context(), req)
		return a.contractResult(c, err, http.StatusCreated)
	})
}

func (a *api) listContracts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ListFilter{PartyDID: q.Get("did"), Status: domain.Status(strings.ToUpper(q.Get("status")))}
	if f.Status != "" && !f.Status.Valid() {
		httpx.WriteError(w, 400, "BAD_REQUEST", "unknown status", map[string]any{"status": f.Status})
		return
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			httpx.WriteError(w, 400, "BAD_REQUEST", "limit must be a non-negative integer", nil)
			return
		}
		f.Limit = n
	}
	contracts, err := a.svc.List(r.Context(), f)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if contracts == nil {
		contracts = []*domain.Contract{}
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "contracts": contracts})
}

func (a *api) getContract(w http.ResponseWriter, r *http.Request) {
	c, err := a.svc.Get(r.Context(), chi.URLParam(r, "contract_id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "contract": c})
}

func (a *api) updateTerms(w http.ResponseWriter, r *http.Request) {
	var req signing.TermsUpdate
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	c, err := a.svc.UpdateTerms(r.Context(), chi.URLParam(r, "contract_id"), req)
	status, resp := a.contractResult(c, err, http.StatusOK)
	httpx.WriteJSON(w, status, resp)
}

func (a *api) signContract(w http.ResponseWriter, r *http.Request) {
	body, err := httpx.ReadBody(r)
	if err != nil {
		httpx.WriteError(w, 400, "BAD_REQUEST", err.Error(), nil)
		return
	}
	var req struct {
		SignerDID          string `json:"signer_did"`
		Signature          string `json:"signature"`
		VerificationMethod string `json:"verification_method"`
	}
	if err := httpx.DecodeJSON(body, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	if req.SignerDID == "" || req.Signature == "" || req.VerificationMethod == "" {
		httpx.WriteError(w, 400, "BAD_REQUEST", "signer_did, signature and verification_method are required", nil)
		return
	}
	id := chi.URLParam(r, "contract_id")
	actor := idempotency.ActorContext{ActorDID: req.SignerDID, IdempotencyKey: r.Header.Get("Idempotency-Key")}
	a.idempotent(w, r, actor, "POST /contracts/"+id+"/signatures", body, func() (int, any) {
		c, err := a.svc.Sign(r.Context(), signing.SignRequest{
			ContractID:           id,
			SignerDID:            req.SignerDID,
			Signature:            req.Signature,
			VerificationMethodID: req.VerificationMethod,
		})
		return a.contractResult(c, err, http.StatusOK)
	})
}

func (a *api) voidContract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason    string `json:"reason"`
		VoiderDID string `json:"voider_did"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	c, err := a.svc.Void(r.Context(), chi.URLParam(r, "contract_id"), req.Reason, req.VoiderDID)
	status, resp := a.contractResult(c, err, http.StatusOK)
	httpx.WriteJSON(w, status, resp)
}

type transitionFunc func(ctx context.Context, id, actorDID, reason string) (*domain.Contract, error)

func (a *api) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ActorDID string `json:"actor_did"`
			Reason   string `json:"reason"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		c, err := fn(r.Context(), chi.URLParam(r, "contract_id"), req.ActorDID, req.Reason)
		status, resp := a.contractResult(c, err, http.StatusOK)
		httpx.WriteJSON(w, status, resp)
	}
}

func (a *api) verifyState(w http.ResponseWriter, r *http.Request) {
	rep, err := a.svc.VerifyState(r.Context(), chi.URLParam(r, "contract_id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "verification": rep})
}

func (a *api) verifySignatures(w http.ResponseWriter, r *http.Request) {
	rep, err := a.svc.VerifySignatures(r.Context(), chi.URLParam(r, "contract_id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "verification": rep})
}

func (a *api) retryLedger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "contract_id")
	n, err := a.svc.RetryLedger(r.Context(), id)
	resp := map[string]any{"request_id": httpx.NewRequestID(), "recorded": n}
	if id != "" {
		if pending, perr := a.svc.Pending(r.Context(), id); perr == nil {
			resp["pending"] = pending
		} else {
			err = multierr.Append(err, perr)
		}
	}
	if err != nil {
		resp["error"] = map[string]any{"code": "LEDGER_RECORDING_FAILED", "message": err.Error()}
		httpx.WriteJSON(w, http.StatusBadGateway, resp)
		return
	}
	httpx.WriteJSON(w, 200, resp)
}

func (a *api) contractEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := a.svc.Events(r.Context(), chi.URLParam(r, "contract_id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "events": evs})
}

func (a *api) resolveDID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "did")
	doc, err := a.resolver.Resolve(r.Context(), id)
	switch {
	case err == nil:
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "document": doc})
	case errors.Is(err, did.ErrInvalidFormat), errors.Is(err, did.ErrUnsupportedMethod):
		httpx.WriteError(w, 400, "INVALID_DID", err.Error(), nil)
	case errors.Is(err, did.ErrNotFound):
		httpx.WriteError(w, 404, "NOT_FOUND", err.Error(), nil)
	default:
		httpx.WriteError(w, 502, "RESOLUTION_FAILED", err.Error(), nil)
	}
}

// contractResult builds the response for a mutation. A ledger warning
// keeps the committed contract and answers 202.
func (a *api) contractResult(c *domain.Contract, err error, okStatus int) (int, any) {
	if err == nil {
		return okStatus, map[string]any{"request_id": httpx.NewRequestID(), "contract": c}
	}
	var lre *signing.LedgerRecordingError
	if errors.As(err, &lre) && c != nil {
		return http.StatusAccepted, map[string]any{
			"request_id": httpx.NewRequestID(),
			"contract":   c,
			"warning": map[string]any{
				"code":    "LEDGER_RECORDING_FAILED",
				"message": err.Error(),
				"pending": lre.Pending,
			},
		}
	}
	status, code := statusFor(err)
	if status >= 500 || errors.Is(err, signing.ErrInvalidTransition) {
		a.log.WithError(err).WithField("code", code).Error("request failed")
	}
	return status, httpx.ErrorBody(code, err.Error(), nil)
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	status, resp := a.contractResult(nil, err, 0)
	httpx.WriteJSON(w, status, resp)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, signing.ErrNotFound):
		return 404, "NOT_FOUND"
	case errors.Is(err, signing.ErrAlreadySigned):
		return 409, "ALREADY_SIGNED"
	case errors.Is(err, signing.ErrInvalidTransition):
		return 409, "INVALID_TRANSITION"
	case errors.Is(err, store.ErrConflict):
		return 409, "CONFLICT"
	case errors.Is(err, idempotency.ErrKeyReused):
		return 409, "IDEMPOTENCY_KEY_REUSED"
	case errors.Is(err, signing.ErrInvalidInput):
		return 400, "BAD_REQUEST"
	case errors.Is(err, signing.ErrUnauthorizedSigner):
		return 400, "UNAUTHORIZED_SIGNER"
	case errors.Is(err, signing.ErrInvalidContractStatus):
		return 400, "INVALID_CONTRACT_STATUS"
	case errors.Is(err, signing.ErrVerificationMethodNotFound):
		return 400, "VERIFICATION_METHOD_NOT_FOUND"
	case errors.Is(err, signing.ErrInvalidSignature):
		return 400, "INVALID_SIGNATURE"
	case errors.Is(err, signing.ErrResolutionFailed):
		return 502, "RESOLUTION_FAILED"
	case errors.Is(err, signing.ErrLedgerUnavailable), errors.Is(err, signing.ErrLedgerRecordingFailed):
		return 502, "LEDGER_UNAVAILABLE"
	case errors.Is(err, signing.ErrHistoryUnsupported):
		return 501, "NOT_SUPPORTED"
	default:
		return 500, "INTERNAL"
	}
}

// idempotent replays a stored response for a repeated Idempotency-Key or
// runs fn and stores its response. Only 2xx responses are stored.
func (a *api) idempotent(w http.ResponseWriter, r *http.Request, actor idempotency.ActorContext, endpoint string, body []byte, fn func() (int, any)) {
	fp := idempotency.Fingerprint(body)
	status, replay, ok, err := idempotency.Replay(r.Context(), a.idem, actor, endpoint, fp)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if ok {
		w.Header().Set("Idempotent-Replayed", "true")
		httpx.WriteRaw(w, status, replay)
		return
	}
	status, resp := fn()
	encoded, err := json.Marshal(resp)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if status >= 200 && status < 300 {
		if err := idempotency.Save(r.Context(), a.idem, actor, endpoint, fp, status, encoded); err != nil {
			a.log.WithError(err).Warn("idempotency record not saved")
		}
	}
	httpx.WriteRaw(w, status, encoded)
}
