package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/token_engine/internal/app/domain/record"
	"github.com/R3E-Network/token_engine/internal/app/services/consent"
	"github.com/R3E-Network/token_engine/internal/app/storage"
	svcerrors "github.com/R3E-Network/token_engine/internal/errors"
)

func (a *API) consentRoutes(r *mux.Router) {
	r.HandleFunc("/consent", a.createConsent).Methods(http.MethodPost)
	r.HandleFunc("/consent/withdraw", a.buildWithdrawConsent).Methods(http.MethodPost)
	r.HandleFunc("/consent/withdraw/submit", a.submitWithdrawConsent).Methods(http.MethodPost)
	r.HandleFunc("/consent/active", a.listActiveConsents).Methods(http.MethodGet)
	r.HandleFunc("/consent/withdrawn", a.listWithdrawnConsents).Methods(http.MethodGet)
	r.HandleFunc("/consent/records", a.listConsentRecords).Methods(http.MethodGet)
	r.HandleFunc("/consent/{tokenId}/{serialNumber}/status", a.consentStatus).Methods(http.MethodGet)
	r.HandleFunc("/consent/{tokenId}/{serialNumber}/history", a.consentHistory).Methods(http.MethodGet)
}

func (a *API) createConsent(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	var req createConsentRequest
	if !a.decode(w, r, &req) {
		return
	}

	var incentive int64
	if req.IncentiveAmount != nil {
		incentive = *req.IncentiveAmount
	}
	minted, err := a.app.Consent.Mint(r.Context(), tc, consent.MintRequest{
		AccountID:       req.AccountID,
		CategoryID:      string(req.CategoryID),
		Hash:            req.ConsentHash,
		IncentiveAmount: incentive,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	c := minted.Consent
	amount, incentiveTx, incentiveErr := incentiveFields(minted.Incentive, minted.IncentiveError)
	writeJSON(w, http.StatusCreated, createConsentResponse{
		Success:         true,
		SerialNumber:    c.SerialNumber,
		TokenID:         c.TokenID,
		TransactionID:   c.MintTransactionID,
		AccountID:       c.AccountID,
		CategoryID:      c.CategoryID,
		ConsentHash:     c.Hash,
		IncentiveAmount: amount,
		IncentiveTxID:   incentiveTx,
		IncentiveError:  incentiveErr,
		UID:             req.UID,
	})
}

func (a *API) buildWithdrawConsent(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	var req withdrawConsentRequest
	if !a.decode(w, r, &req) {
		return
	}

	built, err := a.app.Consent.BuildWithdraw(r.Context(), tc, req.AccountID, req.SerialNumber)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawConsentResponse{
		UnsignedWithdrawTransaction: built.Transaction,
		AccountID:                   req.AccountID,
		SerialNumber:                req.SerialNumber,
		TransactionID:               built.TransactionID,
		ExpiresAt:                   built.ExpiresAt,
		UID:                         req.UID,
		ConsentHash:                 req.ConsentHash,
	})
}

func (a *API) submitWithdrawConsent(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if !a.decode(w, r, &req) {
		return
	}

	withdrawn, err := a.app.Consent.SubmitWithdraw(r.Context(), tc, req.AccountID, req.SignedTransaction)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{
		Success:       true,
		TransactionID: withdrawn.WithdrawTransactionID,
		Message:       "Consent withdrawn",
		UID:           req.UID,
	})
}

func (a *API) listActiveConsents(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	nfts, err := a.app.Consent.Active(r.Context(), tc, r.URL.Query().Get("accountId"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(nfts))
}

func (a *API) listWithdrawnConsents(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	nfts, err := a.app.Consent.Withdrawn(r.Context(), tc)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(nfts))
}

func (a *API) listConsentRecords(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	filter := storage.ConsentFilter{
		AccountID: r.URL.Query().Get("accountId"),
		Status:    record.ConsentStatus(r.URL.Query().Get("status")),
	}
	switch filter.Status {
	case "", record.ConsentActive, record.ConsentWithdrawn:
	default:
		a.writeError(w, r, svcerrors.Validation("status must be active or withdrawn"))
		return
	}

	records, err := a.app.Consent.Records(r.Context(), tc, filter)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(records))
}

func (a *API) consentStatus(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	serial, err := pathSerial(r, "serialNumber")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status, err := a.app.Consent.Status(r.Context(), tc, mux.Vars(r)["tokenId"], serial)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) consentHistory(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	serial, err := pathSerial(r, "serialNumber")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	history, err := a.app.Consent.History(r.Context(), tc, mux.Vars(r)["tokenId"], serial)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(history))
}
