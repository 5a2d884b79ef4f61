package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (a *API) incentiveRoutes(r *mux.Router) {
	r.HandleFunc("/incentive/send", a.sendIncentive).Methods(http.MethodPost)
	r.HandleFunc("/incentive/redeem", a.buildRedeem).Methods(http.MethodPost)
	r.HandleFunc("/incentive/redeem/submit", a.submitRedeem).Methods(http.MethodPost)
	r.HandleFunc("/incentive/balance/{accountId}", a.incentiveBalance).Methods(http.MethodGet)
	r.HandleFunc("/incentive/transfers", a.listIncentiveTransfers).Methods(http.MethodGet)
}

func memoOf(memo *string) string {
	if memo == nil {
		return ""
	}
	return *memo
}

func (a *API) sendIncentive(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	var req incentiveRequest
	if !a.decode(w, r, &req) {
		return
	}

	transfer, err := a.app.Incentives.Send(r.Context(), tc, req.AccountID, req.Amount, memoOf(req.Memo))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sendIncentiveResponse{
		Success:       true,
		TransactionID: transfer.TransactionID,
		AccountID:     transfer.AccountID,
		Amount:        transfer.Amount,
	})
}

func (a *API) buildRedeem(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	var req incentiveRequest
	if !a.decode(w, r, &req) {
		return
	}

	built, err := a.app.Incentives.BuildRedeem(r.Context(), tc, req.AccountID, req.Amount, memoOf(req.Memo))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redeemResponse{
		UnsignedRedeemTransaction: built.Transaction,
		AccountID:                 req.AccountID,
		Amount:                    req.Amount,
		Memo:                      req.Memo,
		TransactionID:             built.TransactionID,
		ExpiresAt:                 built.ExpiresAt,
	})
}

func (a *API) submitRedeem(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if !a.decode(w, r, &req) {
		return
	}

	transfer, err := a.app.Incentives.SubmitRedeem(r.Context(), tc, req.AccountID, req.SignedTransaction)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{
		Success:       true,
		TransactionID: transfer.TransactionID,
		Message:       "Redemption completed",
		UID:           req.UID,
	})
}

func (a *API) incentiveBalance(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	accountID := mux.Vars(r)["accountId"]
	balance, err := a.app.Incentives.Balance(r.Context(), tc, accountID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		AccountID: accountID,
		TokenID:   tc.Tokens().IncentiveTokenID,
		Balance:   balance,
	})
}

func (a *API) listIncentiveTransfers(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	transfers, err := a.app.Incentives.List(r.Context(), tc, r.URL.Query().Get("accountId"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(transfers))
}
