package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (a *API) userRoutes(r *mux.Router) {
	r.HandleFunc("/users", a.createUser).Methods(http.MethodPost)
	r.HandleFunc("/users", a.listUsers).Methods(http.MethodGet)
	r.HandleFunc("/users/token-association", a.submitTokenAssociation).Methods(http.MethodPost)
	r.HandleFunc("/users/{accountId}", a.getUser).Methods(http.MethodGet)
	r.HandleFunc("/users/{accountId}/token-association", a.buildTokenAssociation).Methods(http.MethodPost)
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	var req createUserRequest
	if !a.decode(w, r, &req) {
		return
	}

	created, err := a.app.Accounts.Create(r.Context(), tc, req.PublicKey)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	assoc := toAssociationResponse(created.Account, created.Association)
	writeJSON(w, http.StatusCreated, createUserResponse{
		UID:                               req.UID,
		PublicKey:                         created.Account.PublicKey,
		AccountID:                         created.Account.AccountID,
		UnsignedTokenAssociateTransaction: assoc.UnsignedTokenAssociateTransaction,
		TransactionID:                     assoc.TransactionID,
		ExpiresAt:                         assoc.ExpiresAt,
		TokenIDs:                          assoc.TokenIDs,
	})
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	accounts, err := a.app.Accounts.List(r.Context(), tc)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(accounts))
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	acct, err := a.app.Accounts.Get(r.Context(), tc, mux.Vars(r)["accountId"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// buildTokenAssociation rebuilds the association for an account whose first
// handoff expired.
func (a *API) buildTokenAssociation(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	accountID := mux.Vars(r)["accountId"]
	built, err := a.app.Accounts.BuildAssociation(r.Context(), tc, accountID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	acct, err := a.app.Accounts.Get(r.Context(), tc, accountID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssociationResponse(acct, built))
}

func (a *API) submitTokenAssociation(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if !a.decode(w, r, &req) {
		return
	}

	receipt, err := a.app.Accounts.SubmitAssociation(r.Context(), tc, req.AccountID, req.SignedTransaction)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{
		Success:       true,
		TransactionID: receipt.TransactionID,
		Message:       "Token association completed",
		UID:           req.UID,
	})
}
