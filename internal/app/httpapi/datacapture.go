package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/token_engine/internal/app/services/datacapture"
)

func (a *API) dataCaptureRoutes(r *mux.Router) {
	r.HandleFunc("/data-capture", a.createDataCapture).Methods(http.MethodPost)
	r.HandleFunc("/data-capture/list", a.listDataCaptures).Methods(http.MethodGet)
	r.HandleFunc("/data-capture/verify/{accountId}/{serialNumber}", a.verifyDataCapture).Methods(http.MethodGet)
}

func (a *API) createDataCapture(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	var req createDataCaptureRequest
	if !a.decode(w, r, &req) {
		return
	}

	var incentive int64
	if req.IncentiveAmount != nil {
		incentive = *req.IncentiveAmount
	}
	minted, err := a.app.DataCapture.Mint(r.Context(), tc, datacapture.MintRequest{
		AccountID:       req.AccountID,
		CategoryID:      string(req.CategoryID),
		Hash:            req.DataHash,
		IncentiveAmount: incentive,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	dc := minted.DataCapture
	amount, incentiveTx, incentiveErr := incentiveFields(minted.Incentive, minted.IncentiveError)
	writeJSON(w, http.StatusCreated, createDataCaptureResponse{
		Success:         true,
		SerialNumber:    dc.SerialNumber,
		TokenID:         dc.TokenID,
		TransactionID:   dc.TransactionID,
		AccountID:       dc.AccountID,
		DataHash:        dc.Hash,
		CategoryID:      dc.CategoryID,
		IncentiveAmount: amount,
		IncentiveTxID:   incentiveTx,
		IncentiveError:  incentiveErr,
		UID:             req.UID,
	})
}

func (a *API) verifyDataCapture(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	serial, err := pathSerial(r, "serialNumber")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	verification, err := a.app.DataCapture.Verify(r.Context(), tc, mux.Vars(r)["accountId"], serial)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verification)
}

func (a *API) listDataCaptures(w http.ResponseWriter, r *http.Request) {
	tc, ok := a.tenantContext(w, r)
	if !ok {
		return
	}
	records, err := a.app.DataCapture.List(r.Context(), tc, r.URL.Query().Get("accountId"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(records))
}
