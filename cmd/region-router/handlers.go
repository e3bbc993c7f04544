package main

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/config"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/payment"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/policy"
)

type createPaymentRequest struct {
	Address      string            `json:"address,omitempty"`
	UserID       string            `json:"user_id"`
	Amount       decimal.Decimal   `json:"amount"`
	Currency     string            `json:"currency"`
	Description  string            `json:"description"`
	PlanType     string            `json:"plan_type,omitempty"`
	BillingCycle string            `json:"billing_cycle,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Record string          `json:"record,omitempty"`
}

func (a *RegionRouter) healthCheck(w http.ResponseWriter, r *http.Request) {
	storageStatus := "healthy"
	if err := a.store.Ping(r.Context()); err != nil {
		storageStatus = "unhealthy"
	}

	sources := map[string]interface{}{}
	for _, status := range a.tracker.Snapshot() {
		state := "healthy"
		if !status.Healthy {
			state = "unhealthy"
		}
		sources[status.Service] = map[string]interface{}{
			"status":      state,
			"error_count": status.ErrorCount,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "region-router",
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"region":    a.profile.Region,
		"dependencies": map[string]interface{}{
			"storage":     storageStatus,
			"geo_sources": sources,
		},
		"websocket_clients": a.hub.ClientCount(),
	})
}

func (a *RegionRouter) wsStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.hub.GetStats())
}

// detectRegion resolves the caller's (or an explicit) address to a
// region profile. Resolution never fails; the worst case is the
// default profile.
func (a *RegionRouter) detectRegion(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		address = clientAddress(r)
	}

	cached := a.resolver.Cached(address)
	profile, defaulted := a.resolver.DetectWithStatus(r.Context(), address)
	a.events.EmitRegionResolved(address, profile.Region, cached, defaulted)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":   address,
		"cached":    cached,
		"defaulted": defaulted,
		"profile":   profile,
	})
}

func (a *RegionRouter) clearRegionCache(w http.ResponseWriter, r *http.Request) {
	a.resolver.ClearCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cache cleared"})
}

func (a *RegionRouter) availableMethods(w http.ResponseWriter, r *http.Request) {
	region := a.profile.Region
	if address := r.URL.Query().Get("address"); address != "" {
		region = a.resolver.Detect(r.Context(), address).Region
	}

	methods := a.router.AvailableMethods(region)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"region":  region,
		"methods": methods,
	})
}

func (a *RegionRouter) createPayment(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	address := req.Address
	if address == "" {
		address = clientAddress(r)
	}
	region := a.resolver.Detect(r.Context(), address).Region

	order := payment.PaymentOrder{
		Amount:       req.Amount,
		Currency:     strings.ToUpper(req.Currency),
		Description:  req.Description,
		UserID:       req.UserID,
		PlanType:     req.PlanType,
		BillingCycle: payment.BillingCycle(req.BillingCycle),
		Metadata:     req.Metadata,
	}

	a.events.EmitPaymentInitiated("", req.UserID, order.Amount, order.Currency, region)

	result := a.router.CreatePayment(r.Context(), region, order)
	if !result.Success {
		a.events.EmitPaymentFailed(result.Reference, order.Amount, order.Currency, region, result.ErrorCode, result.ErrorMessage)
		writeJSON(w, http.StatusPaymentRequired, result)
		return
	}

	a.events.EmitPaymentSucceeded(result.Reference, result.ExternalID, result.Amount, result.Currency, result.Method, time.Since(started))
	writeJSON(w, http.StatusOK, result)
}

func (a *RegionRouter) confirmPayment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	provider, ok := a.router.Provider(policy.Method(vars["method"]))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no provider registered for method %q", vars["method"]))
		return
	}

	confirmation, err := provider.ConfirmPayment(r.Context(), vars["externalID"])
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if confirmation.Confirmed {
		a.completeRecordByExternalID(r, vars["externalID"])
	}
	writeJSON(w, http.StatusOK, confirmation)
}

func (a *RegionRouter) refundPayment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	method := policy.Method(vars["method"])
	provider, ok := a.router.Provider(method)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no provider registered for method %q", vars["method"]))
		return
	}

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := provider.RefundPayment(r.Context(), vars["externalID"], req.Amount)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if result.Success && a.records != nil {
		recordID := req.Record
		if recordID == "" {
			if record, err := a.records.FindByExternalID(r.Context(), vars["externalID"]); err == nil {
				recordID = record.ID
			}
		}
		if recordID != "" {
			if err := a.records.UpdateStatus(r.Context(), recordID, payment.StatusRefunded); err != nil {
				a.log.Warn("failed to mark record refunded", "record", recordID, "error", err.Error())
			}
		}
	}

	a.events.EmitRefundProcessed(vars["externalID"], req.Amount, method, result.Success)
	writeJSON(w, http.StatusOK, result)
}

func (a *RegionRouter) paymentHistory(w http.ResponseWriter, r *http.Request) {
	if a.records == nil {
		writeError(w, http.StatusServiceUnavailable, "payment records are not available on this deployment")
		return
	}

	records, err := a.records.FindByUser(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": mux.Vars(r)["userID"],
		"records": records,
	})
}

// providerWebhook authenticates asynchronous provider callbacks and
// marks the matching record completed. Verification failures are
// rejected outright; they are never treated as success.
func (a *RegionRouter) providerWebhook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	method := policy.Method(vars["method"])
	provider, ok := a.router.Provider(method)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no provider registered for method %q", vars["method"]))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read callback body")
		return
	}
	r.Body = io.NopCloser(strings.NewReader(string(body)))
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed callback parameters")
		return
	}

	cb := payment.Callback{Params: r.Form, Headers: r.Header, Body: body}
	if err := provider.VerifyCallback(r.Context(), cb); err != nil {
		a.log.Warn("webhook verification failed", "method", string(method), "error", err.Error())
		writeError(w, http.StatusUnauthorized, "callback verification failed")
		return
	}

	if externalID := webhookExternalID(method, cb); externalID != "" {
		a.completeRecordByExternalID(r, externalID)
	}

	// Alipay and WeChat expect protocol-specific acknowledgements.
	switch method {
	case policy.MethodAlipay:
		w.Write([]byte("success"))
	case policy.MethodWechat:
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte("<xml><return_code><![CDATA[SUCCESS]]></return_code></xml>"))
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

func (a *RegionRouter) reloadRules(w http.ResponseWriter, r *http.Request) {
	if a.rulesPath == "" {
		writeError(w, http.StatusBadRequest, "no routing rules file configured")
		return
	}

	rules, err := config.LoadRoutingRules(a.rulesPath)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	a.resolver.ReplaceSources(geoSources(rules))
	a.log.Info("routing rules reloaded", "version", rules.Version, "sources", len(rules.GeoSources))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "reloaded",
		"version": rules.Version,
	})
}

// completeRecordByExternalID transitions the record behind a provider
// identifier to completed. Missing records are not an error: the
// repository may live on another deployment.
func (a *RegionRouter) completeRecordByExternalID(r *http.Request, externalID string) {
	if a.records == nil {
		return
	}
	record, err := a.records.FindByExternalID(r.Context(), externalID)
	if err != nil {
		return
	}
	if record.Status != payment.StatusPending {
		return
	}
	if err := a.records.UpdateStatus(r.Context(), record.ID, payment.StatusCompleted); err != nil {
		a.log.Warn("failed to mark record completed", "record", record.ID, "error", err.Error())
	}
}

// webhookExternalID extracts the provider-side identifier from a
// verified callback.
func webhookExternalID(method policy.Method, cb payment.Callback) string {
	switch method {
	case policy.MethodAlipay:
		return cb.Params.Get("out_trade_no")
	case policy.MethodWechat:
		var notify struct {
			XMLName    xml.Name `xml:"xml"`
			OutTradeNo string   `xml:"out_trade_no"`
		}
		if err := xml.Unmarshal(cb.Body, &notify); err == nil {
			return notify.OutTradeNo
		}
		return ""
	case policy.MethodStripe:
		var event struct {
			Data struct {
				Object struct {
					ID string `json:"id"`
				} `json:"object"`
			} `json:"data"`
		}
		if err := json.Unmarshal(cb.Body, &event); err == nil {
			return event.Data.Object.ID
		}
		return ""
	case policy.MethodPaypal:
		var event struct {
			Resource struct {
				ID string `json:"id"`
			} `json:"resource"`
		}
		if err := json.Unmarshal(cb.Body, &event); err == nil {
			return event.Resource.ID
		}
		return ""
	}
	return ""
}

// clientAddress extracts the originating client address, preferring
// the forwarding header set by the platform proxy.
func clientAddress(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
