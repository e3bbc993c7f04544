package payment

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/config"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/logger"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/policy"
)

const alipayGateway = "https://openapi.alipay.com/gateway.do"

// AlipayProvider integrates the Alipay open-platform page-pay flow:
// a signed redirect URL for checkout, trade.query for confirmation,
// and trade.refund for refunds. All requests are RSA2-signed over the
// sorted parameter string.
type AlipayProvider struct {
	core       *Core
	appID      string
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	gateway    string
	returnURL  string
	notifyURL  string
	devMode    bool
	log        *logger.Logger
	now        func() time.Time
}

// NewAlipayProvider builds the provider from region config. The
// private key signs outgoing requests; the Alipay public key verifies
// asynchronous callbacks.
func NewAlipayProvider(cfg *config.EnvironmentConfig, core *Core, log *logger.Logger) (*AlipayProvider, error) {
	if cfg.AlipayAppID == "" {
		return nil, errors.New("alipay app id is not configured")
	}
	priv, err := parseRSAPrivateKey(cfg.AlipayPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("alipay private key: %w", err)
	}
	pub, err := parseRSAPublicKey(cfg.AlipayPublicKey)
	if err != nil {
		return nil, fmt.Errorf("alipay public key: %w", err)
	}
	if log == nil {
		log = logger.New("alipay")
	}
	return &AlipayProvider{
		core:       core,
		appID:      cfg.AlipayAppID,
		privateKey: priv,
		publicKey:  pub,
		gateway:    alipayGateway,
		returnURL:  cfg.AppURL + "/payment/alipay/return",
		notifyURL:  cfg.AppURL + "/payment/alipay/notify",
		devMode:    cfg.IsDevelopment(),
		log:        log,
		now:        time.Now,
	}, nil
}

func (p *AlipayProvider) Method() policy.Method { return policy.MethodAlipay }

// SetEndpoint overrides the gateway URL, used for sandbox deployments
// configured through routing rules.
func (p *AlipayProvider) SetEndpoint(endpoint string) {
	if endpoint != "" {
		p.gateway = endpoint
	}
}

func (p *AlipayProvider) SettlementCurrency() string { return "CNY" }

// CreatePayment builds a signed page-pay URL the client is redirected
// to. No network round-trip happens here; Alipay renders the checkout
// page when the URL is opened.
func (p *AlipayProvider) CreatePayment(ctx context.Context, order PaymentOrder) (*PaymentResult, error) {
	prepared, err := p.core.PrepareOrder("alipay", order, p.SettlementCurrency())
	if err != nil {
		return nil, err
	}

	outTradeNo := p.core.NewReference()
	bizContent, err := json.Marshal(map[string]string{
		"out_trade_no": outTradeNo,
		"product_code": "FAST_INSTANT_TRADE_PAY",
		"total_amount": prepared.Amount.StringFixed(2),
		"subject":      prepared.Description,
	})
	if err != nil {
		return nil, &ProviderError{Provider: "alipay", Code: CodeConfigurationError, Message: err.Error()}
	}

	params := map[string]string{
		"app_id":      p.appID,
		"method":      "alipay.trade.page.pay",
		"charset":     "utf-8",
		"sign_type":   "RSA2",
		"timestamp":   p.now().Format("2006-01-02 15:04:05"),
		"version":     "1.0",
		"return_url":  p.returnURL,
		"notify_url":  p.notifyURL,
		"biz_content": string(bizContent),
	}

	sign, err := p.sign(params)
	if err != nil {
		return nil, &ProviderError{Provider: "alipay", Code: CodeConfigurationError, Message: fmt.Sprintf("signing failed: %v", err)}
	}
	params["sign"] = sign

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	return &PaymentResult{
		Success:     true,
		ExternalID:  outTradeNo,
		RedirectURL: p.gateway + "?" + values.Encode(),
		Amount:      prepared.Amount,
		Currency:    prepared.Currency,
	}, nil
}

// ConfirmPayment queries trade status by the merchant order number.
// TRADE_SUCCESS and TRADE_FINISHED both count as paid.
func (p *AlipayProvider) ConfirmPayment(ctx context.Context, externalID string) (*PaymentConfirmation, error) {
	bizContent, _ := json.Marshal(map[string]string{"out_trade_no": externalID})
	body, err := p.call(ctx, "alipay.trade.query", string(bizContent))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Response struct {
			Code        string `json:"code"`
			TradeStatus string `json:"trade_status"`
			TotalAmount string `json:"total_amount"`
			SendPayDate string `json:"send_pay_date"`
		} `json:"alipay_trade_query_response"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProviderError{Provider: "alipay", Code: CodeProviderRejected, Message: fmt.Sprintf("malformed query response: %v", err)}
	}

	confirmation := &PaymentConfirmation{
		ExternalID: externalID,
		Status:     resp.Response.TradeStatus,
		Currency:   "CNY",
	}
	if resp.Response.TotalAmount != "" {
		if amount, err := decimal.NewFromString(resp.Response.TotalAmount); err == nil {
			confirmation.Amount = amount
		}
	}
	if resp.Response.TradeStatus == "TRADE_SUCCESS" || resp.Response.TradeStatus == "TRADE_FINISHED" {
		confirmation.Confirmed = true
		if paidAt, err := time.Parse("2006-01-02 15:04:05", resp.Response.SendPayDate); err == nil {
			confirmation.PaidAt = &paidAt
		}
	}
	return confirmation, nil
}

func (p *AlipayProvider) RefundPayment(ctx context.Context, externalID string, amount decimal.Decimal) (*RefundResult, error) {
	requestNo := p.core.NewReference()
	bizContent, _ := json.Marshal(map[string]string{
		"out_trade_no":   externalID,
		"refund_amount":  amount.StringFixed(2),
		"out_request_no": requestNo,
	})
	body, err := p.call(ctx, "alipay.trade.refund", string(bizContent))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Response struct {
			Code   string `json:"code"`
			Msg    string `json:"msg"`
			SubMsg string `json:"sub_msg"`
		} `json:"alipay_trade_refund_response"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProviderError{Provider: "alipay", Code: CodeProviderRejected, Message: fmt.Sprintf("malformed refund response: %v", err)}
	}

	result := &RefundResult{ExternalID: externalID, Amount: amount, RefundID: requestNo}
	if resp.Response.Code == "10000" {
		result.Success = true
	} else {
		result.ErrorMessage = fmt.Sprintf("refund rejected: %s %s", resp.Response.Msg, resp.Response.SubMsg)
	}
	return result, nil
}

// VerifyCallback authenticates an asynchronous notify callback by
// checking the RSA2 signature over the sorted parameters. Unsigned
// synchronous returns are rejected so confirmation always comes from
// the signed webhook or a status query. Verification is skipped only
// in development mode.
func (p *AlipayProvider) VerifyCallback(ctx context.Context, cb Callback) error {
	if p.devMode {
		p.log.Warn("skipping alipay signature verification in development mode")
		return nil
	}

	sign := cb.Params.Get("sign")
	if sign == "" {
		return &ProviderError{Provider: "alipay", Code: CodeSignatureMismatch, Message: "callback carries no signature"}
	}

	signed := signContent(cb.Params, "sign", "sign_type")
	signature, err := base64.StdEncoding.DecodeString(sign)
	if err != nil {
		return &ProviderError{Provider: "alipay", Code: CodeSignatureMismatch, Message: "signature is not valid base64"}
	}

	digest := sha256.Sum256([]byte(signed))
	if err := rsa.VerifyPKCS1v15(p.publicKey, crypto.SHA256, digest[:], signature); err != nil {
		return &ProviderError{Provider: "alipay", Code: CodeSignatureMismatch, Message: "signature verification failed"}
	}
	return nil
}

// call posts a signed gateway request and returns the raw body.
func (p *AlipayProvider) call(ctx context.Context, method, bizContent string) ([]byte, error) {
	params := map[string]string{
		"app_id":      p.appID,
		"method":      method,
		"charset":     "utf-8",
		"sign_type":   "RSA2",
		"timestamp":   p.now().Format("2006-01-02 15:04:05"),
		"version":     "1.0",
		"biz_content": bizContent,
	}
	sign, err := p.sign(params)
	if err != nil {
		return nil, &ProviderError{Provider: "alipay", Code: CodeConfigurationError, Message: fmt.Sprintf("signing failed: %v", err)}
	}
	params["sign"] = sign

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	body, timedOut, err := postForm(ctx, p.gateway, form)
	if err != nil {
		return nil, newTransportError("alipay", err, timedOut)
	}
	return body, nil
}

// sign produces the base64 RSA2 signature over the sorted key=value
// string of all non-empty parameters.
func (p *AlipayProvider) sign(params map[string]string) (string, error) {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" || k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	content := strings.Join(pairs, "&")

	digest := sha256.Sum256([]byte(content))
	signature, err := rsa.SignPKCS1v15(rand.Reader, p.privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(signature), nil
}

// signContent rebuilds the sorted parameter string Alipay signs,
// excluding the listed keys.
func signContent(params url.Values, exclude ...string) string {
	excluded := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		excluded[k] = true
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if excluded[k] || params.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params.Get(k))
	}
	return strings.Join(pairs, "&")
}

func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return key, nil
}

func parseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return key, nil
}
