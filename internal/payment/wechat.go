package payment

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/config"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/logger"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/policy"
)

const wechatAPIBase = "https://api.mch.weixin.qq.com"

// WechatProvider integrates WeChat Pay's v2 native (QR) flow: XML
// payloads signed with an MD5 digest over the sorted parameters plus
// the merchant API key. CreatePayment returns an inline QR payload
// rather than a redirect.
type WechatProvider struct {
	core      *Core
	appID     string
	mchID     string
	apiKey    string
	baseURL   string
	notifyURL string
	devMode   bool
	log       *logger.Logger
}

func NewWechatProvider(cfg *config.EnvironmentConfig, core *Core, log *logger.Logger) (*WechatProvider, error) {
	if cfg.WechatAppID == "" || cfg.WechatMchID == "" || cfg.WechatAPIKey == "" {
		return nil, errors.New("wechat pay credentials are not fully configured")
	}
	if log == nil {
		log = logger.New("wechat")
	}
	return &WechatProvider{
		core:      core,
		appID:     cfg.WechatAppID,
		mchID:     cfg.WechatMchID,
		apiKey:    cfg.WechatAPIKey,
		baseURL:   wechatAPIBase,
		notifyURL: cfg.AppURL + "/payment/wechat/notify",
		devMode:   cfg.IsDevelopment(),
		log:       log,
	}, nil
}

func (p *WechatProvider) Method() policy.Method { return policy.MethodWechat }

// SetEndpoint overrides the API base URL for sandbox deployments.
func (p *WechatProvider) SetEndpoint(endpoint string) {
	if endpoint != "" {
		p.baseURL = endpoint
	}
}

func (p *WechatProvider) SettlementCurrency() string { return "CNY" }

// CreatePayment places a unifiedorder with trade type NATIVE and
// returns the code_url as the QR payload. Amounts are sent in fen.
func (p *WechatProvider) CreatePayment(ctx context.Context, order PaymentOrder) (*PaymentResult, error) {
	prepared, err := p.core.PrepareOrder("wechat", order, p.SettlementCurrency())
	if err != nil {
		return nil, err
	}

	outTradeNo := p.core.NewReference()
	params := wxParams{
		"appid":            p.appID,
		"mch_id":           p.mchID,
		"nonce_str":        nonceFrom(outTradeNo),
		"body":             prepared.Description,
		"out_trade_no":     outTradeNo,
		"total_fee":        prepared.Amount.Mul(decimal.NewFromInt(100)).Round(0).String(),
		"spbill_create_ip": "127.0.0.1",
		"notify_url":       p.notifyURL,
		"trade_type":       "NATIVE",
	}
	params["sign"] = p.signParams(params)

	resp, err := p.call(ctx, "/pay/unifiedorder", params)
	if err != nil {
		return nil, err
	}
	if resp["return_code"] != "SUCCESS" {
		return nil, &ProviderError{Provider: "wechat", Code: CodeProviderRejected, Message: fmt.Sprintf("unifiedorder refused: %s", resp["return_msg"])}
	}
	if resp["result_code"] != "SUCCESS" {
		return nil, &ProviderError{Provider: "wechat", Code: CodeProviderRejected, Message: fmt.Sprintf("unifiedorder failed: %s %s", resp["err_code"], resp["err_code_des"])}
	}

	return &PaymentResult{
		Success:    true,
		ExternalID: outTradeNo,
		QRCode:     resp["code_url"],
		Amount:     prepared.Amount,
		Currency:   prepared.Currency,
	}, nil
}

// ConfirmPayment queries order state. trade_state SUCCESS means paid.
func (p *WechatProvider) ConfirmPayment(ctx context.Context, externalID string) (*PaymentConfirmation, error) {
	params := wxParams{
		"appid":        p.appID,
		"mch_id":       p.mchID,
		"nonce_str":    nonceFrom(externalID),
		"out_trade_no": externalID,
	}
	params["sign"] = p.signParams(params)

	resp, err := p.call(ctx, "/pay/orderquery", params)
	if err != nil {
		return nil, err
	}
	if resp["return_code"] != "SUCCESS" {
		return nil, &ProviderError{Provider: "wechat", Code: CodeProviderRejected, Message: fmt.Sprintf("orderquery refused: %s", resp["return_msg"])}
	}

	confirmation := &PaymentConfirmation{
		ExternalID: externalID,
		Status:     resp["trade_state"],
		Currency:   "CNY",
	}
	if fee := resp["total_fee"]; fee != "" {
		if fen, err := decimal.NewFromString(fee); err == nil {
			confirmation.Amount = fen.Div(decimal.NewFromInt(100))
		}
	}
	if resp["trade_state"] == "SUCCESS" {
		confirmation.Confirmed = true
		if paidAt, err := time.ParseInLocation("20060102150405", resp["time_end"], time.Local); err == nil {
			confirmation.PaidAt = &paidAt
		}
	}
	return confirmation, nil
}

func (p *WechatProvider) RefundPayment(ctx context.Context, externalID string, amount decimal.Decimal) (*RefundResult, error) {
	refundNo := p.core.NewReference()
	fee := amount.Mul(decimal.NewFromInt(100)).Round(0).String()
	params := wxParams{
		"appid":         p.appID,
		"mch_id":        p.mchID,
		"nonce_str":     nonceFrom(refundNo),
		"out_trade_no":  externalID,
		"out_refund_no": refundNo,
		"total_fee":     fee,
		"refund_fee":    fee,
	}
	params["sign"] = p.signParams(params)

	resp, err := p.call(ctx, "/secapi/pay/refund", params)
	if err != nil {
		return nil, err
	}

	result := &RefundResult{ExternalID: externalID, Amount: amount, RefundID: refundNo}
	if resp["return_code"] == "SUCCESS" && resp["result_code"] == "SUCCESS" {
		result.Success = true
	} else {
		result.ErrorMessage = fmt.Sprintf("refund rejected: %s %s", resp["return_msg"], resp["err_code_des"])
	}
	return result, nil
}

// VerifyCallback checks the MD5 signature over the XML notify body.
// Skipped only in development mode; a body without a sign field is
// always rejected.
func (p *WechatProvider) VerifyCallback(ctx context.Context, cb Callback) error {
	if p.devMode {
		p.log.Warn("skipping wechat signature verification in development mode")
		return nil
	}

	params, err := parseWXML(cb.Body)
	if err != nil {
		return &ProviderError{Provider: "wechat", Code: CodeSignatureMismatch, Message: fmt.Sprintf("malformed callback body: %v", err)}
	}
	sign := params["sign"]
	if sign == "" {
		return &ProviderError{Provider: "wechat", Code: CodeSignatureMismatch, Message: "callback carries no signature"}
	}

	expected := p.signParams(params)
	if subtle.ConstantTimeCompare([]byte(sign), []byte(expected)) != 1 {
		return &ProviderError{Provider: "wechat", Code: CodeSignatureMismatch, Message: "signature verification failed"}
	}
	return nil
}

// call posts an XML request and decodes the XML response map.
func (p *WechatProvider) call(ctx context.Context, path string, params wxParams) (wxParams, error) {
	payload, err := xml.Marshal(params)
	if err != nil {
		return nil, &ProviderError{Provider: "wechat", Code: CodeConfigurationError, Message: err.Error()}
	}
	body, timedOut, err := postXML(ctx, p.baseURL+path, payload)
	if err != nil {
		return nil, newTransportError("wechat", err, timedOut)
	}
	resp, err := parseWXML(body)
	if err != nil {
		return nil, &ProviderError{Provider: "wechat", Code: CodeProviderRejected, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return resp, nil
}

// signParams computes the v2 MD5 signature: sorted non-empty k=v pairs
// joined with &, suffixed with the merchant key, uppercase hex.
func (p *WechatProvider) signParams(params wxParams) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
		sb.WriteByte('&')
	}
	sb.WriteString("key=")
	sb.WriteString(p.apiKey)

	digest := md5.Sum([]byte(sb.String()))
	return strings.ToUpper(hex.EncodeToString(digest[:]))
}

// nonceFrom derives a nonce from a reference, keeping requests
// reproducible for a given merchant order number.
func nonceFrom(reference string) string {
	digest := md5.Sum([]byte(reference))
	return hex.EncodeToString(digest[:])
}

// wxParams is a flat v2 XML document: <xml><k>v</k>...</xml>.
type wxParams map[string]string

func (m wxParams) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "xml"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		elem := xml.StartElement{Name: xml.Name{Local: k}}
		if err := e.EncodeElement(m[k], elem); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

func parseWXML(data []byte) (wxParams, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(data)))
	params := wxParams{}
	var current string
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local != "xml" {
				current = t.Name.Local
			}
		case xml.CharData:
			if current != "" {
				params[current] += string(t)
			}
		case xml.EndElement:
			current = ""
		}
	}
	if len(params) == 0 {
		return nil, errors.New("empty xml document")
	}
	return params, nil
}
