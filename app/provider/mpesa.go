package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const mpesaMethod = "mpesa"

type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	HTTPTimeout    time.Duration
}

// MpesaGateway drives Safaricom's STK push flow. Initiate returns a pending
// outcome with the CheckoutRequestID; the terminal state arrives via the
// callback or a later Verify (stkpushquery).
type MpesaGateway struct {
	cfg    MpesaConfig
	client *resty.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewMpesaGateway(cfg MpesaConfig) *MpesaGateway {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.safaricom.co.ke"
	}
	cfg.BaseURL = baseURL

	return &MpesaGateway{
		cfg:    cfg,
		client: resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
	}
}

func (g *MpesaGateway) Method() string {
	return mpesaMethod
}

func (g *MpesaGateway) SignatureHeader() string {
	return "X-Mpesa-Signature"
}

func (g *MpesaGateway) Initiate(ctx context.Context, input *InitiateInput) (*InitiateOutput, error) {
	phone := strings.TrimSpace(input.PaymentData["phoneNumber"])
	if phone == "" {
		return nil, errors.New("mpesa initiate requires a phoneNumber in payment data")
	}

	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().UTC().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(g.cfg.ShortCode + g.cfg.Passkey + timestamp))

	var result struct {
		CheckoutRequestID   string `json:"CheckoutRequestID"`
		MerchantRequestID   string `json:"MerchantRequestID"`
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(map[string]any{
			"BusinessShortCode": g.cfg.ShortCode,
			"Password":          password,
			"Timestamp":         timestamp,
			"TransactionType":   "CustomerPayBillOnline",
			"Amount":            input.AmountCents / 100,
			"PartyA":            phone,
			"PartyB":            g.cfg.ShortCode,
			"PhoneNumber":       phone,
			"CallBackURL":       input.CallbackURL,
			"AccountReference":  input.CheckoutRef,
			"TransactionDesc":   "order " + input.OrderID,
		}).
		SetResult(&result).
		Post("/mpesa/stkpush/v1/processrequest")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("mpesa stkpush failed: status=%d body=%s", resp.StatusCode(), resp.String())
	}
	if result.ResponseCode != "0" {
		return nil, fmt.Errorf("mpesa stkpush rejected: code=%s desc=%s", result.ResponseCode, result.ResponseDescription)
	}

	output := &InitiateOutput{Metadata: map[string]string{}}
	if id := strings.TrimSpace(result.CheckoutRequestID); id != "" {
		output.ProviderTransactionID = &id
	}
	if id := strings.TrimSpace(result.MerchantRequestID); id != "" {
		output.Metadata["merchantRequestId"] = id
	}

	return output, nil
}

func (g *MpesaGateway) Verify(ctx context.Context, providerTransactionID string) (*VerifyOutput, error) {
	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().UTC().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(g.cfg.ShortCode + g.cfg.Passkey + timestamp))

	var result struct {
		ResultCode string `json:"ResultCode"`
		ResultDesc string `json:"ResultDesc"`
		ErrorCode  string `json:"errorCode"`
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(map[string]any{
			"BusinessShortCode": g.cfg.ShortCode,
			"Password":          password,
			"Timestamp":         timestamp,
			"CheckoutRequestID": providerTransactionID,
		}).
		SetResult(&result).
		Post("/mpesa/stkpushquery/v1/query")
	if err != nil {
		return nil, err
	}
	// 500.001.1001 means the push is still being processed.
	if result.ErrorCode == "500.001.1001" {
		return &VerifyOutput{Outcome: OutcomePending, Reason: "stk push in progress"}, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("mpesa stkpushquery failed: status=%d body=%s", resp.StatusCode(), resp.String())
	}

	switch result.ResultCode {
	case "0":
		return &VerifyOutput{Outcome: OutcomeCompleted, Metadata: map[string]string{}}, nil
	case "":
		return &VerifyOutput{Outcome: OutcomePending}, nil
	default:
		return &VerifyOutput{Outcome: OutcomeFailed, Reason: strings.TrimSpace(result.ResultDesc)}, nil
	}
}

func (g *MpesaGateway) Refund(ctx context.Context, providerTransactionID string, amountCents int64) (*RefundOutput, error) {
	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}

	var result struct {
		ConversationID      string `json:"ConversationID"`
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(map[string]any{
			"Initiator":              g.cfg.ShortCode,
			"CommandID":              "TransactionReversal",
			"TransactionID":          providerTransactionID,
			"Amount":                 amountCents / 100,
			"ReceiverParty":          g.cfg.ShortCode,
			"RecieverIdentifierType": "11",
			"Remarks":                "payment refund",
		}).
		SetResult(&result).
		Post("/mpesa/reversal/v1/request")
	if err != nil {
		return nil, err
	}
	if resp.IsError() || result.ResponseCode != "0" {
		return nil, fmt.Errorf("mpesa reversal failed: status=%d code=%s desc=%s", resp.StatusCode(), result.ResponseCode, result.ResponseDescription)
	}

	output := &RefundOutput{Metadata: map[string]string{}}
	if id := strings.TrimSpace(result.ConversationID); id != "" {
		output.ProviderRefundID = &id
	}

	return output, nil
}

func (g *MpesaGateway) ParseCallback(payload []byte) (*CallbackEvent, error) {
	var body struct {
		Body struct {
			StkCallback struct {
				MerchantRequestID string `json:"MerchantRequestID"`
				CheckoutRequestID string `json:"CheckoutRequestID"`
				ResultCode        int    `json:"ResultCode"`
				ResultDesc        string `json:"ResultDesc"`
				CallbackMetadata  struct {
					Item []struct {
						Name  string `json:"Name"`
						Value any    `json:"Value"`
					} `json:"Item"`
				} `json:"CallbackMetadata"`
			} `json:"stkCallback"`
		} `json:"Body"`
	}
	if err := unmarshalCallback(payload, &body); err != nil {
		return nil, err
	}

	callback := body.Body.StkCallback
	txnID := strings.TrimSpace(callback.CheckoutRequestID)
	if txnID == "" {
		return nil, errors.New("mpesa callback is missing CheckoutRequestID")
	}

	event := &CallbackEvent{
		ProviderTransactionID: txnID,
		Metadata:              map[string]string{},
	}

	if callback.ResultCode == 0 {
		event.Outcome = OutcomeCompleted
	} else {
		event.Outcome = OutcomeFailed
		event.Reason = strings.TrimSpace(callback.ResultDesc)
	}

	// Receipt number and transaction date are the only metadata items we keep.
	// The PhoneNumber item is deliberately dropped.
	for _, item := range callback.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			event.Metadata["receiptNumber"] = stringifyCallbackValue(item.Value)
		case "TransactionDate":
			event.Metadata["transactionDate"] = stringifyCallbackValue(item.Value)
		}
	}

	return event, nil
}

func (g *MpesaGateway) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.accessToken != "" && time.Now().Before(g.tokenExpiry) {
		return g.accessToken, nil
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetBasicAuth(g.cfg.ConsumerKey, g.cfg.ConsumerSecret).
		SetQueryParam("grant_type", "client_credentials").
		SetResult(&result).
		Get("/oauth/v1/generate")
	if err != nil {
		return "", err
	}
	if resp.IsError() || strings.TrimSpace(result.AccessToken) == "" {
		return "", fmt.Errorf("mpesa token request failed: status=%d body=%s", resp.StatusCode(), resp.String())
	}

	expires := int64(3599)
	if n, err := strconv.ParseInt(strings.TrimSpace(result.ExpiresIn), 10, 64); err == nil && n > 0 {
		expires = n
	}

	g.accessToken = result.AccessToken
	g.tokenExpiry = time.Now().Add(time.Duration(expires-60) * time.Second)
	return g.accessToken, nil
}

func stringifyCallbackValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
