package gateway

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Gateway status codes as reported in getSbpStatus responses and webhook
// notifications. "1" is the only code that credits a deposit.
const (
	StatusDeposited = "1"
	StatusDeclined  = "2"
	StatusCancelled = "3"
)

// OperationDeposited is the operation tag a success outcome must carry.
const OperationDeposited = "deposited"

type Config struct {
	BaseURL  string
	UserName string
	Password string
	Timeout  time.Duration
}

// Client talks the SBP gateway's REST dialect: form-encoded requests carrying
// merchant credentials, flat key=value responses, errorCode "0" on success.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type OrderRequest struct {
	OrderNumber     string
	AmountMinor     int64
	Description     string
	ReturnURL       string
	FailURL         string
	NotificationURL string
}

type OrderResult struct {
	OrderID     string
	OrderNumber string
	FormURL     string
}

type QrResult struct {
	QrCode    string
	QrCodeURL string
}

type StatusResult struct {
	OrderID     string
	Status      string
	AmountMinor int64
	Operation   string
}

func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	params := url.Values{}
	params.Set("orderNumber", req.OrderNumber)
	params.Set("amount", strconv.FormatInt(req.AmountMinor, 10))
	params.Set("description", req.Description)
	params.Set("returnUrl", req.ReturnURL)
	params.Set("failUrl", req.FailURL)
	params.Set("notificationUrl", req.NotificationURL)
	params.Set("language", "ru")
	params.Set("currency", "643")
	params.Set("sessionTimeoutSecs", "1200")

	fields, err := c.call(ctx, "register.do", params)
	if err != nil {
		return OrderResult{}, err
	}
	return OrderResult{
		OrderID:     fields["orderId"],
		OrderNumber: fields["orderNumber"],
		FormURL:     fields["formUrl"],
	}, nil
}

func (c *Client) GetQrCode(ctx context.Context, orderID string) (QrResult, error) {
	params := url.Values{}
	params.Set("orderId", orderID)
	fields, err := c.call(ctx, "getSbpQrCode.do", params)
	if err != nil {
		return QrResult{}, err
	}
	return QrResult{
		QrCode:    fields["qrCode"],
		QrCodeURL: fields["qrCodeUrl"],
	}, nil
}

func (c *Client) GetStatus(ctx context.Context, orderID string) (StatusResult, error) {
	params := url.Values{}
	params.Set("orderId", orderID)
	fields, err := c.call(ctx, "getSbpStatus.do", params)
	if err != nil {
		return StatusResult{}, err
	}
	amount, _ := strconv.ParseInt(fields["amount"], 10, 64)
	return StatusResult{
		OrderID:     fields["orderId"],
		Status:      fields["status"],
		AmountMinor: amount,
		Operation:   fields["operation"],
	}, nil
}

func (c *Client) DeclinePayment(ctx context.Context, orderID string) error {
	params := url.Values{}
	params.Set("orderId", orderID)
	_, err := c.call(ctx, "declineSbpPayment.do", params)
	return err
}

// call POSTs a form-encoded request with merchant credentials attached and
// decodes the flat response. Business rejections come back as *GatewayError,
// everything transport-shaped as *NetworkError.
func (c *Client) call(ctx context.Context, op string, params url.Values) (map[string]string, error) {
	params.Set("userName", c.cfg.UserName)
	params.Set("password", c.cfg.Password)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + op
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}

	fields, err := ParseResponse(string(body))
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	if code, ok := fields["errorCode"]; ok && code != "0" {
		return nil, &GatewayError{Op: op, Code: code, Message: fields["errorMessage"]}
	}
	return fields, nil
}

// ParseResponse decodes the gateway's key=value&key2=value2 body into a flat
// field map.
func ParseResponse(body string) (map[string]string, error) {
	values, err := url.ParseQuery(strings.TrimSpace(body))
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(values))
	for key := range values {
		fields[key] = values.Get(key)
	}
	return fields, nil
}
