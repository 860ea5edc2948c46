package carriers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"label-settlement-go/internal/models"

	"go.uber.org/zap"
)

// Credential keys read from a carrier account
const (
	CredentialAPIKey    = "api_key"
	CredentialAPISecret = "api_secret"
	CredentialBaseURL   = "base_url"
)

// GatewayAdapter talks JSON over HTTP to a rating and labeling gateway that
// fronts one carrier.
type GatewayAdapter struct {
	spec       CarrierSpec
	baseURL    string
	accountId  string
	apiKey     string
	apiSecret  string
	facility   string
	httpClient *http.Client

	mu          sync.Mutex
	authToken   string
	tokenExpiry time.Time
}

// NewGatewayAdapter builds an adapter for account. It fails when the account
// lacks credentials or the carrier has no endpoint for the requested mode.
func NewGatewayAdapter(spec CarrierSpec, account *models.CarrierAccount, isTest bool, facility string) (Adapter, error) {
	baseURL := account.Credentials[CredentialBaseURL]
	if baseURL == "" {
		baseURL = spec.baseURL(isTest)
	}
	if baseURL == "" {
		return nil, fmt.Errorf("no endpoint configured for %s (test=%t)", spec.Code, isTest)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid endpoint for %s: %w", spec.Code, err)
	}

	apiKey := account.Credentials[CredentialAPIKey]
	apiSecret := account.Credentials[CredentialAPISecret]
	if apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("account %s is missing gateway credentials", account.AccountId)
	}

	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	return &GatewayAdapter{
		spec:       spec,
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountId:  account.AccountId,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		facility:   facility,
		httpClient: httpClient,
	}, nil
}

// statusError is a non-2xx gateway response.
type statusError struct {
	Status  int
	Message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.Status, e.Message)
}

type gatewayError struct {
	Message string `json:"message"`
}

type tokenRequest struct {
	ApiKey    string `json:"apiKey"`
	ApiSecret string `json:"apiSecret"`
	AccountId string `json:"accountId"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

type shipmentPayload struct {
	OrderId     string           `json:"orderId"`
	AccountId   string           `json:"accountId"`
	Facility    string           `json:"facility,omitempty"`
	Service     string           `json:"service,omitempty"`
	ServiceCode string           `json:"serviceCode,omitempty"`
	Sender      models.Address   `json:"sender"`
	Recipient   models.Address   `json:"recipient"`
	Return      *models.Address  `json:"return,omitempty"`
	Packages    []models.Package `json:"packages"`
	Customs     *models.Customs  `json:"customs,omitempty"`
}

type ratesResponse struct {
	Products []models.Product `json:"products"`
}

type labelRequest struct {
	Shipment shipmentPayload `json:"shipment"`
	Product  models.Product  `json:"product"`
}

type validateResponse struct {
	Valid   bool           `json:"valid"`
	Message string         `json:"message"`
	Address models.Address `json:"address"`
}

type manifestRequest struct {
	AccountId   string   `json:"accountId"`
	Facility    string   `json:"facility,omitempty"`
	TrackingIds []string `json:"trackingIds"`
}

// Init obtains an access token. A cached token is reused until it expires.
func (g *GatewayAdapter) Init(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.authToken != "" && time.Now().Before(g.tokenExpiry) {
		return nil
	}

	var resp tokenResponse
	err := g.do(ctx, http.MethodPost, "/auth/token", "", tokenRequest{
		ApiKey:    g.apiKey,
		ApiSecret: g.apiSecret,
		AccountId: g.accountId,
	}, &resp)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	if resp.Token == "" {
		return fmt.Errorf("authentication failed: empty token")
	}

	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	g.authToken = resp.Token
	g.tokenExpiry = time.Now().Add(ttl)
	return nil
}

func (g *GatewayAdapter) Products(ctx context.Context, shipment *models.Shipment) ([]models.Product, error) {
	var resp ratesResponse
	if err := g.authorized(ctx, http.MethodPost, "/rates", g.payload(shipment), &resp); err != nil {
		return nil, err
	}
	for i := range resp.Products {
		if resp.Products[i].Carrier == "" {
			resp.Products[i].Carrier = g.spec.Code
		}
		if resp.Products[i].Currency == "" {
			resp.Products[i].Currency = g.spec.Currency
		}
	}
	return resp.Products, nil
}

func (g *GatewayAdapter) Label(ctx context.Context, shipment *models.Shipment, product models.Product) (*LabelResult, error) {
	var resp LabelResult
	if err := g.authorized(ctx, http.MethodPost, "/labels", labelRequest{Shipment: g.payload(shipment), Product: product}, &resp); err != nil {
		return nil, err
	}
	if resp.TrackingId == "" || len(resp.Labels) == 0 {
		return nil, fmt.Errorf("gateway returned an incomplete label for order %s", shipment.OrderId)
	}
	return &resp, nil
}

func (g *GatewayAdapter) ValidateAddress(ctx context.Context, address models.Address) (*models.Address, error) {
	var resp validateResponse
	if err := g.authorized(ctx, http.MethodPost, "/addresses/validate", address, &resp); err != nil {
		return nil, err
	}
	if !resp.Valid {
		msg := resp.Message
		if msg == "" {
			msg = "address could not be validated"
		}
		return nil, Rejection(msg)
	}
	return &resp.Address, nil
}

func (g *GatewayAdapter) CreateManifest(ctx context.Context, shipments []models.Shipment) (*Manifest, error) {
	req := manifestRequest{AccountId: g.accountId, Facility: g.facility}
	for _, s := range shipments {
		req.TrackingIds = append(req.TrackingIds, s.TrackingId)
	}
	var resp Manifest
	if err := g.authorized(ctx, http.MethodPost, "/manifests", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (g *GatewayAdapter) GetManifest(ctx context.Context, manifestId string) (*Manifest, error) {
	var resp Manifest
	if err := g.authorized(ctx, http.MethodGet, "/manifests/"+url.PathEscape(manifestId), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (g *GatewayAdapter) GetTrackingInfo(ctx context.Context, trackingId string) (*TrackingInfo, error) {
	var resp TrackingInfo
	if err := g.authorized(ctx, http.MethodGet, "/tracking/"+url.PathEscape(trackingId), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (g *GatewayAdapter) payload(s *models.Shipment) shipmentPayload {
	facility := s.Facility
	if facility == "" {
		facility = g.facility
	}
	return shipmentPayload{
		OrderId:     s.OrderId,
		AccountId:   g.accountId,
		Facility:    facility,
		Service:     s.Service,
		ServiceCode: s.ServiceCode,
		Sender:      s.Sender,
		Recipient:   s.Recipient,
		Return:      s.Return,
		Packages:    s.Packages,
		Customs:     s.Customs,
	}
}

func (g *GatewayAdapter) authorized(ctx context.Context, method, path string, in, out any) error {
	g.mu.Lock()
	token := g.authToken
	g.mu.Unlock()
	if token == "" {
		return fmt.Errorf("adapter for %s used before Init", g.spec.Code)
	}
	err := g.do(ctx, method, path, token, in, out)
	if IsUnauthorized(err) {
		g.mu.Lock()
		if g.authToken == token {
			g.authToken = ""
		}
		g.mu.Unlock()
	}
	return err
}

// do sends one request. A 422 response is the gateway refusing the request
// for the client and becomes a Rejection.
func (g *GatewayAdapter) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ge gatewayError
		if json.Unmarshal(data, &ge) != nil || ge.Message == "" {
			ge.Message = strings.TrimSpace(string(data))
		}
		if resp.StatusCode == http.StatusUnprocessableEntity {
			return Rejection(ge.Message)
		}
		zap.L().Debug("Gateway request failed",
			zap.String("carrier", g.spec.Code),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return &statusError{Status: resp.StatusCode, Message: ge.Message}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// IsUnauthorized reports whether err is the gateway refusing the credentials.
func IsUnauthorized(err error) bool {
	var se *statusError
	return errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden)
}
