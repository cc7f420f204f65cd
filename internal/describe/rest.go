package describe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultAPIVersion is used when RESTConfig.APIVersion is empty.
const DefaultAPIVersion = "59.0"

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// RESTConfig configures RESTTransport.
type RESTConfig struct {
	InstanceURL string
	APIVersion  string
	// AccessToken is used as a static bearer token when no client credentials
	// are configured.
	AccessToken  string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Timeout      time.Duration
}

// RESTTransport fetches describes from the platform REST API.
type RESTTransport struct {
	baseURL string
	client  *http.Client
}

// RESTOption configures a RESTTransport.
type RESTOption func(*RESTTransport)

// WithHTTPClient replaces the authenticated client built from RESTConfig.
func WithHTTPClient(client *http.Client) RESTOption {
	return func(t *RESTTransport) {
		t.client = client
	}
}

// NewRESTTransport builds a REST transport. ctx scopes token refreshes for
// client-credentials auth.
func NewRESTTransport(ctx context.Context, cfg RESTConfig, opts ...RESTOption) (*RESTTransport, error) {
	instance := strings.TrimRight(strings.TrimSpace(cfg.InstanceURL), "/")
	if instance == "" {
		return nil, fmt.Errorf("describe rest: instance URL is required")
	}
	if _, err := url.ParseRequestURI(instance); err != nil {
		return nil, fmt.Errorf("describe rest: invalid instance URL %q: %w", cfg.InstanceURL, err)
	}
	version := strings.TrimPrefix(strings.TrimSpace(cfg.APIVersion), "v")
	if version == "" {
		version = DefaultAPIVersion
	}

	t := &RESTTransport{
		baseURL: fmt.Sprintf("%s/services/data/v%s/sobjects/", instance, version),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.client != nil {
		return t, nil
	}

	source, err := tokenSource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	base := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, base), source)
	client.Timeout = cfg.Timeout
	t.client = client
	return t, nil
}

func tokenSource(ctx context.Context, cfg RESTConfig) (oauth2.TokenSource, error) {
	if cfg.ClientID != "" {
		if cfg.TokenURL == "" {
			return nil, fmt.Errorf("describe rest: token URL is required for client credentials")
		}
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		return cc.TokenSource(ctx), nil
	}
	if cfg.AccessToken != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"}), nil
	}
	return nil, fmt.Errorf("describe rest: an access token or client credentials are required")
}

type restGlobal struct {
	SObjects []ObjectSummary `json:"sobjects"`
}

type restObject struct {
	Name               string  `json:"name"`
	Label              string  `json:"label"`
	Fields             []Field `json:"fields"`
	ChildRelationships []struct {
		RelationshipName string `json:"relationshipName"`
		ChildSObject     string `json:"childSObject"`
		Field            string `json:"field"`
	} `json:"childRelationships"`
}

type restError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

func (t *RESTTransport) DescribeGlobal(ctx context.Context) ([]ObjectSummary, error) {
	ctx, span := startSpan(ctx, "describe.rest.global")
	defer span.End()

	var global restGlobal
	if err := t.get(ctx, t.baseURL, "global", "", &global); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("describe.objects", len(global.SObjects)))
	return global.SObjects, nil
}

func (t *RESTTransport) DescribeObject(ctx context.Context, name string) (*Object, error) {
	ctx, span := startSpan(ctx, "describe.rest.object", attribute.String("describe.object", name))
	defer span.End()

	var wire restObject
	if err := t.get(ctx, t.baseURL+url.PathEscape(name)+"/describe/", "object", name, &wire); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	obj := &Object{
		Name:   wire.Name,
		Label:  wire.Label,
		Fields: wire.Fields,
	}
	for _, rel := range wire.ChildRelationships {
		// Child relationships without a name cannot be queried as sub-selects.
		if rel.RelationshipName == "" {
			continue
		}
		obj.ChildRelationships = append(obj.ChildRelationships, ChildRelationship{
			RelationshipName: rel.RelationshipName,
			ChildObject:      rel.ChildSObject,
			Field:            rel.Field,
		})
	}
	return obj, nil
}

func (t *RESTTransport) get(ctx context.Context, endpoint, op, object string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &TransportError{Op: op, Object: object, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return &TransportError{Op: op, Object: object, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound && object != "" {
		return NotFound(object)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: op, Object: object, StatusCode: resp.StatusCode, Err: readPlatformError(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &TransportError{Op: op, Object: object, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func readPlatformError(body io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return errors.New("empty error response")
	}
	var platform []restError
	if json.Unmarshal(data, &platform) == nil && len(platform) > 0 {
		if platform[0].ErrorCode != "" {
			return fmt.Errorf("%s: %s", platform[0].ErrorCode, platform[0].Message)
		}
		return errors.New(platform[0].Message)
	}
	return errors.New(strings.TrimSpace(string(data)))
}
