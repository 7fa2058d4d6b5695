package remote

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
	"github.com/atvirokodosprendimai/surveysync/internal/core/ports"
)

var _ ports.RemoteClient = (*Client)(nil)

const maxErrorBody = 64 << 10

type Config struct {
	BaseURL string
	Tokens  TokenSource
	// SigningSecret, when set, signs every write body into X-Signature.
	SigningSecret string
	HTTPClient    *http.Client
}

// Client is the HTTP implementation of ports.RemoteClient. Failures are
// translated into domain errors: transport errors become ConnectivityError,
// 408/429/5xx RemoteError, 409/412 ConflictError, 404 ErrNotFound and any
// other 4xx ValidationError.
type Client struct {
	base   *url.URL
	tokens TokenSource
	secret []byte
	client *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid remote base url %q", cfg.BaseURL)
	}
	client := cfg.HTTPClient
	if client == nil {
		// Callers bound every request with a context deadline.
		client = &http.Client{}
	}
	return &Client{base: base, tokens: cfg.Tokens, secret: []byte(cfg.SigningSecret), client: client}, nil
}

func (c *Client) List(ctx context.Context, resourceType domain.ResourceType) (json.RawMessage, error) {
	return c.do(ctx, request{
		op:           "list " + string(resourceType),
		method:       http.MethodGet,
		path:         []string{string(resourceType)},
		resourceType: resourceType,
	})
}

func (c *Client) Get(ctx context.Context, resourceType domain.ResourceType, id string) (json.RawMessage, error) {
	return c.do(ctx, request{
		op:           "get " + string(resourceType) + "/" + id,
		method:       http.MethodGet,
		path:         []string{string(resourceType), id},
		resourceType: resourceType,
		resourceID:   id,
	})
}

func (c *Client) Send(ctx context.Context, m domain.PendingMutation, opts ports.SendOptions) (json.RawMessage, error) {
	req := request{
		op:             string(m.Operation) + " " + string(m.ResourceType),
		resourceType:   m.ResourceType,
		resourceID:     m.ResourceID,
		body:           m.Payload,
		idempotencyKey: m.ID,
		schemaVersion:  m.SchemaVersion,
		overwrite:      opts.Overwrite,
	}
	switch m.Operation {
	case domain.OperationCreate:
		req.method, req.path = http.MethodPost, []string{string(m.ResourceType)}
	case domain.OperationUpdate:
		req.method, req.path = http.MethodPut, []string{string(m.ResourceType), m.ResourceID}
	case domain.OperationDelete:
		req.method, req.path = http.MethodDelete, []string{string(m.ResourceType), m.ResourceID}
	case domain.OperationAction:
		req.method, req.path = http.MethodPost, []string{string(m.ResourceType), m.ResourceID, "actions", m.Action}
	default:
		return nil, &domain.ValidationError{Errors: []string{"unsupported operation " + string(m.Operation)}}
	}
	out, err := c.do(ctx, req)
	if err != nil && m.Operation == domain.OperationDelete && errors.Is(err, domain.ErrNotFound) {
		// Already gone, e.g. a retry after a lost response.
		return nil, nil
	}
	return out, err
}

type request struct {
	op             string
	method         string
	path           []string
	resourceType   domain.ResourceType
	resourceID     string
	body           json.RawMessage
	idempotencyKey string
	schemaVersion  int
	overwrite      bool
}

func (c *Client) do(ctx context.Context, r request) (json.RawMessage, error) {
	endpoint := c.base.JoinPath(r.path...)

	var body io.Reader
	if len(r.body) > 0 {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, endpoint.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", r.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if len(r.body) > 0 {
		req.Header.Set("Content-Type", "application/json")
		if len(c.secret) > 0 {
			req.Header.Set("X-Signature", "sha256="+c.sign(r.body))
		}
	}
	if r.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", r.idempotencyKey)
		req.Header.Set("X-Mutation-Schema-Version", strconv.Itoa(r.schemaVersion))
	}
	if r.overwrite {
		req.Header.Set("X-Conflict-Policy", "overwrite")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: token: %w", r.op, err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", r.op, ctxErr)
		}
		return nil, &domain.ConnectivityError{Op: r.op, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", r.op, ctxErr)
		}
		return nil, &domain.ConnectivityError{Op: r.op, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if len(bytes.TrimSpace(payload)) == 0 {
			return nil, nil
		}
		if !json.Valid(payload) {
			return nil, &domain.RemoteError{StatusCode: resp.StatusCode, Message: "response is not valid JSON"}
		}
		return json.RawMessage(payload), nil
	}
	return nil, statusError(r, resp.StatusCode, payload)
}

func statusError(r request, status int, payload []byte) error {
	messages := errorMessages(payload)
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", r.op, domain.ErrNotFound)
	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		return &domain.ConflictError{ResourceType: r.resourceType, ResourceID: r.resourceID, Message: strings.Join(messages, "; ")}
	case status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return &domain.RemoteError{StatusCode: status, Message: strings.Join(messages, "; ")}
	case status >= 400:
		if len(messages) == 0 {
			messages = []string{http.StatusText(status)}
		}
		return &domain.ValidationError{StatusCode: status, Errors: messages}
	default:
		return &domain.RemoteError{StatusCode: status, Message: strings.Join(messages, "; ")}
	}
}

// errorMessages reads {"error": "..."} and {"errors": [...]} bodies, falling
// back to the trimmed raw text.
func errorMessages(payload []byte) []string {
	if len(payload) > maxErrorBody {
		payload = payload[:maxErrorBody]
	}
	var body struct {
		Error   string   `json:"error"`
		Message string   `json:"message"`
		Errors  []string `json:"errors"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		var out []string
		if body.Error != "" {
			out = append(out, body.Error)
		} else if body.Message != "" {
			out = append(out, body.Message)
		}
		out = append(out, body.Errors...)
		if len(out) > 0 {
			return out
		}
	}
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return nil
	}
	if len(text) > 512 {
		text = text[:512]
	}
	return []string{text}
}

func (c *Client) sign(body []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
