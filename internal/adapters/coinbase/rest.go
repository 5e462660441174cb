package coinbase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/halcyonlabs/marketsync/errs"
	"github.com/halcyonlabs/marketsync/internal/ratelimit"
	"github.com/halcyonlabs/marketsync/internal/schema"
)

// Request describes one REST call prior to signing.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Gateway executes signed REST calls against the venue. It acquires a rate
// slot, signs, performs the HTTP call, and classifies the result. It never
// retries; retry policy belongs to the caller.
type Gateway struct {
	opts   Options
	signer *Signer
	gate   *ratelimit.Gate
	client *http.Client
}

// NewGateway constructs a REST gateway sharing the given signer.
func NewGateway(signer *Signer, opts ...Option) *Gateway {
	options := buildOptions(opts...)
	return &Gateway{
		opts:   options,
		signer: signer,
		gate:   ratelimit.NewGate(options.RESTBurst, options.RESTInterval),
		client: &http.Client{Timeout: options.HTTPTimeout},
	}
}

type apiError struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Execute runs the request and returns the raw response body on HTTP 200.
// Any other outcome is a structured request_failed error carrying the HTTP
// status and the venue's machine-readable reason code.
func (g *Gateway) Execute(ctx context.Context, req Request) ([]byte, error) {
	if err := g.gate.Acquire(ctx); err != nil {
		return nil, errs.New(Venue, errs.CodeNetwork,
			errs.WithMessage("rate gate interrupted"),
			errs.WithCause(err))
	}

	var bodyBytes []byte
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errs.New(Venue, errs.CodeInvalid,
				errs.WithMessage("encode request body"),
				errs.WithCause(err))
		}
		bodyBytes = encoded
	}

	token, err := g.signer.Sign(req.Method+" "+req.Path, string(bodyBytes))
	if err != nil {
		return nil, err
	}

	endpoint := g.opts.RESTBaseURL + req.Path
	if len(req.Query) > 0 {
		endpoint += "?" + req.Query.Encode()
	}

	var reader io.Reader
	if bodyBytes != nil {
		reader = bytes.NewReader(bodyBytes)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, endpoint, reader)
	if err != nil {
		return nil, errs.New(Venue, errs.CodeInvalid,
			errs.WithMessage("create request"),
			errs.WithCause(err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("CB-ACCESS-KEY", token.CredentialID)
	httpReq.Header.Set("CB-ACCESS-SIGN", token.Signature)
	httpReq.Header.Set("CB-ACCESS-TIMESTAMP", token.Timestamp)
	httpReq.Header.Set("CB-ACCESS-NONCE", token.Nonce)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, errs.New(Venue, errs.CodeNetwork,
			errs.WithMessage(fmt.Sprintf("%s %s", req.Method, req.Path)),
			errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errs.New(Venue, errs.CodeNetwork,
			errs.WithMessage("read response body"),
			errs.WithCause(err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyFailure(resp.StatusCode, payload)
	}
	return payload, nil
}

// classifyFailure surfaces the venue's structured reason code verbatim; the
// code, not the HTTP status alone, drives caller-level handling.
func classifyFailure(status int, body []byte) error {
	var parsed apiError
	_ = json.Unmarshal(body, &parsed)
	reason := parsed.Code
	if reason == "" {
		reason = parsed.Error
	}
	message := parsed.Message
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	return errs.New(Venue, errs.CodeRequestFailed,
		errs.WithHTTP(status),
		errs.WithRawCode(reason),
		errs.WithRawMessage(message))
}

type bookSnapshotResponse struct {
	PriceBook struct {
		ProductID string          `json:"product_id"`
		Bids      []wirePriceSize `json:"bids"`
		Asks      []wirePriceSize `json:"asks"`
		Time      time.Time       `json:"time"`
	} `json:"pricebook"`
}

type wirePriceSize struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// FetchBookSnapshot retrieves the current full book for a product, used for
// cold starts and gap resynchronization.
func (g *Gateway) FetchBookSnapshot(ctx context.Context, productID string) (bids, asks []schema.PriceLevel, err error) {
	query := url.Values{}
	query.Set("product_id", productID)
	body, err := g.Execute(ctx, Request{Method: http.MethodGet, Path: "/product_book", Query: query})
	if err != nil {
		return nil, nil, err
	}
	var parsed bookSnapshotResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, nil, errs.New(Venue, errs.CodeParse,
			errs.WithMessage("decode product book"),
			errs.WithCause(err))
	}
	bids, err = parseLevels(parsed.PriceBook.Bids)
	if err != nil {
		return nil, nil, err
	}
	asks, err = parseLevels(parsed.PriceBook.Asks)
	if err != nil {
		return nil, nil, err
	}
	return bids, asks, nil
}

func parseLevels(raw []wirePriceSize) ([]schema.PriceLevel, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]schema.PriceLevel, 0, len(raw))
	for _, entry := range raw {
		price, err := decimal.NewFromString(strings.TrimSpace(entry.Price))
		if err != nil {
			return nil, errs.New(Venue, errs.CodeParse,
				errs.WithMessage("parse level price"),
				errs.WithCause(err))
		}
		size, err := decimal.NewFromString(strings.TrimSpace(entry.Size))
		if err != nil {
			return nil, errs.New(Venue, errs.CodeParse,
				errs.WithMessage("parse level size"),
				errs.WithCause(err))
		}
		if size.Sign() <= 0 {
			continue
		}
		out = append(out, schema.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}
