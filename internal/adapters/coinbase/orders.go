package coinbase

import (
	"context"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/halcyonlabs/marketsync/errs"
	"github.com/halcyonlabs/marketsync/internal/schema"
)

type orderConfiguration struct {
	MarketIOC    *marketIOCConfig    `json:"market_market_ioc,omitempty"`
	LimitGTC     *limitGTCConfig     `json:"limit_limit_gtc,omitempty"`
	LimitGTD     *limitGTDConfig     `json:"limit_limit_gtd,omitempty"`
	StopLimitGTC *stopLimitGTCConfig `json:"stop_limit_stop_limit_gtc,omitempty"`
	StopLimitGTD *stopLimitGTDConfig `json:"stop_limit_stop_limit_gtd,omitempty"`
}

type marketIOCConfig struct {
	BaseSize string `json:"base_size"`
}

type limitGTCConfig struct {
	BaseSize   string `json:"base_size"`
	LimitPrice string `json:"limit_price"`
	PostOnly   bool   `json:"post_only"`
}

type limitGTDConfig struct {
	BaseSize   string `json:"base_size"`
	LimitPrice string `json:"limit_price"`
	EndTime    string `json:"end_time"`
	PostOnly   bool   `json:"post_only"`
}

type stopLimitGTCConfig struct {
	BaseSize      string `json:"base_size"`
	StopPrice     string `json:"stop_price"`
	LimitPrice    string `json:"limit_price"`
	StopDirection string `json:"stop_direction"`
}

type stopLimitGTDConfig struct {
	BaseSize      string `json:"base_size"`
	StopPrice     string `json:"stop_price"`
	LimitPrice    string `json:"limit_price"`
	StopDirection string `json:"stop_direction"`
	EndTime       string `json:"end_time"`
}

type createOrderRequest struct {
	ClientOrderID string             `json:"client_order_id"`
	ProductID     string             `json:"product_id"`
	Side          string             `json:"side"`
	Configuration orderConfiguration `json:"order_configuration"`
}

type createOrderResponse struct {
	Success         bool   `json:"success"`
	OrderID         string `json:"order_id"`
	FailureReason   string `json:"failure_reason"`
	SuccessResponse struct {
		OrderID string `json:"order_id"`
	} `json:"success_response"`
	ErrorResponse struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	} `json:"error_response"`
}

type cancelOrdersResponse struct {
	Results []struct {
		Success       bool   `json:"success"`
		OrderID       string `json:"order_id"`
		FailureReason string `json:"failure_reason"`
	} `json:"results"`
}

// buildOrderConfiguration maps the order-kind tagged union onto the venue's
// wire shape, each variant carrying only its own fields.
func buildOrderConfiguration(config schema.OrderConfig) (orderConfiguration, error) {
	switch c := config.(type) {
	case schema.MarketOrder:
		return orderConfiguration{MarketIOC: &marketIOCConfig{
			BaseSize: c.BaseSize.String(),
		}}, nil
	case schema.LimitGTCOrder:
		return orderConfiguration{LimitGTC: &limitGTCConfig{
			BaseSize:   c.BaseSize.String(),
			LimitPrice: c.LimitPrice.String(),
			PostOnly:   c.PostOnly,
		}}, nil
	case schema.LimitGTDOrder:
		return orderConfiguration{LimitGTD: &limitGTDConfig{
			BaseSize:   c.BaseSize.String(),
			LimitPrice: c.LimitPrice.String(),
			EndTime:    c.EndTime.UTC().Format(time.RFC3339),
			PostOnly:   c.PostOnly,
		}}, nil
	case schema.StopLimitGTCOrder:
		return orderConfiguration{StopLimitGTC: &stopLimitGTCConfig{
			BaseSize:      c.BaseSize.String(),
			StopPrice:     c.StopPrice.String(),
			LimitPrice:    c.LimitPrice.String(),
			StopDirection: stopDirection(c.StopDirection),
		}}, nil
	case schema.StopLimitGTDOrder:
		return orderConfiguration{StopLimitGTD: &stopLimitGTDConfig{
			BaseSize:      c.BaseSize.String(),
			StopPrice:     c.StopPrice.String(),
			LimitPrice:    c.LimitPrice.String(),
			StopDirection: stopDirection(c.StopDirection),
			EndTime:       c.EndTime.UTC().Format(time.RFC3339),
		}}, nil
	default:
		return orderConfiguration{}, errs.New(Venue, errs.CodeInvalid,
			errs.WithMessage("unsupported order configuration"))
	}
}

func stopDirection(side schema.Side) string {
	if side == schema.SideSell {
		return "STOP_DIRECTION_STOP_DOWN"
	}
	return "STOP_DIRECTION_STOP_UP"
}

// PlaceOrder submits req and returns the exchange order id.
func (g *Gateway) PlaceOrder(ctx context.Context, req schema.OrderRequest) (string, error) {
	if req.Config == nil {
		return "", errs.New(Venue, errs.CodeInvalid, errs.WithMessage("order configuration required"))
	}
	configuration, err := buildOrderConfiguration(req.Config)
	if err != nil {
		return "", err
	}
	payload := createOrderRequest{
		ClientOrderID: req.ClientOrderID,
		ProductID:     req.Symbol,
		Side:          strings.ToUpper(string(req.Side)),
		Configuration: configuration,
	}
	body, err := g.Execute(ctx, Request{Method: http.MethodPost, Path: "/orders", Body: payload})
	if err != nil {
		return "", err
	}
	var parsed createOrderResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errs.New(Venue, errs.CodeParse,
			errs.WithMessage("decode create order response"),
			errs.WithCause(err))
	}
	if !parsed.Success {
		return "", errs.New(Venue, errs.CodeRequestFailed,
			errs.WithRawCode(parsed.FailureReason),
			errs.WithRawMessage(parsed.ErrorResponse.Message))
	}
	orderID := parsed.OrderID
	if orderID == "" {
		orderID = parsed.SuccessResponse.OrderID
	}
	return orderID, nil
}

// CancelOrder requests cancellation of one exchange order id. Business
// failures such as INVALID_CANCEL_REQUEST or UNKNOWN_CANCEL_ORDER surface
// through the raw reason code.
func (g *Gateway) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	payload := map[string][]string{"order_ids": {exchangeOrderID}}
	body, err := g.Execute(ctx, Request{Method: http.MethodPost, Path: "/orders/batch_cancel", Body: payload})
	if err != nil {
		return err
	}
	var parsed cancelOrdersResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return errs.New(Venue, errs.CodeParse,
			errs.WithMessage("decode cancel response"),
			errs.WithCause(err))
	}
	for _, result := range parsed.Results {
		if result.OrderID != exchangeOrderID {
			continue
		}
		if result.Success {
			return nil
		}
		return errs.New(Venue, errs.CodeRequestFailed,
			errs.WithRawCode(result.FailureReason),
			errs.WithRawMessage("cancel rejected"))
	}
	return errs.New(Venue, errs.CodeRequestFailed,
		errs.WithRawCode("UNKNOWN_CANCEL_ORDER"),
		errs.WithRawMessage("order id absent from cancel response"))
}
