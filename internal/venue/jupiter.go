package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

const (
	// jupiterProbeAmount is quoted when a pair's decimals are unknown.
	jupiterProbeAmount int64 = 1_000_000
	jupiterQuoteSlippageBps  = 50
)

// Jupiter talks to the Jupiter aggregator quote and swap API.
type Jupiter struct {
	req      *requester
	decimals Decimals
}

// NewJupiter creates a Jupiter client. BaseURL is the API root, e.g.
// "https://quote-api.jup.ag/v6".
func NewJupiter(opts Options) *Jupiter {
	return &Jupiter{req: newRequester("jupiter", opts), decimals: opts.Decimals}
}

func (j *Jupiter) Name() string { return "jupiter" }

type jupiterQuote struct {
	InputMint      string          `json:"inputMint"`
	OutputMint     string          `json:"outputMint"`
	InAmount       string          `json:"inAmount"`
	OutAmount      string          `json:"outAmount"`
	PriceImpactPct string          `json:"priceImpactPct"`
	RoutePlan      json.RawMessage `json:"routePlan"`
}

func (j *Jupiter) quote(ctx context.Context, input, output string, amount int64, slippageBps int) (jupiterQuote, json.RawMessage, error) {
	q := url.Values{}
	q.Set("inputMint", input)
	q.Set("outputMint", output)
	q.Set("amount", strconv.FormatInt(amount, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))

	var raw json.RawMessage
	if err := j.req.getJSON(ctx, "quote", "/quote", q, &raw); err != nil {
		return jupiterQuote{}, nil, err
	}
	var parsed jupiterQuote
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return jupiterQuote{}, nil, &Error{Venue: j.Name(), Op: "quote", Err: fmt.Errorf("decode quote: %w", err)}
	}
	return parsed, raw, nil
}

// GetPrice quotes one whole base token when both mints' decimals are known
// and returns outAmount/inAmount scaled to whole units. Otherwise it falls
// back to the raw base-unit ratio for a fixed sample amount.
func (j *Jupiter) GetPrice(ctx context.Context, pair domain.Pair) (Quote, error) {
	var (
		baseDec, quoteDec int32
		scaled            bool
	)
	amount := jupiterProbeAmount
	if j.decimals != nil {
		bd, okBase := j.decimals(pair.Base)
		qd, okQuote := j.decimals(pair.Quote)
		if okBase && okQuote {
			baseDec, quoteDec, scaled = bd, qd, true
			amount = decimal.New(1, bd).IntPart()
		}
	}

	q, _, err := j.quote(ctx, pair.Base, pair.Quote, amount, jupiterQuoteSlippageBps)
	if err != nil {
		return Quote{}, err
	}

	in, errIn := strconv.ParseInt(q.InAmount, 10, 64)
	out, errOut := strconv.ParseInt(q.OutAmount, 10, 64)
	if errIn != nil || errOut != nil || in <= 0 || out <= 0 {
		return Quote{}, &Error{Venue: j.Name(), Op: "quote", Message: fmt.Sprintf("unusable amounts in=%q out=%q", q.InAmount, q.OutAmount)}
	}

	var price decimal.Decimal
	if scaled {
		price = decimal.New(out, -quoteDec).Div(decimal.New(in, -baseDec))
	} else {
		price = decimal.NewFromInt(out).Div(decimal.NewFromInt(in))
	}

	return Quote{
		Price: price,
		Raw: map[string]any{
			"inAmount":       q.InAmount,
			"outAmount":      q.OutAmount,
			"priceImpactPct": q.PriceImpactPct,
		},
	}, nil
}

// BuildSwap quotes the requested amount and asks Jupiter to serialize a
// swap transaction for the payer.
func (j *Jupiter) BuildSwap(ctx context.Context, req SwapRequest) (Swap, error) {
	if req.Amount <= 0 {
		return Swap{}, fmt.Errorf("jupiter: swap amount must be positive, got %d", req.Amount)
	}
	q, raw, err := j.quote(ctx, req.InputMint, req.OutputMint, req.Amount, req.SlippageBps)
	if err != nil {
		return Swap{}, err
	}
	out, err := strconv.ParseInt(q.OutAmount, 10, 64)
	if err != nil {
		return Swap{}, &Error{Venue: j.Name(), Op: "quote", Message: fmt.Sprintf("unusable outAmount %q", q.OutAmount)}
	}

	body := map[string]any{
		"quoteResponse":    raw,
		"userPublicKey":    req.Payer,
		"wrapAndUnwrapSol": true,
	}
	var resp struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := j.req.postJSON(ctx, "swap", "/swap", body, &resp); err != nil {
		return Swap{}, err
	}
	if resp.SwapTransaction == "" {
		return Swap{}, &Error{Venue: j.Name(), Op: "swap", Message: "empty swapTransaction"}
	}
	return Swap{Transaction: resp.SwapTransaction, OutputAmount: out}, nil
}
