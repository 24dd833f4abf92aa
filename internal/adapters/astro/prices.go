package astro

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alejandrodnm/flipbot/internal/ports"
)

// Prices implementa ports.PriceProvider sobre el endpoint /prices del
// agregador. El payload completo se cachea con el TTL inyectado; el
// historial de velas se construye localmente a partir de los precios
// observados. El balance nativo sale del gateway del ledger.
type Prices struct {
	log         *slog.Logger
	client      *Client
	gatewayBase string
	nativeToken string
	ttl         time.Duration

	mu        sync.Mutex
	cache     map[string]tokenPrice
	fetchedAt time.Time
	series    map[string]*candleSeries
}

// NewPrices arma el provider. ttl controla cuánto vive el payload de
// /prices antes de volver a pedirlo.
func NewPrices(log *slog.Logger, client *Client, gatewayBase, nativeToken string, ttl time.Duration) *Prices {
	return &Prices{
		log:         log.With("component", "prices"),
		client:      client,
		gatewayBase: gatewayBase,
		nativeToken: nativeToken,
		ttl:         ttl,
		series:      make(map[string]*candleSeries),
	}
}

// PairPrice devuelve el precio spot quote-por-base y lo registra en el
// historial del par.
func (p *Prices) PairPrice(ctx context.Context, base, quote string) (float64, error) {
	prices, err := p.freshPrices(ctx)
	if err != nil {
		return 0, err
	}

	basePrice, ok := prices[base]
	if !ok {
		return 0, fmt.Errorf("astro.PairPrice: token %s not listed", base)
	}
	quotePrice, ok := prices[quote]
	if !ok {
		return 0, fmt.Errorf("astro.PairPrice: token %s not listed", quote)
	}

	var price float64
	switch {
	case basePrice.TokenPriceUSD > 0 && quotePrice.TokenPriceUSD > 0:
		price = basePrice.TokenPriceUSD / quotePrice.TokenPriceUSD
	case basePrice.TokenPriceXRD > 0 && quotePrice.TokenPriceXRD > 0:
		price = basePrice.TokenPriceXRD / quotePrice.TokenPriceXRD
	default:
		return 0, fmt.Errorf("astro.PairPrice: no price for %s/%s", basePrice.Symbol, quotePrice.Symbol)
	}

	p.pairSeries(base, quote).observe(price, time.Now())
	return price, nil
}

// History devuelve los últimos n cierres observados del par. Durante el
// warmup la serie es más corta que n.
func (p *Prices) History(_ context.Context, base, quote string, n int) ([]float64, error) {
	return p.pairSeries(base, quote).closes(n), nil
}

// Candles devuelve las últimas n velas observadas del par.
func (p *Prices) Candles(_ context.Context, base, quote string, n int) ([]ports.Candle, error) {
	return p.pairSeries(base, quote).tail(n), nil
}

type entityDetailsRequest struct {
	Addresses        []string `json:"addresses"`
	AggregationLevel string   `json:"aggregation_level"`
}

type entityDetailsResponse struct {
	Items []struct {
		Address           string `json:"address"`
		FungibleResources struct {
			Items []struct {
				ResourceAddress string `json:"resource_address"`
				Amount          string `json:"amount"`
			} `json:"items"`
		} `json:"fungible_resources"`
	} `json:"items"`
}

// NativeBalance consulta el gateway por el balance del token nativo de la
// wallet.
func (p *Prices) NativeBalance(ctx context.Context, owner string) (float64, error) {
	req := entityDetailsRequest{Addresses: []string{owner}, AggregationLevel: "Global"}

	var resp entityDetailsResponse
	if err := p.client.post(ctx, p.gatewayBase+"/state/entity/details", req, &resp); err != nil {
		return 0, fmt.Errorf("astro.NativeBalance: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, fmt.Errorf("astro.NativeBalance: account %s not found", owner)
	}

	for _, res := range resp.Items[0].FungibleResources.Items {
		if res.ResourceAddress != p.nativeToken {
			continue
		}
		amount, err := strconv.ParseFloat(res.Amount, 64)
		if err != nil {
			return 0, fmt.Errorf("astro.NativeBalance: parse amount %q: %w", res.Amount, err)
		}
		return amount, nil
	}
	// la wallet existe pero nunca recibió el token nativo
	return 0, nil
}

// freshPrices devuelve el payload cacheado si sigue vigente; si el fetch
// falla y hay cache viejo se usa igual, avisando.
func (p *Prices) freshPrices(ctx context.Context) (map[string]tokenPrice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cache != nil && time.Since(p.fetchedAt) < p.ttl {
		return p.cache, nil
	}

	prices, err := p.client.allPrices(ctx)
	if err != nil {
		if p.cache != nil {
			p.log.Warn("price fetch failed, serving stale cache",
				"age", time.Since(p.fetchedAt), "err", err)
			return p.cache, nil
		}
		return nil, err
	}

	p.cache = prices
	p.fetchedAt = time.Now()
	p.log.Debug("price cache refreshed", "tokens", len(prices))
	return prices, nil
}

func (p *Prices) pairSeries(base, quote string) *candleSeries {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := base + "/" + quote
	s, ok := p.series[key]
	if !ok {
		s = &candleSeries{}
		p.series[key] = s
	}
	return s
}
