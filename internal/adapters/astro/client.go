package astro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/flipbot/internal/domain"
	"github.com/alejandrodnm/flipbot/internal/ports"
)

const (
	swapPath   = "/partner/akond/swap"
	pricesPath = "/prices"

	// el agregador tolera poco tráfico de partners
	requestsPerSec = 2

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client es el HTTP client del agregador Astro. Implementa
// ports.QuoteProvider; las quotes llevan el componente de fee del partner
// para que el manifest incluya nuestro depósito.
type Client struct {
	http         *http.Client
	base         string
	feeComponent string
	feePct       float64
	limiter      *rate.Limiter
}

// NewClient crea el client contra el base URL dado.
func NewClient(base, feeComponent string, feePct float64) *Client {
	return &Client{
		http:         &http.Client{Timeout: 30 * time.Second},
		base:         base,
		feeComponent: feeComponent,
		feePct:       feePct,
		limiter:      rate.NewLimiter(requestsPerSec, 2),
	}
}

type swapRequest struct {
	InputToken   string      `json:"inputToken"`
	OutputToken  string      `json:"outputToken"`
	InputAmount  json.Number `json:"inputAmount"`
	FromAddress  string      `json:"fromAddress"`
	FeeComponent string      `json:"feeComponent,omitempty"`
	Fee          float64     `json:"fee,omitempty"`
}

type swapResponse struct {
	Manifest     string  `json:"manifest"`
	InputTokens  float64 `json:"inputTokens"`
	OutputTokens float64 `json:"outputTokens"`
	PriceImpact  float64 `json:"priceImpact"`
}

// Swap cotiza el swap y devuelve el manifest listo para firmar.
func (c *Client) Swap(ctx context.Context, req ports.SwapRequest) (domain.Quote, error) {
	body := swapRequest{
		InputToken:   req.InputToken,
		OutputToken:  req.OutputToken,
		InputAmount:  json.Number(req.Amount),
		FromAddress:  req.Owner,
		FeeComponent: c.feeComponent,
		Fee:          c.feePct,
	}

	var resp swapResponse
	if err := c.post(ctx, c.base+swapPath, body, &resp); err != nil {
		return domain.Quote{}, fmt.Errorf("astro.Swap: %w", err)
	}
	if resp.Manifest == "" {
		return domain.Quote{}, fmt.Errorf("astro.Swap: no route for %s -> %s", req.InputToken, req.OutputToken)
	}

	quote := domain.Quote{
		Manifest:       resp.Manifest,
		InputTokens:    resp.InputTokens,
		OutputTokens:   resp.OutputTokens,
		PriceImpactPct: resp.PriceImpact,
	}
	if quote.InputTokens == 0 {
		// respuestas viejas no traen inputTokens; usar lo pedido
		if amt, err := json.Number(req.Amount).Float64(); err == nil {
			quote.InputTokens = amt
		}
	}
	return quote, nil
}

// tokenPrice es una entrada del endpoint /prices: promedios ponderados por
// liquidez, actualizados cada 10 minutos.
type tokenPrice struct {
	Address       string  `json:"address"`
	Symbol        string  `json:"symbol"`
	TokenPriceXRD float64 `json:"tokenPriceXRD"`
	TokenPriceUSD float64 `json:"tokenPriceUSD"`
	Divisibility  int     `json:"divisibility"`
}

// allPrices trae el mapa completo address -> precio.
func (c *Client) allPrices(ctx context.Context) (map[string]tokenPrice, error) {
	var out map[string]tokenPrice
	if err := c.get(ctx, c.base+pricesPath, &out); err != nil {
		return nil, fmt.Errorf("astro.allPrices: %w", err)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, url string, out any) error {
	return c.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

func (c *Client) post(ctx context.Context, url string, body, out any) error {
	return c.doWithRetry(ctx, func() (*http.Response, error) {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// doWithRetry ejecuta la request con rate limiting y backoff exponencial.
// Los 4xx no se reintentan: el agregador responde 400 cuando no hay ruta.
func (c *Client) doWithRetry(ctx context.Context, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			slog.Warn("aggregator request retried", "status", resp.StatusCode, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
