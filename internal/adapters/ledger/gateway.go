package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alejandrodnm/flipbot/internal/ports"
)

const defaultPollInterval = 3 * time.Second

// Gateway implementa ports.LedgerClient contra el gateway HTTP del ledger.
// El firmado queda del lado del gateway: acá el manifest viaja como texto y
// la transacción se sigue por intent hash.
type Gateway struct {
	log          *slog.Logger
	http         *http.Client
	base         string
	pollInterval time.Duration
}

// NewGateway crea el client contra el base URL dado.
func NewGateway(log *slog.Logger, base string) *Gateway {
	return &Gateway{
		log:          log.With("component", "ledger"),
		http:         &http.Client{Timeout: 30 * time.Second},
		base:         base,
		pollInterval: defaultPollInterval,
	}
}

type submitRequest struct {
	Manifest string `json:"manifest"`
}

type submitResponse struct {
	IntentHash string `json:"intent_hash"`
	Duplicate  bool   `json:"duplicate"`
}

// SubmitManifest envía el manifest y devuelve el intent hash asignado.
func (g *Gateway) SubmitManifest(ctx context.Context, manifest string) (string, error) {
	var resp submitResponse
	if err := g.post(ctx, "/transaction/submit", submitRequest{Manifest: manifest}, &resp); err != nil {
		return "", fmt.Errorf("ledger.SubmitManifest: %w", err)
	}
	if resp.IntentHash == "" {
		return "", fmt.Errorf("ledger.SubmitManifest: gateway returned no intent hash")
	}
	if resp.Duplicate {
		g.log.Warn("transaction already submitted", "intent", resp.IntentHash)
	}
	return resp.IntentHash, nil
}

type statusRequest struct {
	IntentHash string `json:"intent_hash"`
}

type statusResponse struct {
	IntentStatus string `json:"intent_status"`
	ErrorMessage string `json:"error_message"`
}

// WaitForCommit hace polling del estado hasta que sea terminal o el contexto
// expire. Los errores transitorios del gateway no cortan el poll: la
// transacción ya está en vuelo.
func (g *Gateway) WaitForCommit(ctx context.Context, intentHash string) (ports.IntentStatus, error) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		var resp statusResponse
		err := g.post(ctx, "/transaction/status", statusRequest{IntentHash: intentHash}, &resp)
		if err != nil {
			g.log.Warn("status poll failed", "intent", intentHash, "err", err)
		} else {
			status := mapStatus(resp.IntentStatus)
			if status.Terminal() {
				if resp.ErrorMessage != "" {
					g.log.Warn("transaction finished with error",
						"intent", intentHash, "status", status, "message", resp.ErrorMessage)
				}
				return status, nil
			}
		}

		select {
		case <-ctx.Done():
			return ports.IntentPending, fmt.Errorf("ledger.WaitForCommit: %s: %w", intentHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

type previewRequest struct {
	Manifest string       `json:"manifest"`
	Flags    previewFlags `json:"flags"`
}

type previewFlags struct {
	UseFreeCredit            bool `json:"use_free_credit"`
	AssumeAllSignatureProofs bool `json:"assume_all_signature_proofs"`
}

type previewResponse struct {
	Receipt struct {
		FeeSource struct {
			FromVaults []struct {
				XRDAmount string `json:"xrd_amount"`
			} `json:"from_vaults"`
		} `json:"fee_source"`
	} `json:"receipt"`
}

// PreviewFee simula la transacción y suma los fees que saldrían de las
// vaults de la wallet.
func (g *Gateway) PreviewFee(ctx context.Context, manifest string) (float64, error) {
	req := previewRequest{
		Manifest: manifest,
		Flags:    previewFlags{UseFreeCredit: true, AssumeAllSignatureProofs: true},
	}

	var resp previewResponse
	if err := g.post(ctx, "/transaction/preview", req, &resp); err != nil {
		return 0, fmt.Errorf("ledger.PreviewFee: %w", err)
	}

	vaults := resp.Receipt.FeeSource.FromVaults
	if len(vaults) == 0 {
		return 0, fmt.Errorf("ledger.PreviewFee: preview returned no fee source")
	}

	var total float64
	for _, v := range vaults {
		amount, err := strconv.ParseFloat(v.XRDAmount, 64)
		if err != nil {
			return 0, fmt.Errorf("ledger.PreviewFee: parse fee %q: %w", v.XRDAmount, err)
		}
		total += amount
	}
	return total, nil
}

// mapStatus traduce los estados del gateway a los nuestros. Cualquier
// estado desconocido se trata como pendiente y se sigue esperando.
func mapStatus(s string) ports.IntentStatus {
	switch s {
	case "CommittedSuccess":
		return ports.IntentCommittedSuccess
	case "CommittedFailure":
		return ports.IntentCommittedFailure
	case "Rejected":
		return ports.IntentRejected
	default:
		return ports.IntentPending
	}
}

func (g *Gateway) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway error %d: %s", resp.StatusCode, string(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
