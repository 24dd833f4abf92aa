package ports

import (
	"context"

	"github.com/alejandrodnm/flipbot/internal/domain"
)

// SwapRequest describe el swap que se quiere cotizar.
type SwapRequest struct {
	InputToken  string
	OutputToken string
	Amount      string // cantidad decimal ya truncada a la divisibilidad
	Owner       string // address que firma y recibe
}

// QuoteProvider cotiza swaps contra el agregador y devuelve el manifest
// listo para firmar.
type QuoteProvider interface {
	// Swap devuelve la quote fresca para el request. El manifest incluido
	// expira rápido: cotizar justo antes de enviar.
	Swap(ctx context.Context, req SwapRequest) (domain.Quote, error)
}
