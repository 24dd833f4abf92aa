package ports

import "context"

// IntentStatus es el estado de una transacción enviada al ledger.
type IntentStatus string

const (
	IntentPending          IntentStatus = "pending"
	IntentCommittedSuccess IntentStatus = "committed_success"
	IntentCommittedFailure IntentStatus = "committed_failure"
	IntentRejected         IntentStatus = "rejected"
)

// Terminal devuelve true si el ledger ya no va a cambiar el estado.
func (s IntentStatus) Terminal() bool {
	return s != IntentPending
}

// LedgerClient firma, envía y sigue transacciones contra el gateway.
type LedgerClient interface {
	// SubmitManifest construye, firma y envía la transacción del manifest.
	// Devuelve el intent hash con el que se sigue el estado.
	SubmitManifest(ctx context.Context, manifest string) (intentHash string, err error)

	// WaitForCommit hace polling del estado hasta que sea terminal o el
	// contexto expire.
	WaitForCommit(ctx context.Context, intentHash string) (IntentStatus, error)

	// PreviewFee simula la transacción y devuelve el fee total estimado
	// en el token nativo.
	PreviewFee(ctx context.Context, manifest string) (float64, error)
}
