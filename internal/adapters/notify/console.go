package notify

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/flipbot/internal/ports"
)

// Console implementa ports.Notifier escribiendo el resumen de cada ciclo.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// CycleReport imprime el resultado del ciclo en el modo configurado.
func (c *Console) CycleReport(res ports.CycleResult) {
	if c.table && len(res.Executed) > 0 {
		c.printFull(res)
	} else {
		c.printCompact(res)
	}

	if res.PausedAll {
		fmt.Fprintln(c.out, "  !! ALL TRADES PAUSED: not enough native tokens to cover fees")
		fmt.Fprintln(c.out, "  !! top up the account and reactivate manually")
	}

	for i, msg := range res.Errors {
		if i >= 3 {
			fmt.Fprintf(c.out, "  >> ... and %d more errors\n", len(res.Errors)-i)
			break
		}
		fmt.Fprintf(c.out, "  >> %s\n", msg)
	}
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(res ports.CycleResult) {
	now := res.StartedAt.Format("15:04:05")

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] cycle %s | analyzed:%d validated:%d executed:%d failed:%d",
		now, durationLabel(res.Duration),
		res.Analyzed, res.Validated, len(res.Executed), res.Failed)

	for _, flip := range res.Executed {
		fmt.Fprintf(&sb, " | %s %s @%.6f", flip.Side, flip.PairSymbol, flip.Price)
	}

	fmt.Fprintln(c.out, sb.String())
}

// printFull imprime la tabla con un flip por fila.
func (c *Console) printFull(res ports.CycleResult) {
	now := res.StartedAt.Format("15:04:05")
	fmt.Fprintf(c.out, "\n[%s] cycle %s — %d flips executed (analyzed:%d validated:%d failed:%d)\n",
		now, durationLabel(res.Duration),
		len(res.Executed), res.Analyzed, res.Validated, res.Failed)

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Pair", "Side", "In", "Out", "Price", "Strategy", "Intent")

	for i, flip := range res.Executed {
		table.Append(
			fmt.Sprintf("%d", i+1),
			flip.PairSymbol,
			flip.Side,
			fmt.Sprintf("%.4f", flip.AmountIn),
			fmt.Sprintf("%.4f", flip.AmountOut),
			fmt.Sprintf("%.6f", flip.Price),
			string(flip.Strategy),
			shortHash(flip.IntentHash),
		)
	}

	table.Render()
}

// shortHash recorta el intent hash para que la tabla entre en pantalla.
func shortHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:13] + "..."
}

func durationLabel(d time.Duration) string {
	if d <= 0 {
		return "done"
	}
	return d.Round(10 * time.Millisecond).String()
}
