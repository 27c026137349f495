package ledgerview

import (
	"fmt"
	"io"

	"github.com/dyluth/mirror/pkg/ledger"
)

// FormatForecasts writes forecasts as a table, one row per forecast in the
// order given. Returns the number of rows written.
func FormatForecasts(w io.Writer, forecasts []ledger.Forecast) int {
	if len(forecasts) == 0 {
		fmt.Fprintln(w, "No forecasts recorded")
		return 0
	}

	fmt.Fprintf(w, "%-20s %-8s %-6s %-8s %s\n", "ID", "STATUS", "P", "BRIER", "QUESTION")
	for _, f := range forecasts {
		brier := "-"
		if f.BrierScore != nil {
			brier = fmt.Sprintf("%.4f", *f.BrierScore)
		}
		fmt.Fprintf(w, "%-20s %-8s %-6.2f %-8s %s\n",
			truncate(f.ID, 20), f.Status, f.Probability, brier, truncate(firstLine(f.Question), 60))
	}
	fmt.Fprintf(w, "\n%d forecasts\n", len(forecasts))
	return len(forecasts)
}
