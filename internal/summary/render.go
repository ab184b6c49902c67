package summary

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/metric"
)

// FormatRatio renders r with two decimals, or "--" when undefined.
func FormatRatio(r Ratio) string {
	if !r.Defined {
		return "--"
	}
	return fmt.Sprintf("%.2f", r.Value)
}

// compare marks a source ratio against the persistence one: "+" when at
// least as good, "-" when worse, nothing when either is undefined.
func compare(r, base Ratio) string {
	if !r.Defined || !base.Defined {
		return ""
	}
	if r.Value >= base.Value {
		return " +"
	}
	return " -"
}

func cell(n int, c Counts) string {
	share := c.Share(n)
	if !share.Defined {
		return fmt.Sprint(n)
	}
	return fmt.Sprintf("%d (%.2f%%)", n, share.Value*100)
}

// Write renders the table as aligned plain text.
func (t *Table) Write(w io.Writer) error {
	base, hasBase := t.Row(metric.Persistence)

	fmt.Fprintf(w, "Confusion matrix for %s (%d days, %d without observations)\n\n", t.Location, t.Days, t.Unscored)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTP\tFP\tFN\tTN\tPRECISION\tRECALL")
	for _, r := range t.Rows {
		prec, rec := FormatRatio(r.Precision()), FormatRatio(r.Recall())
		if hasBase && r.Source != metric.Persistence {
			prec += compare(r.Precision(), base.Precision())
			rec += compare(r.Recall(), base.Recall())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Source, cell(r.TP, r.Counts), cell(r.FP, r.Counts), cell(r.FN, r.Counts), cell(r.TN, r.Counts), prec, rec)
	}
	return tw.Flush()
}
