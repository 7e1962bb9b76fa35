package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"threatmesh/internal/api/dto"
)

var (
	okColor    = color.New(color.FgGreen, color.Bold)
	warnColor  = color.New(color.FgYellow)
	alertColor = color.New(color.FgRed, color.Bold)
	labelColor = color.New(color.FgCyan)
)

func printField(w io.Writer, label string, value any) {
	labelColor.Fprintf(w, "%-18s", label+":")
	fmt.Fprintf(w, " %v\n", value)
}

func printStatus(w io.Writer, s dto.ThreatStatus) {
	printField(w, "address", s.Address)
	switch {
	case s.Whitelisted:
		okColor.Fprintln(w, "WHITELISTED")
	case s.Confirmed:
		alertColor.Fprintf(w, "CONFIRMED THREAT (%s)\n", s.Reason)
	case s.ReportCount > 0:
		warnColor.Fprintln(w, "REPORTED")
	default:
		okColor.Fprintln(w, "CLEAN")
	}
	printField(w, "reports", s.ReportCount)
	printField(w, "total risk", s.TotalRiskScore)
	if s.Confirmed {
		printField(w, "confirmed at", s.ConfirmedAtSeq)
		printField(w, "governance", s.ForceConfirmed)
	}
	if s.Location != nil {
		printField(w, "country", s.Location.CountryCode)
	}
}

func printSeq(w io.Writer, action string, seq dto.SeqResponse) {
	okColor.Fprintf(w, "%s", action)
	fmt.Fprintf(w, " at seq %d\n", seq.Seq)
}
