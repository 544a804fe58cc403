package experience

import (
	"fmt"
	"strings"
	"time"
)

// FormatRecordOrg renders a Record as an Org-mode block. Structured facts
// go in the PROPERTIES drawer; the Review heading is left for notes.
func FormatRecordOrg(r Record) string {
	heading := fmt.Sprintf("** Experience: %s %s (%s)", r.Instrument, r.Direction, shortID(r.ID))
	open := r.OpenTime.UTC().Format(time.RFC3339)
	close := r.CloseTime.UTC().Format(time.RFC3339)

	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	b.WriteString(":PROPERTIES:\n")
	b.WriteString(fmt.Sprintf(":ID: %s\n", r.ID))
	b.WriteString(fmt.Sprintf(":CONTENT_KEY: %s\n", r.Key))
	b.WriteString(fmt.Sprintf(":INSTRUMENT: %s\n", r.Instrument))
	b.WriteString(fmt.Sprintf(":DIRECTION: %s\n", r.Direction))
	b.WriteString(fmt.Sprintf(":UNITS: %g\n", r.Units))
	b.WriteString(fmt.Sprintf(":ENTRY_PRICE: %.5f\n", r.EntryPrice))
	b.WriteString(fmt.Sprintf(":R_UNIT: %.5f\n", r.RUnit))
	b.WriteString(fmt.Sprintf(":CONFIDENCE: %.3f\n", r.Confidence))
	b.WriteString(fmt.Sprintf(":EXPLORED: %t\n", r.Explored))
	if len(r.Features) > 0 {
		b.WriteString(fmt.Sprintf(":FEATURES: %s\n", encodeFeatures(r.Features)))
	}
	b.WriteString(fmt.Sprintf(":OPEN_TIME: %s\n", open))
	b.WriteString(fmt.Sprintf(":CLOSE_TIME: %s\n", close))
	b.WriteString(fmt.Sprintf(":REALIZED_R: %.3f\n", r.RealizedR))
	b.WriteString(fmt.Sprintf(":PEAK_R: %.3f\n", r.PeakR))
	b.WriteString(fmt.Sprintf(":REALIZED_PNL: %.2f\n", r.RealizedPnL))
	b.WriteString(fmt.Sprintf(":EXIT_REASON: %s\n", r.ExitReason))
	b.WriteString(":END:\n")
	b.WriteString("\n")
	b.WriteString("*** Review\n- \n")

	return b.String()
}

// FormatRecordsOrg renders multiple records separated by blank lines.
func FormatRecordsOrg(recs []Record) string {
	var b strings.Builder
	for i, r := range recs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(FormatRecordOrg(r))
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
