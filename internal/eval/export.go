package eval

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// #region export
var recordHeader = []string{"variant", "KPM", "env", "cosine_error", "rmse", "nrmse_max"}

// WriteCSV writes one row per record.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(recordHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		row := []string{r.Variant, r.Metric, r.EnvID, ftoa(r.CosineError), ftoa(r.RMSE), ftoa(r.NRMSEMax)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummaryTSV writes the tab-separated table for one metric:
// Variant, CosineError, NRMSE_max.
func WriteSummaryTSV(w io.Writer, summaries []Summary, metric string) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write([]string{"Variant", "CosineError", "NRMSE_max"}); err != nil {
		return fmt.Errorf("write tsv header: %w", err)
	}
	for _, s := range summaries {
		if s.Metric != metric {
			continue
		}
		if err := cw.Write([]string{s.Variant, ftoa(s.CosineError), ftoa(s.NRMSEMax)}); err != nil {
			return fmt.Errorf("write tsv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func ftoa(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}

// #endregion export
