// Package summary appends per-epoch metrics to a CSV file.
package summary

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/born-ml/perceiver/internal/metrics"
)

// FileName is the summary file inside the output directory.
const FileName = "summary.csv"

// Update appends one row "epoch, train_<k>..., eval_<k>..." to path. The
// header row is written first when writeHeader is set.
func Update(epoch int, train, eval metrics.Values, path string, writeHeader bool) error {
	header := []string{"epoch"}
	row := []string{strconv.Itoa(epoch)}
	for _, m := range train {
		header = append(header, "train_"+m.Name)
		row = append(row, formatValue(m.Value))
	}
	for _, m := range eval {
		header = append(header, "eval_"+m.Name)
		row = append(row, formatValue(m.Value))
	}

	//nolint:gosec // G302, G304: summary lives in the run's output directory
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open summary: %w", err)
	}

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(header); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write summary header: %w", err)
		}
	}
	if err := w.Write(row); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write summary row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to flush summary: %w", err)
	}
	return f.Close()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
