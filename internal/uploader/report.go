package uploader

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// ReportHeader is the header row of the layer mapping report.
var ReportHeader = []string{"Layer ID", "Loss Set ID", "Remote Layer ID", "Remote Loss Set ID(s)", "Description"}

// reportIDSeparator joins several ids in one report cell.
const reportIDSeparator = ";"

// UploadResult records the remote ids of one uploaded layer.
type UploadResult struct {
	LayerID          string
	LossSetIDs       []string
	RemoteLayerID    string
	RemoteLossSetIDs []string
	Description      string
}

// LayerFailure records why a layer was not uploaded.
type LayerFailure struct {
	LayerID string
	Err     error
}

// Result is the outcome of a run. Uploaded and Failed keep input order.
type Result struct {
	BatchID  string
	Uploaded []UploadResult
	Failed   []LayerFailure
}

// Err returns the layer failures as one error, or nil if every layer was
// uploaded.
func (r *Result) Err() error {
	var merr *multierror.Error
	for _, f := range r.Failed {
		merr = multierror.Append(merr, fmt.Errorf("layer %s: %w", f.LayerID, f.Err))
	}
	return merr.ErrorOrNil()
}

// WriteReport writes the layer mapping report for the uploaded layers.
func WriteReport(w io.Writer, results []UploadResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ReportHeader); err != nil {
		return err
	}
	for _, r := range results {
		record := []string{
			r.LayerID,
			strings.Join(r.LossSetIDs, reportIDSeparator),
			r.RemoteLayerID,
			strings.Join(r.RemoteLossSetIDs, reportIDSeparator),
			r.Description,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteReportFile writes the report to path, replacing any existing file.
func WriteReportFile(path string, results []UploadResult) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close report: %w", cerr)
		}
	}()

	if err := WriteReport(f, results); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
