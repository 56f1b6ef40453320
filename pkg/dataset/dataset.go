// Package dataset scans collections of record batch fragments as a single
// logical table.
//
// A [Dataset] groups [Source]s of [Fragment]s under a unified schema.
// Scans are configured with a [ScannerBuilder] and executed by a
// [Scanner], which splits the work into one [ScanTask] per fragment.
package dataset

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	dserrors "github.com/grafana/arrow-dataset/internal/errors"
)

// Dataset is a collection of sources sharing a unified schema.
type Dataset struct {
	sources []Source
	schema  *arrow.Schema
}

// Make returns a dataset over sources. The schema is the unified schema of
// the dataset: it may hold columns that exist only in some fragments, as
// well as virtual columns derived from partition expressions.
func Make(sources []Source, schema *arrow.Schema) (*Dataset, error) {
	if schema == nil {
		return nil, fmt.Errorf("dataset schema must not be nil: %w", dserrors.ErrInvalid)
	}
	return &Dataset{sources: sources, schema: schema}, nil
}

// Schema returns the unified schema.
func (d *Dataset) Schema() *arrow.Schema { return d.schema }

// Sources returns the sources of the dataset.
func (d *Dataset) Sources() []Source { return d.sources }

// NewScan returns a builder for a scan over d.
func (d *Dataset) NewScan() *ScannerBuilder {
	return NewScannerBuilder(d)
}
