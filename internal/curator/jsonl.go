package curator

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	vaulterrors "github.com/secstack/threatvault/internal/errors"
)

// manifestLine wraps the manifest so the trailing line of a dataset file
// is distinguishable from example records.
type manifestLine struct {
	Manifest Manifest `json:"manifest"`
}

// WriteJSONL emits every record as one JSON line followed by a single
// manifest line.
func WriteJSONL(w io.Writer, ds *Dataset) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, rec := range ds.Records {
		if err := enc.Encode(rec); err != nil {
			return vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to write dataset record", err)
		}
	}
	if err := enc.Encode(manifestLine{Manifest: ds.Manifest}); err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to write dataset manifest", err)
	}
	return bw.Flush()
}

// WriteFile writes the dataset to path, creating parent directories.
func WriteFile(path string, ds *Dataset) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to create dataset directory", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to create dataset file", err)
	}
	if err := WriteJSONL(f, ds); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// DatasetFilename stamps a dataset file with its policy flavor and
// generation time.
func DatasetFilename(policy Policy, t time.Time) string {
	flavor := "mixed_data"
	if policy.UseRealDataOnly {
		flavor = "real_data"
	}
	return fmt.Sprintf("threat_intelligence_dataset_%s_%s.jsonl", flavor, t.UTC().Format("20060102_150405"))
}
