// Command datasetdb builds and queries the domain -> datasets -> URLs index
// over a directory of append-only Parquet record files.
package main

import (
	"fmt"
	"os"

	"github.com/nhagar/dataset-db/internal/cardinality"
)

func main() {
	if err := cardinality.InitDefaults(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize cardinality estimator: %v\n", err)
		os.Exit(1)
	}

	Execute()
}
