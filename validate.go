// Copyright (C) The WebGWAS Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package webgwas

import (
	"path/filepath"
)

// validateArtifacts re-derives the feature set from each persisted
// artifact under root and compares it against the registered codes,
// returning a ConsistencyError on the first mismatch.
func validateArtifacts(root string, codes []string) error {
	if len(codes) == 0 {
		return &NoFeaturesError{Source: "metadata store"}
	}

	cols, err := readParquetColumns(filepath.Join(root, phenotypeFileName))
	if err != nil {
		return err
	}
	if err := compareFeatureSets(phenotypeFileName, cols, codes); err != nil {
		return err
	}

	header, index, err := readCovarianceLabels(filepath.Join(root, covarianceFileName))
	if err != nil {
		return err
	}
	if err := compareFeatureSets(covarianceFileName+" columns", header, codes); err != nil {
		return err
	}
	if err := compareFeatureSets(covarianceFileName+" rows", index, codes); err != nil {
		return err
	}

	cols, err = readParquetColumns(filepath.Join(root, leftInverseFileName))
	if err != nil {
		return err
	}
	return compareFeatureSets(leftInverseFileName, cols, codes)
}
