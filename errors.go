// Copyright (C) The WebGWAS Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package webgwas

import (
	"fmt"
	"sort"
	"strings"
)

// NoFeaturesError is returned when intersecting a newly registered
// input source with the existing feature set leaves nothing.
type NoFeaturesError struct {
	Source string // which registration step emptied the set
}

func (e *NoFeaturesError) Error() string {
	return fmt.Sprintf("no features remain after intersecting %s", e.Source)
}

// NoGwasFilesError is returned when no per-feature GWAS summary file
// survives reconciliation.
type NoGwasFilesError struct {
	Dir string
}

func (e *NoGwasFilesError) Error() string {
	return fmt.Sprintf("no usable GWAS files in %s", e.Dir)
}

// CohortExistsError is returned by the pre-flight existence check, and
// by the store writer if another registration committed the same name
// first.
type CohortExistsError struct {
	Name string
}

func (e *CohortExistsError) Error() string {
	return fmt.Sprintf("cohort %q already exists", e.Name)
}

// IncompleteFeatureError aborts persistence when a feature is missing
// its display name or declared type.
type IncompleteFeatureError struct {
	Code    string
	Missing string // "name" or "type"
}

func (e *IncompleteFeatureError) Error() string {
	return fmt.Sprintf("feature %q has no %s", e.Code, e.Missing)
}

// IngestionError wraps a parse failure for one GWAS summary file.
type IngestionError struct {
	Path string
	Err  error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingesting %s: %s", e.Path, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// ConsistencyError reports a feature-set mismatch between a persisted
// artifact and the metadata store, discovered by post-write
// validation.
type ConsistencyError struct {
	Artifact string
	Missing  []string // in the store but not in the artifact
	Extra    []string // in the artifact but not in the store
}

func (e *ConsistencyError) Error() string {
	msg := fmt.Sprintf("artifact %s does not match registered features", e.Artifact)
	if len(e.Missing) > 0 {
		msg += fmt.Sprintf(": missing %s", strings.Join(e.Missing, ","))
	}
	if len(e.Extra) > 0 {
		msg += fmt.Sprintf(": unexpected %s", strings.Join(e.Extra, ","))
	}
	return msg
}

// compareFeatureSets returns nil if got and want contain the same
// codes, otherwise a ConsistencyError describing the difference.
func compareFeatureSets(artifact string, got, want []string) error {
	gotset := map[string]bool{}
	for _, f := range got {
		gotset[f] = true
	}
	wantset := map[string]bool{}
	for _, f := range want {
		wantset[f] = true
	}
	var missing, extra []string
	for f := range wantset {
		if !gotset[f] {
			missing = append(missing, f)
		}
	}
	for f := range gotset {
		if !wantset[f] {
			extra = append(extra, f)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return &ConsistencyError{Artifact: artifact, Missing: missing, Extra: extra}
}
