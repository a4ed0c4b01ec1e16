// Copyright (C) The WebGWAS Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package webgwas

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// gwasColumns names the columns expected in raw GWAS summary files.
type gwasColumns struct {
	variantID  string
	beta       string
	stdError   string
	sampleSize string
}

// ingestGwas rewrites each retained per-feature summary file in the
// canonical tab-delimited zstd layout under <root>/gwas/<code>.tsv.zst,
// optionally truncated to the first keepNVariants rows.
func (cb *cohortBuilder) ingestGwas(sep rune, cols gwasColumns, keepNVariants int) error {
	retained := 0
	for _, code := range cb.features {
		if _, ok := cb.inputs.gwasPaths[code]; ok {
			retained++
		}
	}
	if retained == 0 {
		return &NoGwasFilesError{Dir: "(no GWAS files registered)"}
	}
	if retained < len(cb.features) {
		return &NoGwasFilesError{Dir: fmt.Sprintf("(%d of %d features have no summary file)", len(cb.features)-retained, len(cb.features))}
	}
	if err := os.MkdirAll(cb.gwasDir(), 0777); err != nil {
		return err
	}
	for _, code := range cb.features {
		src := cb.inputs.gwasPaths[code]
		dst := filepath.Join(cb.gwasDir(), code+".tsv.zst")
		if err := reformatGwas(src, dst, sep, cols, keepNVariants); err != nil {
			return err
		}
	}
	log.Infof("ingested %d GWAS files", retained)
	cb.steps.gwas = true
	return nil
}

// reformatGwas parses one summary file under the fixed schema
// (variant id text, beta and standard error float, sample size int)
// and rewrites it with canonical headers. Any parse failure is an
// IngestionError for that file.
func reformatGwas(src, dst string, sep rune, cols gwasColumns, keepN int) error {
	in, err := zopen(src)
	if err != nil {
		return err
	}
	defer in.Close()
	r := csv.NewReader(in)
	r.Comma = sep
	header, err := r.Read()
	if err != nil {
		return &IngestionError{Path: src, Err: err}
	}
	idx := map[string]int{}
	for i, name := range header {
		idx[name] = i
	}
	var colIdx [4]int
	for i, want := range []string{cols.variantID, cols.beta, cols.stdError, cols.sampleSize} {
		j, ok := idx[want]
		if !ok {
			return &IngestionError{Path: src, Err: fmt.Errorf("column %q not found", want)}
		}
		colIdx[i] = j
	}

	out, err := zcreate(dst)
	if err != nil {
		return err
	}
	bufw := bufio.NewWriter(out)
	fmt.Fprintln(bufw, "ID\tBETA\tSE\tOBS_CT")
	count := 0
	for {
		if keepN > 0 && count >= keepN {
			break
		}
		rec, err := r.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			out.Close()
			return &IngestionError{Path: src, Err: err}
		}
		beta, err := strconv.ParseFloat(rec[colIdx[1]], 64)
		if err != nil {
			out.Close()
			return &IngestionError{Path: src, Err: err}
		}
		se, err := strconv.ParseFloat(rec[colIdx[2]], 64)
		if err != nil {
			out.Close()
			return &IngestionError{Path: src, Err: err}
		}
		obs, err := strconv.ParseInt(rec[colIdx[3]], 10, 64)
		if err != nil {
			out.Close()
			return &IngestionError{Path: src, Err: err}
		}
		fmt.Fprintf(bufw, "%s\t%s\t%s\t%d\n",
			rec[colIdx[0]],
			strconv.FormatFloat(beta, 'g', -1, 64),
			strconv.FormatFloat(se, 'g', -1, 64),
			obs)
		count++
	}
	if err := bufw.Flush(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
