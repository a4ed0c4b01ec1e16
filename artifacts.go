// Copyright (C) The WebGWAS Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package webgwas

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/parquet-go/parquet-go"
	"gonum.org/v1/gonum/mat"
)

// writeMatrixParquet writes m as a parquet file with one float64
// column per entry of cols.
func writeMatrixParquet(path string, cols []string, m mat.Matrix) error {
	group := parquet.Group{}
	for _, name := range cols {
		group[name] = parquet.Leaf(parquet.DoubleType)
	}
	schema := parquet.NewSchema("matrix", group)
	// parquet.Group is a map, so schema field order is not the
	// caller's column order; map each schema field back to its source
	// column.
	srcCol := map[string]int{}
	for j, name := range cols {
		srcCol[name] = j
	}
	fields := schema.Fields()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := parquet.NewWriter(f, schema)
	rows, _ := m.Dims()
	row := make(parquet.Row, len(fields))
	for i := 0; i < rows; i++ {
		for j, fld := range fields {
			row[j] = parquet.DoubleValue(m.At(i, srcCol[fld.Name()])).Level(0, 0, j)
		}
		if _, err := w.WriteRows([]parquet.Row{row}); err != nil {
			f.Close()
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return f.Close()
}

// readParquetColumns returns the column names of a parquet artifact
// without reading any data pages.
func readParquetColumns(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	fields := pf.Schema().Fields()
	cols := make([]string, len(fields))
	for i, fld := range fields {
		cols[i] = fld.Name()
	}
	return cols, nil
}

// readMatrixParquet reads a float64 parquet artifact back into a
// dense matrix, returning the column names in file order.
func readMatrixParquet(path string) ([]string, *mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	fields := pf.Schema().Fields()
	cols := make([]string, len(fields))
	for i, fld := range fields {
		cols[i] = fld.Name()
	}
	nrows := int(pf.NumRows())
	if nrows == 0 || len(cols) == 0 {
		return nil, nil, fmt.Errorf("%s: empty matrix artifact", path)
	}
	m := mat.NewDense(nrows, len(cols), nil)
	i := 0
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		buf := make([]parquet.Row, 128)
		for {
			n, err := rows.ReadRows(buf)
			for _, r := range buf[:n] {
				for _, v := range r {
					m.Set(i, v.Column(), v.Double())
				}
				i++
			}
			if err == io.EOF {
				break
			} else if err != nil {
				rows.Close()
				return nil, nil, fmt.Errorf("reading %s: %w", path, err)
			} else if n == 0 {
				break
			}
		}
		if err := rows.Close(); err != nil {
			return nil, nil, err
		}
	}
	return cols, m, nil
}

// writeCovarianceCSV writes a feature x feature covariance matrix
// with labeled rows and columns.
func writeCovarianceCSV(path string, cols []string, cov *mat.SymDense) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(append([]string{""}, cols...)); err != nil {
		f.Close()
		return err
	}
	for i, name := range cols {
		rec := make([]string, 0, len(cols)+1)
		rec = append(rec, name)
		for j := range cols {
			rec = append(rec, strconv.FormatFloat(cov.At(i, j), 'g', -1, 64))
		}
		if err := w.Write(rec); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// readCovarianceLabels returns the column labels (header) and row
// labels (first field of each data row) of a covariance artifact.
func readCovarianceLabels(path string) (header, index []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	recs, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(recs) == 0 {
		return nil, nil, fmt.Errorf("%s: empty covariance artifact", path)
	}
	header = recs[0][1:]
	for _, rec := range recs[1:] {
		index = append(index, rec[0])
	}
	return header, index, nil
}
