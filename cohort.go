// Copyright (C) The WebGWAS Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package webgwas

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Artifact layout relative to the cohort root directory.
const (
	phenotypeFileName   = "phenotype_data.parquet"
	leftInverseFileName = "phenotype_left_inverse.parquet"
	covarianceFileName  = "phenotypic_covariance.csv"
	gwasDirName         = "gwas"
)

type buildPhase int

const (
	phaseBuilding buildPhase = iota
	phaseProcessed
	phasePersisted
	phaseValidated
)

func (p buildPhase) String() string {
	switch p {
	case phaseBuilding:
		return "building"
	case phaseProcessed:
		return "processed"
	case phasePersisted:
		return "persisted"
	case phaseValidated:
		return "validated"
	}
	return fmt.Sprintf("buildPhase(%d)", int(p))
}

// stepsCompleted tracks the three independent processing steps that
// must all finish before a cohort can be persisted.
type stepsCompleted struct {
	phenotypesCovariates bool
	gwas                 bool
	featureMap           bool
}

func (sc stepsCompleted) all() bool {
	return sc.phenotypesCovariates && sc.gwas && sc.featureMap
}

type featureInfo struct {
	name string
	typ  string
}

// inputFileSet records where each raw input came from and how to
// parse it. Immutable once the registration step that filled it in
// has completed.
type inputFileSet struct {
	phenotypePath  string
	covariatePath  string
	phenotypeSep   rune
	covariateSep   rune
	phenotypeIDCol string
	covariateIDCol string
	gwasPaths      map[string]string // feature code -> source file
	gwasExtension  string
}

// cohortBuilder owns one registration run: it reconciles the feature
// set across input sources, runs the statistical transforms, writes
// the derived artifacts under root, and hands off to the store writer.
type cohortBuilder struct {
	name     string
	root     string
	features []string // sorted; nil until the first registration step
	info     map[string]featureInfo
	numCovar int
	inputs   inputFileSet
	steps    stepsCompleted
	phase    buildPhase
}

func newCohortBuilder(name, root string) (*cohortBuilder, error) {
	if name == "" {
		return nil, errors.New("cohort name must not be empty")
	}
	if err := os.MkdirAll(root, 0777); err != nil {
		return nil, err
	}
	return &cohortBuilder{name: name, root: root}, nil
}

func (cb *cohortBuilder) phenotypePath() string {
	return filepath.Join(cb.root, phenotypeFileName)
}

func (cb *cohortBuilder) leftInversePath() string {
	return filepath.Join(cb.root, leftInverseFileName)
}

func (cb *cohortBuilder) covariancePath() string {
	return filepath.Join(cb.root, covarianceFileName)
}

func (cb *cohortBuilder) gwasDir() string {
	return filepath.Join(cb.root, gwasDirName)
}

// advance enforces the build state machine. Persisting requires every
// processing step to have completed first; validating requires a
// preceding persist.
func (cb *cohortBuilder) advance(to buildPhase) error {
	ok := false
	switch to {
	case phaseProcessed:
		ok = cb.phase == phaseBuilding && cb.steps.all()
	case phasePersisted:
		ok = cb.phase == phaseProcessed
	case phaseValidated:
		ok = cb.phase == phasePersisted
	}
	if !ok {
		return fmt.Errorf("cannot move cohort %q from state %s to %s (steps completed: phenotypes/covariates=%v gwas=%v feature map=%v)",
			cb.name, cb.phase, to, cb.steps.phenotypesCovariates, cb.steps.gwas, cb.steps.featureMap)
	}
	cb.phase = to
	return nil
}

// intersectFeatures narrows the feature set to the codes present in
// both the existing set and candidates. The first registered source
// seeds the set. Narrowing is idempotent and order-independent.
func (cb *cohortBuilder) intersectFeatures(candidates []string, source string) error {
	if cb.features == nil {
		out := append([]string(nil), candidates...)
		sort.Strings(out)
		cb.features = out
		return nil
	}
	have := map[string]bool{}
	for _, f := range candidates {
		have[f] = true
	}
	var out []string
	for _, f := range cb.features {
		if have[f] {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return &NoFeaturesError{Source: source}
	}
	cb.features = out
	return nil
}

// registerPhenotypesCovariates reads only the header rows of the two
// input files: the covariate count is the number of covariate columns
// excluding the person-id column, and the candidate feature set is the
// phenotype columns excluding the person-id column.
func (cb *cohortBuilder) registerPhenotypesCovariates(phenotypePath, covariatePath string, phenotypeSep, covariateSep rune, phenotypeIDCol, covariateIDCol string) error {
	covarHeader, err := readHeader(covariatePath, covariateSep)
	if err != nil {
		return err
	}
	covarCols, err := dropColumn(covarHeader, covariateIDCol, covariatePath)
	if err != nil {
		return err
	}
	cb.numCovar = len(covarCols)
	log.Infof("found %d covariates", cb.numCovar)

	phenoHeader, err := readHeader(phenotypePath, phenotypeSep)
	if err != nil {
		return err
	}
	candidates, err := dropColumn(phenoHeader, phenotypeIDCol, phenotypePath)
	if err != nil {
		return err
	}
	log.Infof("found %d features in phenotype file", len(candidates))
	if err := cb.intersectFeatures(candidates, "phenotype columns"); err != nil {
		return err
	}
	log.Infof("%d features remain", len(cb.features))

	cb.inputs.phenotypePath = phenotypePath
	cb.inputs.covariatePath = covariatePath
	cb.inputs.phenotypeSep = phenotypeSep
	cb.inputs.covariateSep = covariateSep
	cb.inputs.phenotypeIDCol = phenotypeIDCol
	cb.inputs.covariateIDCol = covariateIDCol
	return nil
}

// registerGwas scans dir for per-feature summary files named
// <code><extension>, and narrows the feature set to the codes found.
// Only files whose code survives the intersection are retained for
// ingestion.
func (cb *cohortBuilder) registerGwas(dir, extension string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	paths := map[string]string{}
	var codes []string
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), extension) {
			continue
		}
		code := strings.TrimSuffix(ent.Name(), extension)
		paths[code] = filepath.Join(dir, ent.Name())
		codes = append(codes, code)
	}
	log.Infof("found %d GWAS files in %s", len(codes), dir)
	if len(codes) == 0 {
		return &NoGwasFilesError{Dir: dir}
	}
	if err := cb.intersectFeatures(codes, "GWAS filenames"); err != nil {
		return err
	}
	retained := map[string]string{}
	for _, code := range cb.features {
		if p, ok := paths[code]; ok {
			retained[code] = p
		}
	}
	if len(retained) == 0 {
		return &NoGwasFilesError{Dir: dir}
	}
	cb.inputs.gwasPaths = retained
	cb.inputs.gwasExtension = extension
	return nil
}

// registerFeatureMap loads a code->{name,type} table and narrows the
// feature set to its keys.
func (cb *cohortBuilder) registerFeatureMap(path string, sep rune) error {
	rdr, err := zopen(path)
	if err != nil {
		return err
	}
	defer rdr.Close()
	r := csv.NewReader(rdr)
	r.Comma = sep
	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("reading feature map header from %s: %w", path, err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[name] = i
	}
	for _, want := range []string{"code", "name", "type"} {
		if _, ok := col[want]; !ok {
			return fmt.Errorf("feature map %s has no %q column", path, want)
		}
	}
	info := map[string]featureInfo{}
	var codes []string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("reading feature map %s: %w", path, err)
		}
		code := rec[col["code"]]
		if _, dup := info[code]; dup {
			return fmt.Errorf("feature map %s has duplicate code %q", path, code)
		}
		info[code] = featureInfo{name: rec[col["name"]], typ: rec[col["type"]]}
		codes = append(codes, code)
	}
	log.Infof("found %d features in feature map", len(codes))
	if err := cb.intersectFeatures(codes, "feature map"); err != nil {
		return err
	}
	cb.info = info
	cb.steps.featureMap = true
	return nil
}

// processPhenotypesCovariates joins the two input tables on the
// person-id column, residualizes every phenotype against the
// covariates plus an intercept, optionally anonymizes the result, and
// writes the phenotype matrix, covariance matrix and left inverse
// artifacts. Large intermediates are released as soon as the artifact
// depending on them has been produced.
func (cb *cohortBuilder) processPhenotypesCovariates(kAnonymity, anonymityCap int) error {
	if cb.inputs.phenotypePath == "" || cb.inputs.covariatePath == "" {
		return errors.New("phenotypes and covariates have not been registered")
	}
	if len(cb.features) == 0 {
		return &NoFeaturesError{Source: "registered inputs"}
	}
	pheno, err := readDataTable(cb.inputs.phenotypePath, cb.inputs.phenotypeSep, cb.inputs.phenotypeIDCol)
	if err != nil {
		return err
	}
	covar, err := readDataTable(cb.inputs.covariatePath, cb.inputs.covariateSep, cb.inputs.covariateIDCol)
	if err != nil {
		return err
	}
	for _, code := range cb.features {
		if _, ok := pheno.col[code]; !ok {
			return fmt.Errorf("feature %q missing from %s", code, cb.inputs.phenotypePath)
		}
	}

	n := 0
	for _, id := range pheno.ids {
		if _, ok := covar.byID[id]; ok {
			n++
		}
	}
	if n == 0 {
		return errors.New("phenotype and covariate files share no subjects")
	}
	p := len(cb.features)
	c := len(covar.cols)
	y := mat.NewDense(n, p, nil)
	x := mat.NewDense(n, c+1, nil)
	row := 0
	for i, id := range pheno.ids {
		ci, ok := covar.byID[id]
		if !ok {
			continue
		}
		for j, code := range cb.features {
			y.Set(row, j, pheno.rows[i][pheno.col[code]])
		}
		for j := range covar.cols {
			x.Set(row, j, covar.rows[ci][j])
		}
		x.Set(row, c, 1) // intercept
		row++
	}
	pheno, covar = nil, nil // release raw tables

	log.Infof("residualizing %d phenotypes over %d subjects", p, n)
	resid, err := residualize(y, x)
	if err != nil {
		return err
	}
	y, x = nil, nil // release

	final := resid
	if kAnonymity > 0 {
		nAnon := n
		if anonymityCap > 0 && nAnon > anonymityCap {
			nAnon = anonymityCap
		}
		log.Infof("anonymizing %d of %d subjects (k=%d)", nAnon, n, kAnonymity)
		sub := mat.DenseCopyOf(resid.Slice(0, nAnon, 0, p))
		resid = nil // release
		final, err = anonymize(sub, kAnonymity)
		if err != nil {
			return err
		}
	}

	log.Info("writing phenotype matrix")
	if err := writeMatrixParquet(cb.phenotypePath(), cb.features, final); err != nil {
		return err
	}

	log.Info("computing covariance matrix")
	cov := covarianceMatrix(final)
	if err := writeCovarianceCSV(cb.covariancePath(), cb.features, cov); err != nil {
		return err
	}
	cov = nil // release

	log.Info("computing left inverse")
	linv, err := leftInverse(final)
	if err != nil {
		return err
	}
	final = nil // release
	// stored transposed, so each artifact column is a feature code
	if err := writeMatrixParquet(cb.leftInversePath(), cb.features, linv.T()); err != nil {
		return err
	}
	cb.steps.phenotypesCovariates = true
	return nil
}

// dataTable is one delimited input file, fully parsed, with the
// person-id column split out.
type dataTable struct {
	ids  []string
	cols []string
	col  map[string]int
	rows [][]float64
	byID map[string]int
}

func readDataTable(path string, sep rune, idCol string) (*dataTable, error) {
	rdr, err := zopen(path)
	if err != nil {
		return nil, err
	}
	defer rdr.Close()
	r := csv.NewReader(rdr)
	r.Comma = sep
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header from %s: %w", path, err)
	}
	idIdx := -1
	tbl := &dataTable{col: map[string]int{}, byID: map[string]int{}}
	for i, name := range header {
		if name == idCol {
			idIdx = i
			continue
		}
		tbl.col[name] = len(tbl.cols)
		tbl.cols = append(tbl.cols, name)
	}
	if idIdx < 0 {
		return nil, fmt.Errorf("column %q not found in %s", idCol, path)
	}
	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		line++
		vals := make([]float64, 0, len(tbl.cols))
		for i, field := range rec {
			if i == idIdx {
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: parsing %q: %w", path, line, field, err)
			}
			vals = append(vals, v)
		}
		tbl.byID[rec[idIdx]] = len(tbl.rows)
		tbl.ids = append(tbl.ids, rec[idIdx])
		tbl.rows = append(tbl.rows, vals)
	}
	return tbl, nil
}

// readHeader reads only the first row of a delimited file.
func readHeader(path string, sep rune) ([]string, error) {
	rdr, err := zopen(path)
	if err != nil {
		return nil, err
	}
	defer rdr.Close()
	r := csv.NewReader(rdr)
	r.Comma = sep
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header from %s: %w", path, err)
	}
	return header, nil
}

func dropColumn(header []string, name, path string) ([]string, error) {
	out := make([]string, 0, len(header))
	found := false
	for _, col := range header {
		if col == name {
			found = true
			continue
		}
		out = append(out, col)
	}
	if !found {
		return nil, fmt.Errorf("column %q not found in %s", name, path)
	}
	return out, nil
}
