// Copyright (C) The WebGWAS Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package webgwas

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"

	log "github.com/sirupsen/logrus"
)

type registerCohort struct{}

func (cmd *registerCohort) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	cohortName := flags.String("cohort-name", "", "unique cohort `name`")
	outputRoot := flags.String("output-root", "", "root `directory` for derived artifacts")
	phenotypePath := flags.String("pheno", "", "original phenotype `file`")
	covariatePath := flags.String("covar", "", "original covariate `file`")
	gwasRoot := flags.String("gwas-dir", "", "`directory` scanned for per-feature GWAS files")
	featureMapPath := flags.String("feature-map", "", "feature code/name/type `file`")
	phenotypeSep := flags.String("pheno-separator", "\t", "phenotype file field `separator`")
	covariateSep := flags.String("covar-separator", "\t", "covariate file field `separator`")
	featureMapSep := flags.String("feature-map-separator", "\t", "feature map field `separator`")
	gwasSep := flags.String("gwas-separator", "\t", "GWAS file field `separator`")
	phenotypeIDCol := flags.String("pheno-person-id-col", "eid", "subject id `column` in phenotype file")
	covariateIDCol := flags.String("covar-person-id-col", "eid", "subject id `column` in covariate file")
	kAnonymity := flags.Int("k-anonymity", 10, "anonymization threshold `k` (0 disables anonymization)")
	anonymityCap := flags.Int("anonymity-cap", 10000, "max `subjects` fed to the anonymizer (0 = no cap)")
	gwasExtension := flags.String("gwas-extension", ".tsv.zst", "`suffix` used to discover and strip GWAS filenames")
	variantIDCol := flags.String("variant-id-col", "ID", "variant id `column` in GWAS files")
	betaCol := flags.String("beta-col", "BETA", "effect estimate `column` in GWAS files")
	stdErrorCol := flags.String("std-error-col", "SE", "standard error `column` in GWAS files")
	sampleSizeCol := flags.String("sample-size-col", "OBS_CT", "sample size `column` in GWAS files")
	keepNVariants := flags.Int("keep-n-variants", 0, "keep only the first `N` variants per GWAS file (0 = all)")
	dbPath := flags.String("db", "webgwas.db", "sqlite metadata store `file`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	for _, req := range []struct{ name, value string }{
		{"-cohort-name", *cohortName},
		{"-output-root", *outputRoot},
		{"-pheno", *phenotypePath},
		{"-covar", *covariatePath},
		{"-gwas-dir", *gwasRoot},
		{"-feature-map", *featureMapPath},
	} {
		if req.value == "" {
			err = fmt.Errorf("%s is required", req.name)
			return 2
		}
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	err = cmd.run(registerConfig{
		cohortName:     *cohortName,
		outputRoot:     *outputRoot,
		phenotypePath:  *phenotypePath,
		covariatePath:  *covariatePath,
		gwasRoot:       *gwasRoot,
		featureMapPath: *featureMapPath,
		phenotypeSep:   *phenotypeSep,
		covariateSep:   *covariateSep,
		featureMapSep:  *featureMapSep,
		gwasSep:        *gwasSep,
		phenotypeIDCol: *phenotypeIDCol,
		covariateIDCol: *covariateIDCol,
		kAnonymity:     *kAnonymity,
		anonymityCap:   *anonymityCap,
		gwasExtension:  *gwasExtension,
		gwasColumns:    gwasColumns{variantID: *variantIDCol, beta: *betaCol, stdError: *stdErrorCol, sampleSize: *sampleSizeCol},
		keepNVariants:  *keepNVariants,
		dbPath:         *dbPath,
	})
	if err != nil {
		return 1
	}
	fmt.Fprintf(stdout, "registered cohort %s\n", *cohortName)
	return 0
}

type registerConfig struct {
	cohortName     string
	outputRoot     string
	phenotypePath  string
	covariatePath  string
	gwasRoot       string
	featureMapPath string
	phenotypeSep   string
	covariateSep   string
	featureMapSep  string
	gwasSep        string
	phenotypeIDCol string
	covariateIDCol string
	kAnonymity     int
	anonymityCap   int
	gwasExtension  string
	gwasColumns    gwasColumns
	keepNVariants  int
	dbPath         string
}

func (cmd *registerCohort) run(cfg registerConfig) error {
	phenoSep, err := sepRune(cfg.phenotypeSep)
	if err != nil {
		return err
	}
	covarSep, err := sepRune(cfg.covariateSep)
	if err != nil {
		return err
	}
	mapSep, err := sepRune(cfg.featureMapSep)
	if err != nil {
		return err
	}
	gwasSep, err := sepRune(cfg.gwasSep)
	if err != nil {
		return err
	}
	if cfg.kAnonymity < 0 {
		return errors.New("-k-anonymity must not be negative")
	}

	store, err := openCohortStore(cfg.dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	exists, err := store.cohortExists(cfg.cohortName)
	if err != nil {
		return err
	}
	if exists {
		return &CohortExistsError{Name: cfg.cohortName}
	}

	log.Infof("creating cohort directory %s", cfg.outputRoot)
	cb, err := newCohortBuilder(cfg.cohortName, cfg.outputRoot)
	if err != nil {
		return err
	}
	log.Info("registering phenotypes and covariates")
	if err := cb.registerPhenotypesCovariates(cfg.phenotypePath, cfg.covariatePath, phenoSep, covarSep, cfg.phenotypeIDCol, cfg.covariateIDCol); err != nil {
		return err
	}
	log.Info("registering GWAS files")
	if err := cb.registerGwas(cfg.gwasRoot, cfg.gwasExtension); err != nil {
		return err
	}
	log.Info("registering feature map")
	if err := cb.registerFeatureMap(cfg.featureMapPath, mapSep); err != nil {
		return err
	}
	log.Info("processing phenotypes and covariates")
	if err := cb.processPhenotypesCovariates(cfg.kAnonymity, cfg.anonymityCap); err != nil {
		return err
	}
	log.Info("processing GWAS files")
	if err := cb.ingestGwas(gwasSep, cfg.gwasColumns, cfg.keepNVariants); err != nil {
		return err
	}
	if err := cb.advance(phaseProcessed); err != nil {
		return err
	}
	log.Info("writing cohort and features to metadata store")
	if err := store.writeAndValidate(cb); err != nil {
		return err
	}
	log.Infof("cohort %s registered successfully", cfg.cohortName)
	return nil
}
