// Copyright (C) The WebGWAS Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package webgwas

import (
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS cohort (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	root_directory TEXT NOT NULL,
	num_covar INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS feature (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cohort_id INTEGER NOT NULL REFERENCES cohort(id) ON DELETE CASCADE,
	code TEXT NOT NULL,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	UNIQUE (cohort_id, code)
);`

// cohortStore is the relational metadata store: one row per cohort,
// one row per cohort feature.
type cohortStore struct {
	db *sqlx.DB
}

func openCohortStore(path string) (*cohortStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &cohortStore{db: db}, nil
}

func (st *cohortStore) Close() error {
	return st.db.Close()
}

func (st *cohortStore) cohortExists(name string) (bool, error) {
	var n int
	if err := st.db.Get(&n, "SELECT count(*) FROM cohort WHERE name = ?", name); err != nil {
		return false, err
	}
	return n > 0, nil
}

// writeAndValidate inserts the cohort row and one feature row per
// code in sorted order, re-derives the feature set from every
// artifact written under the cohort root, and commits only if they
// all match. A mismatch rolls the transaction back and surfaces as a
// ConsistencyError, so a failed validation never leaves metadata
// behind. The UNIQUE constraint on cohort.name closes the race
// between two simultaneous registrations of the same name at commit
// time.
func (st *cohortStore) writeAndValidate(cb *cohortBuilder) (err error) {
	if err := cb.advance(phasePersisted); err != nil {
		return err
	}
	if len(cb.features) == 0 {
		return &NoFeaturesError{Source: "registered inputs"}
	}
	if len(cb.info) == 0 {
		return &NoFeaturesError{Source: "feature map"}
	}
	for _, code := range cb.features {
		info, ok := cb.info[code]
		if !ok || info.name == "" {
			return &IncompleteFeatureError{Code: code, Missing: "name"}
		}
		if info.typ == "" {
			return &IncompleteFeatureError{Code: code, Missing: "type"}
		}
	}
	root, err := filepath.Abs(cb.root)
	if err != nil {
		return err
	}

	tx, err := st.db.Beginx()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	res, err := tx.Exec("INSERT INTO cohort (name, root_directory, num_covar) VALUES (?, ?, ?)",
		cb.name, root, cb.numCovar)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return &CohortExistsError{Name: cb.name}
		}
		return err
	}
	cohortID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for _, code := range cb.features {
		info := cb.info[code]
		if _, err = tx.Exec("INSERT INTO feature (cohort_id, code, name, type) VALUES (?, ?, ?, ?)",
			cohortID, code, info.name, info.typ); err != nil {
			return err
		}
	}

	var codes []string
	if err = tx.Select(&codes, "SELECT code FROM feature WHERE cohort_id = ? ORDER BY code", cohortID); err != nil {
		return err
	}
	if err = validateArtifacts(cb.root, codes); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return &CohortExistsError{Name: cb.name}
		}
		return err
	}
	return cb.advance(phaseValidated)
}
