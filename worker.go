// Copyright (C) The WebGWAS Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package webgwas

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

// Settings configures the query worker. Loaded from WEBGWAS_*
// environment variables by LoadSettings.
type Settings struct {
	NWorkers   int    `envconfig:"N_WORKERS" default:"4"`
	DryRun     bool   `envconfig:"DRY_RUN" default:"false"`
	S3Bucket   string `envconfig:"S3_BUCKET"`
	S3Region   string `envconfig:"S3_REGION" default:"us-east-1"`
	BatchSize  int    `envconfig:"BATCH_SIZE" default:"1000"`
	IGWASProg  string `envconfig:"IGWAS_PROG" default:"igwas"`
	ResultsDir string `envconfig:"RESULTS_DIR" default:"results"`
}

func LoadSettings() (Settings, error) {
	var s Settings
	err := envconfig.Process("webgwas", &s)
	return s, err
}

// Request is one unit of work for the query worker.
type Request struct {
	ID        string // assigned by Submit if empty
	Cohort    string
	Phenotype string // phenotype definition evaluated by the indirect GWAS routine
}

// JobState is the lifecycle of a submitted request. Succeeded and
// Failed are absorbing; NotFound reports an id that was never
// submitted.
type JobState int

const (
	JobNotFound JobState = iota
	JobQueued
	JobSucceeded
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobNotFound:
		return "not found"
	case JobQueued:
		return "queued"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	}
	return fmt.Sprintf("JobState(%d)", int(s))
}

// JobErrorKind distinguishes failures the job routine reported about
// the request itself from unexpected internal errors. Both resolve to
// JobFailed; the kind is preserved for observability.
type JobErrorKind int

const (
	ErrKindNone JobErrorKind = iota
	ErrKindDomain
	ErrKindInternal
)

// JobError is a failure with a classified kind.
type JobError struct {
	Kind JobErrorKind
	Err  error
}

func (e *JobError) Error() string { return e.Err.Error() }

func (e *JobError) Unwrap() error { return e.Err }

// JobResult is the answer to a results query. ResultURL is set only
// when State is JobSucceeded; ErrorKind and ErrorMsg only when it is
// JobFailed.
type JobResult struct {
	RequestID string
	State     JobState
	ResultURL string
	ErrorKind JobErrorKind
	ErrorMsg  string
}

// JobRunner executes one request and returns the path of the local
// result file it produced.
type JobRunner interface {
	Run(ctx context.Context, req Request, outPath string) error
}

type requestJob struct {
	request Request
	done    chan struct{}
	result  JobResult
}

// Worker dispatches submitted requests to a bounded number of
// isolated jobs and retains their terminal results in a registry
// shared by all submitters and queriers. The registry mutex is held
// only for map access, never while a job executes.
type Worker struct {
	settings Settings
	runner   JobRunner
	results  ResultStore

	mtx    sync.Mutex
	jobs   map[string]*requestJob
	closed bool
	sem    chan bool
	wg     sync.WaitGroup
}

// NewWorker returns a Worker executing requests through runner and
// publishing result files through results.
func NewWorker(settings Settings, runner JobRunner, results ResultStore) *Worker {
	n := settings.NWorkers
	if n < 1 {
		n = 1
	}
	return &Worker{
		settings: settings,
		runner:   runner,
		results:  results,
		jobs:     map[string]*requestJob{},
		sem:      make(chan bool, n),
	}
}

// Submit enqueues a request and returns its id without waiting for
// the job to run. The id is visible to Results from any caller as
// soon as Submit returns.
func (w *Worker) Submit(req Request) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	job := &requestJob{request: req, done: make(chan struct{})}
	w.mtx.Lock()
	if w.closed {
		w.mtx.Unlock()
		return "", errors.New("worker is shut down")
	}
	if _, dup := w.jobs[req.ID]; dup {
		w.mtx.Unlock()
		return "", fmt.Errorf("request %s already submitted", req.ID)
	}
	w.jobs[req.ID] = job
	w.wg.Add(1)
	w.mtx.Unlock()
	log.Infof("queued request %s", req.ID)
	go w.run(job)
	return req.ID, nil
}

// Results reports the state of a submitted request. Terminal results
// are stable: once a job finishes, every subsequent call returns the
// same result without re-executing anything.
func (w *Worker) Results(id string) JobResult {
	w.mtx.Lock()
	job, ok := w.jobs[id]
	w.mtx.Unlock()
	if !ok {
		return JobResult{RequestID: id, State: JobNotFound}
	}
	select {
	case <-job.done:
		return job.result
	default:
		return JobResult{RequestID: id, State: JobQueued}
	}
}

// Close stops accepting submissions and waits for in-flight jobs to
// finish. Retained results stay queryable.
func (w *Worker) Close() {
	w.mtx.Lock()
	w.closed = true
	w.mtx.Unlock()
	w.wg.Wait()
}

func (w *Worker) run(job *requestJob) {
	defer w.wg.Done()
	w.sem <- true
	defer func() { <-w.sem }()
	job.result = w.execute(job.request)
	close(job.done)
	if job.result.State == JobFailed {
		log.Infof("request %s failed: %s", job.request.ID, job.result.ErrorMsg)
	} else {
		log.Infof("request %s finished", job.request.ID)
	}
}

// execute runs one job to a terminal result. Failures of any kind,
// panics included, become a JobFailed result; nothing propagates to
// the submitter.
func (w *Worker) execute(req Request) (result JobResult) {
	defer func() {
		if p := recover(); p != nil {
			result = JobResult{
				RequestID: req.ID,
				State:     JobFailed,
				ErrorKind: ErrKindInternal,
				ErrorMsg:  fmt.Sprintf("panic: %v", p),
			}
		}
	}()
	if err := os.MkdirAll(w.settings.ResultsDir, 0777); err != nil {
		return failedResult(req.ID, &JobError{Kind: ErrKindInternal, Err: err})
	}
	outPath := filepath.Join(w.settings.ResultsDir, req.ID+".tsv.zst")
	if err := w.runner.Run(context.Background(), req, outPath); err != nil {
		return failedResult(req.ID, err)
	}
	url, err := w.results.Put(context.Background(), req.ID, outPath)
	if err != nil {
		return failedResult(req.ID, &JobError{Kind: ErrKindInternal, Err: err})
	}
	return JobResult{RequestID: req.ID, State: JobSucceeded, ResultURL: url}
}

func failedResult(id string, err error) JobResult {
	kind := ErrKindInternal
	var jerr *JobError
	var exitErr *exec.ExitError
	if errors.As(err, &jerr) {
		kind = jerr.Kind
	} else if errors.As(err, &exitErr) {
		// the routine ran and rejected the request
		kind = ErrKindDomain
	}
	return JobResult{RequestID: id, State: JobFailed, ErrorKind: kind, ErrorMsg: err.Error()}
}

// igwasRunner executes the external indirect GWAS routine as an
// isolated subprocess, one per request.
type igwasRunner struct {
	prog      string
	batchSize int
}

// NewIGWASRunner returns the production JobRunner, invoking prog once
// per request.
func NewIGWASRunner(settings Settings) JobRunner {
	return &igwasRunner{prog: settings.IGWASProg, batchSize: settings.BatchSize}
}

func (r *igwasRunner) Run(ctx context.Context, req Request, outPath string) error {
	cmd := exec.CommandContext(ctx, r.prog,
		"-request-id", req.ID,
		"-cohort", req.Cohort,
		"-phenotype", req.Phenotype,
		"-batch-size", strconv.Itoa(r.batchSize),
		"-o", outPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &JobError{Kind: ErrKindDomain, Err: fmt.Errorf("%s: %s", err, firstLine(out))}
		}
		return &JobError{Kind: ErrKindInternal, Err: err}
	}
	return nil
}

func firstLine(out []byte) string {
	for i, b := range out {
		if b == '\n' {
			return string(out[:i])
		}
	}
	return string(out)
}
