package webgwas

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/check.v1"
)

type workerSuite struct{}

var _ = check.Suite(&workerSuite{})

// runnerFunc adapts a function to the JobRunner interface for tests.
type runnerFunc func(ctx context.Context, req Request, outPath string) error

func (f runnerFunc) Run(ctx context.Context, req Request, outPath string) error {
	return f(ctx, req, outPath)
}

func writeResult(outPath string) error {
	return os.WriteFile(outPath, []byte("ID\tBETA\tSE\tOBS_CT\n"), 0666)
}

func (s *workerSuite) testSettings(c *check.C) Settings {
	return Settings{NWorkers: 2, ResultsDir: filepath.Join(c.MkDir(), "results")}
}

func waitTerminal(c *check.C, w *Worker, id string) JobResult {
	for deadline := time.Now().Add(10 * time.Second); time.Now().Before(deadline); {
		r := w.Results(id)
		if r.State != JobQueued {
			return r
		}
		time.Sleep(time.Millisecond)
	}
	c.Fatalf("request %s still queued", id)
	return JobResult{}
}

func (s *workerSuite) TestUnknownRequest(c *check.C) {
	w := NewWorker(s.testSettings(c), runnerFunc(func(ctx context.Context, req Request, outPath string) error {
		return writeResult(outPath)
	}), NewLocalResultStore())
	defer w.Close()
	r := w.Results("no-such-id")
	c.Check(r.State, check.Equals, JobNotFound)
	c.Check(r.RequestID, check.Equals, "no-such-id")
}

func (s *workerSuite) TestSucceeded(c *check.C) {
	settings := s.testSettings(c)
	w := NewWorker(settings, runnerFunc(func(ctx context.Context, req Request, outPath string) error {
		return writeResult(outPath)
	}), NewLocalResultStore())
	defer w.Close()
	id, err := w.Submit(Request{Cohort: "ukbiobank", Phenotype: "ht AND wt"})
	c.Assert(err, check.IsNil)
	c.Assert(id, check.Not(check.Equals), "")
	r := waitTerminal(c, w, id)
	c.Check(r.State, check.Equals, JobSucceeded)
	c.Check(r.ResultURL, check.Equals, "file://"+filepath.Join(settings.ResultsDir, id+".tsv.zst"))
	c.Check(r.ErrorKind, check.Equals, ErrKindNone)
	// terminal results are stable
	c.Check(w.Results(id), check.DeepEquals, r)
	c.Check(w.Results(id), check.DeepEquals, r)
}

func (s *workerSuite) TestQueuedWhileRunning(c *check.C) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	w := NewWorker(s.testSettings(c), runnerFunc(func(ctx context.Context, req Request, outPath string) error {
		once.Do(func() { close(started) })
		<-release
		return writeResult(outPath)
	}), NewLocalResultStore())
	id, err := w.Submit(Request{ID: "req-1", Cohort: "ukbiobank"})
	c.Assert(err, check.IsNil)
	c.Check(id, check.Equals, "req-1")
	<-started
	c.Check(w.Results(id).State, check.Equals, JobQueued)
	close(release)
	c.Check(waitTerminal(c, w, id).State, check.Equals, JobSucceeded)
	w.Close()
}

func (s *workerSuite) TestDomainFailure(c *check.C) {
	w := NewWorker(s.testSettings(c), runnerFunc(func(ctx context.Context, req Request, outPath string) error {
		return &JobError{Kind: ErrKindDomain, Err: errors.New("phenotype definition references unknown feature")}
	}), NewLocalResultStore())
	defer w.Close()
	id, err := w.Submit(Request{Cohort: "ukbiobank", Phenotype: "nope"})
	c.Assert(err, check.IsNil)
	r := waitTerminal(c, w, id)
	c.Check(r.State, check.Equals, JobFailed)
	c.Check(r.ErrorKind, check.Equals, ErrKindDomain)
	c.Check(r.ErrorMsg, check.Matches, `.*unknown feature.*`)
	c.Check(r.ResultURL, check.Equals, "")
}

func (s *workerSuite) TestInternalFailure(c *check.C) {
	w := NewWorker(s.testSettings(c), runnerFunc(func(ctx context.Context, req Request, outPath string) error {
		return errors.New("disk on fire")
	}), NewLocalResultStore())
	defer w.Close()
	id, err := w.Submit(Request{Cohort: "ukbiobank"})
	c.Assert(err, check.IsNil)
	r := waitTerminal(c, w, id)
	c.Check(r.State, check.Equals, JobFailed)
	c.Check(r.ErrorKind, check.Equals, ErrKindInternal)
}

func (s *workerSuite) TestPanicBecomesFailed(c *check.C) {
	w := NewWorker(s.testSettings(c), runnerFunc(func(ctx context.Context, req Request, outPath string) error {
		panic("boom")
	}), NewLocalResultStore())
	defer w.Close()
	id, err := w.Submit(Request{Cohort: "ukbiobank"})
	c.Assert(err, check.IsNil)
	r := waitTerminal(c, w, id)
	c.Check(r.State, check.Equals, JobFailed)
	c.Check(r.ErrorKind, check.Equals, ErrKindInternal)
	c.Check(r.ErrorMsg, check.Matches, `panic: boom`)
}

func (s *workerSuite) TestDuplicateID(c *check.C) {
	release := make(chan struct{})
	w := NewWorker(s.testSettings(c), runnerFunc(func(ctx context.Context, req Request, outPath string) error {
		<-release
		return writeResult(outPath)
	}), NewLocalResultStore())
	_, err := w.Submit(Request{ID: "dup"})
	c.Assert(err, check.IsNil)
	_, err = w.Submit(Request{ID: "dup"})
	c.Check(err, check.ErrorMatches, `request dup already submitted`)
	close(release)
	w.Close()
}

func (s *workerSuite) TestManyConcurrentRequests(c *check.C) {
	w := NewWorker(s.testSettings(c), runnerFunc(func(ctx context.Context, req Request, outPath string) error {
		if strings.HasPrefix(req.Phenotype, "bad") {
			return &JobError{Kind: ErrKindDomain, Err: errors.New("rejected")}
		}
		return writeResult(outPath)
	}), NewLocalResultStore())
	var ids []string
	for i := 0; i < 20; i++ {
		pheno := "ht"
		if i%3 == 0 {
			pheno = "bad"
		}
		id, err := w.Submit(Request{Cohort: "ukbiobank", Phenotype: pheno})
		c.Assert(err, check.IsNil)
		ids = append(ids, id)
	}
	w.Close()
	for i, id := range ids {
		r := w.Results(id)
		if i%3 == 0 {
			c.Check(r.State, check.Equals, JobFailed)
			c.Check(r.ErrorKind, check.Equals, ErrKindDomain)
		} else {
			c.Check(r.State, check.Equals, JobSucceeded)
		}
	}
}

func (s *workerSuite) TestResultStoreSelection(c *check.C) {
	st, err := NewResultStore(context.Background(), Settings{DryRun: true, S3Bucket: "results"})
	c.Assert(err, check.IsNil)
	c.Check(st, check.FitsTypeOf, localResultStore{})
	st, err = NewResultStore(context.Background(), Settings{})
	c.Assert(err, check.IsNil)
	c.Check(st, check.FitsTypeOf, localResultStore{})
}

func (s *workerSuite) TestSubmitAfterClose(c *check.C) {
	w := NewWorker(s.testSettings(c), runnerFunc(func(ctx context.Context, req Request, outPath string) error {
		return writeResult(outPath)
	}), NewLocalResultStore())
	w.Close()
	_, err := w.Submit(Request{Cohort: "ukbiobank"})
	c.Check(err, check.ErrorMatches, `worker is shut down`)
}
