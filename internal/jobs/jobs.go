package jobs

import (
	"context"
	"log"
	"sync"

	"github.com/theomilll/atv-tinoco/internal/store"
)

// Status is the terminal outcome of a job.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Pipeline is the slice of the ingestion pipeline jobs drive.
type Pipeline interface {
	Process(ctx context.Context, docID string) error
	Reprocess(ctx context.Context, docID string) error
	IngestURL(ctx context.Context, rawURL, ownerID, title string) (*store.Document, error)
}

// Result reports a finished job.
type Result struct {
	DocumentID string
	Status     Status
	Err        error
}

// Job is a unit of ingestion work. Running a job produces the same
// document state transitions whether it runs inline or deferred.
type Job interface {
	Run(ctx context.Context, p Pipeline) Result
}

// ProcessDocument takes a pending document through the pipeline.
type ProcessDocument struct {
	DocumentID string
}

func (j ProcessDocument) Run(ctx context.Context, p Pipeline) Result {
	if err := p.Process(ctx, j.DocumentID); err != nil {
		return Result{DocumentID: j.DocumentID, Status: StatusFailed, Err: err}
	}
	return Result{DocumentID: j.DocumentID, Status: StatusCompleted}
}

// ReprocessDocument re-chunks and re-embeds a completed or failed document.
type ReprocessDocument struct {
	DocumentID string
}

func (j ReprocessDocument) Run(ctx context.Context, p Pipeline) Result {
	if err := p.Reprocess(ctx, j.DocumentID); err != nil {
		return Result{DocumentID: j.DocumentID, Status: StatusFailed, Err: err}
	}
	return Result{DocumentID: j.DocumentID, Status: StatusCompleted}
}

// IngestURL fetches a page and runs it through the pipeline.
type IngestURL struct {
	URL     string
	OwnerID string
	Title   string
}

func (j IngestURL) Run(ctx context.Context, p Pipeline) Result {
	doc, err := p.IngestURL(ctx, j.URL, j.OwnerID, j.Title)
	var docID string
	if doc != nil {
		docID = doc.ID
	}
	if err != nil {
		return Result{DocumentID: docID, Status: StatusFailed, Err: err}
	}
	return Result{DocumentID: docID, Status: StatusCompleted}
}

// Queue accepts jobs for execution. Submit never blocks on the work itself.
type Queue interface {
	Submit(j Job)
}

// InlineQueue runs each submitted job on its own goroutine in this
// process. Results go to the optional hook; failures are logged either
// way since document status already records them.
type InlineQueue struct {
	pipeline Pipeline
	onResult func(Result)
	wg       sync.WaitGroup
}

// NewInlineQueue creates a queue over the pipeline. onResult may be nil.
func NewInlineQueue(p Pipeline, onResult func(Result)) *InlineQueue {
	return &InlineQueue{pipeline: p, onResult: onResult}
}

func (q *InlineQueue) Submit(j Job) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		res := j.Run(context.Background(), q.pipeline)
		if res.Err != nil {
			log.Printf("jobs: document %s failed: %v", res.DocumentID, res.Err)
		}
		if q.onResult != nil {
			q.onResult(res)
		}
	}()
}

// Wait blocks until all submitted jobs have finished.
func (q *InlineQueue) Wait() {
	q.wg.Wait()
}
