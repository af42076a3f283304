package groundtrack

import (
	"context"
	"log/slog"
	"sync"

	"github.com/star/isstrack/internal/transform"
	"github.com/star/isstrack/internal/vectors"
)

// convertJob is a unit of work for the worker pool.
type convertJob struct {
	index int
	sv    vectors.StateVector
}

// convertResult is the output of a single frame conversion.
type convertResult struct {
	index int
	point Point
	err   error
}

// workerPool manages a fixed number of goroutines for parallel frame conversion.
type workerPool struct {
	workers int
	model   transform.Model
	logger  *slog.Logger
}

func newWorkerPool(workers int, model transform.Model, logger *slog.Logger) *workerPool {
	if workers < 1 {
		workers = 1
	}
	return &workerPool{
		workers: workers,
		model:   model,
		logger:  logger,
	}
}

// convertBatch converts every vector to a ground point. The output keeps the
// input order; vectors that fail conversion are logged and skipped.
func (wp *workerPool) convertBatch(ctx context.Context, svs []vectors.StateVector) ([]Point, int, error) {
	if len(svs) == 0 {
		return nil, 0, nil
	}

	jobs := make(chan convertJob, wp.workers*2)
	results := make(chan convertResult, wp.workers*2)

	// Start workers.
	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				result := wp.convertSingle(job)
				select {
				case results <- result:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Feed jobs in a goroutine.
	go func() {
		defer close(jobs)
		for i, sv := range svs {
			select {
			case jobs <- convertJob{index: i, sv: sv}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Close results when all workers are done.
	go func() {
		wg.Wait()
		close(results)
	}()

	slots := make([]Point, len(svs))
	ok := make([]bool, len(svs))
	var errorCount int

	for result := range results {
		if result.err != nil {
			errorCount++
			wp.logger.Warn("ground point conversion failed",
				"component", "groundtrack",
				"epoch", vectors.FormatEpoch(svs[result.index].Epoch),
				"error", result.err,
			)
			continue
		}
		slots[result.index] = result.point
		ok[result.index] = true
	}
	if err := ctx.Err(); err != nil {
		return nil, errorCount, err
	}

	points := make([]Point, 0, len(svs)-errorCount)
	for i, p := range slots {
		if ok[i] {
			points = append(points, p)
		}
	}
	return points, errorCount, nil
}

func (wp *workerPool) convertSingle(job convertJob) convertResult {
	g, err := transform.ToGeodetic(job.sv.Position, job.sv.Epoch, wp.model)
	if err != nil {
		return convertResult{index: job.index, err: err}
	}
	return convertResult{
		index: job.index,
		point: Point{
			Epoch:     vectors.FormatEpoch(job.sv.Epoch),
			Latitude:  g.Latitude,
			Longitude: g.Longitude,
			Altitude:  g.Altitude,
			Speed:     vectors.Speed(job.sv.Velocity),
		},
	}
}
