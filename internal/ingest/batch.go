package ingest

import (
	"context"
	"sync"
)

// IngestAll ingests attachments in parallel. Results keep the input order;
// progressCallback, when set, is called from worker goroutines as each one
// finishes.
func (p *Pipeline) IngestAll(ctx context.Context, atts []Attachment, limit int64, progressCallback func(result Result)) []Result {
	results := make([]Result, len(atts))
	jobs := make(chan int, len(atts))
	var wg sync.WaitGroup

	workers := p.parallelism
	if workers > len(atts) {
		workers = len(atts)
	}

	// Start workers
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				result, _ := p.Ingest(ctx, atts[idx], limit)
				results[idx] = result
				if progressCallback != nil {
					progressCallback(result)
				}
			}
		}()
	}

	// Send jobs
	for i := range atts {
		jobs <- i
	}
	close(jobs)

	wg.Wait()
	return results
}
