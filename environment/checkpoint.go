package environment

import (
	"encoding/json"
	"sync"
	"time"

	"ternstore/dblog"
)

// checkpointSnapshot is the periodic bookkeeping record the environment
// builds: which indexes are currently open and when the snapshot was
// taken. It carries no postings or document data. The worker compresses
// it and keeps only the size and timing stats of the latest run
// (lastStats); the snapshot itself is not persisted.
type checkpointSnapshot struct {
	Taken       time.Time `json:"taken"`
	OpenIndexes []string  `json:"open_indexes"`
}

// checkpointWorker runs the periodic snapshot-and-compress loop, adapted
// from checkpoint.Manager's ticker+stopChan+WaitGroup shutdown idiom.
type checkpointWorker struct {
	env      *Environment
	interval time.Duration
	log      *dblog.Logger
	comp     *snapshotCompressor

	mu       sync.Mutex
	last     snapshotStats
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func newCheckpointWorker(env *Environment, interval time.Duration, log *dblog.Logger) *checkpointWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &checkpointWorker{
		env:      env,
		interval: interval,
		log:      log,
		comp:     newSnapshotCompressor(),
		stopCh:   make(chan struct{}),
	}
}

func (w *checkpointWorker) start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.runOnce()
			case <-w.stopCh:
				return
			}
		}
	}()
}

func (w *checkpointWorker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *checkpointWorker) runOnce() {
	start := time.Now()

	snap := checkpointSnapshot{Taken: start, OpenIndexes: w.env.openIndexNames()}
	raw, err := json.Marshal(snap)
	if err != nil {
		w.log.Warningf("checkpoint snapshot marshal failed: %v", err)
		return
	}

	algo, stored, err := w.comp.compress(raw)
	if err != nil {
		w.log.Warningf("checkpoint snapshot compression failed: %v", err)
		return
	}

	w.mu.Lock()
	w.last = snapshotStats{
		Algorithm:    algo,
		OriginalSize: len(raw),
		StoredSize:   len(stored),
		Took:         time.Since(start),
	}
	w.mu.Unlock()

	w.log.Debugf("checkpoint snapshot taken: %d indexes, %d->%d bytes (%s)",
		len(snap.OpenIndexes), len(raw), len(stored), algo)
}

func (w *checkpointWorker) lastStats() snapshotStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}
