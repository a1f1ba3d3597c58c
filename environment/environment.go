package environment

import (
	"path/filepath"
	"sort"
	"sync"

	"ternstore/dbconfig"
	"ternstore/dberr"
	"ternstore/dblog"
	"ternstore/index"
	"ternstore/kv"
	"ternstore/txn"
)

// liveRegistry enforces "at most one live Environment per directory per
// process", a behavior original_source/terane relies on (a second Open of
// an already-open path fails outright rather than racing the first
// Environment's file handles) that spec.md's distillation left implicit.
var liveRegistry = struct {
	mu    sync.Mutex
	paths map[string]bool
}{paths: make(map[string]bool)}

// ErrAlreadyOpen is returned by Open when path is already held open by a
// live Environment in this process.
var ErrAlreadyOpen = dberr.NewError("environment: path already open", nil)

func registerPath(path string) error {
	liveRegistry.mu.Lock()
	defer liveRegistry.mu.Unlock()
	if liveRegistry.paths[path] {
		return ErrAlreadyOpen
	}
	liveRegistry.paths[path] = true
	return nil
}

func unregisterPath(path string) {
	liveRegistry.mu.Lock()
	defer liveRegistry.mu.Unlock()
	delete(liveRegistry.paths, path)
}

// Environment is the C2 component: the process-wide handle that owns the
// kv.Engine, the log channel, and the set of currently open Index handles.
type Environment struct {
	path   string
	config *dbconfig.Config
	engine kv.Engine
	log    *dblog.Logger
	logR   interface{ Close() error }
	ckpt   *checkpointWorker

	mu      sync.Mutex
	indexes map[string]*index.Index
	closed  bool
}

// Open opens (or creates) the environment rooted at config.Path. Only one
// Environment may be open for a given path within this process at a time.
func Open(config *dbconfig.Config) (*Environment, error) {
	if config == nil {
		config = dbconfig.Default()
	}
	if err := config.Validate(); err != nil {
		return nil, dberr.NewError("invalid environment config", err)
	}

	path, err := filepath.Abs(config.Path)
	if err != nil {
		return nil, dberr.NewError("resolve environment path", err)
	}
	if err := registerPath(path); err != nil {
		return nil, err
	}

	log, logReader := dblog.NewChannel("environment", dblog.Level(config.LogLevel))
	go drainLogChannel(logReader)

	engine := kv.NewEngine(kv.Options{
		LockTimeout:       config.LockTimeout,
		DetectionInterval: config.LockTimeout / 2,
	})

	env := &Environment{
		path:    path,
		config:  config,
		engine:  engine,
		log:     log,
		logR:    logReader,
		indexes: make(map[string]*index.Index),
	}

	env.ckpt = newCheckpointWorker(env, config.CheckpointInterval, log)
	env.ckpt.start()

	log.Infof("environment opened at %s", path)
	return env, nil
}

// drainLogChannel mirrors the teacher's monitoring.Logger consumers: the
// channel side of dblog.NewChannel must be read or the pipe fills and
// write calls block. A production binary would fan this out to a file or
// collector; here it simply discards formatted lines once read.
func drainLogChannel(r interface{ Close() error }) {
	type reader interface {
		Read(p []byte) (int, error)
	}
	rr, ok := r.(reader)
	if !ok {
		return
	}
	buf := make([]byte, 4096)
	for {
		if _, err := rr.Read(buf); err != nil {
			return
		}
	}
}

// NewTxn begins a root transaction against this environment's engine.
func (e *Environment) NewTxn() (*txn.Transaction, error) {
	return txn.Begin(e.engine, e.log)
}

// Engine returns the underlying kv.Engine, for callers (e.g. segment.Open)
// that need to open sub-stores directly against it.
func (e *Environment) Engine() kv.Engine {
	return e.engine
}

// Log returns the environment's logger, for components opened against it
// that want to share its log channel.
func (e *Environment) Log() *dblog.Logger {
	return e.log
}

// OpenIndex opens (creating if necessary) the named index and registers it
// as open under this environment, refusing a duplicate concurrent open of
// the same name.
func (e *Environment) OpenIndex(t *txn.Transaction, name string) (*index.Index, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, dberr.NewError("environment is closed", nil)
	}
	if _, open := e.indexes[name]; open {
		e.mu.Unlock()
		return nil, dberr.NewError("index already open: "+name, nil)
	}
	e.mu.Unlock()

	idx, err := index.Open(e.engine, t, name, e.log)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.indexes[name] = idx
	e.mu.Unlock()

	return idx, nil
}

// CloseIndex closes idx and deregisters it from this environment.
func (e *Environment) CloseIndex(idx *index.Index) error {
	e.mu.Lock()
	if _, open := e.indexes[idx.Name]; !open {
		e.mu.Unlock()
		return dberr.NewError("index not open: "+idx.Name, nil)
	}
	delete(e.indexes, idx.Name)
	e.mu.Unlock()

	return idx.Close()
}

func (e *Environment) openIndexNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.indexes))
	for name := range e.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close shuts down the checkpoint worker, the engine, and the log
// channel, and releases this environment's path. It fails if any Index
// remains open, per spec.md §4.5: closing the environment out from under
// a live Index handle would leave that handle pointing at a torn-down
// engine.
func (e *Environment) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	if len(e.indexes) > 0 {
		e.mu.Unlock()
		return dberr.NewError("cannot close environment with open indexes", nil)
	}
	e.closed = true
	e.mu.Unlock()

	e.ckpt.stop()

	err := e.engine.Close()
	_ = e.logR.Close()
	unregisterPath(e.path)

	if err != nil {
		return dberr.NewError("engine close failed", err)
	}
	return nil
}
