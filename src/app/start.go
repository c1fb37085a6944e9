package app

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/RelDB/src"
	"github.com/Blackdeer1524/RelDB/src/bufferpool"
	"github.com/Blackdeer1524/RelDB/src/pkg/utils"
	"github.com/Blackdeer1524/RelDB/src/storage/disk"
	"github.com/Blackdeer1524/RelDB/src/storage/index/hash"
	"github.com/Blackdeer1524/RelDB/src/txns"
)

const pageFileName = "reldb.pages"

// Engine assembles the storage core: disk manager, sharded buffer pool,
// background flusher, extendible hash index, lock and transaction managers.
type Engine struct {
	Env   envVars
	RunID uuid.UUID

	Pool        *bufferpool.ParallelManager
	Index       *hash.Table
	LockManager *txns.LockManager
	TxnManager  *txns.Manager

	diskManager *disk.FileManager
	flusher     *bufferpool.Flusher
	log         src.Logger
}

// NewEngine wires the engine on the given filesystem. Tests pass
// afero.NewMemMapFs(); cmd/reldb passes afero.NewOsFs().
func NewEngine(fs afero.Fs) (*Engine, error) {
	env := mustLoadEnv()

	var log src.Logger
	if env.Environment == EnvDev {
		log = utils.Must(zap.NewDevelopment()).Sugar()
	} else {
		log = utils.Must(zap.NewProduction()).Sugar()
	}

	if err := fs.MkdirAll(env.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir %q: %w", env.DataDir, err)
	}

	diskManager, err := disk.NewFileManager(
		fs,
		filepath.Join(env.DataDir, pageFileName),
		log,
	)
	if err != nil {
		return nil, err
	}

	pool := bufferpool.NewParallel(env.NumInstances, env.PoolSize, diskManager, log)

	flusher, err := bufferpool.NewFlusher(
		pool,
		time.Duration(env.FlushInterval)*time.Second,
		log,
	)
	if err != nil {
		return nil, err
	}

	index, err := hash.NewTable(pool, hash.CompareUint64, log)
	if err != nil {
		return nil, err
	}

	lockManager := txns.NewLockManager(log)

	engine := &Engine{
		Env:         env,
		RunID:       uuid.New(),
		Pool:        pool,
		Index:       index,
		LockManager: lockManager,
		TxnManager:  txns.NewTxnManager(lockManager, log),
		diskManager: diskManager,
		flusher:     flusher,
		log:         log,
	}

	log.Infof("engine %s ready: %d instances x %d frames, data dir %q",
		engine.RunID, env.NumInstances, env.PoolSize, env.DataDir)
	return engine, nil
}

func (e *Engine) Start() {
	e.flusher.Start()
}

// Close stops the flusher, flushes everything resident and closes the page
// file.
func (e *Engine) Close() error {
	e.flusher.Stop()

	err := e.Pool.FlushAllPages()
	if closeErr := e.diskManager.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	// Sync fails on terminal stderr; nothing actionable either way.
	_ = e.log.Sync()
	return err
}
