package app

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/txingest/internal/config"
	"github.com/dvloznov/txingest/internal/jobs"
	"github.com/dvloznov/txingest/internal/jobs/inmemory"
	"github.com/dvloznov/txingest/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Port:                    8080,
		DBDriver:                config.DriverSQLite,
		DBPath:                  filepath.Join(dir, "tx.db"),
		UploadDir:               filepath.Join(dir, "uploads"),
		Workers:                 2,
		QueueSize:               4,
		MaxUploadBytes:          1 << 20,
		Timezone:                "UTC",
		MissingIdentifierPolicy: "assign",
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestApp_EndToEnd(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	defer func() { require.NoError(t, a.Shutdown(ctx)) }()

	ref, err := a.Artifacts.Save(ctx, "trades.csv",
		strings.NewReader("transaction_uti,notional,exchange_rate\nT1,100,1.1\nT2,200,0.9\n"))
	require.NoError(t, err)

	jobID, err := a.Tracker.Submit(ctx, ref, "trades.csv")
	require.NoError(t, err)

	var job *jobs.IngestJob
	require.Eventually(t, func() bool {
		job, err = a.Tracker.Status(ctx, jobID)
		return err == nil && job.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, jobs.JobStatusSucceeded, job.Status, job.Error)
	assert.Equal(t, &jobs.Result{TotalRecords: 2, NewCount: 2}, job.Result)

	n, err := a.Repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = a.Artifacts.Read(ctx, ref)
	assert.Error(t, err, "artifact removed after the job")
}

// closeRecorder is a repository that only tracks Close.
type closeRecorder struct {
	store.Repository
	closed atomic.Bool
}

func (r *closeRecorder) Close() error {
	r.closed.Store(true)
	return nil
}

func TestApp_ShutdownTimeoutKeepsStoreOpen(t *testing.T) {
	ctx := context.Background()
	repo := &closeRecorder{}
	jobStore := inmemory.NewStore(0)
	a := &App{
		Config: testConfig(t),
		Log:    zerolog.Nop(),
		Repo:   repo,
		Jobs:   jobStore,
		Queue:  inmemory.NewQueue(4, 1, jobStore, zerolog.Nop()),
	}
	a.Tracker = jobs.NewTracker(a.Jobs, a.Queue, nil, zerolog.Nop())

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, a.Queue.Start(ctx, func(ctx context.Context, job *jobs.IngestJob) (*jobs.Result, error) {
		close(started)
		<-release
		return &jobs.Result{}, nil
	}))

	_, err := a.Tracker.Submit(ctx, "ref", "slow.csv")
	require.NoError(t, err)
	<-started

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = a.Shutdown(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, repo.closed.Load(), "a running job still needs the store")

	close(release)
	require.NoError(t, a.Shutdown(ctx))
	assert.True(t, repo.closed.Load())
}

func TestApp_WatcherOnlyWithInbox(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Shutdown(context.Background())

	assert.Nil(t, a.Watcher())

	a.Config.InboxDir = t.TempDir()
	assert.NotNil(t, a.Watcher())
}

func TestOpenRepository_UnknownDriver(t *testing.T) {
	_, err := OpenRepository(context.Background(), &config.Config{DBDriver: "mysql"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestOpenExporter_Disabled(t *testing.T) {
	exp, err := OpenExporter(context.Background(), &config.Config{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, exp)
}
