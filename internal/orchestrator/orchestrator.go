// Package orchestrator runs transfers in the background for the CLI and the
// HTTP server. Each transfer gets its own goroutine, tracker, and cancel
// function; the manager only guards the handle map.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/johndauphine/chxfer/internal/batch"
	"github.com/johndauphine/chxfer/internal/checkpoint"
	"github.com/johndauphine/chxfer/internal/driver"
	"github.com/johndauphine/chxfer/internal/flatfile"
	"github.com/johndauphine/chxfer/internal/logging"
	"github.com/johndauphine/chxfer/internal/notify"
	"github.com/johndauphine/chxfer/internal/progress"
	"github.com/johndauphine/chxfer/internal/transfer"
)

// Handle identifies a transfer started by a Manager.
type Handle string

var (
	// ErrUnknownHandle is returned for handles the manager never issued or
	// has already pruned.
	ErrUnknownHandle = errors.New("unknown transfer handle")
	// ErrTransferFinished is returned by Cancel once the transfer is terminal.
	ErrTransferFinished = errors.New("transfer already finished")
	// ErrManagerClosed is returned by StartTransfer after Close.
	ErrManagerClosed = errors.New("transfer manager is shut down")
)

// DefaultRetention is how long finished transfers stay queryable in memory.
const DefaultRetention = time.Hour

// Options configures a Manager. Runner is required.
type Options struct {
	Runner *transfer.Runner
	// DefaultConn fills fields a request leaves empty.
	DefaultConn driver.ConnectionSpec
	// FileDefaults supplies the delimiter and encoding when a request omits them.
	FileDefaults flatfile.FileSpec
	// History records every transfer; nil disables history.
	History checkpoint.HistoryBackend
	// Notifier is told about terminal transfers; nil disables notifications.
	Notifier notify.Provider
	// Publishers are called inline from the run goroutine with every
	// progress event and must return promptly. Sinks doing I/O belong on a
	// Subscribe'd subscription (see progress.Relay).
	Publishers []progress.Publisher
	Retention  time.Duration
}

// Manager starts, tracks, and cancels transfers.
type Manager struct {
	runner   *transfer.Runner
	opts     Options
	broker   *progress.Broker
	pub      progress.Publisher
	now      func() time.Time
	wg       sync.WaitGroup
	mu       sync.Mutex
	entries  map[Handle]*entry
	shutdown bool
}

type entry struct {
	handle     Handle
	request    transfer.Request
	tracker    *progress.Tracker
	cancel     context.CancelFunc
	done       chan struct{}
	result     transfer.Result
	finishedAt time.Time
}

// New creates a manager.
func New(opts Options) (*Manager, error) {
	if opts.Runner == nil {
		return nil, errors.New("orchestrator: runner is required")
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	m := &Manager{
		runner:  opts.Runner,
		opts:    opts,
		broker:  progress.NewBroker(),
		now:     time.Now,
		entries: make(map[Handle]*entry),
	}
	pubs := append(progress.Multi{m.broker}, opts.Publishers...)
	m.pub = pubs
	return m, nil
}

// StartTransfer validates req and starts it in the background. Validation
// failures (bad identifiers, a path outside the storage root, an unknown
// direction) are returned here, before any session is opened. The returned
// handle is usable immediately with Progress, Cancel, and Wait.
func (m *Manager) StartTransfer(ctx context.Context, req transfer.Request) (Handle, error) {
	req = m.withDefaults(req)
	plan, err := m.runner.Prepare(req)
	if err != nil {
		return "", err
	}

	h := Handle(uuid.NewString())
	// The run outlives the caller's request; only Cancel or Close stop it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &entry{
		handle:  h,
		request: plan.Request,
		tracker: progress.NewTracker(string(h), m.pub),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		cancel()
		return "", ErrManagerClosed
	}
	m.pruneLocked()
	m.entries[h] = e
	m.wg.Add(1)
	m.mu.Unlock()

	m.recordStart(e)
	go m.run(runCtx, e)
	return h, nil
}

func (m *Manager) run(ctx context.Context, e *entry) {
	defer m.wg.Done()
	defer e.cancel()

	m.notifyStart(e)
	res := m.runner.Run(ctx, e.request, e.tracker)

	m.mu.Lock()
	e.result = res
	e.finishedAt = m.now()
	m.mu.Unlock()

	// History is complete by the time Wait returns.
	m.recordFinish(e, res)
	close(e.done)
	m.notifyFinish(e, res)
}

// Progress returns the latest snapshot of a transfer.
func (m *Manager) Progress(h Handle) (progress.Snapshot, error) {
	e, err := m.lookup(h)
	if err != nil {
		return progress.Snapshot{}, err
	}
	return e.tracker.Snapshot(), nil
}

// Cancel asks a running transfer to stop. The run finishes the batch in
// flight and ends CANCELLED.
func (m *Manager) Cancel(h Handle) error {
	e, err := m.lookup(h)
	if err != nil {
		return err
	}
	select {
	case <-e.done:
		return ErrTransferFinished
	default:
	}
	logging.Info("Transfer %s: cancellation requested", h)
	e.cancel()
	return nil
}

// Wait blocks until the transfer is terminal or ctx is done.
func (m *Manager) Wait(ctx context.Context, h Handle) (transfer.Result, error) {
	e, err := m.lookup(h)
	if err != nil {
		return transfer.Result{}, err
	}
	select {
	case <-e.done:
		m.mu.Lock()
		defer m.mu.Unlock()
		return e.result, nil
	case <-ctx.Done():
		return transfer.Result{}, ctx.Err()
	}
}

// Result returns the outcome of a finished transfer; ok is false while it
// is still running.
func (m *Manager) Result(h Handle) (res transfer.Result, ok bool, err error) {
	e, err := m.lookup(h)
	if err != nil {
		return transfer.Result{}, false, err
	}
	select {
	case <-e.done:
		m.mu.Lock()
		defer m.mu.Unlock()
		return e.result, true, nil
	default:
		return transfer.Result{}, false, nil
	}
}

// List returns snapshots of every known transfer, newest first.
func (m *Manager) List() []progress.Snapshot {
	m.mu.Lock()
	m.pruneLocked()
	snaps := make([]progress.Snapshot, 0, len(m.entries))
	for _, e := range m.entries {
		snaps = append(snaps, e.tracker.Snapshot())
	}
	m.mu.Unlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].UpdatedAt.After(snaps[j].UpdatedAt) })
	return snaps
}

// Subscribe returns a push channel of progress events for all transfers.
func (m *Manager) Subscribe(opts ...progress.SubscribeOption) *progress.Subscription {
	return m.broker.Subscribe(opts...)
}

// Subscribers returns the number of live push subscriptions.
func (m *Manager) Subscribers() int {
	return m.broker.Subscribers()
}

// Preview samples the source of a prospective transfer.
func (m *Manager) Preview(ctx context.Context, req transfer.PreviewRequest) (*transfer.Preview, error) {
	req.Conn = m.conn(req.Conn)
	req.File = m.file(req.File)
	return m.runner.Preview(ctx, req)
}

// ListColumns lists the columns of a table.
func (m *Manager) ListColumns(ctx context.Context, conn driver.ConnectionSpec, table string) ([]batch.Column, error) {
	return m.runner.Columns(ctx, m.conn(conn), table)
}

// ListTables lists the tables of the connection's database.
func (m *Manager) ListTables(ctx context.Context, conn driver.ConnectionSpec) ([]string, error) {
	return m.runner.Tables(ctx, m.conn(conn))
}

// ListFiles lists files under the storage root.
func (m *Manager) ListFiles() ([]flatfile.FileInfo, error) {
	return m.runner.ListFiles()
}

// FileColumns returns the header of a file, or positional names without one.
func (m *Manager) FileColumns(spec flatfile.FileSpec) ([]string, error) {
	return m.runner.FileColumns(m.file(spec))
}

// Root returns the storage root.
func (m *Manager) Root() *flatfile.Root {
	return m.runner.Root()
}

// History returns up to limit recorded transfers, newest first.
func (m *Manager) History(limit int) ([]checkpoint.Record, error) {
	if m.opts.History == nil {
		return nil, nil
	}
	return m.opts.History.GetAllRuns(limit)
}

// Active returns the number of transfers still running.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		select {
		case <-e.done:
		default:
			n++
		}
	}
	return n
}

// Close cancels running transfers, waits for them to reach a terminal state
// (or ctx to expire), and closes the event broker.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	for _, e := range m.entries {
		e.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for transfers to stop: %w", ctx.Err())
	}
	m.broker.Close()
	return err
}

func (m *Manager) lookup(h Handle) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return e, nil
}

// pruneLocked drops finished transfers older than the retention window.
func (m *Manager) pruneLocked() {
	cutoff := m.now().Add(-m.opts.Retention)
	for h, e := range m.entries {
		if !e.finishedAt.IsZero() && e.finishedAt.Before(cutoff) {
			delete(m.entries, h)
		}
	}
}

func (m *Manager) withDefaults(req transfer.Request) transfer.Request {
	req.Conn = m.conn(req.Conn)
	req.File = m.file(req.File)
	return req
}

func (m *Manager) conn(c driver.ConnectionSpec) driver.ConnectionSpec {
	d := m.opts.DefaultConn
	if c.Host == "" {
		c.Host = d.Host
		c.Secure = c.Secure || d.Secure
	}
	// A different host with no port gets the driver's default port.
	if c.Port == 0 && c.Host == d.Host {
		c.Port = d.Port
	}
	if c.Database == "" {
		c.Database = d.Database
	}
	if c.User == "" {
		c.User = d.User
	}
	if c.Token == "" {
		c.Token = d.Token
	}
	return c
}

func (m *Manager) file(f flatfile.FileSpec) flatfile.FileSpec {
	if f.Delimiter == 0 {
		f.Delimiter = m.opts.FileDefaults.Delimiter
	}
	if f.Encoding == "" {
		f.Encoding = m.opts.FileDefaults.Encoding
	}
	return f
}
