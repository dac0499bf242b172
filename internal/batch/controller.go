package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zombor/receipt-scanner/internal/receipt"
	"github.com/zombor/receipt-scanner/internal/scanning"
)

var (
	// ErrEmptyTitle is returned when a batch is submitted with a blank title
	ErrEmptyTitle = errors.New("please enter a batch title")
	// ErrNoFiles is returned when a batch is submitted without images
	ErrNoFiles = errors.New("please select at least one image")
	// ErrRunActive is returned when the batch is changed while a run is in flight
	ErrRunActive = errors.New("a batch is already being processed")
	// ErrNothingToRun is returned by Run when no entry is pending
	ErrNothingToRun = errors.New("no images waiting to be processed")
	// ErrNothingToRetry is returned by RetryFailed when the last run had no failures
	ErrNothingToRetry = errors.New("no failed images to retry")
)

const watchBuffer = 64

// File is an image selected for a batch
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Extractor turns image bytes into receipt fields
type Extractor interface {
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*scanning.ExtractedFields, error)
}

// Uploader stores the original image
type Uploader interface {
	Upload(ctx context.Context, owner, filename string, data []byte, contentType string) (*receipt.Upload, error)
}

// Persister saves finished receipt records
type Persister interface {
	SaveReceipt(ctx context.Context, owner string, record *receipt.Record) (string, error)
}

// Deps are the collaborators shared by every controller
type Deps struct {
	Extractor      Extractor
	Uploader       Uploader
	Persister      Persister
	Sessions       *Sessions
	Clock          Clock
	AutoClearDelay time.Duration
}

// Update is a status stream event. Reset events carry the whole ledger;
// item events carry one entry and its index.
type Update struct {
	Reset bool       `json:"reset,omitempty"`
	Index int        `json:"index"`
	Item  ScanItem   `json:"item"`
	Items []ScanItem `json:"items,omitempty"`
}

// RunResult summarises a finished run
type RunResult struct {
	Done        int `json:"done"`
	NeedsReview int `json:"needs_review"`
	Failed      int `json:"failed"`
}

// State is a point-in-time view of a controller
type State struct {
	Session
	Running     bool   `json:"running"`
	FailedFiles int    `json:"failedFiles"`
	Counts      Counts `json:"counts"`
}

// Controller drives one owner's batch: submission, the sequential run,
// retry of failures and the session that survives restarts.
type Controller struct {
	owner     string
	extractor Extractor
	uploader  Uploader
	persister Persister
	sessions  *Sessions
	clock     Clock
	autoClear time.Duration

	mu        sync.Mutex
	ledger    *Ledger
	files     []File
	failed    []File
	title     string
	errMsg    string
	sessionID string
	running   bool
	closed    bool

	timer    Timer
	timerGen uint64

	watchers    map[int]chan Update
	nextWatcher int

	// onIdle is called once a run has finished, outside the lock
	onIdle func()
}

// NewController restores the owner's session and returns its controller.
// Pending entries restored without their files are dropped.
func NewController(owner string, deps Deps) *Controller {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock()
	}
	autoClear := deps.AutoClearDelay
	if autoClear <= 0 {
		autoClear = DefaultAutoClearDelay
	}

	session := deps.Sessions.Restore(owner)

	c := &Controller{
		owner:     owner,
		extractor: deps.Extractor,
		uploader:  deps.Uploader,
		persister: deps.Persister,
		sessions:  deps.Sessions,
		clock:     clock,
		autoClear: autoClear,
		ledger:    NewLedger(session.Items),
		title:     session.BatchTitle,
		errMsg:    session.Error,
		sessionID: uuid.NewString(),
		watchers:  make(map[int]chan Update),
	}

	if c.ledger.HasPending() {
		slog.Info("Dropping pending items without files", "owner", owner, "count", c.ledger.Counts().Pending)
		c.ledger.Reset()
	}

	c.mu.Lock()
	c.commitLocked()
	c.mu.Unlock()

	return c
}

// Owner returns the owner this controller serves
func (c *Controller) Owner() string {
	return c.owner
}

// SubmitBatch replaces the current batch with files, all pending, under title.
// A rejected submission leaves the ledger untouched and records the reason
// as the session error.
func (c *Controller) SubmitBatch(files []File, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	title = strings.TrimSpace(title)
	switch {
	case c.running:
		return c.rejectLocked(ErrRunActive)
	case title == "":
		return c.rejectLocked(ErrEmptyTitle)
	case len(files) == 0:
		return c.rejectLocked(ErrNoFiles)
	}

	c.files = append([]File(nil), files...)
	c.failed = nil
	c.title = title
	c.errMsg = ""
	c.resetLedgerLocked(c.files)

	slog.Info("Batch submitted", "owner", c.owner, "title", title, "files", len(files))
	return nil
}

// Run processes every pending file in order. Each item is extracted,
// uploaded, classified and saved; a failure at any stage marks that item
// failed and the run moves on. Files that failed are kept for RetryFailed.
func (c *Controller) Run(ctx context.Context) (RunResult, error) {
	files, title, err := c.begin()
	if err != nil {
		return RunResult{}, err
	}
	return c.execute(ctx, files, title), nil
}

// Start begins a run on a background goroutine. Precondition failures are
// returned synchronously; the run itself ignores cancellation of ctx.
func (c *Controller) Start(ctx context.Context) error {
	files, title, err := c.begin()
	if err != nil {
		return err
	}
	go c.execute(context.WithoutCancel(ctx), files, title)
	return nil
}

func (c *Controller) begin() ([]File, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil, "", ErrRunActive
	}
	if len(c.files) == 0 || !c.ledger.HasPending() {
		return nil, "", ErrNothingToRun
	}
	c.running = true
	c.errMsg = ""
	c.commitLocked()
	return c.files, c.title, nil
}

func (c *Controller) execute(ctx context.Context, files []File, title string) RunResult {
	slog.Info("Processing batch", "owner", c.owner, "title", title, "files", len(files))

	var (
		result RunResult
		failed []File
	)
	for i, f := range files {
		if !c.isPending(i) {
			continue
		}

		c.update(i, ItemPatch{Status: StatusProcessing})

		status, err := c.process(ctx, f, title)
		if err != nil {
			slog.Error("Failed to process receipt", "owner", c.owner, "file", f.Name, "error", err)
			c.update(i, patch(StatusFailed, MessageFailed))
			failed = append(failed, f)
			result.Failed++
			continue
		}

		if status == receipt.StatusNeedsReview {
			c.update(i, patch(StatusNeedsReview, MessageNeedsReview))
			result.NeedsReview++
		} else {
			c.update(i, patch(StatusDone, MessageSaved))
			result.Done++
		}
	}

	c.mu.Lock()
	c.running = false
	c.files = nil
	c.failed = failed
	c.commitLocked()
	c.mu.Unlock()

	slog.Info("Batch finished", "owner", c.owner, "done", result.Done, "needs_review", result.NeedsReview, "failed", result.Failed)
	if c.onIdle != nil {
		c.onIdle()
	}
	return result
}

// process runs one file through extract, upload, classify and save
func (c *Controller) process(ctx context.Context, f File, title string) (receipt.Status, error) {
	fields, err := c.extractor.ScanReceipt(ctx, f.Data, f.ContentType)
	if err != nil {
		return "", fmt.Errorf("extracting: %w", err)
	}

	upload, err := c.uploader.Upload(ctx, c.owner, f.Name, f.Data, f.ContentType)
	if err != nil {
		return "", fmt.Errorf("uploading: %w", err)
	}

	candidate, err := receipt.NewCandidate(fields, upload, title, c.clock.Now())
	if err != nil {
		return "", fmt.Errorf("building candidate: %w", err)
	}

	status := receipt.Classify(candidate)
	record, err := receipt.NewRecord(candidate, status)
	if err != nil {
		return "", fmt.Errorf("building record: %w", err)
	}

	id, err := c.persister.SaveReceipt(ctx, c.owner, record)
	if err != nil {
		return "", fmt.Errorf("saving: %w", err)
	}

	slog.Info("Receipt saved", "owner", c.owner, "file", f.Name, "id", id, "status", status)
	return status, nil
}

// RetryFailed loads the files that failed in the last run as a new batch of
// pending items and returns how many there are. Earlier successful entries
// leave the ledger. Call Run to process them.
func (c *Controller) RetryFailed() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return 0, ErrRunActive
	}
	if len(c.failed) == 0 {
		return 0, ErrNothingToRetry
	}

	c.files = c.failed
	c.failed = nil
	c.errMsg = ""
	c.resetLedgerLocked(c.files)

	slog.Info("Retrying failed receipts", "owner", c.owner, "files", len(c.files))
	return len(c.files), nil
}

// Clear drops the batch and its persisted session
func (c *Controller) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrRunActive
	}
	return c.clearLocked()
}

// Snapshot returns a copy of the current session
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionLocked()
}

// State returns the session together with run status and counts
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Session:     c.sessionLocked(),
		Running:     c.running,
		FailedFiles: len(c.failed),
		Counts:      c.ledger.Counts(),
	}
}

// FailedCount returns the number of files available for retry
func (c *Controller) FailedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.failed)
}

// Running reports whether a run is in flight
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Watch subscribes to ledger changes. Slow watchers miss events rather than
// stalling the run. The returned func unsubscribes and closes the channel.
func (c *Controller) Watch() (<-chan Update, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Update, watchBuffer)
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if w, ok := c.watchers[id]; ok {
				delete(c.watchers, id)
				close(w)
			}
		})
	}
}

// Close stops the auto-clear timer and ends every watch. A run in flight
// finishes on its own.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.stopTimerLocked()
	c.endWatchesLocked()
}

// endWatches closes every current watch without closing the controller
func (c *Controller) endWatches() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endWatchesLocked()
}

func (c *Controller) endWatchesLocked() {
	for id, ch := range c.watchers {
		delete(c.watchers, id)
		close(ch)
	}
}

func (c *Controller) isPending(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.ledger.Item(index)
	return ok && item.Status == StatusPending
}

func (c *Controller) update(index int, p ItemPatch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, err := c.ledger.Update(index, p)
	if err != nil {
		slog.Error("Failed to update item", "owner", c.owner, "index", index, "error", err)
		return
	}
	c.broadcastLocked(Update{Index: index, Item: item})
	c.commitLocked()
}

func (c *Controller) rejectLocked(err error) error {
	c.errMsg = err.Error()
	c.commitLocked()
	return err
}

func (c *Controller) resetLedgerLocked(files []File) {
	c.ledger.Reset()
	for _, f := range files {
		c.ledger.Append(ScanItem{Name: f.Name, Status: StatusPending})
	}
	c.broadcastLocked(Update{Reset: true, Index: -1, Items: c.ledger.Items()})
	c.commitLocked()
}

func (c *Controller) clearLocked() error {
	c.stopTimerLocked()
	c.ledger.Reset()
	c.files = nil
	c.failed = nil
	c.title = ""
	c.errMsg = ""
	c.broadcastLocked(Update{Reset: true, Index: -1, Items: []ScanItem{}})

	if err := c.sessions.Clear(c.owner); err != nil {
		return err
	}
	slog.Info("Batch cleared", "owner", c.owner)
	return nil
}

func (c *Controller) sessionLocked() Session {
	return Session{
		Items:      c.ledger.Items(),
		BatchTitle: c.title,
		Error:      c.errMsg,
		SessionID:  c.sessionID,
	}
}

// commitLocked persists non-empty state and re-evaluates the auto-clear timer.
// Must be called after every mutation.
func (c *Controller) commitLocked() {
	session := c.sessionLocked()
	if !session.IsEmpty() {
		if err := c.sessions.Persist(c.owner, &session); err != nil {
			slog.Error("Failed to persist session", "owner", c.owner, "error", err)
		}
	}
	c.rearmLocked()
}

func (c *Controller) rearmLocked() {
	c.stopTimerLocked()
	if c.closed || c.running || !c.ledger.AllTerminal() {
		return
	}

	c.timerGen++
	gen := c.timerGen
	c.timer = c.clock.AfterFunc(c.autoClear, func() {
		c.autoClearFired(gen)
	})
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) autoClearFired(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A stale timer may fire after being stopped
	if gen != c.timerGen || c.timer == nil || c.closed || c.running {
		return
	}
	c.timer = nil

	slog.Info("Auto-clearing finished batch", "owner", c.owner)
	if err := c.clearLocked(); err != nil {
		slog.Error("Failed to auto-clear session", "owner", c.owner, "error", err)
	}
}

func (c *Controller) broadcastLocked(u Update) {
	for _, ch := range c.watchers {
		select {
		case ch <- u:
		default:
			slog.Warn("Dropping status update for slow watcher", "owner", c.owner, "index", u.Index)
		}
	}
}
