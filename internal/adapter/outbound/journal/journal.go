// Package journal stores audit events as JSON Lines in a directory of
// day files, rotated by date and size and pruned after a retention period.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/repclub/gymgate/internal/domain/audit"
)

const dayLayout = "2006-01-02"

// dayFilePattern matches journal-YYYY-MM-DD.jsonl and journal-YYYY-MM-DD.N.jsonl.
var dayFilePattern = regexp.MustCompile(`^journal-(\d{4}-\d{2}-\d{2})(?:\.(\d+))?\.jsonl$`)

// dayFile is a parsed journal filename.
type dayFile struct {
	name  string
	day   string
	chunk int
}

func parseDayFile(name string) (dayFile, bool) {
	m := dayFilePattern.FindStringSubmatch(name)
	if m == nil {
		return dayFile{}, false
	}
	f := dayFile{name: name, day: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return dayFile{}, false
		}
		f.chunk = n
	}
	return f, true
}

func dayFileName(day string, chunk int) string {
	if chunk == 0 {
		return "journal-" + day + ".jsonl"
	}
	return fmt.Sprintf("journal-%s.%d.jsonl", day, chunk)
}

// Config configures a Journal. Zero values take the defaults noted.
type Config struct {
	// Dir holds the day files. Created with mode 0700 if missing.
	Dir string
	// RetentionDays is how many days of files are kept (default 30).
	RetentionDays int
	// MaxFileSizeMB starts a new chunk of the current day (default 50).
	MaxFileSizeMB int
	// CacheSize is the number of recent events held in memory (default 1000).
	CacheSize int
}

// Journal implements audit.Store and audit.QueryStore on day files.
type Journal struct {
	dir         string
	maxFileSize int64
	retention   int
	cache       *recentCache
	logger      *slog.Logger
	now         func() time.Time

	mu     sync.Mutex
	file   *os.File
	day    string
	chunk  int
	size   int64
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Open opens the journal in cfg.Dir, prunes expired files, warms the cache
// from the newest file and starts the hourly retention loop.
func Open(cfg Config, logger *slog.Logger) (*Journal, error) {
	return open(cfg, logger, time.Now, time.Hour)
}

func open(cfg Config, logger *slog.Logger, now func() time.Time, pruneEvery time.Duration) (*Journal, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("journal directory is empty")
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 50
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	j := &Journal{
		dir:         cfg.Dir,
		maxFileSize: int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retention:   cfg.RetentionDays,
		cache:       newRecentCache(cfg.CacheSize),
		logger:      logger,
		now:         now,
		done:        make(chan struct{}),
	}

	today := now().UTC().Format(dayLayout)
	if err := j.openDay(today, j.lastChunk(today)); err != nil {
		return nil, err
	}
	j.prune()
	j.warmCache()

	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	go j.pruneLoop(ctx, pruneEvery)

	logger.Debug("audit journal opened",
		"dir", j.dir,
		"retention_days", j.retention,
		"max_file_size", humanize.IBytes(uint64(j.maxFileSize)),
	)
	return j, nil
}

// Append writes events to the file for each event's day, starting a new
// chunk once the current one reaches the size cap.
func (j *Journal) Append(ctx context.Context, events ...audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return audit.ErrStoreClosed
	}

	for _, e := range events {
		if day := e.Timestamp.UTC().Format(dayLayout); day != j.day {
			if err := j.switchLocked(day, j.lastChunk(day)); err != nil {
				return fmt.Errorf("rotate to %s: %w", day, err)
			}
		}
		if j.size >= j.maxFileSize {
			if err := j.switchLocked(j.day, j.chunk+1); err != nil {
				return fmt.Errorf("rotate chunk: %w", err)
			}
		}

		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode audit event %s: %w", e.ID, err)
		}
		n, err := j.file.Write(append(line, '\n'))
		j.size += int64(n)
		if err != nil {
			return fmt.Errorf("write audit event %s: %w", e.ID, err)
		}
		j.cache.Add(e)
	}
	return nil
}

// Flush syncs the current file.
func (j *Journal) Flush(_ context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	return j.file.Sync()
}

// Close stops the retention loop and closes the current file. Safe to call
// multiple times.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.cancel()

	var err error
	if j.file != nil {
		_ = j.file.Sync()
		err = j.file.Close()
		j.file = nil
	}
	j.mu.Unlock()

	<-j.done
	return err
}

// Recent returns up to n cached events, newest first.
func (j *Journal) Recent(n int) []audit.Event {
	return j.cache.Recent(n)
}

// Query scans the day files overlapping the filter's range and returns
// matching events, newest first.
func (j *Journal) Query(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}

	files := j.listFiles()
	// Newest file first so the scan can stop at the limit.
	for i, k := 0, len(files)-1; i < k; i, k = i+1, k-1 {
		files[i], files[k] = files[k], files[i]
	}

	var result []audit.Event
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !dayInRange(f.day, filter) {
			continue
		}
		events, err := j.readFile(f.name)
		if err != nil {
			return nil, err
		}
		for i := len(events) - 1; i >= 0; i-- {
			if filter.Matches(events[i]) {
				result = append(result, events[i])
				if len(result) == filter.Limit {
					return result, nil
				}
			}
		}
	}
	return result, nil
}

func dayInRange(day string, filter audit.Filter) bool {
	start, err := time.Parse(dayLayout, day)
	if err != nil {
		return false
	}
	end := start.Add(24 * time.Hour)
	if !filter.StartTime.IsZero() && !end.After(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && start.After(filter.EndTime) {
		return false
	}
	return true
}

func (j *Journal) openDay(day string, chunk int) error {
	path := filepath.Join(j.dir, dayFileName(day, chunk))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open journal file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat journal file: %w", err)
	}
	j.file, j.day, j.chunk, j.size = f, day, chunk, info.Size()
	return nil
}

// switchLocked closes the current file and opens day/chunk. j.mu must be held.
func (j *Journal) switchLocked(day string, chunk int) error {
	if j.file != nil {
		_ = j.file.Sync()
		_ = j.file.Close()
		j.file = nil
	}
	return j.openDay(day, chunk)
}

// lastChunk returns the highest chunk number on disk for day.
func (j *Journal) lastChunk(day string) int {
	last := 0
	for _, f := range j.listFiles() {
		if f.day == day && f.chunk > last {
			last = f.chunk
		}
	}
	return last
}

// listFiles returns the journal files in chronological order.
func (j *Journal) listFiles() []dayFile {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil
	}
	var files []dayFile
	for _, e := range entries {
		if f, ok := parseDayFile(e.Name()); ok {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(a, b int) bool {
		if files[a].day != files[b].day {
			return files[a].day < files[b].day
		}
		return files[a].chunk < files[b].chunk
	})
	return files
}

// readFile decodes one journal file. Malformed lines are skipped.
func (j *Journal) readFile(name string) ([]audit.Event, error) {
	f, err := os.Open(filepath.Join(j.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	var events []audit.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e audit.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			j.logger.Warn("skipping malformed journal line", "file", name, "error", err)
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("read %s: %w", name, err)
	}
	return events, nil
}

// prune removes files older than the retention period. The open file is
// never removed.
func (j *Journal) prune() int {
	cutoff := j.now().UTC().AddDate(0, 0, -j.retention).Format(dayLayout)

	j.mu.Lock()
	current := dayFileName(j.day, j.chunk)
	j.mu.Unlock()

	removed := 0
	for _, f := range j.listFiles() {
		if f.day >= cutoff || f.name == current {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, f.name)); err != nil {
			j.logger.Error("failed to remove expired journal file", "file", f.name, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		j.logger.Info("audit journal pruned", "removed", removed, "cutoff", cutoff)
	}
	return removed
}

func (j *Journal) pruneLoop(ctx context.Context, every time.Duration) {
	defer close(j.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.prune()
		}
	}
}

// warmCache loads the tail of the newest non-empty file into the cache.
func (j *Journal) warmCache() {
	files := j.listFiles()
	for i := len(files) - 1; i >= 0; i-- {
		events, err := j.readFile(files[i].name)
		if err != nil {
			j.logger.Warn("failed to warm audit cache", "file", files[i].name, "error", err)
			return
		}
		if len(events) == 0 {
			continue
		}
		if len(events) > j.cache.size {
			events = events[len(events)-j.cache.size:]
		}
		for _, e := range events {
			j.cache.Add(e)
		}
		return
	}
}

// Compile-time interface verification.
var (
	_ audit.Store      = (*Journal)(nil)
	_ audit.QueryStore = (*Journal)(nil)
)

// recentCache is a fixed-size ring of the latest events.
type recentCache struct {
	mu      sync.RWMutex
	entries []audit.Event
	size    int
	head    int
	count   int
}

func newRecentCache(size int) *recentCache {
	return &recentCache{entries: make([]audit.Event, size), size: size}
}

func (c *recentCache) Add(e audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.head] = e
	c.head = (c.head + 1) % c.size
	if c.count < c.size {
		c.count++
	}
}

// Recent returns up to n entries, newest first.
func (c *recentCache) Recent(n int) []audit.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n <= 0 || c.count == 0 {
		return nil
	}
	if n > c.count {
		n = c.count
	}
	out := make([]audit.Event, n)
	for i := range out {
		out[i] = c.entries[(c.head-1-i+c.size)%c.size]
	}
	return out
}

func (c *recentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}
