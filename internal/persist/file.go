package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/star/isstrack/internal/vectors"
)

const (
	filePrefix = "snapshot_"
	fileSuffix = ".json"
)

// FileSnapshotter keeps timestamped JSON snapshots in a directory.
type FileSnapshotter struct {
	dir      string
	maxFiles int
	now      func() time.Time
}

// NewFileSnapshotter creates a FileSnapshotter that stores files in dir and
// keeps at most maxFiles.
func NewFileSnapshotter(dir string, maxFiles int) *FileSnapshotter {
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &FileSnapshotter{
		dir:      dir,
		maxFiles: maxFiles,
		now:      time.Now,
	}
}

// Save writes t to a timestamped file and prunes old files beyond maxFiles.
// The file is written under a temporary name and renamed into place so a
// crash never leaves a truncated snapshot behind.
func (f *FileSnapshotter) Save(ctx context.Context, t *vectors.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	ts := f.now()
	data, err := encode(t, ts)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%s%d%s", filePrefix, ts.Unix(), fileSuffix)
	path := filepath.Join(f.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming snapshot file: %w", err)
	}

	return f.prune()
}

// Load reads the newest snapshot by the timestamp in its filename.
func (f *FileSnapshotter) Load(ctx context.Context) (vectors.Payload, error) {
	if err := ctx.Err(); err != nil {
		return vectors.Payload{}, err
	}
	files, err := f.listFiles()
	if err != nil {
		return vectors.Payload{}, err
	}
	if len(files) == 0 {
		return vectors.Payload{}, ErrNoSnapshot
	}

	// Files are sorted oldest first; take the last one.
	latest := files[len(files)-1]
	data, err := os.ReadFile(filepath.Join(f.dir, latest.name))
	if err != nil {
		return vectors.Payload{}, fmt.Errorf("reading snapshot file: %w", err)
	}
	return decode(data)
}

type snapshotFile struct {
	name string
	ts   time.Time
}

func (f *FileSnapshotter) listFiles() ([]snapshotFile, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing snapshot dir: %w", err)
	}

	var files []snapshotFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		tsStr := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		unix, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			continue
		}
		files = append(files, snapshotFile{name: name, ts: time.Unix(unix, 0)})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ts.Before(files[j].ts)
	})

	return files, nil
}

func (f *FileSnapshotter) prune() error {
	files, err := f.listFiles()
	if err != nil {
		return err
	}
	if len(files) <= f.maxFiles {
		return nil
	}

	for _, sf := range files[:len(files)-f.maxFiles] {
		if err := os.Remove(filepath.Join(f.dir, sf.name)); err != nil {
			return fmt.Errorf("pruning snapshot file %s: %w", sf.name, err)
		}
	}
	return nil
}
