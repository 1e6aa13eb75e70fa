package file

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sync"

	"conductor/extract"
	"conductor/sink"
)

type Config struct {
	Path string
}

// driver appends one line per record. The file is opened on first use so a
// consumer created with auto_start=false touches nothing on disk.
type driver struct {
	cfg Config

	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func (d *driver) Process(_ context.Context, r *extract.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.f == nil {
		if err := d.open(); err != nil {
			return err
		}
	}
	if _, err := d.w.Write(r.Value); err != nil {
		return err
	}
	if err := d.w.WriteByte('\n'); err != nil {
		return err
	}
	return d.w.Flush()
}

func (d *driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.f == nil {
		return nil
	}
	_ = d.w.Flush()
	err := d.f.Close()
	d.f, d.w = nil, nil
	return err
}

// must be called with d.mu held.
func (d *driver) open() error {
	if dir := filepath.Dir(d.cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(d.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	d.f = f
	d.w = bufio.NewWriter(f)
	return nil
}

/*──────── auto-register ───────*/
func init() {
	sink.Register("file_sink", func(config map[string]any) (sink.Adapter, error) {
		path, err := sink.StringField(config, "file_path")
		if err != nil {
			return nil, err
		}
		return &driver{cfg: Config{Path: path}}, nil
	})
}
