package frame

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"
)

// LiveFileName is the name the live frame is mirrored to in the output directory
const LiveFileName = "live-timer.png"

// WriteFileAtomic writes data to path via a temp file, fsync and rename, so
// static readers never see a partial PNG
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0644))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer pendingFile.Cleanup()

	if _, err := pendingFile.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}

	return nil
}

// DiskMirror writes every published frame to a fixed file
type DiskMirror struct {
	path   string
	logger *zap.Logger
}

// NewDiskMirror mirrors frames to dir/live-timer.png
func NewDiskMirror(dir string, logger *zap.Logger) *DiskMirror {
	return &DiskMirror{
		path:   filepath.Join(dir, LiveFileName),
		logger: logger,
	}
}

// Path returns the mirrored file path
func (d *DiskMirror) Path() string {
	return d.path
}

// OnFrame implements Listener. Write errors are logged; the in-memory frame
// is still served.
func (d *DiskMirror) OnFrame(f *Frame) {
	if err := WriteFileAtomic(d.path, f.PNG); err != nil {
		d.logger.Warn("Failed to mirror live frame to disk",
			zap.String("path", d.path),
			zap.Error(err))
	}
}
