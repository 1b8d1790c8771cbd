package di

import (
	"os"
	"path/filepath"

	"github.com/alpacahq/tracelog/reader"
	"github.com/alpacahq/tracelog/record"
	"github.com/alpacahq/tracelog/utils"
	"github.com/alpacahq/tracelog/utils/log"
	"github.com/alpacahq/tracelog/writer"
)

// Container lazily builds the trace log components a command needs from a
// single configuration, and closes whatever it built.
type Container struct {
	cfg     *utils.TraceLogConfig
	absPath string
	schema  *record.Schema
	writer  *writer.Writer
	reader  *reader.Reader
}

func NewContainer(cfg *utils.TraceLogConfig) *Container {
	return &Container{cfg: cfg}
}

// GetAbsPath returns the absolute trace log path, creating its directory.
func (c *Container) GetAbsPath() (string, error) {
	if c.absPath != "" {
		return c.absPath, nil
	}
	p, err := filepath.Abs(filepath.Clean(c.cfg.Path))
	if err != nil {
		log.Error("Cannot take absolute path of trace log %s", err.Error())
		return "", err
	}
	const ownerGroupAll = 0o770
	if err := os.MkdirAll(filepath.Dir(p), ownerGroupAll); err != nil {
		log.Error("Could not create trace log directory: %s", err.Error())
		return "", err
	}
	log.Debug("Trace log: %s", p)
	c.absPath = p
	return c.absPath, nil
}

// Close releases the writer and reader in that order.
func (c *Container) Close() error {
	var firstErr error
	if c.writer != nil {
		if err := c.writer.Close(); err != nil {
			firstErr = err
		}
		c.writer = nil
	}
	if c.reader != nil {
		if err := c.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.reader = nil
	}
	return firstErr
}
