package di

import (
	"github.com/alpacahq/tracelog/writer"
)

// GetWriter opens the configured trace log for appending.
func (c *Container) GetWriter() (*writer.Writer, error) {
	if c.writer != nil {
		return c.writer, nil
	}
	path, err := c.GetAbsPath()
	if err != nil {
		return nil, err
	}
	schema, err := c.GetSchema()
	if err != nil {
		return nil, err
	}
	cfg := c.cfg.WriterConfig()
	cfg.Path = path
	cfg.Schema = schema

	w, err := writer.Open(cfg)
	if err != nil {
		return nil, err
	}
	c.writer = w
	return c.writer, nil
}
