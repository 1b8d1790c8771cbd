package di

import (
	"github.com/alpacahq/tracelog/reader"
)

// GetReader opens the configured trace log for a sequential scan.
func (c *Container) GetReader() (*reader.Reader, error) {
	if c.reader != nil {
		return c.reader, nil
	}
	path, err := c.GetAbsPath()
	if err != nil {
		return nil, err
	}
	schema, err := c.GetSchema()
	if err != nil {
		return nil, err
	}
	cfg := c.cfg.ReaderConfig()
	cfg.Path = path
	cfg.Schema = schema

	r, err := reader.Open(cfg)
	if err != nil {
		return nil, err
	}
	c.reader = r
	return c.reader, nil
}
