package di

import (
	"github.com/alpacahq/tracelog/fileio"
	"github.com/alpacahq/tracelog/logfile"
	"github.com/alpacahq/tracelog/record"
)

// GetSchema returns the configured schema. Without descriptors in the
// configuration, the schema is taken from the header of an existing trace
// log and every record is decoded as variable sized.
func (c *Container) GetSchema() (record.Schema, error) {
	if c.schema != nil {
		return *c.schema, nil
	}
	schema := c.cfg.Schema
	if len(c.cfg.Descriptors) == 0 && schema.ID == 0 {
		path, err := c.GetAbsPath()
		if err != nil {
			return record.Schema{}, err
		}
		if s, err := SchemaFromFile(path); err == nil {
			schema = s
		}
	}
	c.schema = &schema
	return schema, nil
}

// SchemaFromFile reads the schema id and version from the header of the
// trace log at path. The returned schema carries no descriptor table.
func SchemaFromFile(path string) (record.Schema, error) {
	f, err := fileio.Open(path)
	if err != nil {
		return record.Schema{}, err
	}
	defer f.Close()
	hdr, err := logfile.ReadHeader(f)
	if err != nil {
		return record.Schema{}, err
	}
	return record.Schema{ID: hdr.SchemaID, Version: hdr.SchemaVersion}, nil
}
