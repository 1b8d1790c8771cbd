package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v2"

	"github.com/alpacahq/tracelog/logfile"
	"github.com/alpacahq/tracelog/reader"
	"github.com/alpacahq/tracelog/record"
	"github.com/alpacahq/tracelog/utils/log"
	"github.com/alpacahq/tracelog/writer"
)

const (
	DefaultBufferSize = 64 * bytefmt.KILOBYTE
	DefaultReadAhead  = bytefmt.MEGABYTE
)

type DescriptorSetting struct {
	ID   record.ID
	Name string
	Size int
}

type TraceLogConfig struct {
	Path        string
	BufferSize  int
	ReadAhead   int
	Buffers     int
	RetryLimit  int
	Overwrite   bool
	LogLevel    log.Level
	Descriptors []*DescriptorSetting
	Schema      record.Schema
}

// parseSize accepts plain byte counts as well as human sizes like 64K or 1MB.
func parseSize(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	n, err := bytefmt.ToBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int(n), nil
}

func parseVersion(s string) (record.Version, error) {
	var v record.Version
	if s == "" {
		return v, nil
	}
	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		return v, fmt.Errorf("invalid version %q", s)
	}
	fields := []*uint32{&v.Major, &v.Minor, &v.Update}
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return v, fmt.Errorf("invalid version %q: %w", s, err)
		}
		*fields[i] = uint32(n)
	}
	return v, nil
}

func (c *TraceLogConfig) Parse(data []byte) error {
	var (
		err error
		aux struct {
			Path       string `yaml:"path"`
			BufferSize string `yaml:"buffer_size"`
			ReadAhead  string `yaml:"read_ahead"`
			Buffers    int    `yaml:"buffers"`
			RetryLimit int    `yaml:"retry_limit"`
			Overwrite  string `yaml:"overwrite"`
			LogLevel   string `yaml:"log_level"`
			Schema     struct {
				ID          uint32 `yaml:"id"`
				Version     string `yaml:"version"`
				Descriptors []struct {
					ID   int    `yaml:"id"`
					Name string `yaml:"name"`
					Size int    `yaml:"size"`
				} `yaml:"descriptors"`
			} `yaml:"schema"`
		}
	)

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Path == "" {
		log.Error("Invalid trace log path.")
		return errors.New("invalid trace log path")
	}
	c.Path = aux.Path

	c.BufferSize = DefaultBufferSize
	if aux.BufferSize != "" {
		if c.BufferSize, err = parseSize(aux.BufferSize); err != nil {
			return err
		}
	}
	if c.BufferSize < logfile.MinBufferSize {
		return fmt.Errorf("buffer_size %d is below %d", c.BufferSize, logfile.MinBufferSize)
	}

	c.ReadAhead = DefaultReadAhead
	if aux.ReadAhead != "" {
		if c.ReadAhead, err = parseSize(aux.ReadAhead); err != nil {
			return err
		}
	}

	c.Buffers = writer.DefaultBuffers
	if aux.Buffers > 0 {
		c.Buffers = aux.Buffers
	}
	c.RetryLimit = writer.DefaultRetryLimit
	if aux.RetryLimit > 0 {
		c.RetryLimit = aux.RetryLimit
	}

	if aux.Overwrite != "" {
		overwrite, err := strconv.ParseBool(aux.Overwrite)
		if err != nil {
			log.Error("Invalid value: %v for overwrite. Reusing the existing file...", aux.Overwrite)
		} else {
			c.Overwrite = overwrite
		}
	}

	c.LogLevel = log.ParseLevel(aux.LogLevel)
	if aux.LogLevel != "" {
		log.SetLevel(c.LogLevel)
	}

	version, err := parseVersion(aux.Schema.Version)
	if err != nil {
		return err
	}
	entries := make([]record.Entry, 0, len(aux.Schema.Descriptors))
	c.Descriptors = c.Descriptors[:0]
	for _, d := range aux.Schema.Descriptors {
		if d.ID <= 0 || d.ID > int(record.MaxID) {
			return fmt.Errorf("descriptor id %d out of range", d.ID)
		}
		if d.Size < 0 || d.Size > record.MaxVariablePayload {
			return fmt.Errorf("descriptor %d size %d out of range", d.ID, d.Size)
		}
		setting := &DescriptorSetting{ID: record.ID(d.ID), Name: d.Name, Size: d.Size}
		c.Descriptors = append(c.Descriptors, setting)
		entries = append(entries, record.Entry{
			ID:         setting.ID,
			Name:       setting.Name,
			Descriptor: record.FixedSize(setting.Size),
		})
	}
	table, err := record.NewTable(entries...)
	if err != nil {
		return err
	}
	c.Schema = record.Schema{ID: aux.Schema.ID, Version: version, Table: table}

	return nil
}

// WriterConfig returns the writer settings of the configuration.
func (c *TraceLogConfig) WriterConfig() writer.Config {
	return writer.Config{
		Config: logfile.Config{
			Path:       c.Path,
			BufferSize: c.BufferSize,
			Overwrite:  c.Overwrite,
			Schema:     c.Schema,
		},
		Buffers:    c.Buffers,
		RetryLimit: c.RetryLimit,
	}
}

// ReaderConfig returns the reader settings of the configuration.
func (c *TraceLogConfig) ReaderConfig() reader.Config {
	return reader.Config{
		Path:      c.Path,
		Schema:    c.Schema,
		ReadAhead: c.ReadAhead,
	}
}
