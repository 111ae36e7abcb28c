package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"slices"

	"gopkg.in/yaml.v3"
)

// Parse decodes one YAML document. Unknown keys are errors. name is used
// in error messages.
func Parse(data []byte, name string) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &c, nil
}

// Load reads one configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, path)
}

// LoadDir reads every *.yaml and *.yml file in dir, in name order, and
// merges them. A section, data definition or device may appear in more
// than one file only if every occurrence is identical.
func LoadDir(dir string) (*Config, error) {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, m...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: no *.yaml or *.yml files", dir)
	}
	slices.Sort(files)

	merged := &Config{}
	for _, f := range files {
		c, err := Load(f)
		if err != nil {
			return nil, err
		}
		if err := merged.merge(c, f); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

func (c *Config) merge(src *Config, file string) error {
	if err := mergeSection(&c.Main, src.Main, "main", file); err != nil {
		return err
	}
	if err := mergeSection(&c.Output, src.Output, "output", file); err != nil {
		return err
	}
	var err error
	if c.Data, err = mergeMap(c.Data, src.Data, "data", file); err != nil {
		return err
	}
	c.Devices, err = mergeMap(c.Devices, src.Devices, "device", file)
	return err
}

// mergeSection copies src into dst if dst is unset.
func mergeSection[T any](dst *T, src T, section, file string) error {
	var zero T
	switch {
	case reflect.DeepEqual(src, zero):
	case reflect.DeepEqual(*dst, zero):
		*dst = src
	case !reflect.DeepEqual(*dst, src):
		return fmt.Errorf("%s: section %q conflicts with an earlier file", file, section)
	}
	return nil
}

func mergeMap[T any](dst, src map[string]T, kind, file string) (map[string]T, error) {
	if len(src) == 0 {
		return dst, nil
	}
	if dst == nil {
		dst = make(map[string]T, len(src))
	}
	for name, v := range src {
		if prev, ok := dst[name]; ok {
			if !reflect.DeepEqual(prev, v) {
				return nil, fmt.Errorf("%s: %s %q differs from an earlier definition", file, kind, name)
			}
			continue
		}
		dst[name] = v
	}
	return dst, nil
}
