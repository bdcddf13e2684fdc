package manifest

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// RecordFileName is the build record written next to the artifacts.
const RecordFileName = "il2x.build.toml"

// BuildRecord lists what one translation run produced.
type BuildRecord struct {
	ID        string   `toml:"id"`
	Kind      string   `toml:"kind"`
	Modules   []string `toml:"modules"`
	Artifacts []string `toml:"artifacts"`
}

// Encode renders the record as TOML.
func (r *BuildRecord) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(r); err != nil {
		return nil, fmt.Errorf("encoding build record: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadRecord reads a build record. Returns nil if the file does not exist.
func ReadRecord(path string) (*BuildRecord, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var r BuildRecord
	if _, err := toml.Decode(string(data), &r); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return &r, nil
}
