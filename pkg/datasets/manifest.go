// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const maxManifestLine = 16 << 20

func manifestPath(dir string) string {
	return filepath.Join(dir, LocalMetadataFilename)
}

// SaveManifest writes records to dir/LocalMetadataFilename as JSON Lines,
// one record per line. The file is replaced atomically.
func SaveManifest(fsys afero.Fs, dir string, records []Record) error {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	final := manifestPath(dir)
	tmp := final + ".tmp"

	f, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			f.Close()
			return fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return fsys.Rename(tmp, final)
}

// LoadManifest reads the manifest file in dir. Blank lines are skipped.
func LoadManifest(fsys afero.Fs, dir string) ([]Record, error) {
	f, err := fsys.Open(manifestPath(dir))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records := []Record{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxManifestLine)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", LocalMetadataFilename, line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
