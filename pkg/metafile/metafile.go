package metafile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rincr/rincr/pkg/util"
)

// MetaFileName is the name of the backup metadata file.
const MetaFileName = ".rincr.meta.json"

// MetafileContent holds the contents of the metadata file written into each
// backup directory. It is informational only; the catalog is derived from
// directory names, never from metadata.
type MetafileContent struct {
	Version      string    `json:"version"`
	TimestampUTC time.Time `json:"timestampUTC"`
	Hostname     string    `json:"hostname,omitempty"`
	Source       string    `json:"source,omitempty"`
}

// Write creates and writes the .rincr.meta.json file into a given directory.
func Write(dirPath string, content *MetafileContent) error {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	jsonData, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal meta data: %w", err)
	}

	// The metafile is part of the backup data itself, so it uses the
	// group-writable backup content permissions rather than the user-only
	// permissions of the top-level config.
	if err := os.WriteFile(metaFilePath, jsonData, util.UserGroupWritableFilePerms); err != nil {
		return fmt.Errorf("could not write meta file %s: %w", metaFilePath, err)
	}

	return nil
}

// Read opens and parses the .rincr.meta.json file in a given directory.
// It returns the parsed metadata or an error if the file cannot be read or parsed.
func Read(dirPath string) (MetafileContent, error) {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	metaFile, err := os.Open(metaFilePath)
	if err != nil {
		// Note: os.IsNotExist errors are handled by the caller.
		return MetafileContent{}, err
	}
	defer metaFile.Close()

	var content MetafileContent
	decoder := json.NewDecoder(metaFile)
	if err := decoder.Decode(&content); err != nil {
		return MetafileContent{}, fmt.Errorf("could not parse metafile %s: %w. It may be corrupt", metaFilePath, err)
	}

	return content, nil
}
