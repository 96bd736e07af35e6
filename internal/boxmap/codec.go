package boxmap

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/openmined/figaro/internal/utils"
)

const (
	FilemapName   = "filemap"
	FoldermapName = "foldermap"
	separator     = ": "
)

var ErrMalformedLine = errors.New("boxmap: malformed line")

// DuplicateKeyError reports a path listed twice in the persisted cache.
type DuplicateKeyError struct {
	File string
	Key  string
	Line int
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("boxmap: duplicate key %q found in %q (line %d)", e.Key, e.File, e.Line)
}

// Load reads the file and folder listings from dir. A missing or empty
// listing yields an empty half.
func Load(dir string) (*Boxmap, error) {
	b := New()

	filePath := filepath.Join(dir, FilemapName)
	if err := readListing(filePath, b.files); err != nil {
		return nil, err
	}
	folderPath := filepath.Join(dir, FoldermapName)
	if err := readListing(folderPath, b.folders); err != nil {
		return nil, err
	}

	for k := range b.folders {
		if _, ok := b.files[k]; ok {
			return nil, &DuplicateKeyError{File: folderPath, Key: k}
		}
	}
	return b, nil
}

func readListing(path string, into map[string]string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("boxmap: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}

		key, value, ok := strings.Cut(text, separator)
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			return fmt.Errorf("%w: %s line %d: %q", ErrMalformedLine, path, line, text)
		}
		if err := ValidPath(key); err != nil {
			return fmt.Errorf("%w: %s line %d: %w", ErrMalformedLine, path, line, err)
		}
		if _, dup := into[key]; dup {
			return &DuplicateKeyError{File: path, Key: key, Line: line}
		}
		into[key] = value
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("boxmap: read %s: %w", path, err)
	}
	return nil
}

// Save overwrites both listings in dir. Each listing is replaced atomically
// and written in key order.
func (b *Boxmap) Save(dir string) error {
	if err := utils.EnsureDir(dir); err != nil {
		return fmt.Errorf("boxmap: ensure %s: %w", dir, err)
	}

	b.mu.RLock()
	files := encodeListing(b.files)
	folders := encodeListing(b.folders)
	b.mu.RUnlock()

	if _, err := utils.WriteFileAtomic(filepath.Join(dir, FilemapName), bytes.NewReader(files), ""); err != nil {
		return fmt.Errorf("boxmap: save filemap: %w", err)
	}
	if _, err := utils.WriteFileAtomic(filepath.Join(dir, FoldermapName), bytes.NewReader(folders), ""); err != nil {
		return fmt.Errorf("boxmap: save foldermap: %w", err)
	}
	return nil
}

func encodeListing(m map[string]string) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteString(separator)
		buf.WriteString(m[k])
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
