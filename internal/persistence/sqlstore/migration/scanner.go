package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	iofs "io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// fileNamePattern is {version}_{description}.sql with a numeric version.
var fileNamePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_-]+)\.sql$`)

const descriptionHeader = "-- Description:"

type dirScanner struct{}

// NewFileScanner returns the FileScanner used by the store.
func NewFileScanner() FileScanner {
	return dirScanner{}
}

// ScanMigrations parses every .sql file directly inside dir and orders them by
// numeric version. Other files are ignored.
func (s dirScanner) ScanMigrations(fsys iofs.FS, dir string) ([]Migration, error) {
	entries, err := iofs.ReadDir(fsys, dir)
	switch {
	case errors.Is(err, iofs.ErrNotExist):
		return nil, scanError(dir, "scan directory", ErrMigrationNotFound)
	case err != nil:
		return nil, scanError(dir, "read directory", err)
	}

	seen := make(map[string]string, len(entries))
	migrations := make([]Migration, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".sql" {
			continue
		}

		m, err := s.ParseMigrationFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if other, dup := seen[m.Version]; dup {
			return nil, fileError(m.Version, name, "check duplicates",
				fmt.Errorf("%w: version %s used by %s and %s", ErrDuplicateVersion, m.Version, other, name))
		}
		seen[m.Version] = name
		migrations = append(migrations, *m)
	}

	sort.SliceStable(migrations, func(i, j int) bool {
		return versionNumber(migrations[i].Version) < versionNumber(migrations[j].Version)
	})
	return migrations, nil
}

func (dirScanner) ValidateFileName(filename string) error {
	_, _, err := splitFileName(filename)
	return err
}

// ParseMigrationFile reads one file. A "-- Description:" line in the leading
// comment block overrides the description derived from the file name.
func (dirScanner) ParseMigrationFile(fsys iofs.FS, filePath string) (*Migration, error) {
	version, nameDescription, err := splitFileName(path.Base(filePath))
	if err != nil {
		return nil, fileError("", filePath, "validate filename", err)
	}

	raw, err := iofs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, scanError(filePath, "read file", err)
	}
	content := string(raw)
	if strings.TrimSpace(content) == "" {
		return nil, fileError(version, filePath, "validate content",
			fmt.Errorf("%w: migration file is empty", ErrInvalidMigrationFile))
	}
	if err := lintSQL(content); err != nil {
		return nil, fileError(version, filePath, "validate SQL syntax", err)
	}

	description := headerDescription(content)
	if description == "" {
		description = strings.ReplaceAll(nameDescription, "_", " ")
	}

	sum := sha256.Sum256(raw)
	return &Migration{
		Version:     version,
		Description: description,
		SQL:         content,
		FilePath:    filePath,
		Checksum:    hex.EncodeToString(sum[:]),
	}, nil
}

func splitFileName(filename string) (version, description string, err error) {
	m := fileNamePattern.FindStringSubmatch(filename)
	if m == nil {
		return "", "", fmt.Errorf("%w: filename %q does not match pattern '{version}_{description}.sql'",
			ErrInvalidMigrationFile, filename)
	}
	if _, err := strconv.ParseUint(m[1], 10, 31); err != nil {
		return "", "", fmt.Errorf("%w: version %q in filename %q is out of range", ErrInvalidVersion, m[1], filename)
	}
	return m[1], m[2], nil
}

// versionNumber orders versions numerically; names are validated before use.
func versionNumber(version string) int {
	n, _ := strconv.Atoi(version)
	return n
}

// lintSQL does a single pass over the file outside comments and quoted text.
// It requires at least one statement token, balanced parentheses and closed
// quotes. A doubled quote inside a literal is an escaped quote.
func lintSQL(sql string) error {
	var (
		depth     int
		quote     byte
		inComment bool
		hasCode   bool
	)
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case inComment:
			inComment = c != '\n'
		case quote != 0:
			if c == quote {
				if i+1 < len(sql) && sql[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			inComment = true
			i++
		case c == '\'' || c == '"':
			quote = c
			hasCode = true
		case c == '(':
			depth++
			hasCode = true
		case c == ')':
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: unmatched closing parenthesis", ErrInvalidMigrationFile)
			}
		case c > ' ':
			hasCode = true
		}
	}

	switch {
	case !hasCode:
		return fmt.Errorf("%w: no SQL statements found after removing comments", ErrInvalidMigrationFile)
	case quote != 0:
		return fmt.Errorf("%w: unterminated string literal", ErrInvalidMigrationFile)
	case depth != 0:
		return fmt.Errorf("%w: unmatched opening parenthesis", ErrInvalidMigrationFile)
	}
	return nil
}

func headerDescription(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			return ""
		}
		if rest, ok := strings.CutPrefix(line, descriptionHeader); ok {
			if d := strings.TrimSpace(rest); d != "" {
				return d
			}
		}
	}
	return ""
}
