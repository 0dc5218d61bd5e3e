package store

import (
	"database/sql"
)

const importedFilePrefix = "imported_file:"

// SetMetadata upserts a key-value pair in the grader_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO grader_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM grader_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// GetImportedFileHash returns the content hash recorded when a textbook file
// was last ingested into source, or "" if it never was.
func (s *Store) GetImportedFileHash(source, path string) (string, error) {
	return s.GetMetadata(importedFilePrefix + source + ":" + path)
}

// SetImportedFileHash records the content hash of an ingested textbook file.
func (s *Store) SetImportedFileHash(source, path, hash string) error {
	return s.SetMetadata(importedFilePrefix+source+":"+path, hash)
}
