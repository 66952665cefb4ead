package metadata

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/media"
)

// Dictionaries caches the normalization tables of the files table in
// both directions. They are loaded per operation so new wikis or
// containers become visible without restarting.
type Dictionaries struct {
	Wikis             map[string]int
	FileTypes         map[string]int
	FileStatus        map[string]int
	StorageContainers map[string]int
	BackupStatus      map[string]int

	WikiNames         map[int]string
	FileTypeNames     map[int]string
	FileStatusNames   map[int]string
	ContainerNames    map[int]string
	BackupStatusNames map[int]string
}

// FileDictionaries projects the reverse maps needed to decode raw files
// rows into domain objects.
func (d *Dictionaries) FileDictionaries() media.Dictionaries {
	return media.Dictionaries{
		Wikis:      d.WikiNames,
		FileTypes:  d.FileTypeNames,
		Status:     d.FileStatusNames,
		Containers: d.ContainerNames,
	}
}

// LoadFKs reads the foreign key values for the files table from the
// database. The following tables are loaded into memory: wikis,
// file_types, file_status, storage_containers and backup_status.
func (s *Store) LoadFKs(ctx context.Context) (*Dictionaries, error) {
	logger.Debug("reading foreign key values for the files table from the database")
	wikis, err := s.readDictionary(ctx, "SELECT wiki_name AS name, id FROM wikis")
	if err != nil {
		return nil, err
	}
	fileTypes, err := s.readDictionary(ctx, "SELECT type_name AS name, id FROM file_types")
	if err != nil {
		return nil, err
	}
	fileStatus, err := s.readDictionary(ctx, "SELECT status_name AS name, id FROM file_status")
	if err != nil {
		return nil, err
	}
	containers, err := s.readDictionary(ctx, "SELECT storage_container_name AS name, id FROM storage_containers")
	if err != nil {
		return nil, err
	}
	backupStatus, err := s.readDictionary(ctx, "SELECT backup_status_name AS name, id FROM backup_status")
	if err != nil {
		return nil, err
	}
	return &Dictionaries{
		Wikis:             wikis,
		FileTypes:         fileTypes,
		FileStatus:        fileStatus,
		StorageContainers: containers,
		BackupStatus:      backupStatus,
		WikiNames:         reverse(wikis),
		FileTypeNames:     reverse(fileTypes),
		FileStatusNames:   reverse(fileStatus),
		ContainerNames:    reverse(containers),
		BackupStatusNames: reverse(backupStatus),
	}, nil
}

// readDictionary loads a 2-column query into a name to id map. An empty
// table is an error: every dictionary must be seeded before use.
func (s *Store) readDictionary(ctx context.Context, query string) (map[string]int, error) {
	var rows []struct {
		Name string
		ID   int
	}
	if _, err := s.run(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Raw(query).Scan(&rows)
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDictionary, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %q returned an empty dictionary", ErrDictionary, query)
	}
	dictionary := make(map[string]int, len(rows))
	for _, row := range rows {
		dictionary[row.Name] = row.ID
	}
	return dictionary, nil
}

func reverse(m map[string]int) map[int]string {
	r := make(map[int]string, len(m))
	for name, id := range m {
		r[id] = name
	}
	return r
}
