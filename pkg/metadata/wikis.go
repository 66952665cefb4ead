package metadata

import (
	"context"

	"gorm.io/gorm"
)

// GetNonPublicWikis returns the names of every wiki whose type is not
// public: private, closed and deleted wikis. Their backups are encrypted
// at rest, so recovery and path computation need this list.
func (s *Store) GetNonPublicWikis(ctx context.Context) ([]string, error) {
	var rows []struct {
		WikiName string
	}
	if _, err := s.run(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Raw(
			"SELECT wiki_name FROM wikis JOIN wiki_types ON wikis.type = wiki_types.id " +
				"WHERE type_name <> 'public' ORDER BY wiki_name",
		).Scan(&rows)
	}); err != nil {
		return nil, err
	}
	wikis := make([]string, 0, len(rows))
	for _, row := range rows {
		wikis = append(wikis, row.WikiName)
	}
	return wikis, nil
}

// IsValidWiki reports whether exactly one wiki with the given name is
// registered on the metadata database.
func (s *Store) IsValidWiki(ctx context.Context, wiki string) (bool, error) {
	var rows []struct {
		ID int
	}
	if _, err := s.run(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Raw("SELECT id FROM wikis WHERE wiki_name = ?", wiki).Scan(&rows)
	}); err != nil {
		return false, err
	}
	return len(rows) == 1, nil
}
