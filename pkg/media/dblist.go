package media

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrDBListExpression is returned when a dblist file contains a `%%`
// expression instead of a concrete list of wikis.
var ErrDBListExpression = errors.New("encountered dblist expression inside dblist file")

// ReadDBList opens and reads a dblist file (one database per line, `#`
// comments allowed) and returns the listed wikis.
func ReadDBList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	wikis := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		wiki := strings.TrimSpace(strings.SplitN(scanner.Text(), "#", 2)[0])
		if strings.HasPrefix(wiki, "%%") {
			return nil, fmt.Errorf("%s: %w", path, ErrDBListExpression)
		}
		if wiki != "" {
			wikis = append(wikis, wiki)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return wikis, nil
}
