package commands

import (
	"context"
	"fmt"
	"os"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/cli/output"
	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/cli/prompt"
	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/cli/timeutil"
	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/config"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/media"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/metadata"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/query"
)

// defaultWiki is offered when the operator leaves the wiki prompt empty.
// Nearly all operator requests concern commons files.
const defaultWiki = "commonswiki"

// interactiveCriteria asks for the wiki, the identification method and
// the identifier value, validating each answer before moving on.
func interactiveCriteria(ctx context.Context, store *metadata.Store, action string) (query.Criteria, error) {
	var c query.Criteria

	wiki, err := askWiki(ctx, store, action)
	if err != nil {
		return c, err
	}
	c.Wiki = wiki

	method, err := askMethod(action)
	if err != nil {
		return c, err
	}
	c.Method = method.ID

	return askIdentifier(c, method)
}

// askWiki prompts for a wiki name until the metadata database knows it.
func askWiki(ctx context.Context, store *metadata.Store, action string) (string, error) {
	for {
		wiki, err := prompt.Input(fmt.Sprintf("Wiki for %s", action), defaultWiki)
		if err != nil {
			return "", err
		}
		valid, err := store.IsValidWiki(ctx, wiki)
		if err != nil {
			return "", err
		}
		if valid {
			return wiki, nil
		}
		logger.Error("not a recognized wiki in the metadata database", logger.KeyWiki, wiki)
	}
}

// askMethod lets the operator pick how to identify the media file.
func askMethod(action string) (query.Method, error) {
	methods := query.Methods()
	options := make([]prompt.SelectOption, 0, len(methods))
	for _, m := range methods {
		options = append(options, prompt.SelectOption{
			Label:       m.ID,
			Value:       m.ID,
			Description: m.Description,
		})
	}

	id, err := prompt.Select(fmt.Sprintf("Method to identify the media file to %s", action), options)
	if err != nil {
		return query.Method{}, err
	}
	return query.MethodByID(id)
}

// askIdentifier prompts for the identifier value, with the prompt and
// validation depending on the kind of the chosen method.
func askIdentifier(c query.Criteria, method query.Method) (query.Criteria, error) {
	var err error

	switch method.Kind {
	case query.KindDate:
		var value string
		value, err = prompt.InputWithValidation("Date in format YYYY-MM-DD hh:mm:ss or YYYYMMDDhhmmss",
			func(input string) error {
				_, parseErr := timeutil.ParseSearchDate(input)
				return parseErr
			})
		if err == nil {
			c.Date, err = timeutil.ParseSearchDate(value)
		}
	case query.KindTitle:
		c.Value, err = prompt.Input("Title (spaces will be converted to underscores, first letter normally in uppercase)", "")
	case query.KindHex:
		c.Value, err = prompt.InputRequired(`Hexadecimal string (e.g. "182dd70b9c")`)
	case query.KindBase36:
		c.Value, err = prompt.InputWithValidation(`Base 36 string (e.g. "2toegxnxd")`,
			func(input string) error {
				_, convErr := media.Base36ToBase16(input)
				return convErr
			})
	case query.KindSwiftLocation:
		c.Container, err = prompt.InputRequired(`Name of the container (e.g. "wikipedia-commons-local-public.02")`)
		if err == nil {
			c.Path, err = prompt.InputRequired(`File path within the container (e.g. "2/t/o/2toe.jpeg")`)
		}
	default:
		err = fmt.Errorf("%w: %q", query.ErrInvalidMethod, method.ID)
	}

	return c, err
}

// searchSession drives one interactive search and prints the matches.
// The metadata session is closed before returning: the operator may
// examine the results for a long time, and the follow-up actions open
// their own sessions.
func searchSession(ctx context.Context, cfg *config.Config, action string) ([]*metadata.BackupRow, error) {
	store := metadata.New(cfg.Metadata)
	if err := store.Connect(ctx); err != nil {
		return nil, err
	}

	criteria, err := interactiveCriteria(ctx, store, action)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	rows, err := query.Search(ctx, store, criteria)
	_ = store.Close()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		logger.Warn("no file was found that matched the given criteria, exiting")
		return nil, errNoResults
	}

	if err := query.PrintFiles(os.Stdout, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// confirmAction is the y/n gate before recovery and deletion sessions
// act on the printed files. "n" and Ctrl+C abort the session.
func confirmAction(action string, count int) error {
	ok, err := prompt.Confirm(fmt.Sprintf("Confirm %s of %d file(s)?", action, count), false)
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn("aborted due to user input", logger.KeyCommand, action)
		return prompt.ErrAborted
	}
	return nil
}

// finishSession reminds the operator that only one datacenter's backups
// were touched.
func finishSession(p *output.Printer, action string) {
	p.Warning(fmt.Sprintf("Remember to perform the same %s on the other datacenter too "+
		"(only data from one site was affected for the current session!).", action))
}
