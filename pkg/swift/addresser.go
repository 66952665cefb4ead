// Package swift computes production media locations (container names and
// virtual paths) for wiki files and downloads or lists them from the
// production Swift cluster.
package swift

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/media"
)

// BigWikis are the wikis whose containers are sharded with a two
// character hash suffix, copied from mediawiki-config/wmf-config/
// filebackend.php.
var BigWikis = []string{
	"commonswiki", "dewiki", "enwiki", "fiwiki", "frwiki", "hewiki", "huwiki", "idwiki",
	"itwiki", "jawiki", "rowiki", "ruwiki", "thwiki", "trwiki", "ukwiki", "zhwiki",
}

// shard character sets for big wiki container suffixes
const (
	base36Characters = "0123456789abcdefghijklmnopqrstuvwxyz"
	base16Characters = "0123456789abcdef"
)

const uploadHost = "upload.wikimedia.org"

// projectTypes maps wiki database name suffixes to the project family
// used in container names.
var projectTypes = map[string]string{
	"wiki":        "wikipedia",
	"wikiquote":   "wikiquote",
	"wikibooks":   "wikibooks",
	"wikimedia":   "wikimedia",
	"wikisource":  "wikisource",
	"wikinews":    "wikinews",
	"wikiversity": "wikiversity",
	"wikivoyage":  "wikivoyage",
	"wiktionary":  "wiktionary",
}

// IsBigWiki reports whether the wiki stores its media in hashed
// containers.
func IsBigWiki(wiki string) bool {
	return slices.Contains(BigWikis, wiki)
}

// WikiToContainer returns the container name, without the hash suffix,
// holding files of the given status on the given wiki. Archived images
// live on the public containers.
func WikiToContainer(wiki, status string) (string, error) {
	if status == media.StatusArchived {
		status = media.StatusPublic
	}
	for suffix, project := range projectTypes {
		if prefix, ok := strings.CutSuffix(wiki, suffix); ok {
			return project + "-" + strings.ReplaceAll(prefix, "_", "-") + "-local-" + status, nil
		}
	}
	return "", fmt.Errorf("no container exists for wiki %q", wiki)
}

// ContainerToWiki returns the wiki database name owning the given
// container, undoing the hash suffix and status postfix.
func ContainerToWiki(containerName string) (string, error) {
	stem, _, _ := strings.Cut(containerName, ".")
	for _, postfix := range []string{"-local-public", "-local-deleted"} {
		if s, ok := strings.CutSuffix(stem, postfix); ok {
			stem = s
			break
		}
	}
	for suffix, project := range projectTypes {
		if rest, ok := strings.CutPrefix(stem, project+"-"); ok {
			return strings.ReplaceAll(rest, "-", "_") + suffix, nil
		}
	}
	return "", fmt.Errorf("no wiki owns container %q", containerName)
}

// NameToSwift returns the container name, including the hash suffix for
// big wikis, and the virtual path where a file is expected to live in
// production. It returns an empty path when the stored name is unknown,
// and empty container and path when a non-deleted file has no title
// (a metadata gap seen on some old rows).
func NameToSwift(wiki, status, title, storedName string) (string, string, error) {
	var titleMD5 string
	if status != media.StatusDeleted {
		if title == "" {
			return "", "", nil
		}
		sum := md5.Sum([]byte(title))
		titleMD5 = hex.EncodeToString(sum[:])
	}
	container, err := WikiToContainer(wiki, status)
	if err != nil {
		return "", "", err
	}
	if storedName == "" {
		return container, "", nil
	}
	if status == media.StatusDeleted && len(storedName) < 3 {
		return "", "", fmt.Errorf("stored name %q is too short for a deleted file", storedName)
	}
	if IsBigWiki(wiki) {
		if status == media.StatusDeleted {
			container += "." + storedName[:2]
		} else {
			container += "." + titleMD5[:2]
		}
	}
	var path string
	switch status {
	case media.StatusPublic:
		path = titleMD5[:1] + "/" + titleMD5[:2] + "/" + storedName
	case media.StatusArchived:
		path = "archive/" + titleMD5[:1] + "/" + titleMD5[:2] + "/" + storedName
	case media.StatusDeleted:
		path = storedName[:1] + "/" + storedName[1:2] + "/" + storedName[2:3] + "/" + storedName
	}
	return container, path, nil
}

// Containers returns every container that can hold files of the given
// status on the given wiki. Big wikis shard over two hash characters,
// hexadecimal for public and archived files, base 36 for deleted ones.
func Containers(wiki, status string) ([]string, error) {
	base, err := WikiToContainer(wiki, status)
	if err != nil {
		return nil, err
	}
	if !IsBigWiki(wiki) {
		return []string{base}, nil
	}
	characters := base16Characters
	if status == media.StatusDeleted {
		characters = base36Characters
	}
	containers := make([]string, 0, len(characters)*len(characters))
	for _, first := range characters {
		for _, second := range characters {
			containers = append(containers, base+"."+string(first)+string(second))
		}
	}
	return containers, nil
}

// SwiftToURL returns the public download URL of a production container
// and path, percent-encoding each path segment. It returns the empty
// string for files without a public URL, deleted ones and those whose
// container does not follow the project-wiki naming.
func SwiftToURL(status, container, path string) string {
	if status == media.StatusDeleted {
		return ""
	}
	parts := strings.SplitN(container, "-", 3)
	if len(parts) < 2 {
		return ""
	}
	u := url.URL{
		Scheme: "https",
		Host:   uploadHost,
		Path:   "/" + parts[0] + "/" + parts[1] + "/" + path,
	}
	return u.String()
}
