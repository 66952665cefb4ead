package swift

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/media"
)

func TestIsBigWiki(t *testing.T) {
	assert.True(t, IsBigWiki("commonswiki"))
	assert.True(t, IsBigWiki("zhwiki"))
	assert.False(t, IsBigWiki("testwiki"))
	assert.False(t, IsBigWiki("enwiktionary"))
}

func TestWikiToContainer(t *testing.T) {
	tests := []struct {
		name   string
		wiki   string
		status string
		want   string
	}{
		{name: "public", wiki: "commonswiki", status: media.StatusPublic, want: "wikipedia-commons-local-public"},
		{name: "archived shares the public container", wiki: "commonswiki", status: media.StatusArchived, want: "wikipedia-commons-local-public"},
		{name: "deleted", wiki: "commonswiki", status: media.StatusDeleted, want: "wikipedia-commons-local-deleted"},
		{name: "underscores become hyphens", wiki: "zh_min_nanwiki", status: media.StatusPublic, want: "wikipedia-zh-min-nan-local-public"},
		{name: "wiktionary", wiki: "enwiktionary", status: media.StatusPublic, want: "wiktionary-en-local-public"},
		{name: "wikimedia chapter", wiki: "sewikimedia", status: media.StatusDeleted, want: "wikimedia-se-local-deleted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WikiToContainer(tt.wiki, tt.status)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := WikiToContainer("notadatabase", media.StatusPublic)
	assert.Error(t, err)
}

func TestContainerToWiki(t *testing.T) {
	tests := []struct {
		name      string
		container string
		want      string
	}{
		{name: "public", container: "wikipedia-commons-local-public", want: "commonswiki"},
		{name: "hashed", container: "wikipedia-commons-local-public.70", want: "commonswiki"},
		{name: "deleted", container: "wikipedia-en-local-deleted.ph", want: "enwiki"},
		{name: "hyphens become underscores", container: "wikipedia-zh-min-nan-local-public", want: "zh_min_nanwiki"},
		{name: "wiktionary", container: "wiktionary-en-local-deleted", want: "enwiktionary"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ContainerToWiki(tt.container)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ContainerToWiki("mysterious-container")
	assert.Error(t, err)
}

func TestNameToSwift(t *testing.T) {
	tests := []struct {
		name          string
		wiki          string
		status        string
		title         string
		storedName    string
		wantContainer string
		wantPath      string
	}{
		{
			name:          "public file on a big wiki",
			wiki:          "commonswiki",
			status:        media.StatusPublic,
			title:         "Wikimedia_logo_family.png",
			storedName:    "Wikimedia_logo_family.png",
			wantContainer: "wikipedia-commons-local-public.70",
			wantPath:      "7/70/Wikimedia_logo_family.png",
		},
		{
			name:          "archived file on a big wiki",
			wiki:          "commonswiki",
			status:        media.StatusArchived,
			title:         "Wikimedia-logo-circle.svg",
			storedName:    "20091107214303!Wikimedia-logo-circle.svg",
			wantContainer: "wikipedia-commons-local-public.14",
			wantPath:      "archive/1/14/20091107214303!Wikimedia-logo-circle.svg",
		},
		{
			name:          "public file on a small wiki",
			wiki:          "testwiki",
			status:        media.StatusPublic,
			title:         "Test.jpg",
			storedName:    "Test.jpg",
			wantContainer: "wikipedia-test-local-public",
			wantPath:      "b/bd/Test.jpg",
		},
		{
			name:          "deleted file on a big wiki",
			wiki:          "enwiki",
			status:        media.StatusDeleted,
			storedName:    "phbc2zcd45c6q3kfvdxp0hs26d7uvmp.jpg",
			wantContainer: "wikipedia-en-local-deleted.ph",
			wantPath:      "p/h/b/phbc2zcd45c6q3kfvdxp0hs26d7uvmp.jpg",
		},
		{
			name:          "deleted file on a small wiki",
			wiki:          "testwiki",
			status:        media.StatusDeleted,
			storedName:    "phbc2zcd45c6q3kfvdxp0hs26d7uvmp.jpg",
			wantContainer: "wikipedia-test-local-deleted",
			wantPath:      "p/h/b/phbc2zcd45c6q3kfvdxp0hs26d7uvmp.jpg",
		},
		{
			name:          "missing title on a public file",
			wiki:          "commonswiki",
			status:        media.StatusPublic,
			storedName:    "Test.jpg",
			wantContainer: "",
			wantPath:      "",
		},
		{
			name:          "missing stored name",
			wiki:          "commonswiki",
			status:        media.StatusPublic,
			title:         "Test.jpg",
			wantContainer: "wikipedia-commons-local-public",
			wantPath:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			container, path, err := NameToSwift(tt.wiki, tt.status, tt.title, tt.storedName)
			require.NoError(t, err)
			assert.Equal(t, tt.wantContainer, container)
			assert.Equal(t, tt.wantPath, path)
		})
	}

	t.Run("unknown wiki", func(t *testing.T) {
		_, _, err := NameToSwift("notadatabase", media.StatusPublic, "Test.jpg", "Test.jpg")
		assert.Error(t, err)
	})

	t.Run("deleted stored name too short", func(t *testing.T) {
		_, _, err := NameToSwift("enwiki", media.StatusDeleted, "", "ab")
		assert.Error(t, err)
	})
}

func TestContainers(t *testing.T) {
	small, err := Containers("testwiki", media.StatusPublic)
	require.NoError(t, err)
	assert.Equal(t, []string{"wikipedia-test-local-public"}, small)

	public, err := Containers("commonswiki", media.StatusPublic)
	require.NoError(t, err)
	assert.Len(t, public, 256)
	assert.Equal(t, "wikipedia-commons-local-public.00", public[0])
	assert.Equal(t, "wikipedia-commons-local-public.ff", public[255])

	deleted, err := Containers("commonswiki", media.StatusDeleted)
	require.NoError(t, err)
	assert.Len(t, deleted, 36*36)
	assert.Equal(t, "wikipedia-commons-local-deleted.00", deleted[0])
	assert.Equal(t, "wikipedia-commons-local-deleted.zz", deleted[len(deleted)-1])

	_, err = Containers("notadatabase", media.StatusPublic)
	assert.Error(t, err)
}

func TestSwiftToURL(t *testing.T) {
	tests := []struct {
		name      string
		status    string
		container string
		path      string
		want      string
	}{
		{
			name:      "deleted files have no public url",
			status:    media.StatusDeleted,
			container: "container",
			path:      "path",
			want:      "",
		},
		{
			name:      "container without hyphens",
			status:    media.StatusPublic,
			container: "nonSeparatedByHyphens",
			path:      "path",
			want:      "",
		},
		{
			name:      "minimal container",
			status:    media.StatusPublic,
			container: "only1-hyphen",
			path:      "path",
			want:      "https://upload.wikimedia.org/only1/hyphen/path",
		},
		{
			name:      "public file",
			status:    media.StatusPublic,
			container: "wikipedia-commons-local-public.70",
			path:      "7/70/Wikimedia_logo_family.png",
			want:      "https://upload.wikimedia.org/wikipedia/commons/7/70/Wikimedia_logo_family.png",
		},
		{
			name:      "archived file escapes the bang",
			status:    media.StatusArchived,
			container: "wikipedia-commons-local-public.14",
			path:      "archive/1/14/20091107214303!Wikimedia-logo-circle.svg",
			want:      "https://upload.wikimedia.org/wikipedia/commons/archive/1/14/20091107214303%21Wikimedia-logo-circle.svg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SwiftToURL(tt.status, tt.container, tt.path))
		})
	}
}

func TestNameToSwiftAgreesWithContainerToWiki(t *testing.T) {
	for _, wiki := range append([]string{"testwiki", "eswikibooks", "sewikimedia"}, BigWikis...) {
		for _, status := range []string{media.StatusPublic, media.StatusArchived, media.StatusDeleted} {
			container, _, err := NameToSwift(wiki, status, "Test.jpg", "phbc2zcd45c6q3kfvdxp0hs26d7uvmp.jpg")
			require.NoError(t, err)
			got, err := ContainerToWiki(container)
			require.NoError(t, err)
			assert.Equal(t, wiki, got, "wiki %s status %s container %s", wiki, status, container)
			if IsBigWiki(wiki) {
				assert.Len(t, container[strings.LastIndex(container, ".")+1:], 2)
			}
		}
	}
}
