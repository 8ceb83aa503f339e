package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yinguobing/dwarf/internal/model"
)

func TestNameForRoutesVideosAndImages(t *testing.T) {
	assert.Equal(t, "vids", NameFor(model.CollectionVideos, "pics", "vids"))
	assert.Equal(t, "pics", NameFor(model.CollectionImages, "pics", "vids"))
}

func TestNameForDefaultsToImagesForUnknownRouting(t *testing.T) {
	assert.Equal(t, "pics", NameFor(model.Collection(""), "pics", "vids"))
}
