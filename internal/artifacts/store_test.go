package artifacts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogkit/storefront-scraper/internal/models"
)

func TestListingRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.SaveListing(&models.PageArtifact{
		Body:      []byte("<html>page two</html>"),
		PageIndex: 2,
	}))

	assert.True(t, store.HasListing(2))
	assert.False(t, store.HasListing(1))

	artifact, err := store.LoadListing(2)
	require.NoError(t, err)
	assert.Equal(t, "<html>page two</html>", string(artifact.Body))
	assert.Equal(t, 2, artifact.PageIndex)
}

func TestSaveListingRejectsBadIndex(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, store.SaveListing(&models.PageArtifact{Body: []byte("x"), PageIndex: 0}))
}

func TestDetailRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.SaveDetail(&models.PageArtifact{
		Body:      []byte("<html>detail</html>"),
		ProductID: "1001",
	}))

	assert.True(t, store.HasDetail("1001"))
	assert.False(t, store.HasDetail("1002"))

	artifact, err := store.LoadDetail("1001")
	require.NoError(t, err)
	assert.Equal(t, "<html>detail</html>", string(artifact.Body))
	assert.Equal(t, "1001", artifact.ProductID)
}

func TestSaveDetailRejectsEmptyID(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, store.SaveDetail(&models.PageArtifact{Body: []byte("x")}))
}

func TestListingPagesSortedByIndex(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	// Save out of order; completion order must not scramble the index.
	for _, page := range []int{10, 2, 1, 7} {
		require.NoError(t, store.SaveListing(&models.PageArtifact{
			Body:      []byte("page"),
			PageIndex: page,
		}))
	}

	pages, err := store.ListingPages()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 7, 10}, pages)
}

func TestDetailIDs(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	ids, err := store.DetailIDs()
	require.NoError(t, err)
	assert.Empty(t, ids, "no detail dir yet")

	for _, id := range []string{"30", "4", "100"} {
		require.NoError(t, store.SaveDetail(&models.PageArtifact{
			Body:      []byte("detail"),
			ProductID: id,
		}))
	}

	ids, err = store.DetailIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"100", "30", "4"}, ids)
}

func TestSaveOverwritesExisting(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.SaveListing(&models.PageArtifact{Body: []byte("old"), PageIndex: 1}))
	require.NoError(t, store.SaveListing(&models.PageArtifact{Body: []byte("new"), PageIndex: 1}))

	artifact, err := store.LoadListing(1)
	require.NoError(t, err)
	assert.Equal(t, "new", string(artifact.Body))
}
