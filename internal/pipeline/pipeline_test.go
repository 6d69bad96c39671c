package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogkit/storefront-scraper/internal/artifacts"
	"github.com/catalogkit/storefront-scraper/internal/dataset"
	"github.com/catalogkit/storefront-scraper/internal/models"
	"github.com/catalogkit/storefront-scraper/internal/parser"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newParseService(t *testing.T) (*Service, *artifacts.Store) {
	t.Helper()
	store, err := artifacts.NewStore(t.TempDir())
	require.NoError(t, err)
	// Fetch stages are nil: these tests drive the parse operations only.
	return New(nil, nil, parser.New(), store, testLogger()), store
}

func listingBody(ids ...string) []byte {
	body := `<html><body><ol class="products list items product-items">`
	for _, id := range ids {
		body += fmt.Sprintf(`<li><div class="product-item-info" data-product-id="%s">
			<a class="product-item-photo" href="https://shop.example/p/%s.html"></a>
			<a class="product-item-link">Product %s</a>
		</div></li>`, id, id, id)
	}
	return []byte(body + `</ol></body></html>`)
}

func detailBody(id, price string) []byte {
	return []byte(fmt.Sprintf(`<html><body>
		<input name="product" value="%s"/>
		<span class="price">%s</span>
	</body></html>`, id, price))
}

func TestParseListings(t *testing.T) {
	svc, store := newParseService(t)

	require.NoError(t, store.SaveListing(&models.PageArtifact{Body: listingBody("P1", "P2"), PageIndex: 1}))
	require.NoError(t, store.SaveListing(&models.PageArtifact{Body: listingBody("P3", "P4"), PageIndex: 2}))

	outputPath := filepath.Join(t.TempDir(), "overviews.json")
	result, err := svc.ParseListings(context.Background(), outputPath)
	require.NoError(t, err)
	require.Empty(t, result.Errors)

	var ids []string
	for _, o := range result.Overviews {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"P1", "P2", "P3", "P4"}, ids, "page order must be preserved")

	// The checkpoint file is readable by the next stage.
	saved, err := readOverviewIDs(outputPath)
	require.NoError(t, err)
	assert.Equal(t, ids, saved)
}

func TestParseListingsDeduplicatesAcrossPages(t *testing.T) {
	svc, store := newParseService(t)

	// P2 straddles a page boundary, a common artifact of catalog edits
	// happening mid-crawl.
	require.NoError(t, store.SaveListing(&models.PageArtifact{Body: listingBody("P1", "P2"), PageIndex: 1}))
	require.NoError(t, store.SaveListing(&models.PageArtifact{Body: listingBody("P2", "P3"), PageIndex: 2}))

	result, err := svc.ParseListings(context.Background(), "")
	require.NoError(t, err)

	var ids []string
	for _, o := range result.Overviews {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"P1", "P2", "P3"}, ids)
}

func TestParseListingsSkipsBrokenPages(t *testing.T) {
	svc, store := newParseService(t)

	require.NoError(t, store.SaveListing(&models.PageArtifact{Body: listingBody("P1"), PageIndex: 1}))
	require.NoError(t, store.SaveListing(&models.PageArtifact{Body: []byte("<html>maintenance</html>"), PageIndex: 2}))
	require.NoError(t, store.SaveListing(&models.PageArtifact{Body: listingBody("P3"), PageIndex: 3}))

	result, err := svc.ParseListings(context.Background(), "")
	require.NoError(t, err, "one broken page must not abort the parse")

	require.Len(t, result.Errors, 1)
	assert.Equal(t, 2, result.Errors[0].Page)
	assert.Len(t, result.Overviews, 2)
}

func TestParseListingsWithoutArtifacts(t *testing.T) {
	svc, _ := newParseService(t)

	_, err := svc.ParseListings(context.Background(), "")
	assert.Error(t, err)
}

func TestParseAndMerge(t *testing.T) {
	svc, store := newParseService(t)

	require.NoError(t, store.SaveDetail(&models.PageArtifact{Body: detailBody("P1", "€ 18,95"), ProductID: "P1"}))
	require.NoError(t, store.SaveDetail(&models.PageArtifact{Body: detailBody("P3", "€ 4,25"), ProductID: "P3"}))

	overviews := []models.ProductOverview{
		{ID: "P1", Name: "Coconut Milk", URL: "https://shop.example/p/P1.html"},
		{ID: "P2", Name: "Jasmine Rice", URL: "https://shop.example/p/P2.html"},
	}

	outputPath := filepath.Join(t.TempDir(), "products.json")
	result, err := svc.ParseAndMerge(context.Background(), overviews, outputPath)
	require.NoError(t, err)

	require.Len(t, result.Products, 2)
	require.NotNil(t, result.Products[0].Detail)
	assert.InDelta(t, 18.95, result.Products[0].Detail.Price.Amount, 0.001)
	assert.Nil(t, result.Products[1].Detail)

	// P3 has a detail artifact but no overview entry.
	require.Len(t, result.Unmatched, 1)
	assert.Equal(t, "P3", result.Unmatched[0].ProductID)
	assert.Empty(t, result.Errors)
}

func TestParseAndMergeCollectsParseFailures(t *testing.T) {
	svc, store := newParseService(t)

	require.NoError(t, store.SaveDetail(&models.PageArtifact{Body: detailBody("P1", "€ 18,95"), ProductID: "P1"}))
	// No price anywhere on the page.
	require.NoError(t, store.SaveDetail(&models.PageArtifact{
		Body:      []byte(`<html><body><input name="product" value="P2"/></body></html>`),
		ProductID: "P2",
	}))

	overviews := []models.ProductOverview{
		{ID: "P1", Name: "Coconut Milk", URL: "https://shop.example/p/P1.html"},
		{ID: "P2", Name: "Jasmine Rice", URL: "https://shop.example/p/P2.html"},
	}

	result, err := svc.ParseAndMerge(context.Background(), overviews, "")
	require.NoError(t, err)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, "P2", result.Errors[0].ProductID)

	// P2 still appears in the merged output, just without a detail.
	require.Len(t, result.Products, 2)
	assert.Nil(t, result.Products[1].Detail)
}

func readOverviewIDs(path string) ([]string, error) {
	overviews, err := dataset.ReadOverviews(path)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(overviews))
	for _, o := range overviews {
		ids = append(ids, o.ID)
	}
	return ids, nil
}
