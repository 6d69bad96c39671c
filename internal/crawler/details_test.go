package crawler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogkit/storefront-scraper/internal/dataset"
	"github.com/catalogkit/storefront-scraper/internal/models"
)

func detailOverviews(ids ...string) []models.ProductOverview {
	overviews := make([]models.ProductOverview, 0, len(ids))
	for _, id := range ids {
		overviews = append(overviews, models.ProductOverview{
			ID:   id,
			Name: "Product " + id,
			URL:  "https://shop.example/p/" + id + ".html",
		})
	}
	return overviews
}

func (fx *crawlerFixture) detailCrawler(t *testing.T, workers int) (*DetailCrawler, *dataset.StatusStore) {
	t.Helper()
	status, err := dataset.NewStatusStore(filepath.Join(t.TempDir(), "status.json"))
	require.NoError(t, err)
	return NewDetailCrawler(fx.fake, fx.store, status, fx.sessions, workers, testLogger()), status
}

func TestFetchDetails(t *testing.T) {
	fake := &fakeFetcher{details: map[string]string{
		"P1": "<html>detail P1</html>",
		"P2": "<html>detail P2</html>",
		"P3": "<html>detail P3</html>",
	}}
	fx := newCrawlerFixture(t, fake)
	dc, status := fx.detailCrawler(t, 2)

	result, err := dc.FetchDetails(context.Background(), fx.sess, detailOverviews("P1", "P2", "P3"))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"P1", "P2", "P3"}, result.Fetched)
	assert.Empty(t, result.Skipped)
	assert.Empty(t, result.Errors)

	for _, id := range []string{"P1", "P2", "P3"} {
		assert.True(t, fx.store.HasDetail(id))
		assert.True(t, status.IsCompleted(id))
	}

	artifact, err := fx.store.LoadDetail("P2")
	require.NoError(t, err)
	assert.Equal(t, "<html>detail P2</html>", string(artifact.Body))
}

func TestFetchDetailsSkipsCompletedWork(t *testing.T) {
	fake := &fakeFetcher{details: map[string]string{
		"P1": "<html>detail P1</html>",
		"P2": "<html>detail P2</html>",
	}}
	fx := newCrawlerFixture(t, fake)
	dc, status := fx.detailCrawler(t, 1)

	require.NoError(t, fx.store.SaveDetail(&models.PageArtifact{
		Body:      []byte("<html>cached</html>"),
		ProductID: "P1",
	}))
	require.NoError(t, status.Set("P1", dataset.StatusCompleted, ""))

	result, err := dc.FetchDetails(context.Background(), fx.sess, detailOverviews("P1", "P2"))
	require.NoError(t, err)

	assert.Equal(t, []string{"P1"}, result.Skipped)
	assert.Equal(t, []string{"P2"}, result.Fetched)

	// The cached artifact survives untouched.
	artifact, err := fx.store.LoadDetail("P1")
	require.NoError(t, err)
	assert.Equal(t, "<html>cached</html>", string(artifact.Body))
}

func TestFetchDetailsRetriesFailedWork(t *testing.T) {
	fake := &fakeFetcher{details: map[string]string{"P1": "<html>detail P1</html>"}}
	fx := newCrawlerFixture(t, fake)
	dc, status := fx.detailCrawler(t, 1)

	// An artifact on disk from a run whose status never reached
	// completed is fetched again.
	require.NoError(t, fx.store.SaveDetail(&models.PageArtifact{
		Body:      []byte("<html>stale</html>"),
		ProductID: "P1",
	}))
	require.NoError(t, status.Set("P1", dataset.StatusFailed, "status 500"))

	result, err := dc.FetchDetails(context.Background(), fx.sess, detailOverviews("P1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"P1"}, result.Fetched)

	artifact, err := fx.store.LoadDetail("P1")
	require.NoError(t, err)
	assert.Equal(t, "<html>detail P1</html>", string(artifact.Body))
}

func TestFetchDetailsCollectsProductErrors(t *testing.T) {
	fake := &fakeFetcher{
		details: map[string]string{
			"P1": "<html>detail P1</html>",
			"P3": "<html>detail P3</html>",
		},
		failProducts: map[string]error{
			"P2": errors.New("server error: status 500"),
		},
	}
	fx := newCrawlerFixture(t, fake)
	dc, status := fx.detailCrawler(t, 2)

	result, err := dc.FetchDetails(context.Background(), fx.sess, detailOverviews("P1", "P2", "P3"))
	require.NoError(t, err, "one bad product must not abort the batch")

	assert.ElementsMatch(t, []string{"P1", "P3"}, result.Fetched)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "P2", result.Errors[0].ProductID)

	st, ok := status.Get("P2")
	require.True(t, ok)
	assert.Equal(t, dataset.StatusFailed, st.Status)
	assert.Contains(t, st.Error, "500")
}

func TestFetchDetailsRefreshesExpiredSession(t *testing.T) {
	fake := &fakeFetcher{
		details: map[string]string{
			"P1": "<html>detail P1</html>",
			"P2": "<html>detail P2</html>",
		},
		expireBelow: 2,
	}
	fx := newCrawlerFixture(t, fake)
	dc, _ := fx.detailCrawler(t, 1)

	result, err := dc.FetchDetails(context.Background(), fx.sess, detailOverviews("P1", "P2"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"P1", "P2"}, result.Fetched)
	assert.Empty(t, result.Errors)
}

func TestFetchDetailsFatalWhenSessionNotRecovered(t *testing.T) {
	fake := &fakeFetcher{
		details:     map[string]string{"P1": "<html>detail P1</html>"},
		expireBelow: 100,
	}
	fx := newCrawlerFixture(t, fake)
	dc, _ := fx.detailCrawler(t, 2)

	_, err := dc.FetchDetails(context.Background(), fx.sess, detailOverviews("P1", "P2"))
	assert.ErrorIs(t, err, ErrSessionNotRecovered)
}

func TestFetchDetailsEmptyOverviews(t *testing.T) {
	fx := newCrawlerFixture(t, &fakeFetcher{})
	dc, _ := fx.detailCrawler(t, 2)

	result, err := dc.FetchDetails(context.Background(), fx.sess, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Fetched)
	assert.Empty(t, result.Skipped)
	assert.Empty(t, result.Errors)
}
