package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/catalogkit/storefront-scraper/internal/models"
)

var listingPattern = regexp.MustCompile(`^page_(\d+)\.html$`)

// Store persists raw page artifacts under a directory, addressed by
// page index for listings and by product ID for detail pages. Writes
// go through a temp file and rename, so a cancelled fetch never leaves
// a half-written artifact behind.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

// SaveListing persists a listing page artifact addressed by its page
// index.
func (s *Store) SaveListing(a *models.PageArtifact) error {
	if a.PageIndex < 1 {
		return fmt.Errorf("listing artifact needs a page index >= 1, got %d", a.PageIndex)
	}
	return s.write(s.listingPath(a.PageIndex), a.Body)
}

// SaveDetail persists a detail page artifact addressed by product ID.
func (s *Store) SaveDetail(a *models.PageArtifact) error {
	if a.ProductID == "" {
		return fmt.Errorf("detail artifact needs a product ID")
	}
	return s.write(s.detailPath(a.ProductID), a.Body)
}

// LoadListing reads one listing artifact back.
func (s *Store) LoadListing(page int) (*models.PageArtifact, error) {
	return s.load(s.listingPath(page), page, "")
}

// LoadDetail reads one detail artifact back.
func (s *Store) LoadDetail(productID string) (*models.PageArtifact, error) {
	return s.load(s.detailPath(productID), 0, productID)
}

// HasListing reports whether the artifact for a page index exists.
func (s *Store) HasListing(page int) bool {
	_, err := os.Stat(s.listingPath(page))
	return err == nil
}

// HasDetail reports whether the artifact for a product ID exists.
func (s *Store) HasDetail(productID string) bool {
	_, err := os.Stat(s.detailPath(productID))
	return err == nil
}

// ListingPages returns the page indices present in the store, in
// ascending order.
func (s *Store) ListingPages() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact dir: %w", err)
	}

	var pages []int
	for _, entry := range entries {
		m := listingPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		page, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		pages = append(pages, page)
	}
	sort.Ints(pages)
	return pages, nil
}

// DetailIDs returns the product IDs with a stored detail artifact.
func (s *Store) DetailIDs() ([]string, error) {
	detailDir := filepath.Join(s.dir, "product_details")
	entries, err := os.ReadDir(detailDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read detail dir: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if filepath.Ext(name) != ".html" {
			continue
		}
		ids = append(ids, name[:len(name)-len(".html")])
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) listingPath(page int) string {
	return filepath.Join(s.dir, fmt.Sprintf("page_%d.html", page))
}

func (s *Store) detailPath(productID string) string {
	return filepath.Join(s.dir, "product_details", productID+".html")
}

func (s *Store) write(path string, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}

func (s *Store) load(path string, page int, productID string) (*models.PageArtifact, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", filepath.Base(path), err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &models.PageArtifact{
		Body:      body,
		PageIndex: page,
		ProductID: productID,
		FetchedAt: info.ModTime(),
	}, nil
}
