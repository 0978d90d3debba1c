package ocr

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// rasterizeFitz renders every page in-process with MuPDF.
func (r *Rasterizer) rasterizeFitz(ctx context.Context, path string) ([]Page, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", ErrCorruptArtifact, err)
	}
	defer func() {
		if cerr := doc.Close(); cerr != nil {
			r.logger.Warn("ocr.pdf.close_error", "path", path, "error", cerr)
		}
	}()

	n := doc.NumPage()
	if err := r.checkPageLimit(n); err != nil {
		return nil, err
	}

	dpi := r.cfg.DPI()
	pages := make([]Page, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(i, dpi)
		if err != nil {
			return nil, fmt.Errorf("%w: render page %d: %v", ErrCorruptArtifact, i+1, err)
		}
		pages = append(pages, Page{Index: i + 1, Image: img})
	}
	return pages, nil
}

// rasterizePdftoppm shells out to poppler and decodes the PNGs it writes.
func (r *Rasterizer) rasterizePdftoppm(ctx context.Context, path string) ([]Page, error) {
	tmpDir, err := os.MkdirTemp("", "notes-pp-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			r.logger.Warn("failed to remove temp dir", "dir", tmpDir, "error", err)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 144 -png <in.pdf> <tmp/page>
	dpi := strconv.Itoa(int(r.cfg.DPI()))
	if _, errb, err := r.runner.Run(ctx, r.cfg.Pdftoppm, "-r", dpi, "-png", path, prefix); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: pdftoppm: %v: %s", ErrCorruptArtifact, err, truncate(string(errb), 512))
	}

	// prefix-1.png, prefix-2.png, ... (zero padded depending on page count)
	matches, _ := filepath.Glob(prefix + "-*.png")
	sortByPageNumber(matches)
	if err := r.checkPageLimit(len(matches)); err != nil {
		return nil, err
	}

	pages := make([]Page, 0, len(matches))
	for i, m := range matches {
		img, err := decodePNGFile(m)
		if err != nil {
			return nil, fmt.Errorf("%w: decode rendered page %d: %v", ErrCorruptArtifact, i+1, err)
		}
		pages = append(pages, Page{Index: i + 1, Image: img})
	}
	return pages, nil
}

func decodePNGFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}

// sortByPageNumber orders pdftoppm output numerically; plain string order
// breaks once page numbers are not zero padded to equal width.
func sortByPageNumber(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		return pageNumber(paths[i]) < pageNumber(paths[j])
	})
}

func pageNumber(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	idx := strings.LastIndex(base, "-")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(base[idx+1:])
	if err != nil {
		return 0
	}
	return n
}
