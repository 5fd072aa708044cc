// Package ingest turns policy documents into indexed chunks.
package ingest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dslipak/pdf"
	"github.com/google/uuid"
	"github.com/liliang-cn/policyagent/internal/domain"
	"go.uber.org/zap"
)

// FileType constants
const (
	FileTypePDF = "pdf"
	FileTypeMD  = "md"
	FileTypeTXT = "txt"
)

// DetectFileType detects file type from filename
func DetectFileType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return FileTypePDF
	case ".md", ".markdown":
		return FileTypeMD
	case ".txt":
		return FileTypeTXT
	case "":
		return ""
	default:
		return ext[1:] // remove leading dot
	}
}

// IsSupported checks if file type is supported
func IsSupported(fileType string) bool {
	switch fileType {
	case FileTypePDF, FileTypeMD, FileTypeTXT:
		return true
	}
	return false
}

var (
	whitespace  = regexp.MustCompile(`\s+`)
	unsupported = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?;:()\-'"]+`)
	quotes      = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
)

// Clean collapses whitespace and drops characters other than letters,
// digits and basic punctuation.
func Clean(text string) string {
	text = quotes.Replace(text)
	text = whitespace.ReplaceAllString(text, " ")
	text = unsupported.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// Processor extracts and splits documents
type Processor struct {
	chunkSize    int
	chunkOverlap int
	logger       *zap.Logger
}

// NewProcessor creates a processor splitting into chunkSize words with
// chunkOverlap words shared between neighbours.
func NewProcessor(chunkSize, chunkOverlap int, logger *zap.Logger) (*Processor, error) {
	if chunkSize < 1 || chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("%w: chunk size %d with overlap %d", domain.ErrInvalidRequest, chunkSize, chunkOverlap)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{chunkSize: chunkSize, chunkOverlap: chunkOverlap, logger: logger.Named("ingest")}, nil
}

// Split cuts text into word windows. Text that fits in one window is
// returned unchanged.
func (p *Processor) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if len(words) <= p.chunkSize {
		return []string{text}
	}

	var chunks []string
	step := p.chunkSize - p.chunkOverlap
	for start := 0; start < len(words); start += step {
		end := start + p.chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

// ProcessFile extracts the chunks of one supported file
func (p *Processor) ProcessFile(path string) ([]domain.ChunkRecord, error) {
	switch fileType := DetectFileType(path); fileType {
	case FileTypePDF:
		return p.ProcessPDF(path)
	case FileTypeMD, FileTypeTXT:
		return p.ProcessText(path)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", domain.ErrUnsupported, fileType)
	}
}

// ProcessText chunks a plain text or markdown file
func (p *Processor) ProcessText(path string) ([]domain.ChunkRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var records []domain.ChunkRecord
	for i, text := range p.Split(Clean(string(data))) {
		records = append(records, p.record(path, text, 0, strconv.Itoa(i+1)))
	}

	p.logger.Info("Processed text file", zap.String("path", path), zap.Int("chunks", len(records)))
	return records, nil
}

// ProcessPDF chunks a PDF page by page, recording page numbers
func (p *Processor) ProcessPDF(path string) ([]domain.ChunkRecord, error) {
	r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}

	var records []domain.ChunkRecord
	pages := r.NumPage()
	for n := 1; n <= pages; n++ {
		page := r.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			p.logger.Warn("Failed to extract page text",
				zap.String("path", path),
				zap.Int("page", n),
				zap.Error(err),
			)
			continue
		}
		for i, chunk := range p.Split(Clean(text)) {
			records = append(records, p.record(path, chunk, n, fmt.Sprintf("%d-%d", n, i+1)))
		}
	}

	p.logger.Info("Processed PDF",
		zap.String("path", path),
		zap.Int("pages", pages),
		zap.Int("chunks", len(records)),
	)
	return records, nil
}

func (p *Processor) record(path, text string, page int, chunkID string) domain.ChunkRecord {
	md := map[string]any{
		domain.MetadataKeySource:   filepath.Base(path),
		domain.MetadataKeyChunkID:  chunkID,
		domain.MetadataKeyFilePath: path,
		domain.MetadataKeyFileType: DetectFileType(path),
	}
	if page > 0 {
		md[domain.MetadataKeyPage] = page
	}
	return domain.ChunkRecord{ID: uuid.New().String(), Content: text, Metadata: md}
}

// ProcessDirectory processes every supported file below dir. Files that
// fail are logged and skipped.
func (p *Processor) ProcessDirectory(dir string) ([]domain.ChunkRecord, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsSupported(DetectFileType(path)) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	var all []domain.ChunkRecord
	for _, path := range paths {
		records, err := p.ProcessFile(path)
		if err != nil {
			p.logger.Error("Failed to process document", zap.String("path", path), zap.Error(err))
			continue
		}
		all = append(all, records...)
	}

	p.logger.Info("Processed directory",
		zap.String("dir", dir),
		zap.Int("files", len(paths)),
		zap.Int("chunks", len(all)),
	)
	return all, nil
}

// DocumentStats summarises a set of chunks
type DocumentStats struct {
	TotalChunks   int      `json:"total_chunks"`
	UniqueSources int      `json:"unique_sources"`
	Sources       []string `json:"sources"`
	TotalWords    int      `json:"total_words"`
	AvgChunkSize  float64  `json:"avg_chunk_size"`
}

// Stats computes DocumentStats for records
func Stats(records []domain.ChunkRecord) DocumentStats {
	if len(records) == 0 {
		return DocumentStats{}
	}

	seen := make(map[string]struct{})
	var stats DocumentStats
	for _, r := range records {
		src := r.Source()
		if _, ok := seen[src]; !ok {
			seen[src] = struct{}{}
			stats.Sources = append(stats.Sources, src)
		}
		stats.TotalWords += len(strings.Fields(r.Content))
	}
	sort.Strings(stats.Sources)

	stats.TotalChunks = len(records)
	stats.UniqueSources = len(stats.Sources)
	stats.AvgChunkSize = float64(stats.TotalWords) / float64(len(records))
	return stats
}
