package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"
	"github.com/PuerkitoBio/goquery"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/markdave123-py/knowledge-mcp/internal/core"
)

var errNoText = errors.New("no text could be extracted")

type extractFunc func(ctx context.Context, data []byte, ext string) (*core.ExtractedText, error)

// Extractor implements core.DocumentExtractor by dispatching on the declared extension.
//
// useReadability: passed to docconv for HTML-like office formats.
// byExt:          lower-case extension without the dot -> extraction routine.
type Extractor struct {
	useReadability bool
	byExt          map[string]extractFunc
}

var _ core.DocumentExtractor = (*Extractor)(nil)

func NewExtractor(useReadability bool) *Extractor {
	e := &Extractor{useReadability: useReadability}
	e.byExt = map[string]extractFunc{
		"md":       extractMarkdown,
		"markdown": extractMarkdown,
		"html":     extractHTML,
		"htm":      extractHTML,
		"xlsx":     extractXLSX,
	}
	for _, ext := range []string{"txt", "text", "csv", "tsv", "json", "log", "yaml", "yml", "xml"} {
		e.byExt[ext] = extractPlain
	}
	for _, ext := range []string{"pdf", "doc", "docx", "odt", "rtf", "pptx", "pages"} {
		e.byExt[ext] = e.extractDocconv
	}
	return e
}

// Supports reports whether ext (with or without the leading dot) has an extraction routine.
func (e *Extractor) Supports(ext string) bool {
	_, ok := e.byExt[normalizeExt(ext)]
	return ok
}

func (e *Extractor) Extract(ctx context.Context, data []byte, extension string) (*core.ExtractedText, error) {
	ext := normalizeExt(extension)
	fn, ok := e.byExt[ext]
	if !ok {
		return nil, &core.ExtractionError{Extension: ext, Err: fmt.Errorf("unsupported file type")}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := fn(ctx, data, ext)
	if err != nil {
		return nil, &core.ExtractionError{Extension: ext, Err: err}
	}
	out.Text = strings.TrimSpace(strings.ReplaceAll(out.Text, "\r\n", "\n"))
	if out.Text == "" {
		return nil, &core.ExtractionError{Extension: ext, Err: errNoText}
	}
	out.Title = strings.TrimSpace(out.Title)
	return out, nil
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

func extractPlain(_ context.Context, data []byte, _ string) (*core.ExtractedText, error) {
	if !utf8.Valid(data) {
		return nil, errors.New("content is not valid UTF-8")
	}
	return &core.ExtractedText{Text: string(data)}, nil
}

// extractMarkdown keeps the markdown source as text and uses the first heading as title.
func extractMarkdown(_ context.Context, data []byte, _ string) (*core.ExtractedText, error) {
	if !utf8.Valid(data) {
		return nil, errors.New("content is not valid UTF-8")
	}
	doc := goldmark.New().Parser().Parse(text.NewReader(data))

	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		h, ok := n.(*ast.Heading)
		if !entering || !ok {
			return ast.WalkContinue, nil
		}
		var b strings.Builder
		lines := h.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(data))
		}
		title = b.String()
		return ast.WalkStop, nil
	})
	return &core.ExtractedText{Title: title, Text: string(data)}, nil
}

func extractHTML(_ context.Context, data []byte, _ string) (*core.ExtractedText, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, template").Remove()

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	var lines []string
	for _, line := range strings.Split(body.Text(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return &core.ExtractedText{Title: title, Text: strings.Join(lines, "\n")}, nil
}

// extractXLSX renders every sheet as a "## name" section with pipe-joined rows.
func extractXLSX(_ context.Context, data []byte, _ string) (*core.ExtractedText, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n", sheet)
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, c := range row {
				cells = append(cells, strings.TrimSpace(c))
			}
			if line := strings.Join(cells, " | "); strings.Trim(line, " |") != "" {
				b.WriteString(line)
				b.WriteByte('\n')
			}
		}
		b.WriteByte('\n')
	}
	return &core.ExtractedText{Text: b.String(), Metadata: map[string]string{"sheets": fmt.Sprint(len(f.GetSheetList()))}}, nil
}

func (e *Extractor) extractDocconv(_ context.Context, data []byte, ext string) (*core.ExtractedText, error) {
	mime := docconv.MimeTypeByExtension("file." + ext)
	res, err := docconv.Convert(bytes.NewReader(data), mime, e.useReadability)
	if err != nil {
		return nil, err
	}
	out := &core.ExtractedText{Text: res.Body, Metadata: res.Meta}
	if t, ok := res.Meta["title"]; ok {
		out.Title = t
	}
	return out, nil
}
