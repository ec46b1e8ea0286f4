package knowledge

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unioffice/spreadsheet"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

// UploadFile 上传的原始文件
type UploadFile struct {
	Name     string
	Data     []byte
	MimeType string
}

// TextExtractor 将文件转换为有序文本段
type TextExtractor interface {
	Extract(ctx context.Context, file UploadFile) ([]string, error)
}

// FileParser 文件解析器接口
type FileParser interface {
	Parse(data []byte, filename string) ([]string, error)
	Supports(filename, mimeType string) bool
}

func extOf(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// TextParser 文本文件解析器
type TextParser struct{}

func (p *TextParser) Supports(filename, mimeType string) bool {
	switch extOf(filename) {
	case ".txt", ".md", ".markdown", ".csv", ".json":
		return true
	}
	return strings.HasPrefix(mimeType, "text/")
}

func (p *TextParser) Parse(data []byte, filename string) ([]string, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("文件不是有效的UTF-8文本: %s", filename)
	}
	return []string{string(data)}, nil
}

// PDFParser PDF文件解析器，每页一个文本段
type PDFParser struct{}

func (p *PDFParser) Supports(filename, mimeType string) bool {
	return extOf(filename) == ".pdf" || mimeType == "application/pdf"
}

func (p *PDFParser) Parse(data []byte, filename string) ([]string, error) {
	pdfReader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("解析PDF失败: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return nil, fmt.Errorf("获取PDF页数失败: %w", err)
	}

	segments := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			continue
		}
		ex, err := extractor.New(page)
		if err != nil {
			continue
		}
		text, err := ex.ExtractText()
		if err != nil {
			continue
		}
		segments = append(segments, text+"\n")
	}

	return segments, nil
}

// WordParser Word文档解析器，仅支持.docx
type WordParser struct{}

func (p *WordParser) Supports(filename, mimeType string) bool {
	ext := extOf(filename)
	return ext == ".docx" || ext == ".doc" ||
		mimeType == "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
}

func (p *WordParser) Parse(data []byte, filename string) ([]string, error) {
	if extOf(filename) == ".doc" {
		return nil, fmt.Errorf("暂不支持.doc格式，请使用.docx格式")
	}

	doc, err := document.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("解析Word文档失败: %w", err)
	}
	defer doc.Close()

	var builder strings.Builder
	for _, para := range doc.Paragraphs() {
		for _, run := range para.Runs() {
			builder.WriteString(run.Text())
		}
		builder.WriteString("\n")
	}

	return []string{builder.String()}, nil
}

// ExcelParser Excel解析器，每个工作表一个文本段，仅支持.xlsx
type ExcelParser struct{}

func (p *ExcelParser) Supports(filename, mimeType string) bool {
	ext := extOf(filename)
	return ext == ".xlsx" || ext == ".xls" ||
		mimeType == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (p *ExcelParser) Parse(data []byte, filename string) ([]string, error) {
	if extOf(filename) == ".xls" {
		return nil, fmt.Errorf("暂不支持.xls格式，请使用.xlsx格式")
	}

	ss, err := spreadsheet.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("解析Excel文档失败: %w", err)
	}
	defer ss.Close()

	segments := make([]string, 0, len(ss.Sheets()))
	for _, sheet := range ss.Sheets() {
		var builder strings.Builder
		builder.WriteString(fmt.Sprintf("Sheet: %s\n", sheet.Name()))
		for _, row := range sheet.Rows() {
			var cells []string
			for _, cell := range row.Cells() {
				cells = append(cells, cell.GetString())
			}
			if len(cells) > 0 {
				builder.WriteString(strings.Join(cells, "\t"))
				builder.WriteString("\n")
			}
		}
		segments = append(segments, builder.String())
	}

	return segments, nil
}

// FileParserManager 按扩展名或MIME类型分派解析器
type FileParserManager struct {
	parsers []FileParser
}

// NewFileParserManager 创建文件解析器管理器
func NewFileParserManager() *FileParserManager {
	return &FileParserManager{
		parsers: []FileParser{
			&PDFParser{},
			&WordParser{},
			&ExcelParser{},
			&TextParser{},
		},
	}
}

// Extract 实现TextExtractor，解析在独立goroutine中执行以响应超时
func (m *FileParserManager) Extract(ctx context.Context, file UploadFile) ([]string, error) {
	if len(file.Data) == 0 {
		return nil, fmt.Errorf("文件为空: %s", file.Name)
	}

	var parser FileParser
	for _, p := range m.parsers {
		if p.Supports(file.Name, file.MimeType) {
			parser = p
			break
		}
	}
	if parser == nil {
		return nil, fmt.Errorf("不支持的文件格式: %s", file.Name)
	}

	type result struct {
		segments []string
		err      error
	}
	done := make(chan result, 1)
	go func() {
		segments, err := parser.Parse(file.Data, file.Name)
		done <- result{segments: segments, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.segments, res.err
	}
}

// SupportedFormats 获取支持的文件格式
func (m *FileParserManager) SupportedFormats() []string {
	return []string{".pdf", ".docx", ".xlsx", ".txt", ".md", ".markdown", ".csv", ".json"}
}
