package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aihub/docqa-go/internal/knowledge"
)

// 本地预览文件的提取与分块结果，不调用任何远程服务
func main() {
	var (
		chunkSize = flag.Int("size", knowledge.DefaultChunkSize, "分块长度（字符数）")
		overlap   = flag.Int("overlap", 0, "相邻分块重叠字符数")
		session   = flag.String("session", "preview", "写入分块元数据的会话ID")
		verbose   = flag.Bool("v", false, "打印每个分块的内容")
	)
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "用法: chunkpreview [-size N] [-overlap N] [-v] file...\n")
		os.Exit(1)
	}

	extractor := knowledge.NewFileParserManager()
	chunker := knowledge.NewChunker(*chunkSize, *overlap)
	fmt.Printf("分块配置: size=%d, overlap=%d\n", chunker.Size(), chunker.Overlap())
	fmt.Printf("支持格式: %s\n\n", strings.Join(extractor.SupportedFormats(), ", "))

	ordinal := 0
	for _, path := range flag.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "读取失败 %s: %v\n", path, err)
			continue
		}

		name := filepath.Base(path)
		segments, err := extractor.Extract(context.Background(), knowledge.UploadFile{Name: name, Data: data})
		if err != nil {
			fmt.Fprintf(os.Stderr, "提取失败 %s: %v\n", name, err)
			continue
		}
		text := strings.Join(segments, "")
		chunks := chunker.SplitFile(text, *session, name, ordinal)
		ordinal += len(chunks)

		fmt.Println(strings.Repeat("=", 80))
		fmt.Printf("%s: %d 段, %d 字符, %d 块\n", name, len(segments), len([]rune(text)), len(chunks))
		for _, c := range chunks {
			fmt.Printf("  #%d %s (%d 字符)\n", c.Index, c.ID, len([]rune(c.Text)))
			if *verbose {
				fmt.Println(c.Text)
				fmt.Println(strings.Repeat("-", 80))
			}
		}
	}
}
