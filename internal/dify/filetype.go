package dify

import (
	"path/filepath"
	"strings"
)

var fileTypeByExtension = map[string]string{}

func init() {
	register := func(fileType string, exts ...string) {
		for _, ext := range exts {
			fileTypeByExtension[ext] = fileType
		}
	}
	register("document",
		"txt", "md", "markdown", "pdf", "html", "xlsx", "xls",
		"doc", "docx", "csv", "eml", "msg", "pptx", "ppt", "xml", "epub")
	register("image", "jpg", "jpeg", "png", "gif", "webp", "svg")
	register("audio", "mp3", "m4a", "wav", "webm", "amr")
	register("video", "mp4", "mov", "mpeg", "mpga")
}

// FileTypeForName classifies a file by extension into the type names the
// Dify file attachment API expects. Unknown extensions are "custom".
func FileTypeForName(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if t, ok := fileTypeByExtension[ext]; ok {
		return t
	}
	return "custom"
}
