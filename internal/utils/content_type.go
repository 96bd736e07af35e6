package utils

import (
	"mime"
	"path"
	"strings"
)

// ContentType guesses the MIME type stored with an uploaded object from its
// name. Config and markdown files are served as plain text.
func ContentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".md", ".toml", ".yaml", ".yml", ".log":
		return "text/plain; charset=utf-8"
	case "":
		return "application/octet-stream"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
