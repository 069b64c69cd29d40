package staticfileserver

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"example.com/anywhere/internal/config"
)

// defaultMimeTypes is consulted before Go's mime package so that common
// types come out bare (no charset parameter), whatever the host's mime.types says.
var defaultMimeTypes = map[string]string{
	".aac":   "audio/aac",
	".avif":  "image/avif",
	".avi":   "video/x-msvideo",
	".bin":   "application/octet-stream",
	".bmp":   "image/bmp",
	".bz2":   "application/x-bzip2",
	".css":   "text/css",
	".csv":   "text/csv",
	".doc":   "application/msword",
	".docx":  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".eot":   "application/vnd.ms-fontobject",
	".epub":  "application/epub+zip",
	".gz":    "application/gzip",
	".gif":   "image/gif",
	".htm":   "text/html",
	".html":  "text/html",
	".ico":   "image/x-icon",
	".jar":   "application/java-archive",
	".jpeg":  "image/jpeg",
	".jpg":   "image/jpeg",
	".js":    "text/javascript",
	".json":  "application/json",
	".md":    "text/markdown",
	".mjs":   "text/javascript",
	".mp3":   "audio/mpeg",
	".mp4":   "video/mp4",
	".mpeg":  "video/mpeg",
	".oga":   "audio/ogg",
	".ogv":   "video/ogg",
	".otf":   "font/otf",
	".png":   "image/png",
	".pdf":   "application/pdf",
	".ppt":   "application/vnd.ms-powerpoint",
	".pptx":  "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".rar":   "application/vnd.rar",
	".rtf":   "application/rtf",
	".sh":    "application/x-sh",
	".svg":   "image/svg+xml",
	".swf":   "application/x-shockwave-flash",
	".tar":   "application/x-tar",
	".tif":   "image/tiff",
	".tiff":  "image/tiff",
	".ttf":   "font/ttf",
	".txt":   "text/plain",
	".wasm":  "application/wasm",
	".wav":   "audio/wav",
	".webm":  "video/webm",
	".webp":  "image/webp",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".xhtml": "application/xhtml+xml",
	".xls":   "application/vnd.ms-excel",
	".xlsx":  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xml":   "application/xml",
	".zip":   "application/zip",
	".7z":    "application/x-7z-compressed",
}

const defaultOctetStreamMimeType = "application/octet-stream"

// MimeTypeResolver maps file extensions to content types. It is read-only
// after construction and safe for concurrent use.
type MimeTypeResolver struct {
	customMimeTypes map[string]string
}

// NewMimeTypeResolver builds a resolver from the inline map and the optional
// JSON file named in cfg. Entries from the file override inline ones.
func NewMimeTypeResolver(cfg *config.StaticConfig) (*MimeTypeResolver, error) {
	resolver := &MimeTypeResolver{
		customMimeTypes: make(map[string]string),
	}
	if cfg == nil {
		return resolver, nil
	}

	for ext, mimeType := range cfg.MimeTypes {
		resolver.customMimeTypes[strings.ToLower(ext)] = mimeType
	}

	if cfg.MimeTypesPath != "" {
		fileMimeTypes, err := LoadCustomMimeTypesFromFile(cfg.MimeTypesPath)
		if err != nil {
			return nil, &config.ConfigError{
				FilePath: cfg.MimeTypesPath,
				Message:  "failed to load custom MIME types",
				Err:      err,
			}
		}
		for ext, mimeType := range fileMimeTypes {
			resolver.customMimeTypes[ext] = mimeType
		}
	}

	return resolver, nil
}

// GetMimeType determines the MIME type for a file path. Lookup order: custom
// mappings, the built-in table, Go's mime package, then application/octet-stream.
func (r *MimeTypeResolver) GetMimeType(filePath string) string {
	return ResolveMimeType(filepath.Ext(filePath), r.customMimeTypes)
}

// LoadCustomMimeTypesFromFile reads a JSON object of extension to MIME type.
// Extensions must start with '.', values must be non-empty. Keys are lowercased.
func LoadCustomMimeTypesFromFile(filePath string) (map[string]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read MIME types file %q: %w", filePath, err)
	}

	var parsedMimeTypes map[string]string
	if err := json.Unmarshal(data, &parsedMimeTypes); err != nil {
		return nil, fmt.Errorf("failed to parse JSON from MIME types file %q: %w", filePath, err)
	}

	customMimeTypes := make(map[string]string, len(parsedMimeTypes))
	for ext, mimeType := range parsedMimeTypes {
		if !strings.HasPrefix(ext, ".") {
			return nil, fmt.Errorf("invalid extension %q in MIME types file %q: must start with a '.'", ext, filePath)
		}
		if mimeType == "" {
			return nil, fmt.Errorf("empty MIME type for extension %q in MIME types file %q", ext, filePath)
		}
		customMimeTypes[strings.ToLower(ext)] = mimeType
	}
	return customMimeTypes, nil
}

// ResolveMimeType resolves a single extension (with its leading dot).
func ResolveMimeType(extension string, customUserMappings map[string]string) string {
	if extension == "" {
		return defaultOctetStreamMimeType
	}
	ext := strings.ToLower(extension)

	if mimeType, ok := customUserMappings[ext]; ok {
		return mimeType
	}
	if mimeType, ok := defaultMimeTypes[ext]; ok {
		return mimeType
	}
	if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		return mimeType
	}
	return defaultOctetStreamMimeType
}
