package capture

import (
	"path"
	"strings"

	"github.com/proxyscope/proxyscope/proxyscope/service/store"
)

// Resource classification values used for filtering.
const (
	ResourceDocument   = "document"
	ResourceStylesheet = "stylesheet"
	ResourceScript     = "script"
	ResourceImage      = "image"
	ResourceMedia      = "media"
	ResourceFont       = "font"
	ResourceXHR        = "xhr"
	ResourceWebSocket  = "websocket"
	ResourceOther      = "other"
)

var extensionTypes = map[string]string{
	".html": ResourceDocument, ".htm": ResourceDocument, ".asp": ResourceDocument,
	".php": ResourceDocument, ".jsp": ResourceDocument,
	".css": ResourceStylesheet,
	".jpg": ResourceImage, ".jpeg": ResourceImage, ".png": ResourceImage,
	".gif": ResourceImage, ".svg": ResourceImage, ".webp": ResourceImage,
	".ico": ResourceImage, ".bmp": ResourceImage,
	".mp4": ResourceMedia, ".mp3": ResourceMedia, ".webm": ResourceMedia,
	".ogg": ResourceMedia, ".wav": ResourceMedia, ".m4a": ResourceMedia,
	".avi": ResourceMedia, ".mov": ResourceMedia,
	".woff": ResourceFont, ".woff2": ResourceFont, ".ttf": ResourceFont,
	".otf": ResourceFont, ".eot": ResourceFont,
	".js": ResourceScript, ".mjs": ResourceScript, ".jsx": ResourceScript,
	".ts": ResourceScript, ".tsx": ResourceScript,
}

// ClassifyResource derives the coarse resource type from the response content
// type, the request URL extension, and marker request headers. Marker headers
// (Upgrade, X-Requested-With) win over content type, content type over
// extension.
func ClassifyResource(contentType, urlPath string, reqHeaders store.Headers) string {
	mime := cleanMIME(contentType)

	if strings.EqualFold(reqHeaders.Get("Upgrade"), "websocket") {
		return ResourceWebSocket
	}
	if strings.EqualFold(reqHeaders.Get("X-Requested-With"), "xmlhttprequest") {
		return ResourceXHR
	}

	ext := strings.ToLower(path.Ext(pathWithoutQuery(urlPath)))

	switch {
	case strings.Contains(mime, "text/html"):
		return ResourceDocument
	case strings.Contains(mime, "text/css"):
		return ResourceStylesheet
	case strings.HasPrefix(mime, "image/"):
		return ResourceImage
	case strings.HasPrefix(mime, "audio/"), strings.HasPrefix(mime, "video/"):
		return ResourceMedia
	case strings.Contains(mime, "font"):
		return ResourceFont
	case strings.Contains(mime, "javascript"), strings.Contains(mime, "ecmascript"):
		return ResourceScript
	case strings.Contains(mime, "json"), strings.Contains(mime, "xml"),
		strings.HasPrefix(mime, "text/plain"):
		// API payloads without an explicit XHR marker
		return ResourceXHR
	}

	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	return ResourceOther
}

// cleanMIME strips parameters like charset and lowercases the media type.
func cleanMIME(contentType string) string {
	mime, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mime))
}

func pathWithoutQuery(p string) string {
	base, _, _ := strings.Cut(p, "?")
	return base
}
