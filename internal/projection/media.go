package projection

import (
	"net/url"
	"strings"

	"github.com/JonMunkholm/fieldexport/internal/schema"
)

// mediaFormats is the stored rendition served for each media type.
var mediaFormats = map[schema.InputType]string{
	schema.TypePhoto: "entry_original",
	schema.TypeVideo: "video",
	schema.TypeAudio: "audio",
}

// MediaURL builds the download link of a media answer. Query parameters keep
// a fixed type, format, name order.
func MediaURL(baseURL, projectSlug string, t schema.InputType, filename string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(baseURL, "/"))
	b.WriteString("/api/export/media/")
	b.WriteString(url.PathEscape(projectSlug))
	b.WriteString("?type=")
	b.WriteString(url.QueryEscape(string(t)))
	b.WriteString("&format=")
	b.WriteString(url.QueryEscape(mediaFormats[t]))
	b.WriteString("&name=")
	b.WriteString(url.QueryEscape(filename))
	return b.String()
}
