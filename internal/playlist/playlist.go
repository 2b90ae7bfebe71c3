// Package playlist renders the M3U playlist for a channel catalog.
package playlist

import (
	"bytes"
	"fmt"
	"net/url"

	"github.com/hometuner/hometuner/internal/catalog"
)

// Filename returns the playlist artifact name for a channel document stem.
func Filename(stem string) string { return stem + ".m3u" }

// Build renders the playlist, channels ordered by number. Output is
// byte-deterministic for a given catalog and base URL; stream URLs point
// back at this tuner's gateway with the upstream URL percent-encoded.
func Build(cat *catalog.Catalog, baseURL string) []byte {
	var buf bytes.Buffer
	buf.WriteString("#EXTM3U\n")
	for _, ch := range cat.ByNumber() {
		fmt.Fprintf(&buf,
			"#EXTINF:-1 tvg-id=\"%s\" tvg-name=\"%s\" tvg-chno=\"%d\" tvg-logo=\"%s\" group-title=\"%s\",%s\n",
			ch.GuideID, ch.GuideName, ch.Number, ch.LogoURL, ch.GroupTitle, ch.Name)
		fmt.Fprintf(&buf, "%s/stream?url=%s\n", baseURL, url.QueryEscape(ch.SourceURL))
	}
	return buf.Bytes()
}
