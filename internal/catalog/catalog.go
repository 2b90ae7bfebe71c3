// Package catalog loads the operator's channel document and publishes it to
// the rest of the tuner. A catalog is immutable once built; readers always
// see either the previous complete catalog or the new complete one.
package catalog

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Channel lists are small; refuse runaway input before the decoder sees it.
const maxDocumentSize = 8 << 20

// Channel is one tunable entry from the channel document.
type Channel struct {
	Name       string // display name
	GuideID    string // XMLTV channel id; derived from Name when tvg-id absent
	GuideName  string // guide display name; defaults to Name
	LogoURL    string
	GroupTitle string
	Number     int    // positive, unique within a catalog
	SourceURL  string // upstream live-stream URL, always set
}

// Catalog is an immutable snapshot of the channel document, in document order.
type Catalog struct {
	Channels   []Channel
	SourceName string // document filename stem; names generated artifacts
	LoadedAt   time.Time
}

// ByNumber returns the channels sorted by channel number ascending.
func (c *Catalog) ByNumber() []Channel {
	out := make([]Channel, len(c.Channels))
	copy(out, c.Channels)
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// CatalogError reports an unusable channel document. A load that fails with
// CatalogError leaves the previously published catalog and any generated
// artifacts untouched.
type CatalogError struct {
	Reason string
	Err    error
}

func (e *CatalogError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("catalog: %s: %v", e.Reason, e.Err)
	}
	return "catalog: " + e.Reason
}

func (e *CatalogError) Unwrap() error { return e.Err }

type xmlChannel struct {
	Name      string `xml:"channel-name"`
	GuideID   string `xml:"tvg-id"`
	GuideName string `xml:"tvg-name"`
	Logo      string `xml:"tvg-logo"`
	Group     string `xml:"group-title"`
	Number    string `xml:"channel-number"`
	Source    string `xml:"youtube-url"`
}

type xmlDocument struct {
	Channels []xmlChannel `xml:"channel"`
}

// Parse reads a channel document. Channel numbering is resolved in two
// passes: explicit channel-number values are reserved first (collisions and
// non-positive values are errors), then each unnumbered channel gets the
// smallest positive number not yet taken, in document order.
func Parse(r io.Reader) ([]Channel, error) {
	dec := xml.NewDecoder(io.LimitReader(r, maxDocumentSize))
	dec.Strict = true
	// Disable entity expansion; the document is operator-supplied but may be
	// assembled from untrusted sources.
	dec.Entity = make(map[string]string)

	var doc xmlDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, &CatalogError{Reason: "malformed channel document", Err: err}
	}

	channels := make([]Channel, 0, len(doc.Channels))
	used := make(map[int]string, len(doc.Channels)) // number -> channel name
	for i, xc := range doc.Channels {
		ch := Channel{
			Name:       strings.TrimSpace(xc.Name),
			GuideID:    strings.TrimSpace(xc.GuideID),
			GuideName:  strings.TrimSpace(xc.GuideName),
			LogoURL:    strings.TrimSpace(xc.Logo),
			GroupTitle: strings.TrimSpace(xc.Group),
			SourceURL:  strings.TrimSpace(xc.Source),
		}
		if ch.Name == "" {
			ch.Name = "Unknown"
		}
		if ch.GuideName == "" {
			ch.GuideName = ch.Name
		}
		if ch.GroupTitle == "" {
			ch.GroupTitle = "General"
		}
		if ch.GuideID == "" {
			ch.GuideID = slugify(ch.Name)
		}
		if ch.SourceURL == "" {
			return nil, &CatalogError{Reason: fmt.Sprintf("channel %q (entry %d): missing youtube-url", ch.Name, i+1)}
		}
		if raw := strings.TrimSpace(xc.Number); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return nil, &CatalogError{Reason: fmt.Sprintf("channel %q: invalid channel-number %q", ch.Name, raw)}
			}
			if prev, taken := used[n]; taken {
				return nil, &CatalogError{Reason: fmt.Sprintf("channel-number %d assigned to both %q and %q", n, prev, ch.Name)}
			}
			used[n] = ch.Name
			ch.Number = n
		}
		channels = append(channels, ch)
	}

	next := 1
	for i := range channels {
		if channels[i].Number != 0 {
			continue
		}
		for {
			if _, taken := used[next]; !taken {
				break
			}
			next++
		}
		used[next] = channels[i].Name
		channels[i].Number = next
	}
	return channels, nil
}

// LoadFile parses the channel document at path into a Catalog. A missing
// file is reported as a CatalogError wrapping the fs error, so callers can
// still match it with errors.Is(err, fs.ErrNotExist).
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, &CatalogError{Reason: fmt.Sprintf("open %s", path), Err: err}
	}
	defer f.Close()
	channels, err := Parse(f)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(path)
	return &Catalog{
		Channels:   channels,
		SourceName: strings.TrimSuffix(base, filepath.Ext(base)),
		LoadedAt:   time.Now(),
	}, nil
}

// slugify derives a guide id from a channel name: lowercase, runs of
// non-alphanumerics collapsed to a single dash.
func slugify(name string) string {
	var b strings.Builder
	dash := true
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
		} else if !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "channel"
	}
	return s
}
