package catalog

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleDoc = `<channels>
  <channel>
    <channel-name>News 24</channel-name>
    <tvg-id>news24.example</tvg-id>
    <tvg-name>News24</tvg-name>
    <tvg-logo>http://logos.example/news24.png</tvg-logo>
    <group-title>News</group-title>
    <channel-number>5</channel-number>
    <youtube-url>https://www.youtube.com/watch?v=news24</youtube-url>
  </channel>
  <channel>
    <channel-name>Music Hits</channel-name>
    <youtube-url>https://www.youtube.com/watch?v=hits</youtube-url>
  </channel>
</channels>`

func TestParse(t *testing.T) {
	channels, err := Parse(strings.NewReader(sampleDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("channels: %d", len(channels))
	}
	first := channels[0]
	if first.Name != "News 24" || first.GuideID != "news24.example" || first.GuideName != "News24" {
		t.Errorf("first channel fields: %+v", first)
	}
	if first.LogoURL != "http://logos.example/news24.png" || first.GroupTitle != "News" {
		t.Errorf("first channel logo/group: %+v", first)
	}
	if first.Number != 5 {
		t.Errorf("explicit number: got %d", first.Number)
	}
	second := channels[1]
	if second.GuideName != "Music Hits" {
		t.Errorf("GuideName should default to name; got %q", second.GuideName)
	}
	if second.GroupTitle != "General" {
		t.Errorf("GroupTitle should default to General; got %q", second.GroupTitle)
	}
	if second.GuideID != "music-hits" {
		t.Errorf("derived guide id: got %q", second.GuideID)
	}
}

// One explicit 5 plus one unnumbered must come out as {1, 5}, not {5, 6}.
func TestParse_autoNumberFillsGaps(t *testing.T) {
	channels, err := Parse(strings.NewReader(sampleDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if channels[1].Number != 1 {
		t.Errorf("auto number: got %d, want 1", channels[1].Number)
	}
}

func TestParse_autoNumberSkipsReserved(t *testing.T) {
	doc := `<channels>
  <channel><channel-name>A</channel-name><channel-number>2</channel-number><youtube-url>http://a</youtube-url></channel>
  <channel><channel-name>B</channel-name><youtube-url>http://b</youtube-url></channel>
  <channel><channel-name>C</channel-name><channel-number>3</channel-number><youtube-url>http://c</youtube-url></channel>
  <channel><channel-name>D</channel-name><youtube-url>http://d</youtube-url></channel>
</channels>`
	channels, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := []int{channels[0].Number, channels[1].Number, channels[2].Number, channels[3].Number}
	want := []int{2, 1, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("numbers: got %v, want %v", got, want)
		}
	}
}

func TestParse_missingSourceURL(t *testing.T) {
	doc := `<channels><channel><channel-name>Broken</channel-name></channel></channels>`
	_, err := Parse(strings.NewReader(doc))
	var cerr *CatalogError
	if !errors.As(err, &cerr) {
		t.Fatalf("want CatalogError, got %v", err)
	}
	if !strings.Contains(cerr.Reason, "Broken") {
		t.Errorf("error should name the channel: %v", cerr)
	}
}

func TestParse_numberCollision(t *testing.T) {
	doc := `<channels>
  <channel><channel-name>A</channel-name><channel-number>7</channel-number><youtube-url>http://a</youtube-url></channel>
  <channel><channel-name>B</channel-name><channel-number>7</channel-number><youtube-url>http://b</youtube-url></channel>
</channels>`
	_, err := Parse(strings.NewReader(doc))
	var cerr *CatalogError
	if !errors.As(err, &cerr) {
		t.Fatalf("want CatalogError, got %v", err)
	}
	if !strings.Contains(cerr.Reason, `"A"`) || !strings.Contains(cerr.Reason, `"B"`) {
		t.Errorf("collision error should name both channels: %v", cerr)
	}
}

func TestParse_invalidNumber(t *testing.T) {
	for _, bad := range []string{"0", "-1", "abc", "1.5"} {
		doc := `<channels><channel><channel-name>X</channel-name><channel-number>` + bad +
			`</channel-number><youtube-url>http://x</youtube-url></channel></channels>`
		if _, err := Parse(strings.NewReader(doc)); err == nil {
			t.Errorf("number %q: want error", bad)
		}
	}
}

func TestParse_malformed(t *testing.T) {
	_, err := Parse(strings.NewReader(`<channels><channel>`))
	var cerr *CatalogError
	if !errors.As(err, &cerr) {
		t.Fatalf("want CatalogError, got %v", err)
	}
}

func TestParse_entityExpansionDisabled(t *testing.T) {
	doc := `<!DOCTYPE channels [<!ENTITY e "boom">]>
<channels><channel><channel-name>&e;</channel-name><youtube-url>http://x</youtube-url></channel></channels>`
	if _, err := Parse(strings.NewReader(doc)); err == nil {
		t.Fatal("custom entities should be rejected")
	}
}

func TestParse_missingNameTolerated(t *testing.T) {
	doc := `<channels><channel><youtube-url>http://x</youtube-url></channel></channels>`
	channels, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if channels[0].Name != "Unknown" {
		t.Errorf("name: got %q", channels[0].Name)
	}
	if channels[0].GuideID != "unknown" {
		t.Errorf("guide id: got %q", channels[0].GuideID)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mylinks.xml")
	if err := os.WriteFile(path, []byte(sampleDoc), 0644); err != nil {
		t.Fatal(err)
	}
	cat, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cat.SourceName != "mylinks" {
		t.Errorf("SourceName: got %q", cat.SourceName)
	}
	if len(cat.Channels) != 2 {
		t.Errorf("channels: %d", len(cat.Channels))
	}
	if cat.LoadedAt.IsZero() {
		t.Error("LoadedAt not set")
	}
}

func TestLoadFile_missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.xml"))
	var cerr *CatalogError
	if !errors.As(err, &cerr) {
		t.Fatalf("want CatalogError, got %v", err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("should wrap fs.ErrNotExist: %v", err)
	}
}

func TestByNumber(t *testing.T) {
	cat := &Catalog{Channels: []Channel{
		{Name: "C", Number: 9},
		{Name: "A", Number: 1},
		{Name: "B", Number: 4},
	}}
	sorted := cat.ByNumber()
	if sorted[0].Name != "A" || sorted[1].Name != "B" || sorted[2].Name != "C" {
		t.Errorf("sort order: %v", sorted)
	}
	// Original slice untouched.
	if cat.Channels[0].Name != "C" {
		t.Error("ByNumber must not mutate the catalog")
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"News 24":        "news-24",
		"  A -- B  ":     "a-b",
		"UPPER":          "upper",
		"!!!":            "channel",
		"Tagesschau24 +": "tagesschau24",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStore(t *testing.T) {
	var s Store
	if s.Current() != nil {
		t.Fatal("empty store should return nil")
	}
	cat := &Catalog{SourceName: "x"}
	s.Swap(cat)
	if s.Current() != cat {
		t.Fatal("swap not visible")
	}
}
