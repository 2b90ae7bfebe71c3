// Package epg synthesizes an XMLTV guide for a channel catalog. Live
// streams have no real schedule, so each channel gets one 24-hour programme
// block per day for the next seven days, anchored at UTC midnight.
package epg

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/hometuner/hometuner/internal/catalog"
)

const timeLayout = "20060102150405"

// Filename returns the guide artifact name for a channel document stem.
func Filename(stem string) string { return stem + "_epg.xml" }

type tv struct {
	XMLName      xml.Name    `xml:"tv"`
	Generator    string      `xml:"generator-info-name,attr"`
	GeneratorURL string      `xml:"generator-info-url,attr"`
	Channels     []tvChannel `xml:"channel"`
	Programmes   []programme `xml:"programme"`
}

type tvChannel struct {
	ID           string   `xml:"id,attr"`
	DisplayNames []string `xml:"display-name"`
	Icon         *icon    `xml:"icon,omitempty"`
}

type icon struct {
	Src string `xml:"src,attr"`
}

type programme struct {
	Start   string  `xml:"start,attr"`
	Stop    string  `xml:"stop,attr"`
	Channel string  `xml:"channel,attr"`
	Title   langStr `xml:"title"`
	Desc    langStr `xml:"desc"`
	Icon    *icon   `xml:"icon,omitempty"`
}

type langStr struct {
	Lang  string `xml:"lang,attr"`
	Value string `xml:",chardata"`
}

// Build renders the XMLTV guide. Channels appear in catalog order and every
// channel is included; ids are always set because the catalog derives one
// from the name when the document has no tvg-id. Output is deterministic
// for a given catalog, base URL, and now.
func Build(cat *catalog.Catalog, baseURL string, now time.Time) ([]byte, error) {
	doc := tv{
		Generator:    "hometuner",
		GeneratorURL: baseURL,
	}
	for _, ch := range cat.Channels {
		entry := tvChannel{
			ID:           ch.GuideID,
			DisplayNames: []string{ch.GuideName, fmt.Sprintf("%d", ch.Number)},
		}
		if ch.LogoURL != "" {
			entry.Icon = &icon{Src: ch.LogoURL}
		}
		doc.Channels = append(doc.Channels, entry)
	}

	// Midnight-anchored day blocks keep regeneration within the same day
	// byte-stable.
	day := now.UTC().Truncate(24 * time.Hour)
	for _, ch := range cat.Channels {
		for d := 0; d < 7; d++ {
			start := day.AddDate(0, 0, d)
			stop := start.Add(24 * time.Hour)
			p := programme{
				Start:   start.Format(timeLayout) + " +0000",
				Stop:    stop.Format(timeLayout) + " +0000",
				Channel: ch.GuideID,
				Title:   langStr{Lang: "en", Value: ch.GuideName + " - Live"},
				Desc:    langStr{Lang: "en", Value: "Live stream from " + ch.Name},
			}
			if ch.LogoURL != "" {
				p.Icon = &icon{Src: ch.LogoURL}
			}
			doc.Programmes = append(doc.Programmes, p)
		}
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal xmltv: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	buf.WriteString(`<!DOCTYPE tv SYSTEM "xmltv.dtd">` + "\n")
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
