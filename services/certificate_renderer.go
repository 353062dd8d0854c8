package services

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"text/template"

	"challenge-platform/models"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var rankColors = map[models.Rank]string{
	models.RankBronze:   "#cd7f32",
	models.RankSilver:   "#c0c0c0",
	models.RankGold:     "#d4af37",
	models.RankPlatinum: "#8fd3e8",
}

var certificateTemplate = template.Must(template.New("certificate").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="1200" height="850" viewBox="0 0 1200 850">
  <rect width="1200" height="850" fill="#fdfcf7"/>
  <rect x="30" y="30" width="1140" height="790" fill="none" stroke="{{.Color}}" stroke-width="12"/>
  <text x="600" y="210" font-family="Georgia, serif" font-size="64" text-anchor="middle" fill="#222">Certificate of Achievement</text>
  <text x="600" y="330" font-family="Georgia, serif" font-size="28" text-anchor="middle" fill="#555">This certifies that</text>
  <text x="600" y="430" font-family="Georgia, serif" font-size="56" text-anchor="middle" fill="#111">{{.Name}}</text>
  <text x="600" y="530" font-family="Georgia, serif" font-size="28" text-anchor="middle" fill="#555">has reached the rank of</text>
  <text x="600" y="630" font-family="Georgia, serif" font-size="72" font-weight="bold" text-anchor="middle" fill="{{.Color}}">{{.Rank}}</text>
</svg>
`))

// SVGRenderer draws certificates as standalone SVG documents.
type SVGRenderer struct{}

func (SVGRenderer) Generate(name string, rank models.Rank) ([]byte, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("certificate name is empty: %w", ErrInvalidInput)
	}
	color, ok := rankColors[rank]
	if !ok {
		return nil, fmt.Errorf("rank %q: %w", rank, ErrInvalidInput)
	}

	var buf bytes.Buffer
	err := certificateTemplate.Execute(&buf, struct {
		Name  string
		Rank  string
		Color string
	}{
		Name:  escapeXML(cases.Title(language.English).String(name)),
		Rank:  escapeXML(strings.ToUpper(rank.DisplayName())),
		Color: color,
	})
	if err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}
	return buf.Bytes(), nil
}

func escapeXML(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
