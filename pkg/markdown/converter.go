package markdown

import (
	"strings"

	"github.com/russross/blackfriday/v2"
)

const htmlFlags = blackfriday.SkipHTML | blackfriday.Safelink | blackfriday.NofollowLinks |
	blackfriday.NoreferrerLinks | blackfriday.HrefTargetBlank

// ToHTML renders a model reply written in Markdown as an HTML fragment for the
// website widget. Raw HTML in the reply is dropped and only safe link schemes
// survive, since the text originates from the model.
func ToHTML(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}

	renderer := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{
		Flags: htmlFlags,
	})
	html := blackfriday.Run([]byte(markdown),
		blackfriday.WithExtensions(blackfriday.CommonExtensions),
		blackfriday.WithRenderer(renderer),
	)

	return strings.TrimSpace(string(html))
}
