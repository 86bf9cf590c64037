package preprocess

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Elements that never carry main content.
const chromeSelector = "script, style, noscript, template, iframe, svg, canvas, form, nav, header, footer, aside, button, select"

var hiddenStyle = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
	regexp.MustCompile(`(?i)font-size\s*:\s*0[^1-9.]`),
}

var (
	spaceRun       = regexp.MustCompile(`[ \t\r\f\v]+`)
	spaceAroundNL  = regexp.MustCompile(` ?\n ?`)
	excessNewlines = regexp.MustCompile(`\n{3,}`)
)

// structurePolicy keeps block structure and text, dropping everything else
// (scripts, styles, comments, attributes, embedded media). A built policy is
// safe for concurrent use.
var structurePolicy = newStructurePolicy()

func newStructurePolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"article", "main", "section", "div", "p", "span", "br", "hr",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li", "dl", "dt", "dd",
		"blockquote", "pre", "code", "em", "strong", "b", "i", "a",
		"table", "thead", "tbody", "tr", "td", "th", "caption",
		"figure", "figcaption",
	)
	return p
}

var blockAtoms = map[atom.Atom]bool{
	atom.Article: true, atom.Main: true, atom.Section: true, atom.Div: true, atom.P: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Ul: true, atom.Ol: true, atom.Dl: true, atom.Blockquote: true, atom.Pre: true,
	atom.Table: true, atom.Figure: true, atom.Hr: true,
}

var lineAtoms = map[atom.Atom]bool{
	atom.Li: true, atom.Tr: true, atom.Dt: true, atom.Dd: true, atom.Caption: true, atom.Figcaption: true,
}

// ExtractMainText strips page chrome from an HTML document and returns the
// main-content text with paragraph breaks preserved as blank lines.
func ExtractMainText(markup string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", err
	}

	doc.Find(chromeSelector).Remove()
	doc.Find(`[hidden], [aria-hidden="true"], [role="navigation"], [role="banner"], [role="contentinfo"]`).Remove()
	doc.Find("[style]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		style, _ := s.Attr("style")
		for _, re := range hiddenStyle {
			if re.MatchString(style) {
				return true
			}
		}
		return false
	}).Remove()

	main := mainContent(doc)
	fragment, err := goquery.OuterHtml(main)
	if err != nil {
		return "", err
	}

	clean := structurePolicy.Sanitize(fragment)
	root, err := html.Parse(strings.NewReader(clean))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	writeText(&sb, root, false)
	return normalizeExtracted(sb.String()), nil
}

// mainContent prefers semantic landmarks, then the element with the most
// paragraph text outside links, then the body.
func mainContent(doc *goquery.Document) *goquery.Selection {
	var best *goquery.Selection
	bestLen := 0
	doc.Find(`article, main, [role="main"]`).Each(func(_ int, s *goquery.Selection) {
		if n := len(strings.TrimSpace(s.Text())); n > bestLen {
			best, bestLen = s, n
		}
	})
	if best != nil && bestLen > 0 {
		return best
	}

	bestScore := 0.0
	doc.Find("div, section, td").Each(func(_ int, s *goquery.Selection) {
		paraText := 0
		s.ChildrenFiltered("p").Each(func(_ int, p *goquery.Selection) {
			paraText += len(strings.TrimSpace(p.Text()))
		})
		if paraText == 0 {
			return
		}
		total := len(strings.TrimSpace(s.Text()))
		links := len(strings.TrimSpace(s.Find("a").Text()))
		linkDensity := 0.0
		if total > 0 {
			linkDensity = float64(links) / float64(total)
		}
		if linkDensity > 0.5 {
			return
		}
		if score := float64(paraText) * (1 - linkDensity); score > bestScore {
			best, bestScore = s, score
		}
	})
	if best != nil {
		return best
	}

	body := doc.Find("body")
	if body.Length() > 0 {
		return body.First()
	}
	return doc.Selection
}

func writeText(sb *strings.Builder, n *html.Node, inPre bool) {
	switch n.Type {
	case html.TextNode:
		if inPre {
			sb.WriteString(n.Data)
		} else {
			sb.WriteString(strings.Join(strings.Fields(n.Data), " "))
			if strings.HasSuffix(n.Data, " ") || strings.HasSuffix(n.Data, "\n") {
				sb.WriteByte(' ')
			}
		}
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		if n.DataAtom == atom.Br {
			sb.WriteByte('\n')
			return
		}
		if n.DataAtom == atom.Pre {
			inPre = true
		}
	}

	block, line := blockAtoms[n.DataAtom], lineAtoms[n.DataAtom]
	if block {
		sb.WriteString("\n\n")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode && !inPre && startsWithSpace(c.Data) && sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		writeText(sb, c, inPre)
	}
	switch {
	case block:
		sb.WriteString("\n\n")
	case line:
		sb.WriteByte('\n')
	}
}

func startsWithSpace(s string) bool {
	return s != "" && (s[0] == ' ' || s[0] == '\n' || s[0] == '\t')
}

func normalizeExtracted(s string) string {
	s = spaceRun.ReplaceAllString(s, " ")
	s = spaceAroundNL.ReplaceAllString(s, "\n")
	s = excessNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
