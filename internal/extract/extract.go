// File: internal/extract/extract.go

// Package extract turns a raw HTML document into the structured content the
// engine returns to callers: readable text, form descriptors, links, images
// and headings. Extraction is deterministic: the same document snapshot
// always yields the same output.
package extract

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/voyager/api/schemas"
)

// Limits bounds the size of the extracted content.
type Limits struct {
	MaxTextLen int
	MaxLinks   int
	MaxImages  int
}

// DefaultLimits matches the engine defaults.
var DefaultLimits = Limits{MaxTextLen: 20000, MaxLinks: 50, MaxImages: 20}

// Result is the structured view of one document snapshot.
type Result struct {
	Title     string
	Text      string
	Truncated bool
	Forms     []schemas.FormDescriptor
	Links     []string
	Images    []schemas.ImageInfo
	Headings  []string
}

// Extractor parses and summarizes HTML documents.
type Extractor struct {
	limits Limits
}

// New creates an Extractor. Zero limit fields fall back to DefaultLimits.
func New(limits Limits) *Extractor {
	if limits.MaxTextLen <= 0 {
		limits.MaxTextLen = DefaultLimits.MaxTextLen
	}
	if limits.MaxLinks <= 0 {
		limits.MaxLinks = DefaultLimits.MaxLinks
	}
	if limits.MaxImages <= 0 {
		limits.MaxImages = DefaultLimits.MaxImages
	}
	return &Extractor{limits: limits}
}

// Extract parses rawHTML and builds the structured result. base is the page
// URL used to absolutize references; it must not be nil.
func (e *Extractor) Extract(rawHTML string, base *url.URL) (*Result, error) {
	doc, err := htmlquery.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return e.ExtractNode(doc, base), nil
}

// ExtractNode builds the structured result from an already parsed document.
func (e *Extractor) ExtractNode(doc *html.Node, base *url.URL) *Result {
	res := &Result{
		Title:    e.title(doc),
		Forms:    e.Forms(doc, base),
		Links:    e.Links(doc, base),
		Images:   e.Images(doc, base),
		Headings: e.Headings(doc),
	}
	res.Text, res.Truncated = e.Text(doc)
	return res
}

func (e *Extractor) title(doc *html.Node) string {
	if node := htmlquery.FindOne(doc, "//title"); node != nil {
		return strings.TrimSpace(htmlquery.InnerText(node))
	}
	return ""
}

// Text renders the readable text of the document: script and style subtrees
// are skipped, whitespace is collapsed, and the output is truncated to the
// configured bound. The second return reports whether truncation occurred.
func (e *Extractor) Text(doc *html.Node) (string, bool) {
	var sb strings.Builder
	collectText(doc, &sb)

	collapsed := strings.Join(strings.Fields(sb.String()), " ")
	if len(collapsed) > e.limits.MaxTextLen {
		// Back off to a rune boundary so the cut never splits a multi-byte
		// character.
		cut := e.limits.MaxTextLen
		for cut > 0 && !utf8.RuneStart(collapsed[cut]) {
			cut--
		}
		return collapsed[:cut], true
	}
	return collapsed, false
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript", "template":
			return
		}
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}

// Headings returns the text of h1-h3 elements in document order.
func (e *Extractor) Headings(doc *html.Node) []string {
	headings := []string{}
	for _, node := range htmlquery.Find(doc, "//h1 | //h2 | //h3") {
		if text := strings.TrimSpace(htmlquery.InnerText(node)); text != "" {
			headings = append(headings, text)
		}
	}
	return headings
}

// Forms builds an ordered descriptor for every form on the page. The action
// URL is resolved against base (defaulting to base itself when absent), the
// method defaults to "get", and submit-type inputs are excluded.
func (e *Extractor) Forms(doc *html.Node, base *url.URL) []schemas.FormDescriptor {
	forms := []schemas.FormDescriptor{}
	for _, formNode := range htmlquery.Find(doc, "//form") {
		forms = append(forms, e.describeForm(formNode, base))
	}
	return forms
}

func (e *Extractor) describeForm(formNode *html.Node, base *url.URL) schemas.FormDescriptor {
	action := strings.TrimSpace(htmlquery.SelectAttr(formNode, "action"))
	resolved := base.String()
	if action != "" {
		if abs := absolutize(action, base); abs != "" {
			resolved = abs
		}
	}

	method := strings.ToLower(strings.TrimSpace(htmlquery.SelectAttr(formNode, "method")))
	if method != "post" {
		method = "get"
	}

	fields := []schemas.FieldDescriptor{}
	for _, input := range htmlquery.Find(formNode, ".//input | .//textarea | .//select") {
		field, ok := describeField(input)
		if ok {
			fields = append(fields, field)
		}
	}

	return schemas.FormDescriptor{Action: resolved, Method: method, Fields: fields}
}

func describeField(node *html.Node) (schemas.FieldDescriptor, bool) {
	name := htmlquery.SelectAttr(node, "name")
	switch strings.ToLower(node.Data) {
	case "input":
		inputType := strings.ToLower(htmlquery.SelectAttr(node, "type"))
		if inputType == "" {
			inputType = "text"
		}
		// Submit-style controls are not data-bearing fields.
		switch inputType {
		case "submit", "button", "image", "reset":
			return schemas.FieldDescriptor{}, false
		}
		return schemas.FieldDescriptor{
			Kind:         schemas.FieldInput,
			Name:         name,
			Type:         inputType,
			DefaultValue: htmlquery.SelectAttr(node, "value"),
		}, true
	case "textarea":
		return schemas.FieldDescriptor{
			Kind:         schemas.FieldTextarea,
			Name:         name,
			DefaultValue: strings.TrimSpace(htmlquery.InnerText(node)),
		}, true
	case "select":
		return schemas.FieldDescriptor{
			Kind:         schemas.FieldSelect,
			Name:         name,
			DefaultValue: selectedOption(node),
		}, true
	}
	return schemas.FieldDescriptor{}, false
}

func selectedOption(selectNode *html.Node) string {
	options := htmlquery.Find(selectNode, ".//option")
	if len(options) == 0 {
		return ""
	}
	chosen := options[0]
	for _, opt := range options {
		if htmlquery.SelectAttr(opt, "selected") != "" {
			chosen = opt
			break
		}
	}
	if value := htmlquery.SelectAttr(chosen, "value"); value != "" {
		return value
	}
	return strings.TrimSpace(htmlquery.InnerText(chosen))
}

// Links returns absolutized hrefs in document order, capped at MaxLinks.
func (e *Extractor) Links(doc *html.Node, base *url.URL) []string {
	links := []string{}
	for _, node := range htmlquery.Find(doc, "//a[@href]") {
		href := strings.TrimSpace(htmlquery.SelectAttr(node, "href"))
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(strings.ToLower(href), "javascript:") ||
			strings.HasPrefix(strings.ToLower(href), "mailto:") {
			continue
		}
		if abs := absolutize(href, base); abs != "" {
			links = append(links, abs)
			if len(links) >= e.limits.MaxLinks {
				break
			}
		}
	}
	return links
}

// rasterExtensions are URL suffixes that mark an image as a real raster asset.
var rasterExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".avif", ".bmp"}

// vectorExtensions never produce useful pixel content for callers.
var vectorExtensions = []string{".svg", ".ico"}

// minRelevantDimension is the declared width/height floor for the size
// heuristic.
const minRelevantDimension = 100

// Images collects candidates from <img src>, <picture><source srcset> and
// inline CSS background-image declarations. Data URIs and vector formats are
// discarded. Relevant images sort first, by declared pixel area descending;
// the remainder keep document order. The list is capped at MaxImages.
func (e *Extractor) Images(doc *html.Node, base *url.URL) []schemas.ImageInfo {
	type candidate struct {
		info  schemas.ImageInfo
		area  int
		order int
	}

	seen := map[string]bool{}
	candidates := []candidate{}

	add := func(rawURL string, node *html.Node) {
		info, ok := e.describeImage(rawURL, node, base)
		if !ok || seen[info.URL] {
			return
		}
		seen[info.URL] = true
		candidates = append(candidates, candidate{
			info:  info,
			area:  info.Width * info.Height,
			order: len(candidates),
		})
	}

	for _, node := range htmlquery.Find(doc, "//img[@src]") {
		add(htmlquery.SelectAttr(node, "src"), node)
	}
	for _, node := range htmlquery.Find(doc, "//picture/source[@srcset]") {
		add(firstSrcsetURL(htmlquery.SelectAttr(node, "srcset")), node)
	}
	for _, node := range htmlquery.Find(doc, "//*[@style]") {
		if bg := backgroundImageURL(htmlquery.SelectAttr(node, "style")); bg != "" {
			add(bg, node)
		}
	}

	// Relevant first, largest declared area first; irrelevant trail in
	// document order.
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.info.Relevant != b.info.Relevant {
			return a.info.Relevant
		}
		if a.info.Relevant && a.area != b.area {
			return a.area > b.area
		}
		return a.order < b.order
	})

	images := []schemas.ImageInfo{}
	for _, c := range candidates {
		images = append(images, c.info)
		if len(images) >= e.limits.MaxImages {
			break
		}
	}
	return images
}

func (e *Extractor) describeImage(rawURL string, node *html.Node, base *url.URL) (schemas.ImageInfo, bool) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" || strings.HasPrefix(strings.ToLower(rawURL), "data:") {
		return schemas.ImageInfo{}, false
	}
	abs := absolutize(rawURL, base)
	if abs == "" || hasAnySuffix(abs, vectorExtensions) {
		return schemas.ImageInfo{}, false
	}

	info := schemas.ImageInfo{
		URL:    abs,
		Alt:    strings.TrimSpace(htmlquery.SelectAttr(node, "alt")),
		Width:  atoiAttr(node, "width"),
		Height: atoiAttr(node, "height"),
	}
	info.Relevant = (info.Width >= minRelevantDimension && info.Height >= minRelevantDimension) ||
		len(info.Alt) >= 10 ||
		hasAnySuffix(abs, rasterExtensions) ||
		hasContentAncestor(node)
	return info, true
}

func hasContentAncestor(node *html.Node) bool {
	for p := node.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		switch strings.ToLower(p.Data) {
		case "article", "figure", "main", "section":
			return true
		}
		if strings.Contains(strings.ToLower(htmlquery.SelectAttr(p, "class")), "content") {
			return true
		}
	}
	return false
}

// firstSrcsetURL picks the first URL out of a srcset declaration.
func firstSrcsetURL(srcset string) string {
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}

// backgroundImageURL pulls url(...) out of an inline background-image
// declaration, if present.
func backgroundImageURL(style string) string {
	lower := strings.ToLower(style)
	idx := strings.Index(lower, "background-image")
	if idx < 0 {
		return ""
	}
	rest := style[idx:]
	start := strings.Index(rest, "url(")
	if start < 0 {
		return ""
	}
	rest = rest[start+len("url("):]
	end := strings.Index(rest, ")")
	if end < 0 {
		return ""
	}
	return strings.Trim(strings.TrimSpace(rest[:end]), `'"`)
}

func atoiAttr(node *html.Node, attr string) int {
	value := strings.TrimSuffix(strings.TrimSpace(htmlquery.SelectAttr(node, attr)), "px")
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func hasAnySuffix(rawURL string, suffixes []string) bool {
	parsed, err := url.Parse(rawURL)
	path := strings.ToLower(rawURL)
	if err == nil {
		path = strings.ToLower(parsed.Path)
	}
	for _, suffix := range suffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// absolutize resolves ref against base and returns the absolute form, or ""
// when the reference cannot be resolved to http(s).
func absolutize(ref string, base *url.URL) string {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	resolved := parsed
	if base != nil {
		resolved = base.ResolveReference(parsed)
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}
