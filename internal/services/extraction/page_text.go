package extraction

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// bindingName is the page-side function the collection routine posts through
const bindingName = "spongePost"

// pageTextScript is evaluated in the page as pageTextScript(request, settleMs).
// It mirrors CollectText and posts {id, url, text} through the binding.
const pageTextScript = `(function (req, settleMs) {
  var ignore = (req.ignore || []).map(function (n) { return n.toUpperCase(); });
  function rec(el) {
    var text = "";
    for (var i = 0; i < el.childNodes.length; i++) {
      var ch = el.childNodes[i];
      if (ch.nodeType === Node.TEXT_NODE) {
        text += ch.nodeValue;
      } else if (ch.nodeType === Node.ELEMENT_NODE && ignore.indexOf(ch.nodeName.toUpperCase()) < 0) {
        text += rec(ch);
      }
    }
    return text;
  }
  setTimeout(function () {
    var root = document.body || document.documentElement;
    var text = root ? rec(root) : "";
    text = text.replace(/[\r\n\t]/g, " ").replace(/\s{2,}/g, " ").trim();
    window.` + bindingName + `(JSON.stringify({ id: req.id, url: req.url || window.location.href, text: text }));
  }, settleMs);
})`

var (
	controlChars = regexp.MustCompile(`[\r\n\t]`)
	spaceRuns    = regexp.MustCompile(`\s{2,}`)
)

// NormalizeText turns CR/LF/TAB into spaces, collapses whitespace runs and trims
func NormalizeText(s string) string {
	s = controlChars.ReplaceAllString(s, " ")
	s = spaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// CollectText concatenates the text nodes of the document body, skipping the
// whole subtree of any element named in ignore, and normalizes the result.
func CollectText(doc *goquery.Document, ignore []string) string {
	skip := make(map[string]struct{}, len(ignore))
	for _, name := range ignore {
		skip[strings.ToUpper(strings.TrimSpace(name))] = struct{}{}
	}

	roots := doc.Find("body").Nodes
	if len(roots) == 0 {
		roots = doc.Nodes
	}

	var b strings.Builder
	for _, root := range roots {
		collectNode(&b, root, skip)
	}
	return NormalizeText(b.String())
}

func collectNode(b *strings.Builder, n *html.Node, skip map[string]struct{}) {
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		switch ch.Type {
		case html.TextNode:
			b.WriteString(ch.Data)
		case html.ElementNode:
			if _, ignored := skip[strings.ToUpper(ch.Data)]; ignored {
				continue
			}
			collectNode(b, ch, skip)
		}
	}
}
