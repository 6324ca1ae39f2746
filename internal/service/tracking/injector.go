package tracking

import (
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Injector rewrites outgoing HTML for open and click tracking.
type Injector struct {
	signer *Signer
}

// NewInjector creates an injector that signs URLs with signer.
func NewInjector(signer *Signer) *Injector {
	return &Injector{signer: signer}
}

// Decorate appends the open pixel and rewrites http(s) links for one
// recipient. With both flags off the content is returned untouched.
func (in *Injector) Decorate(content, emailID, recipient string, opens, clicks bool) (string, error) {
	if !opens && !clicks {
		return content, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	if clicks {
		doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			href = strings.TrimSpace(href)
			lower := strings.ToLower(href)
			if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
				return
			}
			a.SetAttr("href", in.signer.ClickURL(emailID, recipient, href))
		})
	}

	if opens {
		pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none;border:0" />`,
			html.EscapeString(in.signer.PixelURL(emailID, recipient)))
		doc.Find("body").AppendHtml(pixel)
	}

	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return out, nil
}
