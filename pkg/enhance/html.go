package enhance

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	htmlSniffLimit   = 512
	htmlExcerptLimit = 300
)

// HTMLResponseError reports that the endpoint answered with a web page. It
// usually means a proxy or anti-bot wall intercepted the request.
type HTMLResponseError struct {
	StatusCode int
	URL        string
	Excerpt    string
}

func (e *HTMLResponseError) Error() string {
	return fmt.Sprintf("endpoint %s returned an HTML page (HTTP %d): %s", e.URL, e.StatusCode, e.Excerpt)
}

// htmlGuard inspects every response before the SDK decodes it and turns HTML
// pages into HTMLResponseError, whatever their status code.
func htmlGuard() option.Middleware {
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		resp, err := next(req)
		if err != nil || resp == nil || resp.Body == nil {
			return resp, err
		}

		isHTML := isHTMLContentType(resp.Header.Get("Content-Type"))
		if !isHTML {
			// mislabelled pages are caught by sniffing the first bytes
			head, err := peek(resp, htmlSniffLimit)
			if err != nil {
				return resp, nil
			}
			isHTML = !startsLikeJSON(head) && looksLikeHTMLDocument(string(head))
		}
		if !isHTML {
			return resp, nil
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTMLResponseError{
			StatusCode: resp.StatusCode,
			URL:        req.URL.String(),
			Excerpt:    htmlExcerpt(string(body)),
		}
	}
}

func isHTMLContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func startsLikeJSON(b []byte) bool {
	trimmed := bytes.TrimSpace(b)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// peek reads up to n bytes and puts them back in front of the body.
func peek(resp *http.Response, n int) ([]byte, error) {
	head := make([]byte, n)
	read, err := io.ReadFull(resp.Body, head)
	head = head[:read]
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), resp.Body), resp.Body}
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return head, nil
}

// htmlExcerpt renders the page as markdown and keeps the beginning, which is
// usually enough to tell a captcha from a login wall.
func htmlExcerpt(html string) string {
	converter := md.NewConverter("", true, nil)
	text, err := converter.ConvertString(html)
	if err != nil {
		text = html
	}
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > htmlExcerptLimit {
		cut := htmlExcerptLimit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return text
}
