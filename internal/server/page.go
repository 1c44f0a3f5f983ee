package server

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/message"

	"grimm.is/knockgate/internal/i18n"
	"grimm.is/knockgate/internal/logging"
)

// PageTimeLayout formats the timestamp shown on the page.
const PageTimeLayout = "2006.01.02 15:04:05"

// PageData is what a page template can render.
type PageData struct {
	Title          string
	Message        string
	Lines          []string
	Address        string
	AddressCaption string
	Timestamp      string
	TimeCaption    string
}

const defaultPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
html, body { height: 100%; background-color: #eee; font-family: "Times New Roman", serif; font-size: 3vh; margin: 0 2vw; }
.container { display: flex; justify-content: center; height: 100%; flex-direction: column; align-items: center; text-align: center; }
.info { font-size: .5rem; font-family: Verdana, Geneva, Tahoma, sans-serif; }
hr { width: min(46vh, 50vw); }
</style>
</head>
<body>
<div class="container">
<p>{{range $i, $l := .Lines}}{{if $i}}<br>{{end}}{{$l}}{{end}}</p>
<hr>
<p class="info">{{.AddressCaption}}: {{.Address}}<br>{{.TimeCaption}}: {{.Timestamp}}</p>
</div>
</body>
</html>
`

var defaultTemplate = template.Must(template.New("page").Parse(defaultPage))

// pages renders the knock page with the default template or a
// configured template file. Parsed files are cached by path.
type pages struct {
	mu     sync.Mutex
	cache  map[string]*template.Template
	logger *logging.Logger
}

func newPages(logger *logging.Logger) *pages {
	return &pages{cache: make(map[string]*template.Template), logger: logger}
}

func (p *pages) template(path string) *template.Template {
	if path == "" {
		return defaultTemplate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.cache[path]; ok {
		return t
	}
	t, err := loadTemplate(path)
	if err != nil {
		p.logger.Warn("page template unusable, using the built-in page", "path", path, "error", err)
		t = defaultTemplate
	}
	p.cache[path] = t
	return t
}

func loadTemplate(path string) (*template.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return template.New("page").Parse(string(data))
}

// render fills the page for one answer.
func (p *pages) render(path string, pr *message.Printer, msg, addr string, now time.Time) ([]byte, error) {
	data := PageData{
		Title:          pr.Sprintf(i18n.PageTitle),
		Message:        msg,
		Lines:          strings.Split(msg, "\n"),
		Address:        addr,
		AddressCaption: pr.Sprintf(i18n.AddressCaption),
		Timestamp:      now.Format(PageTimeLayout),
		TimeCaption:    pr.Sprintf(i18n.TimeCaption),
	}
	var buf bytes.Buffer
	if err := p.template(path).Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return buf.Bytes(), nil
}
