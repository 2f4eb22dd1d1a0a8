package archive

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/matheus3301/wpp-archive/internal/aggregate"
	"github.com/matheus3301/wpp-archive/internal/media"
	"github.com/matheus3301/wpp-archive/internal/store"
)

var pageTemplate = template.Must(template.New("group").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.DialogTitle}} - {{.Date}}</title>
</head>
<body>
<h1>{{.DialogTitle}}</h1>
<p class="date">{{.Date}}{{if .SenderID}} &middot; {{.SenderID}}{{end}}</p>
{{if .Tags}}<p class="tags">{{range .Tags}}<span class="tag">{{.}}</span> {{end}}</p>{{end}}
<div class="text">{{.Body}}</div>
{{range .Files}}<div class="file">
{{- if eq .Kind "image"}}<img src="{{.Href}}" alt="{{.Label}}">
{{- else if eq .Kind "video"}}<video src="{{.Href}}" controls></video>
{{- else if eq .Kind "audio"}}<audio src="{{.Href}}" controls></audio>
{{- else}}<a href="{{.Href}}">{{.Label}}</a>{{end}}
</div>
{{end}}</body>
</html>
`))

type pageFile struct {
	Href  string
	Label string
	Kind  string
}

type page struct {
	DialogTitle string
	Date        string
	SenderID    string
	Tags        []string
	Body        template.HTML
	Files       []pageFile
}

// Exporter renders archived groups into standalone HTML pages.
type Exporter struct {
	db   *store.DB
	root string
	loc  *time.Location
}

// NewExporter creates an exporter writing under the media root.
func NewExporter(db *store.DB, root string, loc *time.Location) *Exporter {
	if loc == nil {
		loc = time.Local
	}
	return &Exporter{db: db, root: root, loc: loc}
}

// Export renders the stored group to rel, replacing any existing page.
func (e *Exporter) Export(ctx context.Context, groupedID, rel string) error {
	g, err := e.db.GetGroup(ctx, groupedID)
	if err != nil {
		return err
	}

	p := page{
		DialogTitle: g.DialogTitle,
		Date:        g.Date.In(e.loc).Format("2006-01-02 15:04:05"),
		SenderID:    g.SenderID,
		Tags:        g.Tags,
		// ConvertLinks escapes the text before inserting anchors.
		Body: template.HTML(aggregate.ConvertLinks(g.Text)),
	}
	pageDir := filepath.Dir(filepath.FromSlash(rel))
	for _, f := range g.Files {
		if f.Type == media.Content {
			continue
		}
		href, err := filepath.Rel(pageDir, filepath.FromSlash(f.Path))
		if err != nil {
			href = f.Path
		}
		p.Files = append(p.Files, pageFile{Href: filepath.ToSlash(href), Label: f.Type.Label(), Kind: fileKind(f.Type)})
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, p); err != nil {
		return fmt.Errorf("render %s: %w", rel, err)
	}
	return writeFileAtomic(filepath.Join(e.root, filepath.FromSlash(rel)), buf.Bytes(), 0644)
}

// Regenerate rebuilds the page stored at rel from the archive.
func (e *Exporter) Regenerate(ctx context.Context, rel string) error {
	f, err := e.db.FileByPath(ctx, rel)
	if err != nil {
		return err
	}
	if f.Type != media.Content {
		return fmt.Errorf("regenerate %s: not an exported page", rel)
	}
	return e.Export(ctx, f.GroupedID, rel)
}

func fileKind(t media.FileType) string {
	switch t {
	case media.Photo, media.Image, media.Thumbnail, media.WebPage:
		return "image"
	case media.Video:
		return "video"
	case media.Audio:
		return "audio"
	}
	return "file"
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+stagingMarker+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
