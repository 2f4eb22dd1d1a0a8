package media

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"
)

// replaced holds the characters that are never allowed in a path component.
const replaced = `<>:"/\|?*'` + "`" + `%&()`

// Sanitize makes s safe to use as a single path component on any platform.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		if strings.ContainsRune(replaced, r) || unicode.IsSpace(r) || unicode.IsControl(r) {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), "_")
	out = collapseSpaces(out)
	out = strings.Trim(out, " ")
	return strings.Trim(out, ".")
}

func collapseSpaces(s string) string {
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return s
}

func sanitizeOr(s string) string {
	if clean := Sanitize(s); clean != "" {
		return clean
	}
	return s
}

// PathInput identifies one file of one message.
type PathInput struct {
	DialogTitle string
	DialogID    int64
	GroupKey    string
	Date        time.Time
	Type        FileType
	// Ordinal distinguishes files of the same group, normally the message id.
	Ordinal int64
	Ext     string
}

// Deriver builds deterministic relative paths for archived files.
type Deriver struct {
	loc *time.Location
}

// NewDeriver returns a deriver rendering dates in loc (time.Local if nil).
func NewDeriver(loc *time.Location) *Deriver {
	if loc == nil {
		loc = time.Local
	}
	return &Deriver{loc: loc}
}

// DialogDir returns the directory that holds every file of a dialog.
func DialogDir(title string, id int64) string {
	return sanitizeOr(fmt.Sprintf("%s_%d", title, id))
}

// DateDir returns the per-day directory for t.
func (d *Deriver) DateDir(t time.Time) string {
	return sanitizeOr(t.In(d.loc).Format("2006-01-02"))
}

// FileName returns HH-MM-SS_sign_group_ordinal.ext for in.
func (d *Deriver) FileName(in PathInput) string {
	ext := in.Ext
	if ext == "" {
		ext = in.Type.Ext()
	}
	name := fmt.Sprintf("%s_%s_%s_%d%s", in.Date.In(d.loc).Format("15-04-05"), in.Type.Sign(), in.GroupKey, in.Ordinal, ext)
	return sanitizeOr(name)
}

// Derive returns the slash-separated path of a file relative to the media root.
func (d *Deriver) Derive(in PathInput) string {
	return path.Join(DialogDir(in.DialogTitle, in.DialogID), d.DateDir(in.Date), d.FileName(in))
}
