package media

import (
	"mime"
	"strings"
)

// AttachmentKind discriminates the raw attachment shapes a chat service delivers.
type AttachmentKind int

const (
	AttachmentDocument AttachmentKind = iota
	AttachmentPhoto
	AttachmentWebPage
)

// VariantKind describes how a resolution variant reports its size.
type VariantKind int

const (
	// VariantSized reports an explicit byte size.
	VariantSized VariantKind = iota
	// VariantCached carries its bytes inline.
	VariantCached
	// VariantStripped is a tiny inline preview.
	VariantStripped
	// VariantProgressive lists the sizes of its progressive scans.
	VariantProgressive
)

// SizeVariant is one encoding of an image (a photo size or a thumbnail).
type SizeVariant struct {
	Kind  VariantKind
	Size  int64
	Bytes []byte
	Sizes []int64
}

// Attachment is the transport-neutral descriptor of a message's media.
type Attachment struct {
	Kind     AttachmentKind
	MimeType string
	// ExtHint is an extension suggested by the sender, e.g. from a file name.
	ExtHint string
	// Size is the reported size of a document.
	Size int64
	// Variants are the resolution variants of a photo or web page preview.
	Variants []SizeVariant
	// Thumbs are the thumbnail variants of a document.
	Thumbs []SizeVariant

	URL         string
	Title       string
	Description string
}

// Classification is the result of classifying an attachment.
type Classification struct {
	Type FileType
	Ext  string
	Size int64
}

// Classify derives the file type, extension and size of an attachment.
// When thumbnail is set the document's thumbnail variant is described instead.
// It never fails: anything unrecognized is Unknown.
func Classify(a *Attachment, thumbnail bool) Classification {
	if a == nil {
		return Classification{Type: Unknown, Ext: Unknown.Ext()}
	}

	ft := classifyType(a, thumbnail)
	ext := ft.Ext()
	if ft == Unknown {
		ext = unknownExt(a)
	}
	return Classification{Type: ft, Ext: ext, Size: attachmentSize(a, thumbnail)}
}

func classifyType(a *Attachment, thumbnail bool) FileType {
	switch a.Kind {
	case AttachmentPhoto:
		return Photo
	case AttachmentWebPage:
		return WebPage
	}

	mt := strings.ToLower(a.MimeType)
	switch {
	case strings.HasPrefix(mt, "image/"):
		return Image
	case strings.HasPrefix(mt, "audio/"):
		return Audio
	case strings.HasPrefix(mt, "video/") && !thumbnail:
		return Video
	case thumbnail && len(a.Thumbs) > 0:
		return Thumbnail
	}
	return Unknown
}

func unknownExt(a *Attachment) string {
	if hint := strings.TrimSpace(a.ExtHint); hint != "" {
		if !strings.HasPrefix(hint, ".") {
			hint = "." + hint
		}
		return strings.ToLower(hint)
	}
	if a.MimeType != "" {
		if exts, err := mime.ExtensionsByType(a.MimeType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	return Unknown.Ext()
}

func attachmentSize(a *Attachment, thumbnail bool) int64 {
	switch a.Kind {
	case AttachmentPhoto, AttachmentWebPage:
		return MaxVariantSize(a.Variants)
	}
	if thumbnail && len(a.Thumbs) > 0 {
		return MaxVariantSize(a.Thumbs)
	}
	return a.Size
}

// MaxVariantSize returns the largest size reported by any variant.
func MaxVariantSize(variants []SizeVariant) int64 {
	var largest int64
	for _, v := range variants {
		var size int64
		switch v.Kind {
		case VariantSized:
			size = v.Size
		case VariantCached, VariantStripped:
			size = int64(len(v.Bytes))
		case VariantProgressive:
			for _, s := range v.Sizes {
				size = max(size, s)
			}
		}
		largest = max(largest, size)
	}
	return largest
}
