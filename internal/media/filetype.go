package media

// FileType is the closed set of archived file kinds.
// Values are stable and persisted as file_types.file_type_id.
type FileType int

const (
	Photo     FileType = 1
	Image     FileType = 2
	Video     FileType = 3
	Thumbnail FileType = 4
	Audio     FileType = 5
	WebPage   FileType = 6
	Content   FileType = 7
	Unknown   FileType = 10
)

type fileTypeInfo struct {
	name  string
	label string
	ext   string
	sign  string
}

// Thumbnails carry the Video label: in a files report a video preview is a video.
var fileTypes = map[FileType]fileTypeInfo{
	Photo:     {name: "PHOTO", label: "Image", ext: ".jpg", sign: "pho"},
	Image:     {name: "IMAGE", label: "Image", ext: ".jpg", sign: "img"},
	Video:     {name: "VIDEO", label: "Video", ext: ".mp4", sign: "vid"},
	Thumbnail: {name: "THUMBNAIL", label: "Video", ext: ".jpg", sign: "vth"},
	Audio:     {name: "AUDIO", label: "Audio", ext: ".mp4", sign: "aud"},
	WebPage:   {name: "WEBPAGE", label: "Image", ext: ".jpg", sign: "wpg"},
	Content:   {name: "CONTENT", label: "Content", ext: ".html", sign: "ctx"},
	Unknown:   {name: "UNKNOWN", label: "Unknown", ext: ".unk", sign: "unk"},
}

var fileTypeOrder = []FileType{Photo, Image, Video, Thumbnail, Audio, WebPage, Content, Unknown}

// AllFileTypes returns every file type in id order.
func AllFileTypes() []FileType {
	out := make([]FileType, len(fileTypeOrder))
	copy(out, fileTypeOrder)
	return out
}

// FileTypeByID resolves a persisted id. Unrecognized ids map to Unknown.
func FileTypeByID(id int) FileType {
	if _, ok := fileTypes[FileType(id)]; ok {
		return FileType(id)
	}
	return Unknown
}

func (t FileType) info() fileTypeInfo {
	if info, ok := fileTypes[t]; ok {
		return info
	}
	return fileTypes[Unknown]
}

// ID returns the persisted identifier.
func (t FileType) ID() int { return int(FileTypeByID(int(t))) }

// Name returns the upper-case type name stored in the reference table.
func (t FileType) Name() string { return t.info().name }

// Label is the human-readable name used in files reports and alt text.
func (t FileType) Label() string { return t.info().label }

// Ext is the default extension including the leading dot.
func (t FileType) Ext() string { return t.info().ext }

// Sign is the three-letter tag embedded in derived file names.
func (t FileType) Sign() string { return t.info().sign }

func (t FileType) String() string { return t.Name() }

// Generated reports whether files of this type are produced locally rather
// than downloaded, and so cannot be re-fetched from the chat service.
func (t FileType) Generated() bool { return t == Content }
