package media

import (
	"strings"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		att       *Attachment
		thumbnail bool
		want      Classification
	}{
		{
			name: "photo takes largest variant",
			att: &Attachment{Kind: AttachmentPhoto, Variants: []SizeVariant{
				{Kind: VariantStripped, Bytes: make([]byte, 10)},
				{Kind: VariantSized, Size: 2048},
				{Kind: VariantProgressive, Sizes: []int64{100, 4096, 300}},
				{Kind: VariantCached, Bytes: make([]byte, 50)},
			}},
			want: Classification{Type: Photo, Ext: ".jpg", Size: 4096},
		},
		{
			name: "web page preview",
			att:  &Attachment{Kind: AttachmentWebPage, Variants: []SizeVariant{{Kind: VariantSized, Size: 77}}},
			want: Classification{Type: WebPage, Ext: ".jpg", Size: 77},
		},
		{
			name: "image document",
			att:  &Attachment{MimeType: "image/png", Size: 12},
			want: Classification{Type: Image, Ext: ".jpg", Size: 12},
		},
		{
			name: "audio document",
			att:  &Attachment{MimeType: "audio/ogg; codecs=opus", Size: 5},
			want: Classification{Type: Audio, Ext: ".mp4", Size: 5},
		},
		{
			name: "video document",
			att:  &Attachment{MimeType: "video/mp4", Size: 900, Thumbs: []SizeVariant{{Kind: VariantCached, Bytes: []byte("jpeg")}}},
			want: Classification{Type: Video, Ext: ".mp4", Size: 900},
		},
		{
			name:      "video thumbnail",
			att:       &Attachment{MimeType: "video/mp4", Size: 900, Thumbs: []SizeVariant{{Kind: VariantCached, Bytes: []byte("jpeg")}}},
			thumbnail: true,
			want:      Classification{Type: Thumbnail, Ext: ".jpg", Size: 4},
		},
		{
			name:      "thumbnail requested without data",
			att:       &Attachment{MimeType: "video/quicktime", ExtHint: ".mov", Size: 900},
			thumbnail: true,
			want:      Classification{Type: Unknown, Ext: ".mov", Size: 900},
		},
		{
			name: "unknown uses hint",
			att:  &Attachment{MimeType: "application/x-whatever", ExtHint: "PDF", Size: 3},
			want: Classification{Type: Unknown, Ext: ".pdf", Size: 3},
		},
		{
			name: "unknown without hints",
			att:  &Attachment{Size: 3},
			want: Classification{Type: Unknown, Ext: ".unk", Size: 3},
		},
		{
			name: "nil attachment",
			att:  nil,
			want: Classification{Type: Unknown, Ext: ".unk"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.att, tt.thumbnail)
			if got != tt.want {
				t.Errorf("Classify() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFileTypeTable(t *testing.T) {
	tests := []struct {
		ft    FileType
		id    int
		label string
		ext   string
		sign  string
	}{
		{Photo, 1, "Image", ".jpg", "pho"},
		{Image, 2, "Image", ".jpg", "img"},
		{Video, 3, "Video", ".mp4", "vid"},
		{Thumbnail, 4, "Video", ".jpg", "vth"},
		{Audio, 5, "Audio", ".mp4", "aud"},
		{WebPage, 6, "Image", ".jpg", "wpg"},
		{Content, 7, "Content", ".html", "ctx"},
		{Unknown, 10, "Unknown", ".unk", "unk"},
	}
	for _, tt := range tests {
		t.Run(tt.ft.Name(), func(t *testing.T) {
			if tt.ft.ID() != tt.id || tt.ft.Label() != tt.label || tt.ft.Ext() != tt.ext || tt.ft.Sign() != tt.sign {
				t.Errorf("%s = (%d %s %s %s)", tt.ft, tt.ft.ID(), tt.ft.Label(), tt.ft.Ext(), tt.ft.Sign())
			}
			if FileTypeByID(tt.id) != tt.ft {
				t.Errorf("FileTypeByID(%d) = %s", tt.id, FileTypeByID(tt.id))
			}
		})
	}
	if FileTypeByID(42) != Unknown {
		t.Error("unrecognized id should map to Unknown")
	}
	if len(AllFileTypes()) != 8 {
		t.Errorf("AllFileTypes() has %d entries, want 8", len(AllFileTypes()))
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Family Chat_42", "Family_Chat_42"},
		{`a<b>c:d"e/f\g|h?i*j'k` + "`l", "a_b_c_d_e_f_g_h_i_j_k_l"},
		{"100% (fun) & games", "100_fun_games"},
		{"__leading and trailing__", "leading_and_trailing"},
		{"tabs\tand\nnewlines", "tabs_and_newlines"},
		{"...dots...", "dots"},
		{"2024-01-31", "2024-01-31"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	d := NewDeriver(time.UTC)
	in := PathInput{
		DialogTitle: "Trip: Lisbon / 2024",
		DialogID:    7,
		GroupKey:    "7_album",
		Date:        time.Date(2024, 5, 3, 9, 8, 7, 0, time.UTC),
		Type:        Video,
		Ordinal:     31,
		Ext:         ".mp4",
	}

	first := d.Derive(in)
	second := d.Derive(in)
	if first != second {
		t.Fatalf("paths differ: %q vs %q", first, second)
	}

	want := "Trip_Lisbon_2024_7/2024-05-03/09-08-07_vid_7_album_31.mp4"
	if first != want {
		t.Errorf("Derive() = %q, want %q", first, want)
	}
}

func TestDeriveUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*60*60)
	d := NewDeriver(loc)
	in := PathInput{
		DialogTitle: "x",
		DialogID:    1,
		GroupKey:    "1_5",
		Date:        time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC),
		Type:        Photo,
		Ordinal:     5,
	}
	got := d.Derive(in)
	if !strings.HasPrefix(got, "x_1/2023-12-31/22-00-00_pho_1_5_5.jpg") {
		t.Errorf("Derive() = %q", got)
	}
}
