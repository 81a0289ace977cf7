package forum

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/disintegration/imaging"
)

// fileHeader builds a multipart.FileHeader the way net/http would
// after parsing an upload.
func fileHeader(t *testing.T, field, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write(content)
	mw.Close()

	req := httptest.NewRequest("POST", "/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := req.ParseMultipartForm(1 << 20); err != nil {
		t.Fatalf("ParseMultipartForm: %v", err)
	}
	return req.MultipartForm.File[field][0]
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

var generatedName = regexp.MustCompile(`^[0-9a-f]{16}\.[a-z]+$`)

func TestCheckExtension(t *testing.T) {
	tests := []struct {
		filename string
		want     string
		wantErr  bool
	}{
		{"photo.PNG", "png", false},
		{"photo.jpeg", "jpeg", false},
		{"archive.tar.gz", "", true},
		{"script.sh", "", true},
		{"noextension", "", true},
		{".png", "png", false},
	}
	for _, tt := range tests {
		got, err := CheckExtension(tt.filename, PictureExtensions)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("CheckExtension(%q) = %q, %v; want %q, err %v", tt.filename, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestNewUploadsCreatesDefaultPicture(t *testing.T) {
	root := t.TempDir()
	if _, err := NewUploads(root); err != nil {
		t.Fatalf("NewUploads: %v", err)
	}
	img, err := imaging.Open(filepath.Join(root, ProfilePictures, DefaultPicture))
	if err != nil {
		t.Fatalf("default picture: %v", err)
	}
	if b := img.Bounds(); b.Dx() != thumbnailSize || b.Dy() != thumbnailSize {
		t.Errorf("default picture is %dx%d", b.Dx(), b.Dy())
	}
}

func TestSavePictureShrinksToThumbnail(t *testing.T) {
	u, err := NewUploads(t.TempDir())
	if err != nil {
		t.Fatalf("NewUploads: %v", err)
	}
	name, err := u.SavePicture(fileHeader(t, "picture", "me.png", pngBytes(t, 500, 250)))
	if err != nil {
		t.Fatalf("SavePicture: %v", err)
	}
	if !generatedName.MatchString(name) || filepath.Ext(name) != ".png" {
		t.Errorf("generated name %q", name)
	}
	img, err := imaging.Open(filepath.Join(u.Dir(ProfilePictures), name))
	if err != nil {
		t.Fatalf("open saved picture: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 125 || b.Dy() > 125 {
		t.Errorf("thumbnail is %dx%d, want to fit 125x125", b.Dx(), b.Dy())
	}
}

func TestSavePictureRejectsBeforeWriting(t *testing.T) {
	u, err := NewUploads(t.TempDir())
	if err != nil {
		t.Fatalf("NewUploads: %v", err)
	}
	tests := []struct {
		name     string
		filename string
		content  []byte
		wantErr  error
	}{
		{"disallowed extension", "me.gif", pngBytes(t, 10, 10), ErrDisallowedExtension},
		{"text named as png", "me.png", []byte("definitely not an image"), ErrNotAnImage},
		{"oversized dimensions", "huge.png", resizedPNGHeader(t, 50000, 50000), ErrNotAnImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := u.SavePicture(fileHeader(t, "picture", tt.filename, tt.content))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got := dirEntries(t, u.Dir(ProfilePictures)); len(got) != 1 || got[0] != DefaultPicture {
				t.Errorf("profile_pics contains %v", got)
			}
		})
	}
}

// resizedPNGHeader returns a small PNG whose header claims w x h
// pixels.
func resizedPNGHeader(t *testing.T, w, h int) []byte {
	t.Helper()
	b := pngBytes(t, 1, 1)
	// signature(8) length(4) "IHDR"(4) width(4) height(4) ... crc
	binary.BigEndian.PutUint32(b[16:20], uint32(w))
	binary.BigEndian.PutUint32(b[20:24], uint32(h))
	binary.BigEndian.PutUint32(b[29:33], crc32.ChecksumIEEE(b[12:29]))
	return b
}

func TestSaveResource(t *testing.T) {
	u, err := NewUploads(t.TempDir())
	if err != nil {
		t.Fatalf("NewUploads: %v", err)
	}

	name, err := u.SaveResource(fileHeader(t, "content", "Notes.PDF", []byte("%PDF-1.4 body")))
	if err != nil {
		t.Fatalf("SaveResource: %v", err)
	}
	if !generatedName.MatchString(name) || filepath.Ext(name) != ".pdf" {
		t.Errorf("generated name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(u.Dir(Resources), name))
	if err != nil || string(data) != "%PDF-1.4 body" {
		t.Errorf("stored content = %q, %v", data, err)
	}

	if _, err := u.SaveResource(fileHeader(t, "content", "payload.exe", []byte("MZ"))); !errors.Is(err, ErrDisallowedExtension) {
		t.Errorf("exe upload err = %v, want ErrDisallowedExtension", err)
	}
	if got := dirEntries(t, u.Dir(Resources)); len(got) != 1 {
		t.Errorf("resources contains %v, want only %s", got, name)
	}
}

func TestPathRejectsTraversal(t *testing.T) {
	u, err := NewUploads(t.TempDir())
	if err != nil {
		t.Fatalf("NewUploads: %v", err)
	}
	for _, name := range []string{"", "..", "../secret", "a/b", `a\b`, ".hidden"} {
		if _, err := u.Path(Resources, name); !errors.Is(err, ErrBadFilename) {
			t.Errorf("Path(%q) err = %v, want ErrBadFilename", name, err)
		}
	}
	if _, err := u.Path(Resources, "0011223344556677.pdf"); err != nil {
		t.Errorf("Path(valid) err = %v", err)
	}
}

func TestRemoveKeepsDefaultPicture(t *testing.T) {
	u, err := NewUploads(t.TempDir())
	if err != nil {
		t.Fatalf("NewUploads: %v", err)
	}
	if err := u.Remove(ProfilePictures, DefaultPicture); err != nil {
		t.Fatalf("Remove(default): %v", err)
	}
	if _, err := os.Stat(filepath.Join(u.Dir(ProfilePictures), DefaultPicture)); err != nil {
		t.Errorf("default picture removed: %v", err)
	}
	if err := u.Remove(Resources, "0011223344556677.pdf"); err != nil {
		t.Errorf("Remove(missing) err = %v", err)
	}
}
