package forum

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
)

const (
	ProfilePictures = "profile_pics"
	Resources       = "resources"

	thumbnailSize = 125
	// Pictures larger than this on either side are refused before
	// their pixels are decoded.
	maxPictureSide = 5000
)

var (
	ErrDisallowedExtension = errors.New("forum: file extension not allowed")
	ErrNotAnImage          = errors.New("forum: file is not an image")
	ErrBadFilename         = errors.New("forum: invalid filename")
)

var (
	PictureExtensions  = []string{"jpg", "jpeg", "png"}
	ResourceExtensions = []string{
		"pdf", "txt", "md", "doc", "docx", "ppt", "pptx", "xls", "xlsx",
		"csv", "zip", "jpg", "jpeg", "png", "gif",
	}
)

// Uploads stores files under root/profile_pics and root/resources.
// Files are written in one shot with no temp-file rename.
type Uploads struct {
	root string
}

// NewUploads creates the upload directories and the default profile
// picture if they are missing.
func NewUploads(root string) (*Uploads, error) {
	for _, kind := range []string{ProfilePictures, Resources} {
		if err := os.MkdirAll(filepath.Join(root, kind), 0o755); err != nil {
			return nil, fmt.Errorf("uploads: %w", err)
		}
	}
	u := &Uploads{root: root}
	def := filepath.Join(root, ProfilePictures, DefaultPicture)
	if _, err := os.Stat(def); errors.Is(err, os.ErrNotExist) {
		placeholder := imaging.New(thumbnailSize, thumbnailSize, color.NRGBA{R: 200, G: 200, B: 200, A: 255})
		if err := imaging.Save(placeholder, def); err != nil {
			return nil, fmt.Errorf("uploads: default picture: %w", err)
		}
	}
	return u, nil
}

// Dir returns the directory for kind.
func (u *Uploads) Dir(kind string) string {
	return filepath.Join(u.root, kind)
}

// Path resolves a stored filename, refusing anything that is not a
// bare name inside the kind's directory.
func (u *Uploads) Path(kind, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return "", ErrBadFilename
	}
	return filepath.Join(u.root, kind, name), nil
}

// CheckExtension returns the lower-cased extension of filename if it
// is in allowed.
func CheckExtension(filename string, allowed []string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		return "", ErrDisallowedExtension
	}
	for _, a := range allowed {
		if ext == a {
			return ext, nil
		}
	}
	return "", ErrDisallowedExtension
}

func randomName(ext string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b) + "." + ext, nil
}

// SavePicture validates, shrinks to fit 125x125 and stores a profile
// picture. It returns the generated filename.
func (u *Uploads) SavePicture(fh *multipart.FileHeader) (string, error) {
	ext, err := CheckExtension(fh.Filename, PictureExtensions)
	if err != nil {
		return "", err
	}
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("uploads: open: %w", err)
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "", fmt.Errorf("uploads: sniff: %w", err)
	}
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", ErrNotAnImage
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("uploads: rewind: %w", err)
	}
	cfg, _, err := image.DecodeConfig(f)
	if err != nil || cfg.Width > maxPictureSide || cfg.Height > maxPictureSide {
		return "", ErrNotAnImage
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("uploads: rewind: %w", err)
	}
	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return "", ErrNotAnImage
	}

	name, err := randomName(ext)
	if err != nil {
		return "", err
	}
	thumb := imaging.Fit(img, thumbnailSize, thumbnailSize, imaging.Lanczos)
	if err := imaging.Save(thumb, filepath.Join(u.root, ProfilePictures, name)); err != nil {
		return "", fmt.Errorf("uploads: save picture: %w", err)
	}
	return name, nil
}

// SaveResource stores an uploaded file verbatim and returns the
// generated filename.
func (u *Uploads) SaveResource(fh *multipart.FileHeader) (string, error) {
	ext, err := CheckExtension(fh.Filename, ResourceExtensions)
	if err != nil {
		return "", err
	}
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("uploads: open: %w", err)
	}
	defer src.Close()

	name, err := randomName(ext)
	if err != nil {
		return "", err
	}
	dst, err := os.OpenFile(filepath.Join(u.root, Resources, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("uploads: create: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("uploads: write: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("uploads: close: %w", err)
	}
	return name, nil
}

// Remove deletes a stored file. Missing files and the default picture
// are left alone.
func (u *Uploads) Remove(kind, name string) error {
	if kind == ProfilePictures && name == DefaultPicture {
		return nil
	}
	path, err := u.Path(kind, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("uploads: remove: %w", err)
	}
	return nil
}
