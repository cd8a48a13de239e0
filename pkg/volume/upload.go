package volume

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Upload is one user-supplied file
type Upload struct {
	Name string
	Data io.Reader
}

// IsNIfTIName reports whether a file name has a NIfTI extension
func IsNIfTIName(name string) bool {
	n := strings.ToLower(name)
	return strings.HasSuffix(n, ".nii") || strings.HasSuffix(n, ".nii.gz")
}

// WithStagedFiles writes uploads into a fresh temporary directory, calls fn
// with the directory and the written paths, and removes the directory when fn
// returns, whether it failed or not.
func WithStagedFiles(uploads []Upload, fn func(dir string, paths []string) error) error {
	if len(uploads) == 0 {
		return errors.New("no files uploaded")
	}

	dir, err := os.MkdirTemp("", "oaiviewer-upload-*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(dir)

	paths := make([]string, 0, len(uploads))
	for i, u := range uploads {
		name := filepath.Base(filepath.Clean("/" + u.Name))
		if name == "/" || name == "." {
			name = fmt.Sprintf("upload_%04d", i)
		}
		path := filepath.Join(dir, name)
		if err := writeUpload(path, u.Data); err != nil {
			return err
		}
		paths = append(paths, path)
	}

	return fn(dir, paths)
}

func writeUpload(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to stage %s: %w", filepath.Base(path), err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to stage %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// LoadUploads decodes a set of uploaded files. If any file is NIfTI the last
// NIfTI file is the volume; otherwise all files form one DICOM series.
func LoadUploads(uploads []Upload) (*Volume, error) {
	var v *Volume
	err := WithStagedFiles(uploads, func(dir string, paths []string) error {
		nifti := ""
		for _, p := range paths {
			if IsNIfTIName(p) {
				nifti = p
			}
		}

		var err error
		if nifti != "" {
			v, err = LoadNIfTI(nifti)
		} else {
			v, err = LoadDICOMSeries(dir)
		}
		if err != nil {
			return err
		}
		v.Source = "upload:" + filepath.Base(uploads[len(uploads)-1].Name)
		return nil
	})
	return v, err
}

// LoadUploadedMask decodes a single uploaded NIfTI mask
func LoadUploadedMask(u Upload) (*Volume, error) {
	if !IsNIfTIName(u.Name) {
		return nil, &DecodeError{Path: u.Name, Err: errors.New("mask must be a NIfTI file")}
	}
	var m *Volume
	err := WithStagedFiles([]Upload{u}, func(_ string, paths []string) error {
		var err error
		m, err = LoadNIfTI(paths[0])
		if err == nil {
			m.Source = "upload:" + filepath.Base(u.Name)
		}
		return err
	})
	return m, err
}
