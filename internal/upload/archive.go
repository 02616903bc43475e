// Package upload implements the chunked bulk transfer of local imagery
// onto the storage grid plus the indexing that follows it.
package upload

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/aviarydata/aviary/internal/domain"
)

// Folder is a hierarchical set of files selected for upload.
type Folder struct {
	Name    string
	Files   []domain.ImageRecord
	Folders []Folder
}

// Flatten returns the leaf files of the whole tree in depth-first order.
func (f Folder) Flatten() []domain.ImageRecord {
	out := append([]domain.ImageRecord(nil), f.Files...)
	for _, sub := range f.Folders {
		out = append(out, sub.Flatten()...)
	}
	return out
}

// Archive is one tar file staged on local disk, holding a slice of the
// upload's records.
type Archive struct {
	Path    string
	Records []domain.ImageRecord
}

// ChunkSize returns how many files go into one archive given the
// configured ceiling. One slot is always held back so archives stay
// safely under any backend per-file-count limit.
func ChunkSize(maxPerArchive int) int {
	if maxPerArchive < 2 {
		maxPerArchive = 2
	}
	return maxPerArchive - 1
}

// ChunkCount returns how many archives a record list splits into.
func ChunkCount(total, maxPerArchive int) int {
	if total == 0 {
		return 0
	}
	size := ChunkSize(maxPerArchive)
	return (total + size - 1) / size
}

// BuildArchives splits records into tar archives of at most
// maxPerArchive-1 entries each, written under tempDir. Entry paths are
// <topFolder>/<relativePath> with '/' separators regardless of the local
// OS. On error, archives already written are removed.
func BuildArchives(records []domain.ImageRecord, topFolder, tempDir string, maxPerArchive int) ([]Archive, error) {
	if len(records) == 0 {
		return nil, nil
	}

	size := ChunkSize(maxPerArchive)
	archives := make([]Archive, 0, ChunkCount(len(records), maxPerArchive))

	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		path := filepath.Join(tempDir, fmt.Sprintf("upload-%d.tar", len(archives)))
		if err := writeTar(path, topFolder, chunk); err != nil {
			RemoveArchives(archives)
			os.Remove(path)
			return nil, err
		}
		archives = append(archives, Archive{Path: path, Records: chunk})
	}
	return archives, nil
}

func writeTar(path, topFolder string, records []domain.ImageRecord) error {
	out, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating archive %q", path)
	}
	defer out.Close()

	tw := tar.NewWriter(out)
	for _, rec := range records {
		if err := addFile(tw, topFolder, rec); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return errors.Wrapf(err, "finalizing archive %q", path)
	}
	return nil
}

func addFile(tw *tar.Writer, topFolder string, rec domain.ImageRecord) error {
	f, err := os.Open(rec.AbsolutePath)
	if err != nil {
		return errors.Wrapf(err, "opening %q", rec.AbsolutePath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat %q", rec.AbsolutePath)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return errors.Wrapf(err, "tar header for %q", rec.AbsolutePath)
	}
	hdr.Name = EntryName(topFolder, rec.RelativePath)

	if err := tw.WriteHeader(hdr); err != nil {
		return errors.Wrapf(err, "writing tar header for %q", rec.RelativePath)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return errors.Wrapf(err, "writing %q into archive", rec.RelativePath)
	}
	return nil
}

// EntryName is the canonical in-archive path for one file.
func EntryName(topFolder, relativePath string) string {
	return topFolder + "/" + filepath.ToSlash(relativePath)
}

// RemoveArchives deletes the local archive files. Missing files are fine;
// cleanup runs on both success and failure paths.
func RemoveArchives(archives []Archive) {
	for _, a := range archives {
		os.Remove(a.Path)
	}
}
