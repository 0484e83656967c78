package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// RestoreLatest downloads the newest backup and extracts it into the data
// directory. It refuses to run over existing data: restore is for fresh
// deployments recovering from an archive, never for overwriting live state.
// Returns false when there is no backup to restore.
func (s *BackupService) RestoreLatest(ctx context.Context) (bool, error) {
	existing, err := s.backupFiles()
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, fmt.Errorf("data directory %s is not empty, refusing to restore", s.dataDir)
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return false, err
	}
	if len(backups) == 0 {
		return false, nil
	}
	newest := backups[0]

	body, err := s.store.Download(ctx, newest.Filename)
	if err != nil {
		return false, err
	}
	defer body.Close()

	// Extract into a staging directory first so a truncated download never
	// leaves a partial data directory behind.
	stagingDir, err := os.MkdirTemp(s.dataDir, "restore-staging-")
	if err != nil {
		return false, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	meta, err := extractArchive(body, stagingDir)
	if err != nil {
		return false, fmt.Errorf("failed to extract %s: %w", newest.Filename, err)
	}

	for _, fm := range meta.Files {
		staged := filepath.Join(stagingDir, fm.Name)
		checksum, err := fileChecksum(staged)
		if err != nil {
			return false, fmt.Errorf("failed to checksum restored %s: %w", fm.Name, err)
		}
		if checksum != fm.Checksum {
			return false, fmt.Errorf("checksum mismatch for %s in %s", fm.Name, newest.Filename)
		}
	}

	for _, fm := range meta.Files {
		if err := os.Rename(filepath.Join(stagingDir, fm.Name), filepath.Join(s.dataDir, fm.Name)); err != nil {
			return false, fmt.Errorf("failed to move restored %s into place: %w", fm.Name, err)
		}
	}

	s.log.Info().
		Str("archive", newest.Filename).
		Int("files", len(meta.Files)).
		Msg("Restored data directory from backup")
	return true, nil
}

// extractArchive unpacks a backup into dir and returns its manifest. Entry
// names are flat file names; anything with a path separator is rejected.
func extractArchive(r io.Reader, dir string) (*Metadata, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	var meta *Metadata
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Name != filepath.Base(hdr.Name) || strings.HasPrefix(hdr.Name, ".") {
			return nil, fmt.Errorf("unexpected archive entry %q", hdr.Name)
		}

		if hdr.Name == "backup-metadata.json" {
			meta = &Metadata{}
			if err := json.NewDecoder(tr).Decode(meta); err != nil {
				return nil, fmt.Errorf("bad manifest: %w", err)
			}
			continue
		}

		out, err := os.OpenFile(filepath.Join(dir, hdr.Name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return nil, err
		}
		if err := out.Close(); err != nil {
			return nil, err
		}
	}

	if meta == nil {
		return nil, fmt.Errorf("archive has no manifest")
	}
	return meta, nil
}
