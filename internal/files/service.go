package files

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
)

// ErrPermission is returned when the actor may not access a path.
var ErrPermission = errors.New("permission denied")

const (
	homeRoot     = "/home/"
	projectsRoot = "/projects/"
	jobsFolder   = "Jobs"
)

// Membership resolves project membership for ACL checks.
type Membership interface {
	MemberRole(ctx context.Context, project, username string) (domain.ProjectRole, bool, error)
}

// Service implements the file operations the orchestrator needs.
type Service struct {
	store    ObjectStore
	projects Membership
	logger   *slog.Logger
}

func NewService(store ObjectStore, projects Membership, logger *slog.Logger) *Service {
	return &Service{store: store, projects: projects, logger: logger}
}

// OutputFolder returns the folder a job's output is written to.
func OutputFolder(owner domain.Owner, application, jobID string) string {
	if owner.Project != "" {
		return path.Join(projectsRoot, owner.Project, jobsFolder, application, jobID)
	}
	return path.Join(homeRoot, owner.CreatedBy, jobsFolder, application, jobID)
}

// CheckAccess verifies that actor may read p. Paths under /home/<user> belong to that user,
// paths under /projects/<project> to the members of the project.
func (s *Service) CheckAccess(ctx context.Context, actor domain.Actor, p string) error {
	clean, err := cleanAbsolute(p)
	if err != nil {
		return err
	}
	if actor.IsPrivileged() {
		return nil
	}

	switch {
	case strings.HasPrefix(clean, homeRoot):
		if topSegment(clean, homeRoot) == actor.Username {
			return nil
		}
	case strings.HasPrefix(clean, projectsRoot):
		project := topSegment(clean, projectsRoot)
		if project == "" {
			break
		}
		_, ok, err := s.projects.MemberRole(ctx, project, actor.Username)
		if err != nil {
			return fmt.Errorf("failed to look up membership of %s: %w", project, err)
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrPermission, clean)
}

// Stat resolves a file or directory mount for actor.
func (s *Service) Stat(ctx context.Context, actor domain.Actor, v domain.FileValue) (domain.ResolvedMount, error) {
	if err := s.CheckAccess(ctx, actor, v.Path); err != nil {
		return domain.ResolvedMount{}, err
	}
	clean, _ := cleanAbsolute(v.Path)

	exists, err := s.exists(ctx, clean, v.Directory)
	if err != nil {
		return domain.ResolvedMount{}, err
	}
	if !exists {
		return domain.ResolvedMount{}, fmt.Errorf("%w: %s", ErrNotExist, clean)
	}
	return domain.ResolvedMount{Path: clean, ReadOnly: v.ReadOnly, Directory: v.Directory}, nil
}

func (s *Service) exists(ctx context.Context, clean string, directory bool) (bool, error) {
	key := objectKey(clean)
	if !directory {
		_, err := s.store.Stat(ctx, key)
		if errors.Is(err, ErrNotExist) {
			return false, nil
		}
		return err == nil, err
	}
	found, err := s.store.List(ctx, key+"/", 1)
	if err != nil {
		return false, err
	}
	return len(found) > 0, nil
}

// CreateFolder creates a directory marker for p.
func (s *Service) CreateFolder(ctx context.Context, p string) error {
	clean, err := cleanAbsolute(p)
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, objectKey(clean)+"/", bytes.NewReader(nil), 0, "application/x-directory"); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", clean, err)
	}
	return nil
}

// Write stores exactly size bytes of body at rel below folder and returns the full path.
func (s *Service) Write(ctx context.Context, folder, rel string, body io.Reader, size int64) (string, error) {
	if size < 0 {
		return "", apperrors.LengthRequired("content length is required")
	}
	target, err := SafeJoin(folder, rel)
	if err != nil {
		return "", err
	}
	if err := s.store.Put(ctx, objectKey(target), io.LimitReader(body, size), size, "application/octet-stream"); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", target, err)
	}
	return target, nil
}

// Extract unpacks a tar or tar.gz archive of size bytes into the directory of rel below
// folder. Entries escaping that directory are rejected. It returns the number of files written.
func (s *Service) Extract(ctx context.Context, folder, rel string, body io.Reader, size int64) (int, error) {
	if size < 0 {
		return 0, apperrors.LengthRequired("content length is required")
	}
	archivePath, err := SafeJoin(folder, rel)
	if err != nil {
		return 0, err
	}
	dest := path.Dir(archivePath)

	br := bufio.NewReader(io.LimitReader(body, size))
	var r io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return 0, apperrors.Validation("archive", "invalid gzip stream")
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	written := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, apperrors.Validation("archive", fmt.Sprintf("invalid tar archive: %v", err))
		}

		target, err := SafeJoin(dest, hdr.Name)
		if err != nil {
			return written, err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := s.CreateFolder(ctx, target); err != nil {
				return written, err
			}
		case tar.TypeReg:
			if err := s.store.Put(ctx, objectKey(target), tr, hdr.Size, "application/octet-stream"); err != nil {
				return written, fmt.Errorf("failed to write %s: %w", target, err)
			}
			written++
		default:
			s.logger.Debug("Skipping archive entry",
				slog.String("name", hdr.Name),
				slog.Int("type", int(hdr.Typeflag)),
			)
		}
	}
	return written, nil
}

// IndexOutput counts the files below a job's output folder.
func (s *Service) IndexOutput(ctx context.Context, folder string) (int, error) {
	clean, err := cleanAbsolute(folder)
	if err != nil {
		return 0, err
	}
	objects, err := s.store.List(ctx, objectKey(clean)+"/", 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range objects {
		if !strings.HasSuffix(o.Key, "/") {
			n++
		}
	}
	return n, nil
}

// SafeJoin joins rel below base, rejecting paths that would leave base.
func SafeJoin(base, rel string) (string, error) {
	cleanBase, err := cleanAbsolute(base)
	if err != nil {
		return "", err
	}
	r := path.Clean(strings.TrimPrefix(rel, "/"))
	if r == "." || r == "" {
		return "", apperrors.Validation("path", "path must name a file")
	}
	if r == ".." || strings.HasPrefix(r, "../") {
		return "", apperrors.Validation("path", fmt.Sprintf("path %q escapes %s", rel, cleanBase))
	}
	return path.Join(cleanBase, r), nil
}

func cleanAbsolute(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", apperrors.Validation("path", fmt.Sprintf("path %q must be absolute", p))
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", apperrors.Validation("path", fmt.Sprintf("path %q must not contain '..'", p))
		}
	}
	return path.Clean(p), nil
}

func topSegment(p, root string) string {
	rest := strings.TrimPrefix(p, root)
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i]
	}
	return rest
}

func objectKey(p string) string {
	return strings.TrimPrefix(p, "/")
}
