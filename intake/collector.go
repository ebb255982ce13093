// Package intake turns operator supplied paths and glob patterns into
// ledger descriptors.
package intake

import (
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-suas-uploader/internal/osproxy"
	"github.com/bitrise-io/go-suas-uploader/ledger"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
)

// Collector ...
type Collector struct {
	osProxy      osproxy.OS
	pathModifier pathutil.PathModifier
	logger       log.Logger
}

// NewCollector ...
func NewCollector(osProxy osproxy.OS, pathModifier pathutil.PathModifier, logger log.Logger) *Collector {
	return &Collector{
		osProxy:      osProxy,
		pathModifier: pathModifier,
		logger:       logger,
	}
}

// Collect expands patterns into regular files. Missing paths, directories
// and patterns without matches are skipped with a warning. A file named by
// several patterns is collected once.
func (c *Collector) Collect(patterns []string) ([]ledger.Descriptor, error) {
	paths, err := c.expand(patterns)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var descriptors []ledger.Descriptor
	for _, path := range paths {
		absPath, err := c.pathModifier.AbsPath(path)
		if err != nil {
			c.logger.Warnf("Failed to parse path %s, error: %s", path, err)
			continue
		}
		if seen[absPath] {
			continue
		}

		info, err := c.osProxy.Stat(absPath)
		if err != nil {
			c.logger.Warnf("File doesn't exist: %s", path)
			continue
		}
		if info.IsDir() {
			c.logger.Warnf("Skipping directory: %s", path)
			continue
		}

		seen[absPath] = true
		descriptors = append(descriptors, ledger.Descriptor{
			Name:        filepath.Base(absPath),
			Size:        info.Size(),
			ContentType: ContentType(absPath),
			Source:      fileSource{osProxy: c.osProxy, path: absPath},
		})
	}
	return descriptors, nil
}

func (c *Collector) expand(patterns []string) ([]string, error) {
	var expandedPaths []string
	for _, path := range patterns {
		if !strings.Contains(path, "*") {
			expandedPaths = append(expandedPaths, path)
			continue
		}

		base, pattern := doublestar.SplitPattern(path)
		absBase, err := c.pathModifier.AbsPath(base) // resolves ~/ and expands any envs
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", base, err)
		}
		matches, err := doublestar.Glob(c.osProxy.DirFS(absBase), pattern, doublestar.WithNoFollow())
		if err != nil {
			c.logger.Warnf("Error in path pattern '%s': %s", path, err)
			continue
		}
		if len(matches) == 0 {
			c.logger.Warnf("No match for path pattern: %s", path)
			continue
		}

		for _, match := range matches {
			expandedPaths = append(expandedPaths, filepath.Join(absBase, match))
		}
	}
	return expandedPaths, nil
}

// Extensions common in service records that the platform MIME tables may lack.
var knownTypes = map[string]string{
	".txt":  "text/plain",
	".csv":  "text/csv",
	".md":   "text/markdown",
	".heic": "image/heic",
	".mov":  "video/quicktime",
	".mp4":  "video/mp4",
}

// ContentType guesses the media type from the file extension, without
// parameters. Unknown extensions yield "".
func ContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := knownTypes[ext]; ok {
		return t
	}
	t := mime.TypeByExtension(ext)
	mediaType, _, _ := strings.Cut(t, ";")
	return strings.TrimSpace(mediaType)
}

type fileSource struct {
	osProxy osproxy.OS
	path    string
}

func (s fileSource) Open() (io.ReadSeekCloser, error) {
	f, err := s.osProxy.Open(s.path)
	if err != nil {
		return nil, err
	}
	return f, nil
}
