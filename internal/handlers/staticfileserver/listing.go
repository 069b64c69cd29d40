package staticfileserver

import (
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ListingEntry is one row of a directory listing.
type ListingEntry struct {
	Name string
	Href string
	Icon string
	// IsDir is the naming heuristic (no "." in the name), not a filesystem fact.
	IsDir    bool
	Size     string
	Modified string
}

// ParentLink points at the textual parent of the listed path.
type ParentLink struct {
	Path string
}

// DirectoryListing is the view handed to a Renderer. It is built per request.
type DirectoryListing struct {
	Title  string
	Dir    string
	Parent ParentLink
	Files  []ListingEntry
}

// DirectoryLister reads directories and assembles listings.
type DirectoryLister struct {
	dirIcon  string
	fileIcon string
	now      func() time.Time
}

func NewDirectoryLister(dirIcon, fileIcon string, now func() time.Time) *DirectoryLister {
	if now == nil {
		now = time.Now
	}
	return &DirectoryLister{dirIcon: dirIcon, fileIcon: fileIcon, now: now}
}

// List reads resolvedPath and builds the listing shown for requestPath.
// Entries keep the order the directory read returned them in.
func (l *DirectoryLister) List(resolvedPath, requestPath string) (*DirectoryListing, error) {
	f, err := os.Open(resolvedPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// ReadDir on an *os.File does not sort, unlike os.ReadDir.
	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, err
	}

	listing := &DirectoryListing{
		Title:  filepath.Base(resolvedPath),
		Dir:    displayDir(requestPath),
		Parent: ParentLink{Path: parentPath(requestPath)},
		Files:  make([]ListingEntry, 0, len(entries)),
	}

	for _, entry := range entries {
		name := entry.Name()
		item := ListingEntry{
			Name: name,
			Href: path.Join("/", requestPath, name),
		}
		if strings.Contains(name, ".") {
			item.Icon = l.fileIcon
		} else {
			item.Icon = l.dirIcon
			item.IsDir = true
		}
		// Metadata is decoration only; an entry that vanished mid-read is still listed.
		if info, infoErr := entry.Info(); infoErr == nil {
			if !info.IsDir() {
				item.Size = humanize.Bytes(uint64(info.Size()))
			}
			item.Modified = humanize.RelTime(info.ModTime(), l.now(), "ago", "from now")
		}
		listing.Files = append(listing.Files, item)
	}
	return listing, nil
}

func displayDir(requestPath string) string {
	if requestPath == "/" {
		return ""
	}
	return requestPath
}

// parentPath is a textual dirname. It is not checked against the filesystem.
func parentPath(requestPath string) string {
	p := requestPath
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if p == "" || p == "/" {
		return "/"
	}
	return path.Dir(p)
}
