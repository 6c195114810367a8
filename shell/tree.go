// Package shell keeps a participant's local view of a team workspace in sync
// with the server: the folder tree, open tabs, the active file and expanded
// folders.
package shell

import (
	"cmp"
	"slices"
	"strings"

	"github.com/roboleague/collab/files"
)

// Node is one entry of the workspace tree. Folder nodes carry Children; file
// nodes never do.
type Node struct {
	Name string
	Path string
	Kind files.Kind
	// FileID is the backing record. Empty for virtual folders.
	FileID string
	// Virtual is set on folders implied by a file path with no folder record.
	Virtual  bool
	Children []*Node
}

func (n *Node) IsFolder() bool {
	return n.Kind == files.KindFolder
}

// Find returns the node at path p, or nil. Folders are preferred when a file
// and a folder share a path.
func Find(nodes []*Node, p string) *Node {
	p = files.NormalizePath(p)
	var found *Node
	for _, n := range nodes {
		switch {
		case n.Path == p:
			if n.IsFolder() {
				return n
			}
			if found == nil {
				found = n
			}
		case n.IsFolder() && strings.HasPrefix(p, n.Path+"/"):
			if hit := Find(n.Children, p); hit != nil {
				return hit
			}
		}
	}
	return found
}

// BuildTree turns a flat record list into a sorted tree. Folders implied by a
// file path are synthesised as virtual nodes; a folder record for the same path
// turns the virtual node into an explicit one. A file and a folder sharing a
// path are kept as two nodes.
func BuildTree(records []files.Record) []*Node {
	root := &Node{Kind: files.KindFolder}
	folders := map[string]*Node{"": root}

	for _, rec := range records {
		p := files.NormalizePath(rec.Path)
		if p == "" {
			continue
		}

		if rec.IsFolder() {
			n := ensureFolder(folders, p)
			if n.Virtual {
				n.Virtual = false
				n.FileID = rec.ID
			}
			continue
		}

		parent := ensureFolder(folders, parentPath(p))
		parent.Children = append(parent.Children, &Node{
			Name:   baseName(p),
			Path:   p,
			Kind:   files.KindFile,
			FileID: rec.ID,
		})
	}

	sortNodes(root.Children)
	return root.Children
}

func ensureFolder(folders map[string]*Node, p string) *Node {
	if n, ok := folders[p]; ok {
		return n
	}
	parent := ensureFolder(folders, parentPath(p))
	n := &Node{Name: baseName(p), Path: p, Kind: files.KindFolder, Virtual: true}
	folders[p] = n
	parent.Children = append(parent.Children, n)
	return n
}

// sortNodes orders folders before files, then by name, at every level.
// Equal entries keep arrival order.
func sortNodes(nodes []*Node) {
	slices.SortStableFunc(nodes, func(a, b *Node) int {
		if a.IsFolder() != b.IsFolder() {
			if a.IsFolder() {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.Name, b.Name)
	})
	for _, n := range nodes {
		if len(n.Children) > 0 {
			sortNodes(n.Children)
		}
	}
}

// CascadeTargets returns the ids of the folder record at folderPath (if any)
// and of every record below it, in record order.
func CascadeTargets(records []files.Record, folderPath string) []string {
	dir := files.NormalizePath(folderPath)
	if dir == "" {
		return nil
	}
	var ids []string
	for _, rec := range records {
		p := files.NormalizePath(rec.Path)
		if p == dir && !rec.IsFolder() {
			continue
		}
		if p == dir || strings.HasPrefix(p, dir+"/") {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}

func parentPath(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}

func baseName(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
