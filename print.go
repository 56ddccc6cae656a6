package bindex

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/oda/bindex/bnode"
)

// Debug helpers. These walk the tree with basic guards (pin only, no latch)
// and must not run concurrently with mutations.

var (
	leafColor     = color.New(color.FgGreen)
	internalColor = color.New(color.FgMagenta)
)

// Print writes a page-by-page dump of the tree to stdout.
func (t *Tree) Print() error {
	return t.Fprint(os.Stdout)
}

// Fprint writes a page-by-page dump of the tree to w.
func (t *Tree) Fprint(w io.Writer) error {
	root, err := t.GetRootPageID()
	if err != nil {
		return err
	}
	if root == InvalidPageID {
		fmt.Fprintf(w, "%s: empty\n", t.name)
		return nil
	}
	fmt.Fprintf(w, "%s:\n", t.name)
	return t.printPage(w, root)
}

func (t *Tree) printPage(w io.Writer, pid PageID) error {
	guard, err := t.bpm.FetchBasic(pid)
	if err != nil {
		return err
	}
	defer guard.Drop()

	if bnode.IsLeaf(guard.Data()) {
		leaf := bnode.Leaf(guard.Data())
		keys := make([]string, leaf.Size())
		for i := range keys {
			keys[i] = fmt.Sprintf("%d", leaf.KeyAt(i))
		}
		leafColor.Fprintf(w, "leaf %d", pid)
		fmt.Fprintf(w, " next=%d: %s\n", leaf.NextPageID(), strings.Join(keys, ", "))
		return nil
	}

	in := bnode.Internal(guard.Data())
	parts := make([]string, in.Size())
	parts[0] = fmt.Sprintf("*%d", in.ChildAt(0))
	for i := 1; i < in.Size(); i++ {
		parts[i] = fmt.Sprintf("%d *%d", in.KeyAt(i), in.ChildAt(i))
	}
	internalColor.Fprintf(w, "internal %d", pid)
	fmt.Fprintf(w, ": %s\n", strings.Join(parts, " | "))

	for i := 0; i < in.Size(); i++ {
		if err := t.printPage(w, in.ChildAt(i)); err != nil {
			return err
		}
	}
	return nil
}

// DrawString renders the tree as indented text, one node per line.
func (t *Tree) DrawString() (string, error) {
	root, err := t.GetRootPageID()
	if err != nil {
		return "", err
	}
	if root == InvalidPageID {
		return "()", nil
	}
	var sb strings.Builder
	if err := t.drawNode(&sb, root, 0); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (t *Tree) drawNode(sb *strings.Builder, pid PageID, depth int) error {
	guard, err := t.bpm.FetchBasic(pid)
	if err != nil {
		return err
	}
	defer guard.Drop()

	indent := strings.Repeat("  ", depth)

	if bnode.IsLeaf(guard.Data()) {
		leaf := bnode.Leaf(guard.Data())
		keys := make([]string, leaf.Size())
		for i := range keys {
			keys[i] = fmt.Sprintf("%d", leaf.KeyAt(i))
		}
		fmt.Fprintf(sb, "%s[%s]\n", indent, strings.Join(keys, ","))
		return nil
	}

	in := bnode.Internal(guard.Data())
	seps := make([]string, 0, in.Size()-1)
	for i := 1; i < in.Size(); i++ {
		seps = append(seps, fmt.Sprintf("%d", in.KeyAt(i)))
	}
	fmt.Fprintf(sb, "%s(%s)\n", indent, strings.Join(seps, ","))
	for i := 0; i < in.Size(); i++ {
		if err := t.drawNode(sb, in.ChildAt(i), depth+1); err != nil {
			return err
		}
	}
	return nil
}

// DrawFile writes a Graphviz dot rendering of the tree to the given path.
func (t *Tree) DrawFile(path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer out.Close()

	fmt.Fprintln(out, "digraph G {")
	fmt.Fprintln(out, "  node [shape=record];")

	root, err := t.GetRootPageID()
	if err != nil {
		return err
	}
	if root != InvalidPageID {
		if err := t.drawDot(out, root); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "}")
	return nil
}

func (t *Tree) drawDot(out io.Writer, pid PageID) error {
	guard, err := t.bpm.FetchBasic(pid)
	if err != nil {
		return err
	}
	defer guard.Drop()

	if bnode.IsLeaf(guard.Data()) {
		leaf := bnode.Leaf(guard.Data())
		keys := make([]string, leaf.Size())
		for i := range keys {
			keys[i] = fmt.Sprintf("%d", leaf.KeyAt(i))
		}
		fmt.Fprintf(out, "  leaf%d [label=\"P%d|%s\" color=green];\n",
			pid, pid, strings.Join(keys, "|"))
		if next := leaf.NextPageID(); next != InvalidPageID {
			fmt.Fprintf(out, "  leaf%d -> leaf%d;\n", pid, next)
			fmt.Fprintf(out, "  {rank=same leaf%d leaf%d};\n", pid, next)
		}
		return nil
	}

	in := bnode.Internal(guard.Data())
	seps := make([]string, 0, in.Size()-1)
	for i := 1; i < in.Size(); i++ {
		seps = append(seps, fmt.Sprintf("%d", in.KeyAt(i)))
	}
	fmt.Fprintf(out, "  int%d [label=\"P%d|%s\" color=pink];\n",
		pid, pid, strings.Join(seps, "|"))

	for i := 0; i < in.Size(); i++ {
		child := in.ChildAt(i)
		childGuard, err := t.bpm.FetchBasic(child)
		if err != nil {
			return err
		}
		childIsLeaf := bnode.IsLeaf(childGuard.Data())
		childGuard.Drop()

		if childIsLeaf {
			fmt.Fprintf(out, "  int%d -> leaf%d;\n", pid, child)
		} else {
			fmt.Fprintf(out, "  int%d -> int%d;\n", pid, child)
		}
		if err := t.drawDot(out, child); err != nil {
			return err
		}
	}
	return nil
}
