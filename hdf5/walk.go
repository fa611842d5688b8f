package hdf5

import (
	"github.com/pkg/errors"

	"github.com/skalare/goh5/internal/message"
)

// ErrStopWalk stops a traversal early. When a callback returns it, the
// walk ends and Walk returns nil.
var ErrStopWalk = errors.New("walk stopped")

// WalkFunc is called once per object during traversal. path is the
// absolute path the walk reached the object through, obj is either
// *Group or *Dataset, and err reports an object that could not be
// opened (obj is nil then). Returning a non-nil error stops the walk.
type WalkFunc func(path string, obj interface{}, err error) error

// Walk traverses every object in the file in depth-first order,
// starting at the root group. Soft links are followed; a group reached
// through more than one path is reported at each path but its children
// are walked only once.
//
//	f.Walk(func(path string, obj interface{}, err error) error {
//	    if err != nil {
//	        return nil // skip unreadable objects
//	    }
//	    if d, ok := obj.(*Dataset); ok {
//	        fmt.Println(path, d.Shape())
//	    }
//	    return nil
//	})
func (f *File) Walk(fn WalkFunc) error {
	root, err := f.RootGroup()
	if err != nil {
		return err
	}
	return root.Walk(fn)
}

// Walk traverses the subtree rooted at g, reporting g itself first.
func (g *Group) Walk(fn WalkFunc) error {
	if err := g.file.checkOpen(); err != nil {
		return err
	}
	w := &walker{file: g.file, fn: fn, visited: make(map[uint64]bool)}
	err := w.group(g)
	if errors.Is(err, ErrStopWalk) {
		return nil
	}
	return err
}

// walker carries the callback and the set of group headers already
// descended into, so link cycles terminate.
type walker struct {
	file    *File
	fn      WalkFunc
	visited map[uint64]bool
}

func (w *walker) group(g *Group) error {
	if err := w.fn(g.path, g, nil); err != nil {
		return err
	}
	if w.visited[g.addr] {
		return nil
	}
	w.visited[g.addr] = true

	names, err := g.Members()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := w.child(g, name); err != nil {
			return err
		}
	}
	return nil
}

// child resolves one member and dispatches on what it turns out to be.
// Resolution failures, dangling links included, go to the callback
// rather than aborting the walk outright.
func (w *walker) child(g *Group, name string) error {
	childPath := JoinPath(g.path, name)

	addr, err := g.resolveChild(name)
	if err != nil {
		return w.fn(childPath, nil, err)
	}
	h, err := w.file.headerAt(addr)
	if err != nil {
		return w.fn(childPath, nil, err)
	}

	if h.GetMessage(message.TypeSymbolTable) != nil {
		child, err := g.childGroup(name, addr)
		if err != nil {
			return w.fn(childPath, nil, err)
		}
		return w.group(child)
	}

	ds, err := newDataset(w.file, childPath, addr, h)
	if err != nil {
		return w.fn(childPath, nil, err)
	}
	return w.fn(childPath, ds, nil)
}

// AttrInfo describes one attribute encountered by WalkAttrs.
type AttrInfo struct {
	// Path is the full attribute path, e.g. "/sensors/temp@units".
	Path string

	// ObjectPath is the path of the object carrying the attribute.
	ObjectPath string

	// ObjectType is "group" or "dataset".
	ObjectType string

	// Name is the attribute name.
	Name string

	// Attr gives access to the attribute for typed reads.
	Attr *Attribute

	// Value is the decoded attribute value, nil when Err is set.
	Value interface{}

	// Err reports a value that could not be decoded.
	Err error
}

// WalkAttrsFunc is the callback type for WalkAttrs. Returning a
// non-nil error stops the walk; ErrStopWalk stops it silently.
type WalkAttrsFunc func(info AttrInfo) error

// WalkAttrs visits every attribute of every group and dataset in the
// file, values pre-read.
//
//	f.WalkAttrs(func(info hdf5.AttrInfo) error {
//	    fmt.Printf("%s = %v\n", info.Path, info.Value)
//	    return nil
//	})
func (f *File) WalkAttrs(fn WalkAttrsFunc) error {
	return f.Walk(func(path string, obj interface{}, err error) error {
		if err != nil {
			return nil
		}

		var (
			attrs []Attribute
			kind  string
		)
		switch o := obj.(type) {
		case *Group:
			attrs, err = o.Attributes()
			kind = "group"
		case *Dataset:
			attrs, err = o.Attributes()
			kind = "dataset"
		}
		if err != nil {
			return err
		}

		for i := range attrs {
			a := &attrs[i]
			info := AttrInfo{
				Path:       JoinAttrPath(path, a.Name()),
				ObjectPath: path,
				ObjectType: kind,
				Name:       a.Name(),
				Attr:       a,
			}
			info.Value, info.Err = a.Value()
			if err := fn(info); err != nil {
				return err
			}
		}
		return nil
	})
}
