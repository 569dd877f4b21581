package durable

import (
	"strings"

	"github.com/pkg/xattr"

	"github.com/mesh-intelligence/mediadex/pkg/types"
)

var errNotFound = types.ErrNotFound

// attrNamespace prefixes every attribute this package owns. Only keys under
// the namespace are listed or removed; foreign attributes on the node are
// left alone.
const attrNamespace = "user.mediadex."

// XattrStore persists counters as extended attributes on a single filesystem
// node, normally the volume root directory. Not every filesystem supports
// user xattrs; failures surface as CounterUnsupportedError and the caller
// degrades stable-id mode rather than failing the open.
type XattrStore struct {
	node string
}

// NewXattrStore returns a store backed by extended attributes on node.
func NewXattrStore(node string) *XattrStore {
	return &XattrStore{node: node}
}

// Get implements Store.
func (s *XattrStore) Get(key string) (string, error) {
	data, err := xattr.Get(s.node, key)
	if err != nil {
		if isAttrMissing(err) {
			return "", types.ErrNotFound
		}
		return "", types.CounterUnsupportedError.Wrap(err)
	}
	return string(data), nil
}

// Set implements Store.
func (s *XattrStore) Set(key, value string) error {
	if err := xattr.Set(s.node, key, []byte(value)); err != nil {
		return types.CounterUnsupportedError.Wrap(err)
	}
	return nil
}

// List implements Store. Only attributes in the mediadex namespace are
// returned.
func (s *XattrStore) List() ([]string, error) {
	names, err := xattr.List(s.node)
	if err != nil {
		return nil, types.CounterUnsupportedError.Wrap(err)
	}
	var keys []string
	for _, name := range names {
		if strings.HasPrefix(name, attrNamespace) {
			keys = append(keys, name)
		}
	}
	return keys, nil
}

// Remove implements Store.
func (s *XattrStore) Remove(key string) error {
	if err := xattr.Remove(s.node, key); err != nil {
		if isAttrMissing(err) {
			return nil
		}
		return types.CounterUnsupportedError.Wrap(err)
	}
	return nil
}

// isAttrMissing reports whether err means the attribute does not exist, as
// opposed to xattrs being unsupported on the node's filesystem.
func isAttrMissing(err error) bool {
	if e, ok := err.(*xattr.Error); ok {
		return e.Err == xattr.ENOATTR
	}
	return false
}
