// Package mailbox reads exported mail threads for the batch processor.
package mailbox

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/candidate-intake/internal/model"
)

// DirSource reads a directory of RFC 5322 .eml files. Each subdirectory is
// one thread; .eml files directly under the root form single-message
// threads. Threads and messages are returned in lexical path order so that
// repeated runs see the same ordering.
type DirSource struct {
	Root string
}

// NewDirSource returns a DirSource rooted at root.
func NewDirSource(root string) *DirSource {
	return &DirSource{Root: root}
}

// Groups implements the batch source contract.
func (d *DirSource) Groups(ctx context.Context) ([]model.Group, error) {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		return nil, eris.Wrapf(err, "mailbox: read dir %s", d.Root)
	}

	var groups []model.Group
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(d.Root, e.Name())
		switch {
		case e.IsDir():
			g, err := d.readThread(path, e.Name())
			if err != nil {
				return nil, err
			}
			if len(g.Messages) > 0 {
				groups = append(groups, g)
			}
		case isEML(e.Name()):
			groups = append(groups, model.Group{ID: e.Name(), Messages: []model.Message{d.readFile(path)}})
		}
	}

	sort.SliceStable(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	zap.L().Debug("mailbox: loaded threads",
		zap.String("root", d.Root),
		zap.Int("threads", len(groups)),
	)
	return groups, nil
}

func (d *DirSource) readThread(dir, id string) (model.Group, error) {
	g := model.Group{ID: id}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return g, eris.Wrapf(err, "mailbox: read thread %s", id)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isEML(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		g.Messages = append(g.Messages, d.readFile(filepath.Join(dir, name)))
	}
	return g, nil
}

// readFile never fails the whole source. A file that cannot be opened or
// decoded comes back as a message carrying ReadError, keyed by its path.
func (d *DirSource) readFile(path string) model.Message {
	rel, err := filepath.Rel(d.Root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	msg, err := d.parseFile(path)
	if err != nil {
		zap.L().Warn("mailbox: unreadable message", zap.String("path", rel), zap.Error(err))
		return model.Message{ID: rel, ReadError: err.Error()}
	}
	if msg.ID == "" {
		msg.ID = rel
	}
	return *msg
}

func (d *DirSource) parseFile(path string) (*model.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "mailbox: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	msg, err := Parse(f)
	if err != nil {
		return nil, eris.Wrapf(err, "mailbox: parse %s", path)
	}
	return msg, nil
}

func isEML(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".eml")
}

// JSONSource reads a JSON export: an array of threads, each with an id and
// its messages.
type JSONSource struct {
	Path string
}

// NewJSONSource returns a JSONSource reading path.
func NewJSONSource(path string) *JSONSource {
	return &JSONSource{Path: path}
}

// Groups implements the batch source contract.
func (j *JSONSource) Groups(_ context.Context) ([]model.Group, error) {
	data, err := os.ReadFile(j.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "mailbox: read %s", j.Path)
	}
	var groups []model.Group
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, eris.Wrapf(err, "mailbox: decode %s", j.Path)
	}
	for gi := range groups {
		for mi := range groups[gi].Messages {
			m := &groups[gi].Messages[mi]
			if m.ID == "" {
				return nil, eris.Errorf("mailbox: thread %q message %d has no id", groups[gi].ID, mi)
			}
		}
	}
	return groups, nil
}

// StaticSource serves groups held in memory.
type StaticSource []model.Group

// Groups implements the batch source contract.
func (s StaticSource) Groups(_ context.Context) ([]model.Group, error) {
	return s, nil
}
