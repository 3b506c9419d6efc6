package bagit

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Tag is one "Label: value" entry of a tag file.
type Tag struct {
	Label string
	Value string
}

// Tags is an ordered list of tag entries. Labels may repeat. Label
// comparisons ignore case.
type Tags []Tag

// TagsFromMap converts a map into Tags sorted by label.
func TagsFromMap(m map[string]string) Tags {
	var result Tags
	for k, v := range m {
		result = append(result, Tag{Label: k, Value: v})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Label < result[j].Label })
	return result
}

// Get returns the value of the first entry with the given label.
func (t Tags) Get(label string) (string, bool) {
	for _, tag := range t {
		if strings.EqualFold(tag.Label, label) {
			return tag.Value, true
		}
	}
	return "", false
}

// Set replaces every entry having label with a single entry, kept at the
// position of the first one. If there is no such entry it is appended.
func (t *Tags) Set(label, value string) {
	var result Tags
	var done bool
	for _, tag := range *t {
		if !strings.EqualFold(tag.Label, label) {
			result = append(result, tag)
		} else if !done {
			result = append(result, Tag{Label: tag.Label, Value: value})
			done = true
		}
	}
	if !done {
		result = append(result, Tag{Label: label, Value: value})
	}
	*t = result
}

// Add appends an entry, even if the label is already present.
func (t *Tags) Add(label, value string) {
	*t = append(*t, Tag{Label: label, Value: value})
}

// Delete removes every entry having label.
func (t *Tags) Delete(label string) {
	var result Tags
	for _, tag := range *t {
		if !strings.EqualFold(tag.Label, label) {
			result = append(result, tag)
		}
	}
	*t = result
}

// Merge sets every label in other, in order.
func (t *Tags) Merge(other Tags) {
	for _, tag := range other {
		t.Set(tag.Label, tag.Value)
	}
}

// Map gives the tags as a map. For repeated labels the first value wins.
func (t Tags) Map() map[string]string {
	result := make(map[string]string)
	for _, tag := range t {
		if _, ok := result[tag.Label]; !ok {
			result[tag.Label] = tag.Value
		}
	}
	return result
}

// ParseTags reads a tag file. Each entry is a label, a colon, and a value.
// A line beginning with white space continues the previous value. Lines
// without a colon are skipped.
func ParseTags(r io.Reader) (Tags, error) {
	var result Tags
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if len(result) > 0 {
				last := &result[len(result)-1]
				last.Value = strings.TrimSpace(last.Value + " " + strings.TrimSpace(line))
			}
			continue
		}
		i := strings.Index(line, ":")
		if i < 0 {
			continue
		}
		result = append(result, Tag{
			Label: strings.TrimSpace(line[:i]),
			Value: strings.TrimSpace(line[i+1:]),
		})
	}
	return result, scanner.Err()
}

// WriteTags writes tags in "Label: value" form, one per line.
func WriteTags(w io.Writer, tags Tags) error {
	for _, tag := range tags {
		if _, err := io.WriteString(w, tag.Label+": "+tag.Value+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// readTagFile parses the named file. A missing file has no tags.
func readTagFile(fs afero.Fs, name string) (Tags, error) {
	f, err := fs.Open(name)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, ioError("open", name, err)
	}
	defer f.Close()
	tags, err := ParseTags(f)
	return tags, ioError("read", name, err)
}

// TagWriter persists the descriptive tags of a bag. The bag calls it after
// every change to the payload, with the Payload-Oxum already updated.
type TagWriter interface {
	WriteTags(fs afero.Fs, root string, tags Tags) error
}

// InfoFileWriter writes tags to bag-info.txt.
type InfoFileWriter struct{}

// WriteTags atomically replaces bag-info.txt.
func (InfoFileWriter) WriteTags(fs afero.Fs, root string, tags Tags) error {
	name := InfoFile(root)
	return writeAtomic(fs, name, func(w io.Writer) error {
		return ioError("write", name, WriteTags(w, tags))
	})
}
