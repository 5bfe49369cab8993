package repeater

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/esnunes/repeater/internal/fields"
)

// PublishFlag is the tri-state publish value submitted per item.
type PublishFlag int

const (
	PublishUnset PublishFlag = 0
	PublishOn    PublishFlag = 1
	PublishOff   PublishFlag = -1
)

func (p PublishFlag) String() string {
	switch p {
	case PublishOn:
		return "1"
	case PublishOff:
		return "-1"
	}
	return ""
}

// Submission carries the hidden per-item values posted with a host save.
type Submission struct {
	ItemID  int64
	Sort    *int
	Publish PublishFlag
	Delete  bool
	Values  map[string]string
}

func SortKey(field string, id int64) string    { return field + "_sort_" + strconv.FormatInt(id, 10) }
func PublishKey(field string, id int64) string { return field + "_publish_" + strconv.FormatInt(id, 10) }
func DeleteKey(field string, id int64) string  { return field + "_delete_" + strconv.FormatInt(id, 10) }

func ValueKey(field string, id int64, sub string) string {
	return field + "_" + strconv.FormatInt(id, 10) + "_" + sub
}

// ParseSubmission extracts the per-item values of field from a posted form.
// Keys naming an unknown sub-field or a malformed item id are ignored; a
// malformed sort or publish value is an error.
func ParseSubmission(field *fields.Field, form url.Values) (map[int64]*Submission, error) {
	subs := make(map[int64]*Submission)
	get := func(id int64) *Submission {
		s, ok := subs[id]
		if !ok {
			s = &Submission{ItemID: id, Values: make(map[string]string)}
			subs[id] = s
		}
		return s
	}

	prefix := field.Name + "_"
	for key, vals := range form {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok || len(vals) == 0 {
			continue
		}
		value := vals[len(vals)-1]

		switch {
		case strings.HasPrefix(rest, "sort_"):
			id, ok := parseItemID(strings.TrimPrefix(rest, "sort_"))
			if !ok {
				continue
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid sort value %q", key, value)
			}
			get(id).Sort = &n
		case strings.HasPrefix(rest, "publish_"):
			id, ok := parseItemID(strings.TrimPrefix(rest, "publish_"))
			if !ok {
				continue
			}
			p, err := parsePublish(value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			get(id).Publish = p
		case strings.HasPrefix(rest, "delete_"):
			id, ok := parseItemID(strings.TrimPrefix(rest, "delete_"))
			if !ok {
				continue
			}
			get(id).Delete = value == "1" || value == "on" || value == "true"
		default:
			idPart, sub, ok := strings.Cut(rest, "_")
			if !ok || !slices.Contains(field.Template, sub) {
				continue
			}
			id, ok := parseItemID(idPart)
			if !ok {
				continue
			}
			get(id).Values[sub] = value
		}
	}
	return subs, nil
}

func parseItemID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parsePublish(s string) (PublishFlag, error) {
	switch s {
	case "":
		return PublishUnset, nil
	case "1":
		return PublishOn, nil
	case "-1":
		return PublishOff, nil
	}
	return PublishUnset, fmt.Errorf("invalid publish value %q", s)
}

// Encode writes the submission back into form values under field.
func (s *Submission) Encode(field string, form url.Values) {
	if s.Sort != nil {
		form.Set(SortKey(field, s.ItemID), strconv.Itoa(*s.Sort))
	}
	form.Set(PublishKey(field, s.ItemID), s.Publish.String())
	if s.Delete {
		form.Set(DeleteKey(field, s.ItemID), "1")
	}
	for sub, v := range s.Values {
		form.Set(ValueKey(field, s.ItemID, sub), v)
	}
}
