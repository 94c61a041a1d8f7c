package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var errIncompatibleJSONColumn = errors.New("incompatible_json_column")

// StringSet stores a set of unique identifiers as a sorted JSON array.
type StringSet []string

// NewStringSet trims, de-duplicates and sorts the provided values.
func NewStringSet(values ...string) StringSet {
	seen := make(map[string]struct{}, len(values))
	set := make(StringSet, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		set = append(set, trimmed)
	}
	sort.Strings(set)
	return set
}

// Contains reports whether value is a member of the set.
func (set StringSet) Contains(value string) bool {
	for _, member := range set {
		if member == value {
			return true
		}
	}
	return false
}

// With returns a new set containing the members of set plus value.
func (set StringSet) With(value string) StringSet {
	values := make([]string, 0, len(set)+1)
	values = append(values, set...)
	values = append(values, value)
	return NewStringSet(values...)
}

// Value implements driver.Valuer.
func (set StringSet) Value() (driver.Value, error) {
	return marshalJSONColumn(NewStringSet(set...))
}

// Scan implements sql.Scanner.
func (set *StringSet) Scan(value any) error {
	var decoded []string
	if err := unmarshalJSONColumn(value, &decoded); err != nil {
		return err
	}
	*set = NewStringSet(decoded...)
	return nil
}

// SocialTaskList stores a company's ordered social tasks.
type SocialTaskList []SocialTask

// Value implements driver.Valuer.
func (list SocialTaskList) Value() (driver.Value, error) {
	if list == nil {
		list = SocialTaskList{}
	}
	return marshalJSONColumn(list)
}

// Scan implements sql.Scanner.
func (list *SocialTaskList) Scan(value any) error {
	var decoded []SocialTask
	if err := unmarshalJSONColumn(value, &decoded); err != nil {
		return err
	}
	*list = decoded
	return nil
}

// FeedbackOptionList stores an ordered list of selectable issues.
type FeedbackOptionList []FeedbackOption

// Value implements driver.Valuer.
func (list FeedbackOptionList) Value() (driver.Value, error) {
	if list == nil {
		list = FeedbackOptionList{}
	}
	return marshalJSONColumn(list)
}

// Scan implements sql.Scanner.
func (list *FeedbackOptionList) Scan(value any) error {
	var decoded []FeedbackOption
	if err := unmarshalJSONColumn(value, &decoded); err != nil {
		return err
	}
	*list = decoded
	return nil
}

func marshalJSONColumn(value any) (driver.Value, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func unmarshalJSONColumn(value any, target any) error {
	if value == nil {
		return nil
	}
	var raw []byte
	switch typed := value.(type) {
	case []byte:
		raw = typed
	case string:
		raw = []byte(typed)
	default:
		return fmt.Errorf("%w: %T", errIncompatibleJSONColumn, value)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, target)
}
