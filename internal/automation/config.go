package automation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openpeerpower/core/internal/core"
)

// stringList accepts either a single string or a list of strings.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = splitList(single)
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.New("expected a string or a list of strings")
	}
	*l = many
	return nil
}

func (l stringList) contains(v string) bool {
	for _, s := range l {
		if s == v {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// lowerEntityIDs validates and normalises an entity id list.
func lowerEntityIDs(ids stringList) (stringList, error) {
	if len(ids) == 0 {
		return nil, errors.New("entity_id is required")
	}
	out := make(stringList, len(ids))
	for i, id := range ids {
		out[i] = strings.ToLower(id)
		if !core.ValidEntityID(out[i]) {
			return nil, fmt.Errorf("entity_id %q is not a valid entity id", id)
		}
	}
	return out, nil
}

// decodeStrict re-encodes raw and decodes it into out, rejecting keys out
// does not declare.
func decodeStrict(raw map[string]any, out any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return describeDecodeError(err)
	}
	return nil
}

func describeDecodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Errorf("expected %s for %s", typeErr.Type, typeErr.Field)
	}
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return fmt.Errorf("extra keys not allowed: %s", field)
	}
	return err
}
