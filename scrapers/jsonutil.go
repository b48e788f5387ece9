package scrapers

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/fenilmodi00/ipo-aggregator/normalize"
)

// flexFloat decodes numbers that APIs send either as JSON numbers or as
// decorated strings such as "₹1,200.50" or "3.2x". Unparseable values
// decode to nil instead of failing the whole document.
type flexFloat struct {
	Value *float64
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		f.Value = nil
		return nil
	}
	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return nil
		}
		f.Value = normalize.ExtractNumeric(text)
		return nil
	}
	if v, err := strconv.ParseFloat(string(data), 64); err == nil {
		f.Value = &v
	}
	return nil
}

// Int converts the value to an int pointer
func (f flexFloat) Int() *int {
	if f.Value == nil {
		return nil
	}
	n := int(*f.Value)
	return &n
}

// flexString decodes strings that are sometimes sent as numbers
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = flexString(text)
		return nil
	}
	*s = flexString(data)
	return nil
}
